package sentry

import (
	"context"
	"encoding/json"
	"io"

	"github.com/heroiclabs/nakama-common/runtime"
)

// RPC identifiers registered by Init.
const (
	RpcIdAuditInfractionsList  = "audit_infractions_list"
	RpcIdAuditInfractionsClear = "audit_infractions_clear"
	RpcIdAuditLedgerPeek       = "audit_ledger_peek"
	RpcIdAuditSessionEnd       = "audit_session_end"
)

// Init loads the audit and catalogue configuration files, creates the
// audit system and registers its RPCs with the given initializer.
func Init(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, auditConfigFile, catalogueFile string) (AuditSystem, error) {
	auditConfig := &AuditConfig{}
	if err := readConfigFile(logger, nk, auditConfigFile, auditConfig); err != nil {
		return nil, err
	}
	catalogueConfig := &CatalogueConfig{}
	if err := readConfigFile(logger, nk, catalogueFile, catalogueConfig); err != nil {
		return nil, err
	}

	catalogue, err := NewCatalogue(catalogueConfig)
	if err != nil {
		logger.Error("Invalid catalogue config %s: %v", catalogueFile, err)
		return nil, err
	}

	system := NewAuditSystem(auditConfig, catalogue)

	if err := initializer.RegisterRpc(RpcIdAuditInfractionsList, rpcAuditInfractionsList_Json(system)); err != nil {
		return nil, err
	}
	if err := initializer.RegisterRpc(RpcIdAuditInfractionsClear, rpcAuditInfractionsClear_Json(system)); err != nil {
		return nil, err
	}
	if err := initializer.RegisterRpc(RpcIdAuditLedgerPeek, rpcAuditLedgerPeek_Json(system)); err != nil {
		return nil, err
	}
	if err := initializer.RegisterRpc(RpcIdAuditSessionEnd, rpcAuditSessionEnd_Json(system)); err != nil {
		return nil, err
	}

	return system, nil
}

func readConfigFile(logger runtime.Logger, nk runtime.NakamaModule, path string, out any) error {
	file, err := nk.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read config file %s: %v", path, err)
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read config file contents: %v", err)
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Error("Failed to parse config file %s: %v", path, err)
		return err
	}
	return nil
}
