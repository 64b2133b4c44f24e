package sentry

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Audit system RPC handlers with JSON serialization

type AuditUserRequest struct {
	// UserId optionally targets another player; defaults to the caller.
	UserId string `json:"user_id,omitempty"`
}

type AuditInfractionsListResponse struct {
	Infractions []*Infraction `json:"infractions,omitempty"`
	Points      int64         `json:"points"`
	Flagged     bool          `json:"flagged"`
}

type AuditLedgerPeekResponse struct {
	Entries []LedgerEntry `json:"entries,omitempty"`
}

func sessionUser(ctx context.Context) string {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	return userID
}

// resolveAuditUser determines the target player. Client sessions may only
// target themselves; the user_id field is reserved for server-to-server
// calls, which carry no session user.
func resolveAuditUser(ctx context.Context, payload string) (string, error) {
	request := &AuditUserRequest{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
	}
	caller := sessionUser(ctx)
	if request.UserId != "" {
		if caller != "" && caller != request.UserId {
			return "", ErrPermissionDenied
		}
		return request.UserId, nil
	}
	if caller == "" {
		return "", ErrNoSessionUser
	}
	return caller, nil
}

func rpcAuditInfractionsList_Json(system AuditSystem) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		if system == nil {
			return "", ErrSystemNotFound
		}

		userID, err := resolveAuditUser(ctx, payload)
		if err != nil {
			logger.Error("Failed to resolve target user: %v", err)
			return "", err
		}

		infractions, points, flagged, err := system.Infractions(ctx, logger, nk, userID)
		if err != nil {
			logger.Error("Error listing infractions: %v", err)
			return "", err
		}

		responseData, err := json.Marshal(&AuditInfractionsListResponse{
			Infractions: infractions,
			Points:      points,
			Flagged:     flagged,
		})
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}

		return string(responseData), nil
	}
}

func rpcAuditInfractionsClear_Json(system AuditSystem) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		if system == nil {
			return "", ErrSystemNotFound
		}

		// Players must not erase their own record; only server-to-server
		// calls may clear infractions.
		if sessionUser(ctx) != "" {
			return "", ErrPermissionDenied
		}
		userID, err := resolveAuditUser(ctx, payload)
		if err != nil {
			logger.Error("Failed to resolve target user: %v", err)
			return "", err
		}

		if err := system.ClearInfractions(ctx, logger, nk, userID); err != nil {
			logger.Error("Error clearing infractions: %v", err)
			return "", err
		}

		return "{}", nil
	}
}

func rpcAuditLedgerPeek_Json(system AuditSystem) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		if system == nil {
			return "", ErrSystemNotFound
		}

		userID, err := resolveAuditUser(ctx, payload)
		if err != nil {
			logger.Error("Failed to resolve target user: %v", err)
			return "", err
		}

		responseData, err := json.Marshal(&AuditLedgerPeekResponse{
			Entries: system.Ledger(userID),
		})
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}

		return string(responseData), nil
	}
}

func rpcAuditSessionEnd_Json(system AuditSystem) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		if system == nil {
			return "", ErrSystemNotFound
		}

		userID, err := resolveAuditUser(ctx, payload)
		if err != nil {
			logger.Error("Failed to resolve target user: %v", err)
			return "", err
		}

		system.SessionEnd(ctx, logger, nk, userID)
		return "{}", nil
	}
}
