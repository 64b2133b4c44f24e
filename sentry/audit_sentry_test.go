package sentry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuditSystem(t *testing.T, cfg *AuditConfig) *AuditSentry {
	return NewAuditSystem(cfg, testCatalogue(t))
}

func TestAuditSystemCreation(t *testing.T) {
	cfg := testAuditConfig(0, 0, 0)
	system := testAuditSystem(t, cfg)

	assert.Equal(t, SystemTypeAudit, system.GetType())
	assert.Equal(t, cfg, system.GetConfig())
}

func TestAuditSystemRequiresUser(t *testing.T) {
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))

	assert.ErrorIs(t, system.Record("", ItemVariant{Type: itemWood}, 1, nil), ErrNoSessionUser)
	_, err := system.Forget("", ItemVariant{Type: itemWood}, 1)
	assert.ErrorIs(t, err, ErrNoSessionUser)
}

func TestAuditSystemLedgersAreIndependent(t *testing.T) {
	system := testAuditSystem(t, testAuditConfig(holdMs, holdMs, holdMs))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemWood}, 5, nil))
	require.NoError(t, system.Record("bob", ItemVariant{Type: itemWood}, -3, nil))

	require.Len(t, system.Ledger("alice"), 1)
	require.Len(t, system.Ledger("bob"), 1)
	assert.Equal(t, int64(5), system.Ledger("alice")[0].Quantity)
	assert.Equal(t, int64(-3), system.Ledger("bob")[0].Quantity)
	assert.Nil(t, system.Ledger("carol"))
}

func TestAuditSystemTickRecordsInfractions(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -2, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}

	infractions, total, flagged, err := system.Infractions(ctx, logger, nk, "alice")
	require.NoError(t, err)
	require.Len(t, infractions, 1)
	assert.Equal(t, int64(200), total)
	assert.False(t, flagged)
	assert.Contains(t, infractions[0].Reason, "Sword")

	// The infraction is durable, not just in memory.
	value, found := nk.storedValue("alice", storageCollection, storageKeyInfractions)
	require.True(t, found)
	state := &infractionState{}
	require.NoError(t, json.Unmarshal([]byte(value), state))
	assert.Len(t, state.Infractions, 1)
}

func TestAuditSystemSessionEndDrainsAndDropsLedger(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(holdMs, holdMs, holdMs))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	system.SessionEnd(ctx, logger, nk, "alice")

	assert.Nil(t, system.Ledger("alice"))

	// The session cache is dropped after the drain's report lands.
	system.mu.RLock()
	_, cached := system.sessions["alice"]
	system.mu.RUnlock()
	assert.False(t, cached)

	// The infraction is durable and reloads on demand.
	_, total, _, err := system.Infractions(ctx, logger, nk, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	// Ending an untracked session is a no-op.
	system.SessionEnd(ctx, logger, nk, "bob")
}

func TestAuditSystemClearInfractions(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}
	require.NoError(t, system.ClearInfractions(ctx, logger, nk, "alice"))

	_, total, _, err := system.Infractions(ctx, logger, nk, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestAuditSystemCustomReporter(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))
	rep := &captureReporter{}
	system.SetReporter(rep)

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}

	require.Len(t, rep.all(), 1)

	// No infraction was written since the default reporter was replaced.
	_, found := nk.storedValue("alice", storageCollection, storageKeyInfractions)
	assert.False(t, found)

	// Passing nil restores the default reporter.
	system.SetReporter(nil)
	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}
	_, found = nk.storedValue("alice", storageCollection, storageKeyInfractions)
	assert.True(t, found)
}

func TestAuditSystemInventoryView(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))
	rep := &captureReporter{}
	system.SetReporter(rep)
	system.SetInventoryView(newMemoryInventory(map[ItemVariant]int64{{Type: itemSword}: 2}))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -2, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}

	assert.Empty(t, rep.all())
}

func TestAuditSystemInfractionDecaySchedule(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	nk := newFakeNakama()
	cfg := testAuditConfig(holdMs, holdMs, holdMs)
	cfg.InfractionDecayCron = "* * * * *"
	system := testAuditSystem(t, cfg)

	s, err := system.session(ctx, logger, nk, "alice")
	require.NoError(t, err)
	_, err = s.AddInfraction(ctx, logger, nk, 100, "old", -time.Minute)
	require.NoError(t, err)

	// First tick only arms the schedule.
	system.Tick(ctx, logger, nk)
	assert.False(t, system.nextDecay.IsZero())

	// Force the deadline into the past; the next tick prunes.
	system.decayMu.Lock()
	system.nextDecay = time.Now().Add(-time.Second)
	system.decayMu.Unlock()
	system.Tick(ctx, logger, nk)

	value, found := nk.storedValue("alice", storageCollection, storageKeyInfractions)
	require.True(t, found)
	state := &infractionState{}
	require.NoError(t, json.Unmarshal([]byte(value), state))
	assert.Empty(t, state.Infractions)
}

func TestRpcAuditInfractionsList(t *testing.T) {
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, "alice")
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}

	payload, err := rpcAuditInfractionsList_Json(system)(ctx, logger, nil, nk, "")
	require.NoError(t, err)
	response := &AuditInfractionsListResponse{}
	require.NoError(t, json.Unmarshal([]byte(payload), response))
	require.Len(t, response.Infractions, 1)
	assert.Equal(t, int64(100), response.Points)

	// Server-to-server calls carry no session user and may target anyone.
	payload, err = rpcAuditInfractionsList_Json(system)(context.Background(), logger, nil, nk, `{"user_id":"bob"}`)
	require.NoError(t, err)
	response = &AuditInfractionsListResponse{}
	require.NoError(t, json.Unmarshal([]byte(payload), response))
	assert.Empty(t, response.Infractions)

	// A client session cannot target another player.
	_, err = rpcAuditInfractionsList_Json(system)(ctx, logger, nil, nk, `{"user_id":"bob"}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRpcAuditInfractionsClear(t *testing.T) {
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, "alice")
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	for i := 0; i < 3; i++ {
		system.Tick(ctx, logger, nk)
	}

	// The flagged player cannot wipe their own record.
	_, err := rpcAuditInfractionsClear_Json(system)(ctx, logger, nil, nk, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = rpcAuditInfractionsClear_Json(system)(ctx, logger, nil, nk, `{"user_id":"alice"}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, total, _, err := system.Infractions(ctx, logger, nk, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	// Only a server-to-server call clears.
	_, err = rpcAuditInfractionsClear_Json(system)(context.Background(), logger, nil, nk, `{"user_id":"alice"}`)
	require.NoError(t, err)

	_, total, _, err = system.Infractions(ctx, logger, nk, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestRpcAuditLedgerPeek(t *testing.T) {
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, "alice")
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(holdMs, holdMs, holdMs))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemWood}, 5, nil))

	payload, err := rpcAuditLedgerPeek_Json(system)(ctx, logger, nil, nk, "")
	require.NoError(t, err)
	response := &AuditLedgerPeekResponse{}
	require.NoError(t, json.Unmarshal([]byte(payload), response))
	require.Len(t, response.Entries, 1)
	assert.Equal(t, int64(5), response.Entries[0].Quantity)
}

func TestRpcAuditRequiresUser(t *testing.T) {
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(0, 0, 0))

	_, err := rpcAuditLedgerPeek_Json(system)(context.Background(), logger, nil, nk, "")
	assert.ErrorIs(t, err, ErrNoSessionUser)

	_, err = rpcAuditLedgerPeek_Json(system)(context.Background(), logger, nil, nk, "{bad json")
	assert.ErrorIs(t, err, ErrPayloadDecode)
}

func TestRpcAuditSessionEnd(t *testing.T) {
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, "alice")
	logger := newTestLogger(t)
	nk := newFakeNakama()
	system := testAuditSystem(t, testAuditConfig(holdMs, holdMs, holdMs))

	require.NoError(t, system.Record("alice", ItemVariant{Type: itemSword}, -1, nil))
	_, err := rpcAuditSessionEnd_Json(system)(ctx, logger, nil, nk, "")
	require.NoError(t, err)

	assert.Nil(t, system.Ledger("alice"))
	_, total, _, err := system.Infractions(ctx, logger, nk, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}
