package sentry

import (
	"context"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

var _ AuditSystem = (*AuditSentry)(nil)

// AuditSentry is the default audit system implementation. Ledgers are
// created lazily per player and dropped when the player's session ends;
// infraction sessions live for the process lifetime and are backed by
// storage.
type AuditSentry struct {
	config    *AuditConfig
	catalogue *Catalogue

	mu       sync.RWMutex
	ledgers  map[string]*Ledger
	sessions map[string]*Session

	reporterMu sync.RWMutex
	reporter   Reporter
	inventory  InventoryView

	decayMu   sync.Mutex
	nextDecay time.Time
}

// NewAuditSystem creates a new audit system with the given configuration
// and catalogue. Violations are recorded as infractions unless a custom
// reporter is installed.
func NewAuditSystem(config *AuditConfig, catalogue *Catalogue) *AuditSentry {
	a := &AuditSentry{
		config:    config,
		catalogue: catalogue,
		ledgers:   make(map[string]*Ledger),
		sessions:  make(map[string]*Session),
	}
	a.reporter = &sessionReporter{system: a}
	return a
}

func (a *AuditSentry) GetType() SystemType {
	return SystemTypeAudit
}

func (a *AuditSentry) GetConfig() any {
	return a.config
}

func (a *AuditSentry) ledger(userID string) *Ledger {
	a.mu.RLock()
	l, found := a.ledgers[userID]
	a.mu.RUnlock()
	if found {
		return l
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if l, found = a.ledgers[userID]; !found {
		l = NewLedger(userID, a.catalogue)
		a.ledgers[userID] = l
	}
	return l
}

func (a *AuditSentry) session(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) (*Session, error) {
	a.mu.RLock()
	s, found := a.sessions[userID]
	a.mu.RUnlock()
	if found {
		return s, nil
	}

	loaded, err := LoadSession(ctx, logger, nk, userID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, found = a.sessions[userID]; !found {
		s = loaded
		a.sessions[userID] = s
	}
	return s, nil
}

func (a *AuditSentry) Record(userID string, item ItemVariant, quantity int64, snapshot *Context) error {
	if userID == "" {
		return ErrNoSessionUser
	}
	return a.ledger(userID).Record(item, quantity, snapshot)
}

func (a *AuditSentry) Forget(userID string, item ItemVariant, quantity int64) (bool, error) {
	if userID == "" {
		return false, ErrNoSessionUser
	}
	return a.ledger(userID).Forget(item, quantity)
}

func (a *AuditSentry) Tick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) {
	a.mu.RLock()
	ledgers := make([]*Ledger, 0, len(a.ledgers))
	for _, l := range a.ledgers {
		ledgers = append(ledgers, l)
	}
	a.mu.RUnlock()

	reporter, inventory := a.sinks()
	for _, l := range ledgers {
		l.Advance(ctx, logger, nk, a.config, inventory, reporter)
	}

	a.maybeDecayInfractions(ctx, logger, nk)
}

// maybeDecayInfractions prunes expired infractions from every loaded
// session on the configured cron schedule, so point totals drop without
// waiting for the next explicit lookup.
func (a *AuditSentry) maybeDecayInfractions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) {
	cronExpr := a.config.InfractionDecayCron
	if cronExpr == "" {
		return
	}

	now := time.Now()
	a.decayMu.Lock()
	if a.nextDecay.IsZero() {
		a.nextDecay = NextDecay(cronExpr, now)
	}
	if a.nextDecay.IsZero() || now.Before(a.nextDecay) {
		a.decayMu.Unlock()
		return
	}
	a.nextDecay = NextDecay(cronExpr, now)
	a.decayMu.Unlock()

	a.mu.RLock()
	sessions := make(map[string]*Session, len(a.sessions))
	for userID, s := range a.sessions {
		sessions[userID] = s
	}
	a.mu.RUnlock()

	for userID, s := range sessions {
		if _, _, _, err := s.CheckInfractions(ctx, logger, nk, a.config.PointThreshold); err != nil {
			logger.Warn("Failed to decay infractions for user %s: %v", userID, err)
		}
	}
}

func (a *AuditSentry) SessionEnd(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) {
	a.mu.Lock()
	l, found := a.ledgers[userID]
	delete(a.ledgers, userID)
	a.mu.Unlock()

	if found {
		reporter, inventory := a.sinks()
		l.ForceDrain(ctx, logger, nk, a.config, inventory, reporter)
	}

	// Drop the cached session only after the drain's reports have landed;
	// infractions are durable and reload on next use.
	a.mu.Lock()
	delete(a.sessions, userID)
	a.mu.Unlock()
}

func (a *AuditSentry) Ledger(userID string) []LedgerEntry {
	a.mu.RLock()
	l, found := a.ledgers[userID]
	a.mu.RUnlock()
	if !found {
		return nil
	}
	return l.Outstanding()
}

func (a *AuditSentry) Infractions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) ([]*Infraction, int64, bool, error) {
	s, err := a.session(ctx, logger, nk, userID)
	if err != nil {
		return nil, 0, false, err
	}
	return s.CheckInfractions(ctx, logger, nk, a.config.PointThreshold)
}

func (a *AuditSentry) ClearInfractions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) error {
	s, err := a.session(ctx, logger, nk, userID)
	if err != nil {
		return err
	}
	return s.Clear(ctx, logger, nk)
}

func (a *AuditSentry) SetReporter(reporter Reporter) {
	a.reporterMu.Lock()
	defer a.reporterMu.Unlock()
	if reporter == nil {
		reporter = &sessionReporter{system: a}
	}
	a.reporter = reporter
}

func (a *AuditSentry) SetInventoryView(view InventoryView) {
	a.reporterMu.Lock()
	defer a.reporterMu.Unlock()
	a.inventory = view
}

func (a *AuditSentry) sinks() (Reporter, InventoryView) {
	a.reporterMu.RLock()
	defer a.reporterMu.RUnlock()
	return a.reporter, a.inventory
}

// sessionReporter is the default violation sink: it records each
// violation as a persisted infraction and warns when the player crosses
// the point threshold.
type sessionReporter struct {
	system *AuditSentry
}

func (r *sessionReporter) ReportViolation(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, violation *Violation) {
	logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"item":    violation.Item.String(),
		"qty":     violation.Quantity,
		"points":  violation.Points,
	}).Info("Audit violation: %s", violation.Reason)

	s, err := r.system.session(ctx, logger, nk, userID)
	if err != nil {
		logger.Error("Failed to load session for violation on user %s: %v", userID, err)
		return
	}
	if _, err := s.AddInfraction(ctx, logger, nk, violation.Points, violation.Reason, r.system.config.infractionDuration()); err != nil {
		logger.Error("Failed to record infraction for user %s: %v", userID, err)
		return
	}

	_, total, flagged, err := s.CheckInfractions(ctx, logger, nk, r.system.config.PointThreshold)
	if err != nil {
		return
	}
	if flagged {
		logger.Warn("User %s crossed the infraction threshold with %d active points", userID, total)
	}
}
