package sentry

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Violation describes an unresolved debit that survived every
// reconciliation stage: the player ended up with items the ledger could
// not account for.
type Violation struct {
	// Item is the unexplained item, normalized to its base denomination.
	Item ItemVariant `json:"item"`
	// Quantity is the portion that could not be recovered, always positive.
	Quantity int64 `json:"quantity"`
	// Points is the severity weight assigned from the audit configuration.
	Points int64 `json:"points"`
	// Reason is a human-readable description for operator review.
	Reason string `json:"reason"`
}

// Reporter receives violations emitted by the reconciliation passes.
//
// Implementations must be safe for concurrent use: ledgers for different
// players advance independently and may report at the same time.
type Reporter interface {
	ReportViolation(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, violation *Violation)
}
