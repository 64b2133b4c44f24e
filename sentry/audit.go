package sentry

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// SystemType identifies the concrete gameplay system.
type SystemType uint

const (
	SystemTypeUnknown SystemType = iota
	SystemTypeAudit
)

// System is a gameplay system registered with the plugin.
type System interface {
	// GetType returns the system type.
	GetType() SystemType
	// GetConfig returns the configuration the system was created with.
	GetConfig() any
}

// AuditConfig is the data definition for the audit system.
type AuditConfig struct {
	// Dwell time each transaction spends in the matching, recipe and
	// conversion stages before moving on, in milliseconds.
	StageMatchingMs   int64 `json:"stage_matching_ms,omitempty"`
	StageRecipeMs     int64 `json:"stage_recipe_ms,omitempty"`
	StageConversionMs int64 `json:"stage_conversion_ms,omitempty"`

	// TickIntervalMs is how often the reconciliation pass runs.
	TickIntervalMs int64 `json:"tick_interval_ms,omitempty"`

	// Points maps item rarity to the violation points per missing unit.
	Points map[int32]int64 `json:"points,omitempty"`
	// PointOverrides assigns per-item points, taking precedence over the
	// rarity mapping.
	PointOverrides map[int32]int64 `json:"point_overrides,omitempty"`

	// InfractionDurationSec is how long an infraction counts before it
	// decays. Zero means infractions never decay.
	InfractionDurationSec int64 `json:"infraction_duration_sec,omitempty"`
	// InfractionDecayCron optionally schedules periodic re-checks of
	// persisted infractions.
	InfractionDecayCron string `json:"infraction_decay_cron,omitempty"`
	// PointThreshold is the active point total at which a player is
	// flagged for operator attention. Zero disables flagging.
	PointThreshold int64 `json:"point_threshold,omitempty"`
}

func (c *AuditConfig) stageDurations() [stageCount]time.Duration {
	return [stageCount]time.Duration{
		time.Duration(c.StageMatchingMs) * time.Millisecond,
		time.Duration(c.StageRecipeMs) * time.Millisecond,
		time.Duration(c.StageConversionMs) * time.Millisecond,
	}
}

func (c *AuditConfig) pointsFor(catalogue *Catalogue, itemType int32, quantity int64) int64 {
	per, ok := c.PointOverrides[itemType]
	if !ok {
		per = c.Points[catalogue.Rarity(itemType)]
	}
	return per * quantity
}

func (c *AuditConfig) infractionDuration() time.Duration {
	if c.InfractionDurationSec <= 0 {
		// Effectively permanent.
		return 100 * 365 * 24 * time.Hour
	}
	return time.Duration(c.InfractionDurationSec) * time.Second
}

// AuditSystem reconciles observed item movements per player and tracks
// the infractions of players whose movements cannot be explained.
type AuditSystem interface {
	System

	// Record ingests one observed movement for the player. Positive
	// quantities are gains, negative are losses.
	Record(userID string, item ItemVariant, quantity int64, snapshot *Context) error

	// Forget cancels up to quantity outstanding losses of the item for
	// the player, reporting whether any cancellation occurred.
	Forget(userID string, item ItemVariant, quantity int64) (bool, error)

	// Tick runs one reconciliation pass over every tracked ledger.
	Tick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule)

	// SessionEnd drains the player's ledger through all remaining stages
	// and releases it.
	SessionEnd(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string)

	// Ledger returns the player's outstanding transactions.
	Ledger(userID string) []LedgerEntry

	// Infractions returns the player's active infractions, the point
	// total and whether the total meets the configured threshold.
	Infractions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) ([]*Infraction, int64, bool, error)

	// ClearInfractions removes all infractions from the player's record.
	ClearInfractions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) error

	// SetReporter replaces the violation sink. Pass nil to restore the
	// default infraction-recording reporter.
	SetReporter(reporter Reporter)

	// SetInventoryView replaces the live-inventory source used as the
	// last chance to resolve expired losses.
	SetInventoryView(view InventoryView)
}
