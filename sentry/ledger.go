package sentry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InventoryView gives the expiry step a last chance to pay an unresolved
// debit out of the player's live inventory: if the item is still
// physically present the debit was an accounting artifact, not a cheat.
type InventoryView interface {
	// Remove takes up to qty units of the item out of the player's live
	// inventory and returns how many were actually removed.
	Remove(ctx context.Context, nk runtime.NakamaModule, userID string, item ItemVariant, qty int64) (int64, error)
}

// LedgerEntry is the read-only view of one outstanding transaction,
// exposed to operator tooling.
type LedgerEntry struct {
	Item     ItemVariant `json:"item"`
	Quantity int64       `json:"quantity"`
	Stage    string      `json:"stage"`
}

// Ledger is the per-player reconciliation ledger. It ingests signed
// item-quantity movements, ages them through the stage pipeline and
// cancels matching gains and losses with increasingly permissive rules
// before declaring an unresolved loss a violation.
//
// A Ledger is exclusively owned by one player's session. All mutation is
// guarded by a single lock; Record and Forget may be called from the
// message-decoding side while Advance runs on the tick loop.
type Ledger struct {
	mu      sync.Mutex
	userID  string
	cat     *Catalogue
	credits []*transaction
	debits  []*transaction
	clock   func() time.Time
}

// NewLedger creates an empty ledger for the player.
func NewLedger(userID string, catalogue *Catalogue) *Ledger {
	return &Ledger{
		userID: userID,
		cat:    catalogue,
		clock:  time.Now,
	}
}

// Record ingests one observed movement. Positive quantities are credits,
// negative are debits; zero quantity or the no-item sentinel is a no-op.
// Denomination-family items are normalized to their base denomination so
// downstream matching never needs denomination awareness.
//
// For slot-aware channels the most recent opposite-sign transaction in
// the initial stage that exactly matches item, magnitude and variant is
// cancelled directly instead of recording a new transaction. This keeps
// legitimate inventory shuffling (slot moves, drop and re-pickup) from
// ever becoming a gain/loss pair that later matching might fail to
// reunite.
func (l *Ledger) Record(item ItemVariant, quantity int64, snapshot *Context) error {
	if quantity == 0 || item.IsNone() {
		return nil
	}
	if err := l.cat.CheckItem(item); err != nil {
		return err
	}
	item, quantity = l.cat.Normalize(item, quantity)

	l.mu.Lock()
	defer l.mu.Unlock()

	if snapshot != nil && snapshot.Channel.slotAware() && l.cancelShuffle(item, quantity) {
		return nil
	}
	l.append(item, quantity, snapshot)
	return nil
}

// append adds a transaction in the initial stage. Caller holds the lock
// and has already normalized the item.
func (l *Ledger) append(item ItemVariant, quantity int64, snapshot *Context) {
	t := &transaction{
		item:       item,
		qty:        quantity,
		stage:      StageMatching,
		lastChange: l.clock(),
		ctx:        snapshot,
	}
	if quantity > 0 {
		l.credits = append(l.credits, t)
	} else {
		l.debits = append(l.debits, t)
	}
}

// cancelShuffle searches newest-first for an initial-stage transaction of
// the opposite sign with the exact same item, variant and magnitude, and
// settles it directly. The newest match wins because shuffles pair with
// the most recently produced counterpart.
func (l *Ledger) cancelShuffle(item ItemVariant, quantity int64) bool {
	pool := &l.credits
	if quantity > 0 {
		pool = &l.debits
	}
	list := *pool
	for i := len(list) - 1; i >= 0; i-- {
		t := list[i]
		if t.stage != StageMatching || t.item != item || t.qty != -quantity {
			continue
		}
		t.qty = 0
		*pool = append(list[:i], list[i+1:]...)
		return true
	}
	return false
}

// Forget speculatively cancels up to quantity units of outstanding debits
// for the item, oldest first, and reports whether any cancellation
// occurred. Used when an external collaborator can prove a debit was
// illusory. Credits are never affected.
func (l *Ledger) Forget(item ItemVariant, quantity int64) (bool, error) {
	if quantity < 0 {
		return false, ErrQuantityInvalid
	}
	if quantity == 0 || item.IsNone() {
		return false, nil
	}
	if err := l.cat.CheckItem(item); err != nil {
		return false, err
	}
	item, quantity = l.cat.Normalize(item, quantity)

	l.mu.Lock()
	defer l.mu.Unlock()

	cancelled := false
	for _, d := range l.debits {
		if d.item != item || d.qty >= 0 {
			continue
		}
		payment := min64(quantity, -d.qty)
		d.qty += payment
		quantity -= payment
		cancelled = cancelled || payment > 0
		if quantity == 0 {
			break
		}
	}
	return cancelled, nil
}

// Advance runs one reconciliation pass: the pipeline tick, then each
// matching stage in fixed order, then expiry. The whole pass holds the
// ledger lock so other callers observe it as atomic; violations are
// resolved and emitted after the lock is released.
func (l *Ledger) Advance(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, config *AuditConfig, inventory InventoryView, reporter Reporter) {
	expired := l.advance(config.stageDurations())
	l.resolveExpired(ctx, logger, nk, config, inventory, reporter, expired)
}

// ForceDrain pushes every outstanding transaction through all remaining
// stages in one logical instant by advancing with negated dwell
// durations. Used at session end so a disconnecting player cannot wait
// out the pipeline; it yields the same violations as letting real time
// pass all dwell durations.
func (l *Ledger) ForceDrain(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, config *AuditConfig, inventory InventoryView, reporter Reporter) {
	dwell := config.stageDurations()
	for i := range dwell {
		dwell[i] = -dwell[i]
	}
	var expired []*transaction
	for i := 0; i <= stageCount; i++ {
		expired = append(expired, l.advance(dwell)...)
	}
	l.resolveExpired(ctx, logger, nk, config, inventory, reporter, expired)
}

// advance executes the locked portion of one pass and returns the
// unresolved debits that reached the terminal stage.
func (l *Ledger) advance(dwell [stageCount]time.Duration) []*transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tickPipeline(dwell[:])
	l.matchDirect()
	l.matchRecipes()
	l.matchConversions()
	l.settleShops()
	return l.purge()
}

func (l *Ledger) tickPipeline(dwell []time.Duration) {
	now := l.clock()
	for _, t := range l.credits {
		t.tick(now, dwell)
	}
	for _, t := range l.debits {
		t.tick(now, dwell)
	}
}

// matchDirect cancels initial-stage debits against credits of the same
// item and variant, oldest first. Greedy rather than optimal: most
// legitimate activity has already been cancelled by Record's slot-aware
// path, so this is a low-cost safety net for event reordering across
// channels.
func (l *Ledger) matchDirect() {
	credits := l.stageCredits(StageMatching)
	for _, d := range l.stageDebits(StageMatching) {
		for _, c := range credits {
			if c.settled() || c.item != d.item {
				continue
			}
			payment := min64(c.qty, -d.qty)
			c.qty -= payment
			d.qty += payment
			if d.qty == 0 {
				break
			}
		}
	}
}

// matchRecipes pays recipe-stage debits with recipe-stage credits of the
// recipes' ingredients. Allocations are tentative, keyed by credit index,
// and committed only when every ingredient can be fully covered.
func (l *Ledger) matchRecipes() {
	credits := l.stageCredits(StageRecipeCheck)
	for _, d := range l.stageDebits(StageRecipeCheck) {
		for _, r := range l.cat.RecipesFor(d.item.Type) {
			for d.qty < 0 && l.applyRecipe(d, r, credits) {
			}
			if d.qty >= 0 {
				break
			}
		}
	}
}

func (l *Ledger) applyRecipe(d *transaction, r *Recipe, credits []*transaction) bool {
	alloc := make(map[int]int64)
	for _, ing := range r.Ingredients {
		left := ing.Qty
		subs := l.cat.substitutes(ing)
		for i, c := range credits {
			if c.qty-alloc[i] <= 0 || !containsType(subs, c.item.Type) {
				continue
			}
			payment := min64(c.qty-alloc[i], left)
			alloc[i] += payment
			left -= payment
			if left == 0 {
				break
			}
		}
		if left > 0 {
			return false
		}
	}

	d.qty += r.OutputQty
	// A non-deterministic station may consume no ingredients at all, so
	// grant the output without charging when the debitor benefits from it.
	if r.NonDeterministic && d.ctx != nil && d.ctx.AtCraftingStation {
		return true
	}
	for i, amount := range alloc {
		credits[i].qty -= amount
	}
	return true
}

// matchConversions lets conversion-stage credits justify the set of
// debits their conversion rule could legitimately have produced. The
// debit pool also includes recipe-stage debits: the report for picking up
// a produced item may arrive before the source item's own update has aged
// into the conversion stage.
func (l *Ledger) matchConversions() {
	debits := l.stageDebits(StageRecipeCheck, StageConversionCheck)
	for _, c := range l.stageCredits(StageConversionCheck) {
		node := l.cat.nodeFor(c)
		if node == nil {
			continue
		}
		for c.qty > 0 && node.check(debits) {
			if !node.apply(debits) {
				break
			}
			c.qty--
		}
	}
}

// settleShops converts conversion-stage transactions carrying a shop
// snapshot into currency movements: credits of non-currency items are
// sales at store value, debits are purchases paid from the shop session's
// buyback pool first (the cheaper explanation, so the player gets the
// benefit of the doubt) and the shop's listings second. Remainders are
// re-recorded as fresh currency movements since the player may have
// quickly traded an item of equivalent value.
func (l *Ledger) settleShops() {
	coin := l.cat.PrimaryCurrency()
	if coin == 0 {
		return
	}

	debits := l.stageDebits(StageConversionCheck)
	for _, c := range l.stageCredits(StageConversionCheck) {
		if c.ctx == nil || c.ctx.Shop == nil || l.cat.IsCurrency(c.item.Type) {
			continue
		}
		proceeds := c.qty * max64(1, l.cat.StoreValue(c.item.Type)/5)
		c.ctx.Shop.Sold = append(c.ctx.Shop.Sold, SoldItem{Item: c.item, Qty: c.qty})
		c.qty = 0
		for _, d := range debits {
			if d.qty >= 0 || d.item.Type != coin {
				continue
			}
			payment := min64(proceeds, -d.qty)
			proceeds -= payment
			d.qty += payment
			if proceeds == 0 {
				break
			}
		}
		if proceeds > 0 {
			l.append(ItemVariant{Type: coin}, proceeds, nil)
		}
	}

	for _, d := range debits {
		if d.settled() || d.qty >= 0 || d.ctx == nil || d.ctx.Shop == nil || l.cat.IsCurrency(d.item.Type) {
			continue
		}
		var coinDebit int64
		sold := d.ctx.Shop.Sold
		for i := range sold {
			if sold[i].Item.Type != d.item.Type || sold[i].Qty <= 0 {
				continue
			}
			payment := min64(sold[i].Qty, -d.qty)
			sold[i].Qty -= payment
			d.qty += payment
			coinDebit += payment * max64(1, l.cat.StoreValue(d.item.Type)/5)
			if d.qty == 0 {
				break
			}
		}
		if d.qty < 0 {
			if listing := d.ctx.Shop.listingFor(d.item.Type); listing != nil {
				coinDebit += -d.qty * listing.Price
				d.qty = 0
			}
		}
		// Clear the currency cost against outstanding currency credits of
		// any stage before recording the remainder as a fresh debit.
		for _, c := range l.credits {
			if c.settled() || c.item.Type != coin {
				continue
			}
			payment := min64(c.qty, coinDebit)
			c.qty -= payment
			coinDebit -= payment
			if coinDebit == 0 {
				break
			}
		}
		if coinDebit > 0 {
			l.append(ItemVariant{Type: coin}, -coinDebit, nil)
		}
	}
}

// purge drops settled transactions and expired credits from the pools and
// returns the unresolved terminal debits for violation handling.
func (l *Ledger) purge() []*transaction {
	kept := l.credits[:0]
	for _, c := range l.credits {
		if !c.settled() && c.stage < StageExpired {
			kept = append(kept, c)
		}
	}
	l.credits = kept

	var expired []*transaction
	keptDebits := l.debits[:0]
	for _, d := range l.debits {
		switch {
		case d.qty >= 0:
			// A recipe's full output can overpay a debit past zero.
		case d.stage >= StageExpired:
			expired = append(expired, d)
		default:
			keptDebits = append(keptDebits, d)
		}
	}
	l.debits = keptDebits
	return expired
}

// resolveExpired gives each terminal debit a last chance to be paid from
// the player's live inventory, then reports whatever portion cannot be
// recovered as a violation.
func (l *Ledger) resolveExpired(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, config *AuditConfig, inventory InventoryView, reporter Reporter, expired []*transaction) {
	for _, d := range expired {
		missing := -d.qty
		if inventory != nil {
			removed, err := inventory.Remove(ctx, nk, l.userID, d.item, missing)
			if err != nil {
				logger.Warn("Failed to reconcile expired debit against inventory for user %s: %v", l.userID, err)
			} else {
				missing -= removed
			}
		}
		if missing <= 0 || reporter == nil {
			continue
		}
		reporter.ReportViolation(ctx, logger, nk, l.userID, &Violation{
			Item:     d.item,
			Quantity: missing,
			Points:   config.pointsFor(l.cat, d.item.Type, missing),
			Reason:   fmt.Sprintf("spawning %s x%d", l.cat.Name(d.item.Type), missing),
		})
	}
}

// Balance returns the signed sum of outstanding quantities for the item
// after denomination normalization.
func (l *Ledger) Balance(item ItemVariant) int64 {
	item, _ = l.cat.Normalize(item, 0)
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for _, c := range l.credits {
		if c.item == item {
			total += c.qty
		}
	}
	for _, d := range l.debits {
		if d.item == item {
			total += d.qty
		}
	}
	return total
}

// Outstanding returns a snapshot of the unsettled transactions, credits
// first, in insertion order.
func (l *Ledger) Outstanding() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]LedgerEntry, 0, len(l.credits)+len(l.debits))
	for _, c := range l.credits {
		if !c.settled() {
			entries = append(entries, LedgerEntry{Item: c.item, Quantity: c.qty, Stage: c.stage.String()})
		}
	}
	for _, d := range l.debits {
		if !d.settled() {
			entries = append(entries, LedgerEntry{Item: d.item, Quantity: d.qty, Stage: d.stage.String()})
		}
	}
	return entries
}

func (l *Ledger) stageCredits(stages ...Stage) []*transaction {
	return filterStages(l.credits, stages)
}

func (l *Ledger) stageDebits(stages ...Stage) []*transaction {
	return filterStages(l.debits, stages)
}

func filterStages(list []*transaction, stages []Stage) []*transaction {
	out := make([]*transaction, 0, len(list))
	for _, t := range list {
		if t.settled() {
			continue
		}
		for _, s := range stages {
			if t.stage == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func containsType(types []int32, itemType int32) bool {
	for _, t := range types {
		if t == itemType {
			return true
		}
	}
	return false
}
