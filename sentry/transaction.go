package sentry

import "time"

// Channel identifies the report channel a movement arrived through. The
// same physical movement can be reported twice over different channels
// (an inventory slot update plus a world pickup/drop for the same item),
// so slot-aware channels get direct cancellation at record time.
type Channel int8

const (
	// ChannelInventory covers inventory, equipment and trash slot updates.
	ChannelInventory Channel = iota
	// ChannelWorld covers item pickups and drops in the world.
	ChannelWorld
	// ChannelContainer covers chest and storage container slot updates.
	ChannelContainer
	// ChannelDerived covers movements the server infers from other events
	// (tile placement, boss summons, consumed buff items). These are never
	// slot shuffles.
	ChannelDerived
)

func (c Channel) slotAware() bool {
	return c == ChannelInventory || c == ChannelWorld
}

// ShopListing is one purchasable slot of a shop at snapshot time.
type ShopListing struct {
	Item ItemVariant `json:"item"`
	// Price in the base denomination.
	Price int64 `json:"price"`
}

// SoldItem is an entry in a shop session's buyback pool.
type SoldItem struct {
	Item ItemVariant `json:"item"`
	Qty  int64       `json:"qty"`
}

// ShopSnapshot captures the shop a player had open when a movement was
// observed. The listings are fixed at capture time; Sold is the buyback
// pool for the shop session and is mutated only under the ledger lock as
// sales and purchases settle.
type ShopSnapshot struct {
	NPC      int32          `json:"npc"`
	Listings []*ShopListing `json:"listings,omitempty"`
	Sold     []SoldItem     `json:"sold,omitempty"`
}

func (s *ShopSnapshot) listingFor(itemType int32) *ShopListing {
	for _, l := range s.Listings {
		if l.Item.Type == itemType {
			return l
		}
	}
	return nil
}

// Context is the snapshot of game state captured when a movement is
// observed. It must be captured by the event decoder at call time and is
// immutable for the transaction's lifetime; later game-state changes
// never retroactively affect an already-recorded transaction.
type Context struct {
	Channel Channel
	// Shop the player had open, if any. Shared between the transactions
	// of one shop session so the buyback pool carries across them.
	Shop *ShopSnapshot
	// AtCraftingStation reports whether the player was near a station
	// whose non-deterministic ingredient consumption benefit applies.
	AtCraftingStation bool
	// HeldItem is the item selected in the player's hand.
	HeldItem ItemVariant
	// TalkingTo is the NPC the player was conversing with, or 0.
	TalkingTo int32
	// QuestItem is the turn-in item of the player's current quest, or none.
	QuestItem ItemVariant
}

// transaction is the mutable unit of the ledger: a signed quantity of one
// item variant. Positive quantities are credits the server must justify,
// negative quantities are debits to be accounted for. Quantity is paid
// down in place as matches consume it; a transaction is settled once it
// reaches zero.
type transaction struct {
	item       ItemVariant
	qty        int64
	stage      Stage
	lastChange time.Time
	ctx        *Context
}

func (t *transaction) settled() bool {
	return t.qty == 0
}

// tick advances the transaction one stage when its dwell time in the
// current stage has elapsed. The dwell clock resets on each transition,
// not on creation.
func (t *transaction) tick(now time.Time, dwell []time.Duration) {
	if t.stage >= StageExpired {
		return
	}
	if !now.Before(t.lastChange.Add(dwell[t.stage])) {
		t.stage++
		t.lastChange = now
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
