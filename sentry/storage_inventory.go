package sentry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

const storageKeyInventory = "inventory"

var _ InventoryView = (*StorageInventoryView)(nil)

// StorageInventoryView resolves expired debits against an item-count map
// persisted in the player's storage. Games that keep their live inventory
// elsewhere implement InventoryView over their own state instead.
type StorageInventoryView struct{}

type inventoryState struct {
	Items map[string]int64 `json:"items,omitempty"`
}

func inventoryItemKey(item ItemVariant) string {
	return fmt.Sprintf("%d:%d", item.Type, item.Sub)
}

func (v *StorageInventoryView) Remove(ctx context.Context, nk runtime.NakamaModule, userID string, item ItemVariant, qty int64) (int64, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: storageCollection,
		Key:        storageKeyInventory,
		UserID:     userID,
	}})
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, nil
	}

	state := &inventoryState{}
	if err := json.Unmarshal([]byte(objects[0].Value), state); err != nil {
		return 0, err
	}
	key := inventoryItemKey(item)
	held := state.Items[key]
	if held <= 0 {
		return 0, nil
	}

	removed := min64(held, qty)
	if held == removed {
		delete(state.Items, key)
	} else {
		state.Items[key] = held - removed
	}

	value, err := json.Marshal(state)
	if err != nil {
		return 0, err
	}
	if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      storageCollection,
		Key:             storageKeyInventory,
		UserID:          userID,
		Value:           string(value),
		Version:         objects[0].Version,
		PermissionRead:  1,
		PermissionWrite: 0,
	}}); err != nil {
		return 0, err
	}
	return removed, nil
}
