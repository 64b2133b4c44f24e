package sentry

import "fmt"

// ItemVariant identifies one stackable item: the item type plus a small
// sub-variant (reforge prefix, colour, tier and similar). Type 0 is the
// "no item" sentinel.
type ItemVariant struct {
	Type int32 `json:"type"`
	Sub  uint8 `json:"sub,omitempty"`
}

// ItemNone is the empty-slot sentinel. Recording it is always a no-op.
var ItemNone = ItemVariant{}

// IsNone reports whether the variant is the "no item" sentinel.
func (v ItemVariant) IsNone() bool {
	return v.Type == 0
}

func (v ItemVariant) String() string {
	if v.Sub == 0 {
		return fmt.Sprintf("item(%d)", v.Type)
	}
	return fmt.Sprintf("item(%d/%d)", v.Type, v.Sub)
}
