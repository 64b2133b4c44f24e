package sentry

// ConversionNode describes one legitimate item transformation: what a
// container, reward source or converted item may turn into. Nodes form a
// small recursive grammar and are immutable after construction, so one
// tree is safely shared read-only across all players.
//
// check is a pure predicate over a debit pool; apply performs the actual
// consumption and must only run after a successful check. For All nodes
// check evaluates children independently, which can over-approximate when
// children compete for the same debit; apply re-validates per leaf, so
// the imprecision only ever errs toward leniency.
type ConversionNode struct {
	kind     nodeKind
	item     int32
	min, max int64
	children []*ConversionNode
}

type nodeKind uint8

const (
	nodeLeaf nodeKind = iota
	nodeAll
	nodeOneOf
	nodeOptional
)

// Leaf matches debits of the given item type, requiring at least minQty
// outstanding and consuming up to maxQty. Sub-variants are not
// distinguished: transformation rules are declared per item type.
func Leaf(itemType int32, minQty, maxQty int64) *ConversionNode {
	return &ConversionNode{kind: nodeLeaf, item: itemType, min: minQty, max: maxQty}
}

// One matches exactly one unit of the given item type.
func One(itemType int32) *ConversionNode {
	return Leaf(itemType, 1, 1)
}

// All requires every child to be satisfiable; applying consumes all of
// them.
func All(children ...*ConversionNode) *ConversionNode {
	return &ConversionNode{kind: nodeAll, children: children}
}

// OneOf requires exactly one child; applying picks the child satisfiable
// with the fewest, oldest debits.
func OneOf(children ...*ConversionNode) *ConversionNode {
	return &ConversionNode{kind: nodeOneOf, children: children}
}

// Optional always checks as satisfiable and applies its child only when
// the child can actually be applied.
func Optional(child *ConversionNode) *ConversionNode {
	return &ConversionNode{kind: nodeOptional, children: []*ConversionNode{child}}
}

func (n *ConversionNode) check(debits []*transaction) bool {
	switch n.kind {
	case nodeLeaf:
		var total int64
		for _, d := range debits {
			if d.item.Type == n.item && d.qty < 0 {
				total += -d.qty
			}
		}
		return total >= n.min
	case nodeAll:
		for _, c := range n.children {
			if !c.check(debits) {
				return false
			}
		}
		return true
	case nodeOneOf:
		for _, c := range n.children {
			if c.check(debits) {
				return true
			}
		}
		return false
	default: // nodeOptional
		return true
	}
}

func (n *ConversionNode) apply(debits []*transaction) bool {
	switch n.kind {
	case nodeLeaf:
		left := n.max
		applied := false
		for _, d := range debits {
			if d.item.Type != n.item || d.qty >= 0 {
				continue
			}
			payment := min64(left, -d.qty)
			d.qty += payment
			left -= payment
			applied = true
			if left == 0 {
				break
			}
		}
		return applied
	case nodeAll:
		ok := true
		for _, c := range n.children {
			ok = c.apply(debits) && ok
		}
		return ok
	case nodeOneOf:
		// Grow the visible window oldest-first so the chosen child is the
		// one satisfiable with the fewest, oldest debits. This keeps an
		// earlier check's optimism from being invalidated and biases
		// resolution toward the player's oldest unresolved losses.
		for i := range debits {
			window := debits[:i+1]
			for _, c := range n.children {
				if c.check(window) {
					return c.apply(window)
				}
			}
		}
		return false
	default: // nodeOptional
		child := n.children[0]
		if child.check(debits) {
			child.apply(debits)
		}
		return true
	}
}
