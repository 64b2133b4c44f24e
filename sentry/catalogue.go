package sentry

// CatalogueConfig is the data definition for the static item catalogue:
// item metadata, recipes, conversion rules and denomination families. It
// is loaded once at init time; the Catalogue built from it is immutable
// and shared read-only across all players.
type CatalogueConfig struct {
	// MaxItemType is the exclusive upper bound for valid item types.
	MaxItemType int32 `json:"max_item_type,omitempty"`
	// MaxSubVariant is the exclusive upper bound for valid sub-variants.
	MaxSubVariant uint8 `json:"max_sub_variant,omitempty"`

	Items map[int32]*CatalogueItem `json:"items,omitempty"`

	Recipes            []*Recipe          `json:"recipes,omitempty"`
	SubstitutionGroups map[string][]int32 `json:"substitution_groups,omitempty"`

	// Conversions maps a source item type to the rule describing what it
	// may legitimately turn into.
	Conversions map[int32]*NodeConfig `json:"conversions,omitempty"`

	// QuestItems are turn-in items matched against the player's current
	// quest context; each yields the QuestRewards rule.
	QuestItems   []int32     `json:"quest_items,omitempty"`
	QuestRewards *NodeConfig `json:"quest_rewards,omitempty"`

	// ExtractionItems feed an extraction mechanic; each yields the
	// ExtractionDrops rule.
	ExtractionItems []int32     `json:"extraction_items,omitempty"`
	ExtractionDrops *NodeConfig `json:"extraction_drops,omitempty"`

	// Denominations lists currency families. Movements of any listed item
	// are normalized to the family's base denomination at record time.
	Denominations []*DenominationFamily `json:"denominations,omitempty"`
	// PrimaryCurrency is the base denomination shop prices are quoted in.
	PrimaryCurrency int32 `json:"primary_currency,omitempty"`
}

type CatalogueItem struct {
	Name       string `json:"name,omitempty"`
	Rarity     int32  `json:"rarity,omitempty"`
	StoreValue int64  `json:"store_value,omitempty"`
}

// Ingredient is one slot of a recipe's ingredient list. When Group is set
// it names a substitution group whose members are interchangeable for
// this slot; otherwise only Type matches.
type Ingredient struct {
	Type  int32  `json:"type,omitempty"`
	Qty   int64  `json:"qty,omitempty"`
	Group string `json:"group,omitempty"`
}

type Recipe struct {
	Output      int32         `json:"output"`
	OutputQty   int64         `json:"output_qty,omitempty"`
	Ingredients []*Ingredient `json:"ingredients,omitempty"`
	// NonDeterministic marks recipes whose station mechanic may consume no
	// ingredients; output is still granted but ingredients are not charged
	// when the debitor benefits from the mechanic.
	NonDeterministic bool `json:"non_deterministic,omitempty"`
}

// NodeConfig is the JSON form of a conversion rule. Exactly one of Item,
// All, OneOf or Optional must be set; Min/Max accompany Item and default
// to 1.
type NodeConfig struct {
	Item     int32         `json:"item,omitempty"`
	Min      int64         `json:"min,omitempty"`
	Max      int64         `json:"max,omitempty"`
	All      []*NodeConfig `json:"all,omitempty"`
	OneOf    []*NodeConfig `json:"one_of,omitempty"`
	Optional *NodeConfig   `json:"optional,omitempty"`
}

// DenominationFamily is an ordered currency chain. Each step's Rate is
// the step's value in base denomination units; the base itself has rate 1
// and comes first.
type DenominationFamily struct {
	Steps []DenominationStep `json:"steps"`
}

type DenominationStep struct {
	Type int32 `json:"type"`
	Rate int64 `json:"rate"`
}

type denomination struct {
	base int32
	rate int64
}

// Catalogue is the one-time constructed, immutable lookup table injected
// into ledgers and the evaluator.
type Catalogue struct {
	maxItemType   int32
	maxSubVariant uint8

	items           map[int32]*CatalogueItem
	recipesByOutput map[int32][]*Recipe
	groups          map[string][]int32
	conversions     map[int32]*ConversionNode
	questItems      map[int32]bool
	questRewards    *ConversionNode
	extractionItems map[int32]bool
	extractionDrops *ConversionNode
	denominations   map[int32]denomination
	primaryCurrency int32
}

// NewCatalogue builds the immutable catalogue from its config.
func NewCatalogue(config *CatalogueConfig) (*Catalogue, error) {
	if config == nil || config.MaxItemType <= 0 {
		return nil, ErrCatalogueInvalid
	}

	c := &Catalogue{
		maxItemType:     config.MaxItemType,
		maxSubVariant:   config.MaxSubVariant,
		items:           make(map[int32]*CatalogueItem, len(config.Items)),
		recipesByOutput: make(map[int32][]*Recipe),
		groups:          make(map[string][]int32, len(config.SubstitutionGroups)),
		conversions:     make(map[int32]*ConversionNode, len(config.Conversions)),
		questItems:      make(map[int32]bool, len(config.QuestItems)),
		extractionItems: make(map[int32]bool, len(config.ExtractionItems)),
		denominations:   make(map[int32]denomination),
		primaryCurrency: config.PrimaryCurrency,
	}

	for itemType, item := range config.Items {
		c.items[itemType] = item
	}
	for name, members := range config.SubstitutionGroups {
		c.groups[name] = members
	}
	for _, r := range config.Recipes {
		if r.Output <= 0 || r.Output >= c.maxItemType {
			return nil, ErrCatalogueInvalid
		}
		if r.OutputQty == 0 {
			r.OutputQty = 1
		}
		if r.OutputQty < 0 {
			return nil, ErrCatalogueInvalid
		}
		for _, ing := range r.Ingredients {
			if ing == nil || ing.Qty <= 0 {
				return nil, ErrCatalogueInvalid
			}
			if ing.Group == "" && (ing.Type <= 0 || ing.Type >= c.maxItemType) {
				return nil, ErrCatalogueInvalid
			}
		}
		c.recipesByOutput[r.Output] = append(c.recipesByOutput[r.Output], r)
	}
	for itemType, nc := range config.Conversions {
		node, err := c.buildNode(nc)
		if err != nil {
			return nil, err
		}
		c.conversions[itemType] = node
	}
	for _, itemType := range config.QuestItems {
		c.questItems[itemType] = true
	}
	if config.QuestRewards != nil {
		node, err := c.buildNode(config.QuestRewards)
		if err != nil {
			return nil, err
		}
		c.questRewards = node
	}
	for _, itemType := range config.ExtractionItems {
		c.extractionItems[itemType] = true
	}
	if config.ExtractionDrops != nil {
		node, err := c.buildNode(config.ExtractionDrops)
		if err != nil {
			return nil, err
		}
		c.extractionDrops = node
	}
	for _, family := range config.Denominations {
		if len(family.Steps) == 0 {
			return nil, ErrCatalogueInvalid
		}
		base := family.Steps[0].Type
		for i, step := range family.Steps {
			rate := step.Rate
			if i == 0 {
				rate = 1
			}
			if rate <= 0 {
				return nil, ErrCatalogueInvalid
			}
			c.denominations[step.Type] = denomination{base: base, rate: rate}
		}
		if c.primaryCurrency == 0 {
			c.primaryCurrency = base
		}
	}

	return c, nil
}

func (c *Catalogue) buildNode(nc *NodeConfig) (*ConversionNode, error) {
	if nc == nil {
		return nil, ErrCatalogueInvalid
	}
	switch {
	case nc.Item != 0:
		if nc.Item < 0 || nc.Item >= c.maxItemType || len(nc.All) > 0 || len(nc.OneOf) > 0 || nc.Optional != nil {
			return nil, ErrCatalogueInvalid
		}
		minQty, maxQty := nc.Min, nc.Max
		if minQty == 0 {
			minQty = 1
		}
		if maxQty == 0 {
			maxQty = minQty
		}
		if minQty < 0 || maxQty < minQty {
			return nil, ErrCatalogueInvalid
		}
		return Leaf(nc.Item, minQty, maxQty), nil
	case len(nc.All) > 0:
		if len(nc.OneOf) > 0 || nc.Optional != nil {
			return nil, ErrCatalogueInvalid
		}
		children, err := c.buildNodes(nc.All)
		if err != nil {
			return nil, err
		}
		return All(children...), nil
	case len(nc.OneOf) > 0:
		if nc.Optional != nil {
			return nil, ErrCatalogueInvalid
		}
		children, err := c.buildNodes(nc.OneOf)
		if err != nil {
			return nil, err
		}
		return OneOf(children...), nil
	case nc.Optional != nil:
		child, err := c.buildNode(nc.Optional)
		if err != nil {
			return nil, err
		}
		return Optional(child), nil
	default:
		return nil, ErrCatalogueInvalid
	}
}

func (c *Catalogue) buildNodes(ncs []*NodeConfig) ([]*ConversionNode, error) {
	nodes := make([]*ConversionNode, 0, len(ncs))
	for _, nc := range ncs {
		node, err := c.buildNode(nc)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// CheckItem validates an item variant against the configured ranges.
func (c *Catalogue) CheckItem(v ItemVariant) error {
	if v.Type < 0 || v.Type >= c.maxItemType {
		return ErrItemInvalid
	}
	if c.maxSubVariant > 0 && v.Sub >= c.maxSubVariant {
		return ErrVariantInvalid
	}
	return nil
}

// Normalize converts items in a known denomination family to the base
// denomination, scaling the quantity by the exchange rate. All other
// items pass through unchanged.
func (c *Catalogue) Normalize(item ItemVariant, qty int64) (ItemVariant, int64) {
	if d, ok := c.denominations[item.Type]; ok {
		return ItemVariant{Type: d.base}, qty * d.rate
	}
	return item, qty
}

// IsCurrency reports whether the item type belongs to a denomination
// family.
func (c *Catalogue) IsCurrency(itemType int32) bool {
	_, ok := c.denominations[itemType]
	return ok
}

// PrimaryCurrency is the base denomination shop prices are quoted in.
func (c *Catalogue) PrimaryCurrency() int32 {
	return c.primaryCurrency
}

// RecipesFor returns the recipes that produce the given item type.
func (c *Catalogue) RecipesFor(itemType int32) []*Recipe {
	return c.recipesByOutput[itemType]
}

// substitutes resolves an ingredient slot to the item types that may fill
// it.
func (c *Catalogue) substitutes(ing *Ingredient) []int32 {
	if ing.Group != "" {
		if members, ok := c.groups[ing.Group]; ok {
			return members
		}
	}
	return []int32{ing.Type}
}

// nodeFor selects the conversion rule for a credit, checking the
// context-based special cases before the direct table: a quest turn-in
// item matched against the player's current quest, then an extraction
// item, then the item's own conversion entry.
func (c *Catalogue) nodeFor(t *transaction) *ConversionNode {
	if c.questItems[t.item.Type] && t.ctx != nil && t.ctx.QuestItem.Type == t.item.Type {
		return c.questRewards
	}
	if c.extractionItems[t.item.Type] {
		return c.extractionDrops
	}
	return c.conversions[t.item.Type]
}

// Name returns the item's display name, or its numeric form if unknown.
func (c *Catalogue) Name(itemType int32) string {
	if item, ok := c.items[itemType]; ok && item.Name != "" {
		return item.Name
	}
	return ItemVariant{Type: itemType}.String()
}

// Rarity returns the item's rarity tier, defaulting to 0.
func (c *Catalogue) Rarity(itemType int32) int32 {
	if item, ok := c.items[itemType]; ok {
		return item.Rarity
	}
	return 0
}

// StoreValue returns the item's shop value in base denomination units.
func (c *Catalogue) StoreValue(itemType int32) int64 {
	if item, ok := c.items[itemType]; ok {
		return item.StoreValue
	}
	return 0
}
