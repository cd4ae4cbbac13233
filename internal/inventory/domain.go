package inventory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// Category enumerates the kinds of stock the shop carries.
type Category string

const (
	// CategorySpare covers replacement parts used in repairs.
	CategorySpare Category = "spare"
	// CategoryAccessory covers covers, glass protectors and similar.
	CategoryAccessory Category = "accessory"
	// CategoryProduct covers whole devices, including trade-ins.
	CategoryProduct Category = "product"
)

// Categories lists every supported category.
var Categories = []Category{CategorySpare, CategoryAccessory, CategoryProduct}

// ParseCategory validates a raw category name.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategorySpare, CategoryAccessory, CategoryProduct:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidCategory, raw)
}

var (
	// ErrInvalidCategory signals an unsupported category.
	ErrInvalidCategory = fmt.Errorf("%w: inventory: invalid category", shared.ErrValidation)
	// ErrInvalidQuantity signals a non-positive movement or negative balance.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: invalid quantity", shared.ErrValidation)
	// ErrInvalidUnitPrice signals a negative unit price.
	ErrInvalidUnitPrice = fmt.Errorf("%w: inventory: invalid unit price", shared.ErrValidation)
	// ErrInsufficientStock is returned when a decrement would go below zero.
	ErrInsufficientStock = fmt.Errorf("%w: inventory: insufficient stock", shared.ErrConflict)
	// ErrDuplicateItem is returned when (category, key, attributes) already exists.
	ErrDuplicateItem = fmt.Errorf("%w: inventory: item already exists", shared.ErrConflict)
	// ErrItemNotFound is returned when a stock record is absent.
	ErrItemNotFound = fmt.Errorf("%w: inventory: stock item", shared.ErrNotFound)
	// ErrAlreadyApplied is returned when a batch commit token was used before.
	ErrAlreadyApplied = fmt.Errorf("%w: inventory: commit token already applied", shared.ErrConflict)
)

// Item is a stock record. Its identity is (Category, Key, Attributes).
type Item struct {
	ID         int64           `json:"id"`
	Category   Category        `json:"category"`
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Attributes Attributes      `json:"attributes"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// LineLabel composes the bill line description for the item.
func (i Item) LineLabel() string {
	return ComposeLabel(i.Label, i.Attributes)
}

// UnmarshalJSON decodes attributes according to the category discriminator.
func (i *Item) UnmarshalJSON(data []byte) error {
	type alias Item
	var raw struct {
		alias
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Item(raw.alias)
	if len(raw.Attributes) == 0 || string(raw.Attributes) == "null" {
		i.Attributes = nil
		return nil
	}
	attrs, err := DecodeAttributes(raw.alias.Category, raw.Attributes)
	if err != nil {
		return err
	}
	i.Attributes = attrs
	return nil
}

// ListFilter narrows item listings.
type ListFilter struct {
	Category Category
	Search   string
}

// CreateInput describes a new stock record.
type CreateInput struct {
	Category   Category
	Key        string
	Label      string
	Qty        int
	UnitPrice  decimal.Decimal
	Attributes Attributes
}

// PatchInput updates selected fields of a record.
type PatchInput struct {
	Label     *string
	Qty       *int
	UnitPrice *decimal.Decimal
}

// ReceiveInput adds incoming goods: an existing identical record is
// incremented, otherwise a record is created.
type ReceiveInput struct {
	Category   Category
	Key        string
	Label      string
	Qty        int
	UnitPrice  decimal.Decimal
	Attributes Attributes
}

// ReceiveResult reports what happened to one received line.
type ReceiveResult struct {
	Item    Item `json:"item"`
	Created bool `json:"created"`
}

// RestoreInput describes a stock-backed bill line being handed back to the
// catalog. Fields other than StockID are used only when the record has to be
// recreated.
type RestoreInput struct {
	StockID    int64
	Category   Category
	Key        string
	Label      string
	Qty        int
	UnitPrice  decimal.Decimal
	Attributes json.RawMessage
}

// RestoreResult reports whether the record had to be recreated.
type RestoreResult struct {
	Item      Item `json:"item"`
	Recreated bool `json:"recreated"`
}

// LowStockEntry is a watch-listed item at or below the threshold.
type LowStockEntry struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
	Qty   int    `json:"qty"`
}
