package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// Attributes is the category-specific description of a stock item. The set of
// implementations is closed: SpareAttributes, AccessoryAttributes and
// ProductAttributes.
type Attributes interface {
	Category() Category
	// Validate reports every blank required field.
	Validate() error
	normalize() Attributes
	labelParts() []string
}

// Spare part conditions.
const (
	ConditionNew    = "New"
	ConditionRefurb = "Refurb"
	ConditionUsed   = "Used"
)

// SpareAttributes describes a replacement part.
type SpareAttributes struct {
	Description   string `json:"description"`
	Compatibility string `json:"compatibility"`
	Condition     string `json:"condition"`
}

// Category implements Attributes.
func (SpareAttributes) Category() Category { return CategorySpare }

// Validate implements Attributes.
func (a SpareAttributes) Validate() error {
	fields := shared.FieldErrors{}
	requireField(fields, "description", a.Description)
	requireField(fields, "compatibility", a.Compatibility)
	requireField(fields, "condition", a.Condition)
	switch strings.TrimSpace(a.Condition) {
	case "", ConditionNew, ConditionRefurb, ConditionUsed:
	default:
		fields.Add("condition", "must be one of New, Refurb, Used")
	}
	return fields.Err()
}

func (a SpareAttributes) normalize() Attributes {
	return SpareAttributes{
		Description:   strings.TrimSpace(a.Description),
		Compatibility: strings.TrimSpace(a.Compatibility),
		Condition:     strings.TrimSpace(a.Condition),
	}
}

func (a SpareAttributes) labelParts() []string {
	return []string{a.Description, a.Compatibility}
}

// AccessoryAttributes describes covers, glass protectors and similar.
type AccessoryAttributes struct {
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Color       string `json:"color"`
}

// Category implements Attributes.
func (AccessoryAttributes) Category() Category { return CategoryAccessory }

// Validate implements Attributes.
func (a AccessoryAttributes) Validate() error {
	fields := shared.FieldErrors{}
	requireField(fields, "description", a.Description)
	requireField(fields, "brand", a.Brand)
	requireField(fields, "color", a.Color)
	return fields.Err()
}

func (a AccessoryAttributes) normalize() Attributes {
	return AccessoryAttributes{
		Description: strings.TrimSpace(a.Description),
		Brand:       strings.TrimSpace(a.Brand),
		Color:       strings.TrimSpace(a.Color),
	}
}

func (a AccessoryAttributes) labelParts() []string {
	return []string{a.Description, a.Brand, a.Color}
}

// ProductAttributes describes a whole device.
type ProductAttributes struct {
	Model        string `json:"model"`
	Color        string `json:"color"`
	Region       string `json:"region"`
	SerialNumber string `json:"serialNumber"`
	IMEINumber   string `json:"imeiNumber"`
	Condition    string `json:"condition"`
}

// Category implements Attributes.
func (ProductAttributes) Category() Category { return CategoryProduct }

// Validate implements Attributes.
func (a ProductAttributes) Validate() error {
	fields := shared.FieldErrors{}
	requireField(fields, "model", a.Model)
	requireField(fields, "color", a.Color)
	requireField(fields, "region", a.Region)
	requireField(fields, "serialNumber", a.SerialNumber)
	requireField(fields, "imeiNumber", a.IMEINumber)
	requireField(fields, "condition", a.Condition)
	return fields.Err()
}

func (a ProductAttributes) normalize() Attributes {
	return ProductAttributes{
		Model:        strings.TrimSpace(a.Model),
		Color:        strings.TrimSpace(a.Color),
		Region:       strings.TrimSpace(a.Region),
		SerialNumber: strings.TrimSpace(a.SerialNumber),
		IMEINumber:   strings.TrimSpace(a.IMEINumber),
		Condition:    strings.TrimSpace(a.Condition),
	}
}

func (a ProductAttributes) labelParts() []string {
	return []string{a.Model, a.Color, a.Region, a.SerialNumber, a.IMEINumber, a.Condition}
}

func requireField(fields shared.FieldErrors, name, value string) {
	if strings.TrimSpace(value) == "" {
		fields.Add(name, "is required")
	}
}

// NormalizeAttributes trims every field so equal records compare equal.
func NormalizeAttributes(a Attributes) Attributes {
	if a == nil {
		return nil
	}
	return a.normalize()
}

// ValidateAttributes checks that attrs are present, belong to category and
// carry every required field.
func ValidateAttributes(category Category, attrs Attributes) error {
	if attrs == nil {
		return shared.FieldErrors{"attributes": "is required"}
	}
	if attrs.Category() != category {
		return shared.Validationf("attributes for %s do not match category %s", attrs.Category(), category)
	}
	return attrs.Validate()
}

// DecodeAttributes parses raw JSON into the attribute record of category.
// Unknown fields are rejected.
func DecodeAttributes(category Category, raw []byte) (Attributes, error) {
	var target Attributes
	switch category {
	case CategorySpare:
		var a SpareAttributes
		if err := decodeStrict(raw, &a); err != nil {
			return nil, err
		}
		target = a
	case CategoryAccessory:
		var a AccessoryAttributes
		if err := decodeStrict(raw, &a); err != nil {
			return nil, err
		}
		target = a
	case CategoryProduct:
		var a ProductAttributes
		if err := decodeStrict(raw, &a); err != nil {
			return nil, err
		}
		target = a
	default:
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidCategory, category)
	}
	return target.normalize(), nil
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return shared.Validationf("attributes: %v", err)
	}
	return nil
}

// EncodeAttributes produces the canonical JSON stored alongside the record.
func EncodeAttributes(a Attributes) ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.normalize())
}

// ComposeLabel joins the item label with the non-empty attribute parts using
// " | ", in the per-category order shown on bills.
func ComposeLabel(label string, attrs Attributes) string {
	parts := []string{}
	if l := strings.TrimSpace(label); l != "" {
		parts = append(parts, l)
	}
	if attrs != nil {
		for _, p := range attrs.labelParts() {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, " | ")
}
