package inventory

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KnownKeys lists the item keys offered for each category when goods are
// received. Product keys are open ended; these are the common models.
var KnownKeys = map[Category][]string{
	CategorySpare: {
		"battery", "back_glass", "display_screen", "charging_port", "back_camera",
		"front_camera", "camera_lens", "speaker", "ear_speaker", "face_id", "housing",
	},
	CategoryAccessory: {"back_cover", "tempered_glass"},
	CategoryProduct: {
		"iphone_13", "iphone_13_pro", "iphone_14", "iphone_14_pro", "iphone_15",
		"iphone_15_pro", "macbook_air", "macbook_pro",
	},
}

var labelOverrides = map[string]string{
	"face_id": "Face ID",
}

var titleCaser = cases.Title(language.English)

// DefaultLabel derives the display label of an item key, e.g. "back_glass"
// becomes "Back Glass".
func DefaultLabel(key string) string {
	key = strings.TrimSpace(key)
	if label, ok := labelOverrides[key]; ok {
		return label
	}
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

// KeyOption pairs a key with its label for pickers.
type KeyOption struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// KeyOptions returns the known keys of category sorted by label.
func KeyOptions(category Category) []KeyOption {
	keys := KnownKeys[category]
	out := make([]KeyOption, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyOption{Key: k, Label: DefaultLabel(k)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
