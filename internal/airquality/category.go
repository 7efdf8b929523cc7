package airquality

import (
	"encoding/json"
	"math"
	"strconv"
)

// Category is a health category for a PM2.5 concentration.
// Rank orders categories by severity, 0 being Good.
type Category struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Rank  int    `json:"rank"`
}

// CategoryBand binds a concentration range to a category. Bands are
// closed-open from below: a band covers (previous Upper, Upper].
type CategoryBand struct {
	Upper    float64
	Category Category
}

// MarshalJSON encodes the unbounded top band with a null upper bound.
func (b CategoryBand) MarshalJSON() ([]byte, error) {
	var upper *float64
	if !math.IsInf(b.Upper, 1) {
		u := b.Upper
		upper = &u
	}
	return json.Marshal(struct {
		Upper    *float64 `json:"upper"`
		Category Category `json:"category"`
	}{upper, b.Category})
}

var bands = [...]CategoryBand{
	{Upper: 9.0, Category: Category{Label: "Good", Color: "#0F980F", Rank: 0}},
	{Upper: 35.4, Category: Category{Label: "Moderate", Color: "#E3BC3A", Rank: 1}},
	{Upper: 55.4, Category: Category{Label: "Unhealthy for Sensitive Groups", Color: "#E7750A", Rank: 2}},
	{Upper: 125.4, Category: Category{Label: "Unhealthy", Color: "#FF6A6A", Rank: 3}},
	{Upper: 225.4, Category: Category{Label: "Very Unhealthy", Color: "#A07CC5", Rank: 4}},
	{Upper: math.Inf(1), Category: Category{Label: "Hazardous", Color: "#A05252", Rank: 5}},
}

// Bands returns a copy of the category table in ascending order.
func Bands() []CategoryBand {
	out := make([]CategoryBand, len(bands))
	copy(out, bands[:])
	return out
}

// Categorize maps a concentration in µg/m³ to its health category.
// Negative values are treated as Good. NaN and infinities are rejected.
func Categorize(concentration float64) (Category, error) {
	if math.IsNaN(concentration) || math.IsInf(concentration, 0) {
		return Category{}, &ConfigError{
			Field:   "concentration",
			Message: "non-finite value " + strconv.FormatFloat(concentration, 'g', -1, 64),
		}
	}
	for _, b := range bands {
		if concentration <= b.Upper {
			return b.Category, nil
		}
	}
	// unreachable: the last band is unbounded
	return bands[len(bands)-1].Category, nil
}
