package model

// Category is a closed spending category label assigned to a transaction.
type Category string

// The closed category set. Labels match what the surrounding product shows
// its (Finnish) users; Uncategorized is the degraded fallback and is never
// produced by the rule layer.
const (
	CategoryGroceries     Category = "ruoka"
	CategoryRestaurants   Category = "ravintolat"
	CategoryTransport     Category = "liikenne"
	CategoryHousing       Category = "asuminen"
	CategoryEntertainment Category = "viihde"
	CategoryHealth        Category = "terveys"
	CategoryClothing      Category = "vaatteet"
	CategoryIncome        Category = "tulot"
	CategoryUncategorized Category = "uncategorized"
)

// AllCategories returns every assignable category, excluding Uncategorized.
func AllCategories() []Category {
	return []Category{
		CategoryGroceries,
		CategoryRestaurants,
		CategoryTransport,
		CategoryHousing,
		CategoryEntertainment,
		CategoryHealth,
		CategoryClothing,
		CategoryIncome,
	}
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	if c == CategoryUncategorized {
		return true
	}
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}
