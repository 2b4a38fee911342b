package domain

// DefaultCatalog is the fixed set of trackable items. Callers get a fresh copy.
func DefaultCatalog() []Item {
	return []Item{
		{ID: "tea", Name: "Tea", Category: CategoryBeverage, Unit: "cups"},
		{ID: "coffee", Name: "Coffee", Category: CategoryBeverage, Unit: "cups"},
		{ID: "biscuits", Name: "Biscuits", Category: CategorySnack, Unit: "packets"},
		{ID: "snacks", Name: "Snacks", Category: CategorySnack, Unit: "pieces"},
	}
}
