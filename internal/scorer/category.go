package scorer

import "strings"

// Keyword lists that map a business to a template category. Order
// matters: the first category with a hit wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"storefront", []string{
		"bakery", "deli", "cafe", "coffee", "restaurant", "bistro", "grocer",
		"market", "butcher", "food", "pizza", "diner", "catering", "shop",
		"store", "boutique",
	}},
	{"practice", []string{
		"dental", "dentist", "clinic", "chiropractic", "veterinary", "vet",
		"medical", "optometry", "orthodontic", "therapy", "wellness", "law",
		"attorney", "accounting", "cpa",
	}},
}

func categoryFor(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return "office"
}
