package shopping

import (
	"strings"

	"github.com/dukerupert/pantrysync/internal/model"
)

// Categorize suggests a pantry category for an item name. Exact names win,
// then the longest keyword contained in the name. Unknown names fall back to
// model.DefaultCategory.
func Categorize(itemName string) string {
	name := strings.ToLower(strings.TrimSpace(itemName))
	if name == "" {
		return model.DefaultCategory
	}
	if cat, ok := exactNames[name]; ok {
		return cat
	}

	best, bestLen := "", 0
	for _, g := range keywordGroups {
		for _, kw := range g.keywords {
			if len(kw) > bestLen && strings.Contains(name, kw) {
				best, bestLen = g.category, len(kw)
			}
		}
	}
	if best == "" {
		return model.DefaultCategory
	}
	return best
}

// Names that a keyword scan would misfile.
var exactNames = map[string]string{
	"peanut butter":  "Pantry",
	"butternut":      "Vegetables",
	"eggplant":       "Vegetables",
	"ice cream":      "Dairy",
	"coconut milk":   "Pantry",
	"almond milk":    "Beverages",
	"oat milk":       "Beverages",
	"hot dogs":       "Meat",
	"chicken broth":  "Pantry",
	"beef broth":     "Pantry",
	"tomato sauce":   "Pantry",
	"apple juice":    "Beverages",
	"orange juice":   "Beverages",
	"banana bread":   "Bakery",
	"chocolate milk": "Dairy",
}

var keywordGroups = []struct {
	category string
	keywords []string
}{
	{"Dairy", []string{"milk", "cheese", "cheddar", "mozzarella", "parmesan", "yogurt", "butter", "cream", "egg", "sour cream", "cottage"}},
	{"Fruits", []string{"apple", "banana", "orange", "lemon", "lime", "grape", "berry", "berries", "peach", "pear", "mango", "pineapple", "melon", "avocado", "cherry", "cherries", "plum", "kiwi"}},
	{"Vegetables", []string{"lettuce", "spinach", "kale", "broccoli", "carrot", "celery", "cucumber", "pepper", "onion", "garlic", "potato", "tomato", "mushroom", "zucchini", "corn", "cabbage", "squash", "asparagus", "green beans"}},
	{"Bakery", []string{"bread", "bagel", "muffin", "croissant", "tortilla", "bun", "roll", "pita", "baguette", "cake", "pastry"}},
	{"Meat", []string{"chicken", "beef", "pork", "turkey", "bacon", "ham", "sausage", "steak", "lamb", "salmon", "tuna", "shrimp", "fish", "ground"}},
	{"Pantry", []string{"rice", "pasta", "noodle", "flour", "sugar", "salt", "oil", "vinegar", "sauce", "cereal", "oats", "oatmeal", "beans", "lentil", "soup", "broth", "spice", "honey", "jam", "canned", "peanut"}},
	{"Beverages", []string{"juice", "coffee", "tea", "soda", "water", "beer", "wine", "lemonade", "kombucha", "drink"}},
	{"Snacks", []string{"chips", "cracker", "cookie", "pretzel", "popcorn", "candy", "chocolate", "granola bar", "trail mix", "nuts"}},
}
