// Package catalog lists the sample companies a trainee can pick from.
package catalog

import (
	"sort"
	"strings"

	"github.com/ashureev/persona-lab/internal/domain"
)

// AllCategories is the category filter value that matches everything.
const AllCategories = "All Categories"

var companies = []domain.Company{
	{
		ID:          "1",
		Name:        "TechFlow",
		Product:     "Project Management Software",
		Description: "Advanced project management tool with AI-powered insights and team collaboration features.",
		Category:    "Software",
	},
	{
		ID:          "2",
		Name:        "CloudSync",
		Product:     "Cloud Storage Platform",
		Description: "Secure cloud storage with real-time synchronization and advanced sharing capabilities.",
		Category:    "Cloud",
	},
	{
		ID:          "3",
		Name:        "MobileFirst",
		Product:     "Mobile App Development Platform",
		Description: "No-code platform for creating professional mobile applications with drag-and-drop interface.",
		Category:    "Mobile",
	},
	{
		ID:          "4",
		Name:        "EcommPlus",
		Product:     "E-commerce Analytics Dashboard",
		Description: "Comprehensive analytics platform for online stores with sales tracking and customer insights.",
		Category:    "E-commerce",
	},
	{
		ID:          "5",
		Name:        "GameStudio",
		Product:     "Game Development Engine",
		Description: "Cross-platform game development engine with visual scripting and asset management.",
		Category:    "Gaming",
	},
}

// All returns every company in catalog order.
func All() []domain.Company {
	out := make([]domain.Company, len(companies))
	copy(out, companies)
	return out
}

// Get looks up a company by id.
func Get(id string) (domain.Company, bool) {
	for _, c := range companies {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Company{}, false
}

// Categories returns the distinct categories, sorted.
func Categories() []string {
	seen := make(map[string]struct{}, len(companies))
	var out []string
	for _, c := range companies {
		if _, ok := seen[c.Category]; ok {
			continue
		}
		seen[c.Category] = struct{}{}
		out = append(out, c.Category)
	}
	sort.Strings(out)
	return out
}

// Search filters companies whose name, product or description contains term
// (case-insensitive) and whose category equals category. An empty term or
// category, or AllCategories, disables that filter.
func Search(term, category string) []domain.Company {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.Company, 0, len(companies))
	for _, c := range companies {
		if term != "" &&
			!strings.Contains(strings.ToLower(c.Name), term) &&
			!strings.Contains(strings.ToLower(c.Product), term) &&
			!strings.Contains(strings.ToLower(c.Description), term) {
			continue
		}
		if category != "" && category != AllCategories && c.Category != category {
			continue
		}
		out = append(out, c)
	}
	return out
}
