package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-lab/internal/catalog"
)

// ListCompanies returns catalog companies filtered by ?q= and ?category=.
func ListCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	JSON(w, http.StatusOK, map[string]interface{}{
		"companies": catalog.Search(q.Get("q"), q.Get("category")),
	})
}

// GetCompany returns one catalog company.
func GetCompany(w http.ResponseWriter, r *http.Request) {
	c, ok := catalog.Get(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "company not found")
		return
	}
	JSON(w, http.StatusOK, c)
}

// ListCategories returns the catalog categories with the catch-all first.
func ListCategories(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"categories": append([]string{catalog.AllCategories}, catalog.Categories()...),
	})
}

// RegisterCatalog registers the catalog routes.
func RegisterCatalog(r chi.Router) {
	r.Get("/api/companies", ListCompanies)
	r.Get("/api/companies/{id}", GetCompany)
	r.Get("/api/categories", ListCategories)
}
