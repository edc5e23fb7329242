package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCompany is returned when a company record fails validation.
var ErrInvalidCompany = errors.New("invalid company")

// Company is the product a persona learns about.
type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Product     string `json:"product"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Validate requires every descriptive field to be present.
func (c *Company) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"name", c.Name},
		{"product", c.Product},
		{"description", c.Description},
		{"category", c.Category},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidCompany, f.name)
		}
	}
	return nil
}
