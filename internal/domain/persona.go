// Package domain contains core domain types for the persona training service.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPersona is returned when a persona record fails validation.
var ErrInvalidPersona = errors.New("invalid persona")

// Persona is the synthetic learner that asks questions during a session.
// Expertise keeps insertion order and holds unique values.
type Persona struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Background string   `json:"background"`
	Expertise  []string `json:"expertise"`
}

// Validate checks the fields a session needs before it may start.
func (p *Persona) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPersona)
	case strings.TrimSpace(p.Role) == "":
		return fmt.Errorf("%w: role is required", ErrInvalidPersona)
	case strings.TrimSpace(p.Background) == "":
		return fmt.Errorf("%w: background is required", ErrInvalidPersona)
	}

	seen := make(map[string]struct{}, len(p.Expertise))
	for _, tag := range p.Expertise {
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("%w: duplicate expertise %q", ErrInvalidPersona, tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}

// ParseExpertise splits a comma-separated expertise list and normalizes it
// with NormalizeExpertise.
func ParseExpertise(csv string) []string {
	return NormalizeExpertise(strings.Split(csv, ","))
}

// NormalizeExpertise trims tags and drops empty values and repeats. The first
// occurrence of a tag wins. Tags are never split.
func NormalizeExpertise(tags []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range tags {
		tag := strings.TrimSpace(item)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate a running session's persona.
func (p Persona) Clone() Persona {
	p.Expertise = append([]string(nil), p.Expertise...)
	return p
}
