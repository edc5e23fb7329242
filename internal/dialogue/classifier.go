package dialogue

import (
	"strings"
	"unicode/utf8"

	"github.com/ashureev/persona-lab/internal/domain"
)

var specificTerms = []string{"step", "how", "guide", "tutorial", "example", "feature", "setting", "configure"}

// Features are the deterministic signals extracted from a suggestion.
type Features struct {
	Length           int  `json:"length"`
	HasSpecificTerms bool `json:"has_specific_terms"`
	MentionsProduct  bool `json:"mentions_product"`
}

// ExtractFeatures measures a suggestion against the company's product name.
// Length counts code points; both matches are case-insensitive substring tests.
func ExtractFeatures(text, product string) Features {
	lower := strings.ToLower(text)
	f := Features{
		Length:          utf8.RuneCountInString(text),
		MentionsProduct: strings.Contains(lower, strings.ToLower(product)),
	}
	for _, term := range specificTerms {
		if strings.Contains(lower, term) {
			f.HasSpecificTerms = true
			break
		}
	}
	return f
}

// Classify maps features and one uniform draw to a status. The first matching
// branch wins:
//
//	length > 100 && terms && product   -> satisfied if draw > 0.3, else needs_more
//	length > 50 && (terms || product)  -> needs_more if draw > 0.5, else satisfied
//	otherwise                          -> unclear if draw > 0.7, else needs_more
func Classify(f Features, draw float64) domain.Status {
	switch {
	case f.Length > 100 && f.HasSpecificTerms && f.MentionsProduct:
		if draw > 0.3 {
			return domain.StatusSatisfied
		}
		return domain.StatusNeedsMore
	case f.Length > 50 && (f.HasSpecificTerms || f.MentionsProduct):
		if draw > 0.5 {
			return domain.StatusNeedsMore
		}
		return domain.StatusSatisfied
	default:
		if draw > 0.7 {
			return domain.StatusUnclear
		}
		return domain.StatusNeedsMore
	}
}

// ClassificationResult is the transient outcome of classifying one suggestion.
// Category always equals Status.
type ClassificationResult struct {
	Status   domain.Status
	Category domain.Status
	Features Features
}

// Classifier draws from an injected Rand to break ties.
type Classifier struct {
	rand Rand
}

// NewClassifier returns a classifier over r; nil selects the production source.
func NewClassifier(r Rand) *Classifier {
	if r == nil {
		r = NewRand()
	}
	return &Classifier{rand: r}
}

// Classify evaluates a suggestion. It consumes exactly one draw.
func (c *Classifier) Classify(suggestion, product string) ClassificationResult {
	f := ExtractFeatures(suggestion, product)
	status := Classify(f, c.rand.Float64())
	return ClassificationResult{Status: status, Category: status, Features: f}
}
