// Package content holds the fixed persona utterance pools and the placeholder
// substitution used to render them.
package content

import (
	"fmt"
	"strings"
)

// Category names a template pool.
type Category string

const (
	CategoryQuestion  Category = "question"
	CategorySatisfied Category = "satisfied"
	CategoryNeedsMore Category = "needs_more"
	CategoryUnclear   Category = "unclear"
	CategoryFollowUp  Category = "follow_up"
)

var questionTemplates = []string{
	"I'm new to {product} and I'm not sure where to start. What are the basic features I should know about?",
	"How do I set up my account for {product}? Are there any important settings I should configure first?",
	"What are the most common tasks people use {product} for in my role as a {role}?",
	"I'm having trouble understanding how to navigate the {product} interface. Can you guide me through it?",
	"What are some best practices for using {product} effectively in my daily work?",
	"How do I integrate {product} with other tools I'm already using?",
	"Are there any common mistakes I should avoid when starting with {product}?",
	"What training resources or documentation would you recommend for {product}?",
	"How do I measure success or track my progress with {product}?",
	"What are the key differences between {product} and similar tools I might have used before?",
}

var satisfiedTemplates = []string{
	"That's exactly what I needed to know! Thank you for the clear explanation. I feel much more confident about using {product} now.",
	"Perfect! That answered my question completely. I think I have everything I need to get started with {product}.",
	"Great advice! That makes total sense and I can see how it applies to my work as a {role}. I'm ready to try it out.",
	"Excellent suggestion! I hadn't thought about it that way. This will definitely help me use {product} more effectively.",
	"Thank you! That's a comprehensive answer that covers all my concerns about {product}. I'm excited to implement this.",
}

var needsMoreTemplates = []string{
	"That's helpful, but I'm still a bit confused about the specific steps. Could you walk me through it in more detail?",
	"I understand the concept, but I'm not sure how to apply it to my specific situation as a {role}. Can you give me a more concrete example?",
	"Thanks for the explanation! I have a follow-up question though - what if I encounter specific issues while using {product}?",
	"That makes sense, but I'm wondering about the technical requirements. What do I need to have in place before I can use {product} this way?",
	"Good point! But how does this feature in {product} compare to what I'm currently doing? Will I need to change my entire workflow?",
}

var unclearTemplates = []string{
	"I'm not sure I follow. Could you explain that in simpler terms? I'm fairly new to this type of technology.",
	"That's interesting, but I don't think that addresses my specific question about {product}. Could you clarify?",
	"I'm a bit lost. Can we step back and focus on the basics of {product} first?",
	"I think there might be some confusion. Let me rephrase my question about {product}...",
	"That sounds complex. Is there a simpler way to approach this with {product}?",
}

// Follow-up clauses carry no leading space; callers join them with one.
var followUpClauses = []string{
	"Specifically, I'd like to know more about the implementation process.",
	"Also, what are the potential challenges I might face?",
	"Could you provide a step-by-step breakdown?",
	"What would be the timeline for getting this set up?",
	"Are there any prerequisites I should be aware of?",
}

// NoSuggestionReply is returned when a response is requested before any suggestion exists.
const NoSuggestionReply = "I didn't receive any suggestion. Could you please provide some guidance?"

var pools = map[Category][]string{
	CategoryQuestion:  questionTemplates,
	CategorySatisfied: satisfiedTemplates,
	CategoryNeedsMore: needsMoreTemplates,
	CategoryUnclear:   unclearTemplates,
	CategoryFollowUp:  followUpClauses,
}

// Count returns the size of a pool, or 0 for an unknown category.
func Count(c Category) int {
	return len(pools[c])
}

// Template returns the unrendered template at index within category.
func Template(c Category, index int) (string, error) {
	pool, ok := pools[c]
	if !ok {
		return "", fmt.Errorf("unknown template category %q", c)
	}
	if index < 0 || index >= len(pool) {
		return "", fmt.Errorf("template index %d out of range for %s (size %d)", index, c, len(pool))
	}
	return pool[index], nil
}

// Context carries the values substituted into templates.
type Context struct {
	Product   string
	Role      string
	Company   string
	Expertise []string
}

// Render replaces every {product}, {role} and {company} placeholder literally.
// Missing placeholders are simply left alone.
func Render(template string, ctx Context) string {
	return strings.NewReplacer(
		"{product}", ctx.Product,
		"{role}", ctx.Role,
		"{company}", ctx.Company,
	).Replace(template)
}

// ExpertiseSuffix is the clause appended to questions for personas with expertise.
// It returns "" when expertise is empty.
func ExpertiseSuffix(expertise []string) string {
	if len(expertise) == 0 {
		return ""
	}
	return fmt.Sprintf(" Given my background in %s, are there any specific features I should focus on?", strings.Join(expertise, ", "))
}
