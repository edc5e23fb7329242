package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/persona-lab/internal/domain"
)

// minModelReply is the shortest trimmed model reply, in characters, accepted before falling back to templates.
const minModelReply = 20

// Completer returns a single model completion for a system and user prompt.
type Completer interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// LLMGenerator asks a language model to voice the persona and falls back to
// templates when the model fails or answers too briefly. Suggestion status is
// always decided by the classifier, never by the model.
type LLMGenerator struct {
	templates *TemplateGenerator
	model     Completer
	logger    *slog.Logger
}

// NewLLMGenerator wraps templates with a model-backed voice.
func NewLLMGenerator(templates *TemplateGenerator, model Completer, logger *slog.Logger) *LLMGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGenerator{templates: templates, model: model, logger: logger}
}

var _ Generator = (*LLMGenerator)(nil)

// GenerateQuestion implements Generator.
func (g *LLMGenerator) GenerateQuestion(ctx context.Context, persona domain.Persona, company domain.Company, history []domain.Message) (string, error) {
	depth := domain.CountKind(history, domain.KindPersonaQuestion)

	var prompt string
	switch {
	case depth == 0:
		prompt = fmt.Sprintf("As %s, ask an introductory question about getting started with %s. Keep it conversational and specific to your role as a %s.",
			persona.Name, company.Product, persona.Role)
	case depth < 3:
		prompt = fmt.Sprintf("As %s, ask a follow-up question about using %s in your daily work. Be specific about practical usage.",
			persona.Name, company.Product)
	default:
		prompt = fmt.Sprintf("As %s, ask an advanced question about optimizing or integrating %s with other tools.",
			persona.Name, company.Product)
	}

	if reply, ok := g.complete(ctx, questionSystemPrompt(persona, company), prompt); ok {
		return reply, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.templates.renderQuestion(persona, company, history)
}

// GenerateResponse implements Generator.
func (g *LLMGenerator) GenerateResponse(ctx context.Context, persona domain.Persona, company domain.Company, history []domain.Message) (Response, error) {
	plan, err := g.templates.planResponse(persona, company, history)
	if err != nil {
		return Response{}, err
	}
	if plan.suggestion == "" {
		return plan.compose(plan.body), nil
	}

	system := fmt.Sprintf(`You are %s, a %s.
Background: %s
You asked a question about %s and received this suggestion: %q

Respond as %s would, evaluating if the suggestion helps answer your question.
Your reaction should sound %s.`,
		persona.Name, persona.Role, persona.Background, company.Product, plan.suggestion,
		persona.Name, statusTone(plan.status))
	prompt := fmt.Sprintf("Respond to this suggestion about %s: %q. Be conversational and authentic.", company.Product, plan.suggestion)

	if reply, ok := g.complete(ctx, system, prompt); ok {
		return plan.compose(reply), nil
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return plan.compose(plan.body), nil
}

func (g *LLMGenerator) complete(ctx context.Context, system, prompt string) (string, bool) {
	reply, err := g.model.Generate(ctx, system, prompt)
	if err != nil {
		g.logger.Warn("model call failed, using template", "error", err)
		return "", false
	}
	reply = strings.TrimSpace(reply)
	if n := utf8.RuneCountInString(reply); n < minModelReply {
		g.logger.Debug("model reply too short, using template", "length", n)
		return "", false
	}
	return reply, true
}

func questionSystemPrompt(persona domain.Persona, company domain.Company) string {
	expertise := "General knowledge"
	if len(persona.Expertise) > 0 {
		expertise = strings.Join(persona.Expertise, ", ")
	}
	return fmt.Sprintf(`You are %s, a %s.
Background: %s
Expertise: %s

You are learning about %s from %s.
Product description: %s

Generate a realistic question about %s that someone in your role would ask.`,
		persona.Name, persona.Role, persona.Background, expertise,
		company.Product, company.Name, company.Description, company.Product)
}

func statusTone(s domain.Status) string {
	switch s {
	case domain.StatusSatisfied:
		return "satisfied: the suggestion answered your question"
	case domain.StatusNeedsMore:
		return "partly helped: you still need more detail"
	default:
		return "confused: the suggestion was unclear to you"
	}
}
