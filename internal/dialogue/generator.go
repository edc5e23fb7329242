package dialogue

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/persona-lab/internal/content"
	"github.com/ashureev/persona-lab/internal/domain"
)

// Response is the persona's reaction to the latest suggestion.
type Response struct {
	Content string        `json:"content"`
	Status  domain.Status `json:"status"`
}

// Generator produces persona utterances. Implementations may block and must
// return ctx.Err() once ctx is cancelled.
type Generator interface {
	// GenerateQuestion renders the persona's next question for history.
	GenerateQuestion(ctx context.Context, persona domain.Persona, company domain.Company, history []domain.Message) (string, error)

	// GenerateResponse evaluates the most recent suggestion in history.
	GenerateResponse(ctx context.Context, persona domain.Persona, company domain.Company, history []domain.Message) (Response, error)
}

// Latency bounds a simulated delay. A zero Max disables the delay.
type Latency struct {
	Min time.Duration
	Max time.Duration
}

// LatencyConfig holds the simulated delays for both generator calls.
type LatencyConfig struct {
	Question Latency
	Response Latency
}

// DefaultLatency mirrors the response times of the hosted model the engine stands in for.
func DefaultLatency() LatencyConfig {
	return LatencyConfig{
		Question: Latency{Min: 1000 * time.Millisecond, Max: 3000 * time.Millisecond},
		Response: Latency{Min: 1500 * time.Millisecond, Max: 3500 * time.Millisecond},
	}
}

// TemplateGenerator renders persona utterances from the fixed template pools.
type TemplateGenerator struct {
	rand       Rand
	jitter     Rand
	classifier *Classifier
	latency    LatencyConfig
	logger     *slog.Logger
}

// Option configures a TemplateGenerator.
type Option func(*TemplateGenerator)

// WithRand sets the source for template picks and classification draws.
func WithRand(r Rand) Option {
	return func(g *TemplateGenerator) { g.rand = r }
}

// WithLatency overrides the simulated latency.
func WithLatency(l LatencyConfig) Option {
	return func(g *TemplateGenerator) { g.latency = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *TemplateGenerator) { g.logger = l }
}

// NewTemplateGenerator returns a generator with default latency and production randomness.
func NewTemplateGenerator(opts ...Option) *TemplateGenerator {
	g := &TemplateGenerator{
		rand:    NewRand(),
		jitter:  NewRand(),
		latency: DefaultLatency(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.classifier = NewClassifier(g.rand)
	return g
}

var _ Generator = (*TemplateGenerator)(nil)

// QuestionIndex selects a question template by conversation depth:
// depth 0 is always the introduction, depths 1-2 draw from [1..5] and deeper
// conversations draw from [5..9]. Index 5 is reachable from both ranges.
func QuestionIndex(depth int, r Rand) int {
	switch {
	case depth == 0:
		return 0
	case depth < 3:
		return pickIndex(r, 1, 5)
	default:
		return pickIndex(r, 5, 9)
	}
}

// GenerateQuestion implements Generator.
func (g *TemplateGenerator) GenerateQuestion(ctx context.Context, persona domain.Persona, company domain.Company, history []domain.Message) (string, error) {
	if err := g.wait(ctx, g.latency.Question); err != nil {
		return "", err
	}
	return g.renderQuestion(persona, company, history)
}

func (g *TemplateGenerator) renderQuestion(persona domain.Persona, company domain.Company, history []domain.Message) (string, error) {
	depth := domain.CountKind(history, domain.KindPersonaQuestion)
	tpl, err := content.Template(content.CategoryQuestion, QuestionIndex(depth, g.rand))
	if err != nil {
		return "", err
	}
	question := content.Render(tpl, renderContext(persona, company))
	return question + content.ExpertiseSuffix(persona.Expertise), nil
}

// GenerateResponse implements Generator.
func (g *TemplateGenerator) GenerateResponse(ctx context.Context, persona domain.Persona, company domain.Company, history []domain.Message) (Response, error) {
	if err := g.wait(ctx, g.latency.Response); err != nil {
		return Response{}, err
	}
	plan, err := g.planResponse(persona, company, history)
	if err != nil {
		return Response{}, err
	}
	return plan.compose(plan.body), nil
}

// responsePlan is a classified suggestion with its rendered template and,
// for needs_more, the follow-up clause to append.
type responsePlan struct {
	suggestion string
	status     domain.Status
	body       string
	followUp   string
}

func (p responsePlan) compose(body string) Response {
	if p.followUp != "" {
		body += " " + p.followUp
	}
	return Response{Content: body, Status: p.status}
}

func (g *TemplateGenerator) planResponse(persona domain.Persona, company domain.Company, history []domain.Message) (responsePlan, error) {
	last, ok := domain.LastOfKind(history, domain.KindUserSuggestion)
	if !ok {
		return responsePlan{status: domain.StatusUnclear, body: content.NoSuggestionReply}, nil
	}

	result := g.classifier.Classify(last.Content, company.Product)
	g.logger.Debug("suggestion classified",
		"status", result.Status,
		"length", result.Features.Length,
		"has_specific_terms", result.Features.HasSpecificTerms,
		"mentions_product", result.Features.MentionsProduct,
	)

	category := content.Category(result.Category)
	tpl, err := content.Template(category, pickIndex(g.rand, 0, content.Count(category)-1))
	if err != nil {
		return responsePlan{}, err
	}

	plan := responsePlan{
		suggestion: last.Content,
		status:     result.Status,
		body:       content.Render(tpl, renderContext(persona, company)),
	}
	if result.Status == domain.StatusNeedsMore {
		clause, err := content.Template(content.CategoryFollowUp, pickIndex(g.rand, 0, content.Count(content.CategoryFollowUp)-1))
		if err != nil {
			return responsePlan{}, err
		}
		plan.followUp = clause
	}
	return plan, nil
}

func (g *TemplateGenerator) wait(ctx context.Context, l Latency) error {
	if l.Max <= 0 {
		return ctx.Err()
	}
	d := l.Min
	if l.Max > l.Min {
		d += time.Duration(g.jitter.Float64() * float64(l.Max-l.Min))
	}
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func renderContext(persona domain.Persona, company domain.Company) content.Context {
	return content.Context{
		Product:   company.Product,
		Role:      persona.Role,
		Company:   company.Name,
		Expertise: persona.Expertise,
	}
}
