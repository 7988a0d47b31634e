package ipcl

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/fallback"
	"github.com/xonecas/symb/internal/provider"
)

// SteeringFunc is consulted between iterations so the event loop (spec.md
// §4.J) can inject user feedback. A nil SteeringFunc means the loop runs
// to convergence or the iteration cap without ever pausing for the user.
type SteeringFunc func(iteration int, planText string, critiques []CritiqueItem) UserFeedback

// Loop drives the generate → critique → converge state machine over a
// fallback chain.
type Loop struct {
	chain *fallback.Chain
	cfg   Config
}

// New builds a Loop over the given provider fallback chain.
func New(chain *fallback.Chain, cfg Config) *Loop {
	return &Loop{chain: chain, cfg: cfg}
}

// Run drives the loop for a single planning task until the plan converges,
// the user approves or cancels, or max_iterations is reached.
func (l *Loop) Run(ctx context.Context, task string, steer SteeringFunc) (*PlanResult, error) {
	plan, err := l.generate(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("ipcl: initial plan generation failed: %w", err)
	}

	var iterations []PlanIteration
	// The first iteration's plan has no prior regeneration to compare
	// against; treat it as its own baseline so a draft with no
	// must-address critiques can converge immediately.
	prevPlan := plan

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		personas := SelectActivePersonas(plan)
		critiques, err := l.critique(ctx, plan, personas)
		if err != nil {
			log.Warn().Err(err).Int("iteration", i).Msg("ipcl: critique parse failed, treating as empty")
			critiques = nil
		}

		conv := computeConvergence(plan, prevPlan, critiques, l.cfg.ConvergencePct)

		if _, runaway := conv.(ScopeRunaway); runaway {
			return &PlanResult{Outcome: IterationCap, Iterations: iterations}, nil
		}

		iteration := PlanIteration{Iteration: i, PlanText: plan, Critiques: critiques}

		if steer != nil {
			switch fb := steer(i, plan, critiques).(type) {
			case Approve:
				iterations = append(iterations, iteration)
				return &PlanResult{Outcome: UserApproved, Iterations: iterations}, nil
			case Cancel:
				iterations = append(iterations, iteration)
				return &PlanResult{Outcome: Cancelled, Iterations: iterations}, nil
			case Continue:
				if fb.Text != "" {
					text := fb.Text
					iteration.UserFeedback = &text
				}
			}
		}

		iterations = append(iterations, iteration)

		if _, stable := conv.(Stable); stable {
			return &PlanResult{Outcome: Converged, Iterations: iterations}, nil
		}

		if i == l.cfg.MaxIterations {
			return &PlanResult{Outcome: IterationCap, Iterations: iterations}, nil
		}

		steeringText := ""
		if iteration.UserFeedback != nil {
			steeringText = *iteration.UserFeedback
		}
		regenerated, err := l.regenerate(ctx, plan, critiques, steeringText)
		if err != nil {
			return nil, fmt.Errorf("ipcl: plan regeneration failed at iteration %d: %w", i, err)
		}
		prevPlan = plan
		plan = regenerated
	}

	return &PlanResult{Outcome: IterationCap, Iterations: iterations}, nil
}

func (l *Loop) generate(ctx context.Context, task string) (string, error) {
	system := provider.WithAlignment("You write concise, numbered implementation plans. Respond with ONLY a numbered list of steps (\"1. ...\", \"2. ...\"); no preamble, no summary.")
	messages := []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Write an implementation plan for this task:\n\n%s", task)},
	}
	text, err := l.collectText(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return stripNonNumberedPreamble(text), nil
}

func (l *Loop) critique(ctx context.Context, plan string, personas []string) ([]CritiqueItem, error) {
	system := provider.WithAlignment(critiqueSystemPrompt(personas))
	messages := []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Plan to critique:\n\n%s", plan)},
	}
	text, err := l.collectText(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	return parseCritiqueJSON(text)
}

func (l *Loop) regenerate(ctx context.Context, prevPlan string, critiques []CritiqueItem, steeringText string) (string, error) {
	system := provider.WithAlignment("You revise numbered implementation plans to address specific critique items. Respond with ONLY the revised numbered list of steps; no preamble, no summary.")

	var b strings.Builder
	fmt.Fprintf(&b, "Current plan:\n\n%s\n\n", prevPlan)
	must := mustAddressItems(critiques)
	if len(must) > 0 {
		b.WriteString("Address every one of these critiques in the revision:\n")
		for _, c := range must {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Persona, c.Concern)
		}
	}
	if steeringText != "" {
		fmt.Fprintf(&b, "\nUser steering feedback to incorporate:\n%s\n", steeringText)
	}

	messages := []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
	text, err := l.collectText(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return stripNonNumberedPreamble(text), nil
}

func mustAddressItems(items []CritiqueItem) []CritiqueItem {
	var out []CritiqueItem
	for _, c := range items {
		if c.IsMustAddress {
			out = append(out, c)
		}
	}
	return out
}

// collectText runs one fallback-chain call and concatenates all content
// deltas until the stream ends or errors.
func (l *Loop) collectText(ctx context.Context, messages []provider.Message, tools []provider.Tool) (string, error) {
	ch, providerName, err := l.chain.ChatStream(ctx, messages, tools)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			b.WriteString(evt.Content)
		case provider.EventError:
			return "", evt.Err
		}
	}
	log.Debug().Str("provider", providerName).Int("chars", b.Len()).Msg("ipcl: provider call complete")
	return b.String(), nil
}

func critiqueSystemPrompt(personas []string) string {
	var b strings.Builder
	b.WriteString("You are a panel of adversarial code-review personas: ")
	b.WriteString(strings.Join(personas, ", "))
	b.WriteString(`.

Critique the plan from each active persona's perspective. Respond with ONLY a JSON array of objects, one per concern found (empty array "[]" if none), each shaped exactly as:

{"persona": string, "concern": string, "step_ref": integer or null, "severity": integer 1-10, "confidence": integer 1-10}

severity is the impact if the concern goes unaddressed; confidence is your certainty the concern is real. No fields beyond these five. No prose before or after the array.`)
	return b.String()
}
