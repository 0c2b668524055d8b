// Package advisor implements the optional escalation summarizer: when the
// Runner is about to mark an orchestration needs_attention, it asks a
// small model for a one-paragraph human-readable summary of the issue for
// the decision log and operator console. It is best-effort — any failure
// here must never block escalation itself.
package advisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// summaryModel is pinned to Haiku — speed/cost over quality, since this is
// a best-effort enrichment of an escalation message, not a decision.
const summaryModel = anthropic.Model("claude-3-5-haiku-20241022")

const summaryTimeout = 10 * time.Second

// Advisor calls the Anthropic Messages API to summarize an escalation.
// It is disabled (Summarize becomes a no-op returning "") when no API key
// is configured or SPECFLOW_DISABLE_ADVISOR is set.
type Advisor struct {
	client  anthropic.Client
	limiter *rate.Limiter
	enabled bool
}

// New constructs an Advisor. It reads ANTHROPIC_API_KEY from the
// environment; if unset, or if SPECFLOW_DISABLE_ADVISOR is set, the
// returned Advisor is disabled and Summarize always returns ("", nil).
func New() *Advisor {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	disabled := os.Getenv("SPECFLOW_DISABLE_ADVISOR") != ""
	if apiKey == "" || disabled {
		return &Advisor{enabled: false}
	}
	return &Advisor{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		enabled: true,
	}
}

// Summarize produces a short human-readable paragraph describing issue
// and detail, suitable for a DecisionLogEntry.Reason or an operator
// console display. It returns ("", nil) when disabled, and never returns
// an error that should block the caller's escalation path — callers are
// expected to fall back to the raw issue text on any error.
func (a *Advisor) Summarize(ctx context.Context, issue, detail string) (string, error) {
	if !a.enabled {
		return "", nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("advisor: rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"An automated coding pipeline is escalating to a human operator.\n"+
			"Issue: %s\nDetail: %s\n\n"+
			"In one short paragraph, explain plainly what likely went wrong and what the operator should check first.",
		issue, detail,
	)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     summaryModel,
		MaxTokens: int64(300),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("advisor: messages.new: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
