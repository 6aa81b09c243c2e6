package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
	"github.com/steve-dickinson/agentic-environmental-intelligence/pkg/anthropic"
)

const systemPrompt = `You are an internal environmental risk analyst.
CRITICAL: Base your analysis ONLY on the data provided. Do NOT make assumptions or add information not present in the data.

For each alert:
- Summarize ONLY what is observable from the provided anomaly data
- Consider the Source type ('flood' for river levels, 'hydrology' for levels and flows, 'rainfall' for rain gauges)
- Assess priority (high, medium, or low) based solely on the values and patterns shown
- Suggest actions that directly relate to the specific stations and readings provided
- Reference specific source types, station IDs, timestamps and values
- Do not speculate about causes or conditions not evident in the data

Respond with a single JSON object and nothing else:
{"alerts":[{"summary":"...","priority":"high|medium|low","suggested_actions":["..."]}]}`

// LLM generates alerts with the Anthropic Messages API.
type LLM struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	policy    resilience.Policy
}

// NewLLM creates an LLM summarizer. Retryable API errors are retried under policy.
func NewLLM(client anthropic.Client, model string, maxTokens int64, policy resilience.Policy) *LLM {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	policy.ShouldRetry = func(err error) bool {
		return anthropic.IsRetryable(err) || resilience.IsTransient(err)
	}
	return &LLM{client: client, model: model, maxTokens: maxTokens, policy: policy.Named("anthropic", "summarize")}
}

type alertsResponse struct {
	Alerts []struct {
		Summary          string   `json:"summary"`
		Priority         string   `json:"priority"`
		SuggestedActions []string `json:"suggested_actions"`
	} `json:"alerts"`
}

func (l *LLM) Summarize(ctx context.Context, readings []model.Reading, permits []model.Permit) ([]model.Alert, error) {
	if len(readings) == 0 {
		return []model.Alert{}, nil
	}

	temp := 0.1
	req := anthropic.MessageRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: Prompt(readings, permits)}},
		Temperature: &temp,
	}

	resp, err := resilience.RetryValue(ctx, l.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return l.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "summarize: llm")
	}
	resp.Usage.Log(l.model, "summarize")

	return ParseAlerts(resp.Text())
}

// Prompt renders the readings and permits given to the model.
func Prompt(readings []model.Reading, permits []model.Permit) string {
	var b strings.Builder
	b.WriteString("Analyze these environmental anomalies and generate alerts.\n")
	b.WriteString("Each reading includes: Source (data type), Station ID, Timestamp, and Value.\n\n")
	for _, r := range readings {
		src := string(r.Source)
		if src == "" {
			src = "unknown"
		}
		fmt.Fprintf(&b, "- Source=%s Station=%s Time=%s Value=%g\n",
			src, r.StationID, r.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"), r.Value)
	}
	if len(permits) > 0 {
		b.WriteString("\nNearby registered sites:\n")
		for _, p := range permits {
			addr := p.SiteAddress
			if addr == "" {
				addr = "Unknown"
			}
			dist := "unknown"
			if p.DistanceKm != nil {
				dist = fmt.Sprintf("%.2fkm", *p.DistanceKm)
			}
			fmt.Fprintf(&b, "- %s (%s) at %s, Distance: %s\n", p.OperatorName, p.RegistrationType, addr, dist)
		}
	}
	return b.String()
}

// ParseAlerts decodes the model's JSON reply. Code fences and prose around
// the object are ignored. Unknown priorities become medium. A reply with no
// alerts is an error so callers can fall back.
func ParseAlerts(text string) ([]model.Alert, error) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("summarize: no JSON object in model reply")
	}

	var parsed alertsResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, eris.Wrap(err, "summarize: decode model reply")
	}
	if len(parsed.Alerts) == 0 {
		return nil, eris.New("summarize: model returned no alerts")
	}

	alerts := make([]model.Alert, 0, len(parsed.Alerts))
	for _, a := range parsed.Alerts {
		actions := a.SuggestedActions
		if actions == nil {
			actions = []string{}
		}
		alerts = append(alerts, model.Alert{
			Summary:          truncate(strings.TrimSpace(a.Summary), MaxSummaryLen),
			Priority:         model.ParsePriority(a.Priority),
			SuggestedActions: actions,
		})
	}
	return alerts, nil
}
