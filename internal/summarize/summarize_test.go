package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
	"github.com/steve-dickinson/agentic-environmental-intelligence/pkg/anthropic"
)

// MockClient implements anthropic.Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

var ts = time.Date(2025, 3, 1, 8, 45, 0, 0, time.UTC)

func readings(source model.Source, values ...float64) []model.Reading {
	ids := []string{"1029TH", "E7050", "L1931", "F1906"}
	out := make([]model.Reading, len(values))
	for i, v := range values {
		out[i] = model.Reading{StationID: ids[i%len(ids)], Value: v, Timestamp: ts, Source: source}
	}
	return out
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestTemplate_FloodNoPermits(t *testing.T) {
	tmpl := NewTemplate(3.0, 1.0)
	alerts, err := tmpl.Summarize(context.Background(), readings(model.SourceFlood, 3.5, 4.5), nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t,
		"Elevated river levels at 2 stations (1029TH, E7050). Peak: 4.50m, Average: 4.00m. Flood risk threshold: 3.00m. No nearby permits identified.",
		a.Summary)
	assert.Equal(t, model.PriorityLow, a.Priority)
	assert.Equal(t, []string{
		"Monitor river levels at 1029TH, E7050",
		"Investigate cause of elevated water levels",
	}, a.SuggestedActions)
}

func TestTemplate_FloodWithFloodPermits(t *testing.T) {
	permits := []model.Permit{
		{PermitID: "1", RegisterLabel: "Flood Risk Activity Exemptions"},
		{PermitID: "2", RegisterLabel: "Waste Operations"},
		{PermitID: "3", RegisterLabel: "Radioactive Substances"},
	}
	a := NewTemplate(3.0, 1.0).Alert(readings(model.SourceFlood, 7.0, 5.0, 4.0), permits)

	assert.True(t, strings.HasSuffix(a.Summary, "3 flood risk activities, waste operations within 1km."), a.Summary)
	assert.Equal(t, model.PriorityHigh, a.Priority)
	assert.Equal(t, "Assess flood risk: 7.00m exceeds safe levels", a.SuggestedActions[1])
	assert.Equal(t, "Review 3 flood risk activity exemptions", a.SuggestedActions[2])
}

func TestTemplate_HydrologyActions(t *testing.T) {
	tmpl := NewTemplate(2.0, 0.5)

	waste := tmpl.Alert(readings(model.SourceHydrology, 3.2), []model.Permit{{RegisterLabel: "Waste Operations"}})
	assert.Contains(t, waste.Summary, "Anomalous hydrology readings at 1 stations (1029TH)")
	assert.Contains(t, waste.Summary, "1 waste operations within 0.5km.")
	assert.Equal(t, model.PriorityMedium, waste.Priority)
	assert.Equal(t, []string{
		"Monitor groundwater/flow at 1029TH",
		"Investigate anomaly: peak 3.20",
		"Check 1 waste permits for contamination risk",
	}, waste.SuggestedActions)

	discharge := tmpl.Alert(readings(model.SourceHydrology, 2.5), []model.Permit{{RegisterLabel: "Water Discharges"}})
	assert.Equal(t, "Review 1 discharge consents for compliance", discharge.SuggestedActions[2])

	other := tmpl.Alert(readings(model.SourceHydrology, 2.5), []model.Permit{{RegisterLabel: "Scrap Metal Dealers"}})
	assert.Contains(t, other.Summary, "1 permits within 0.5km.")
	assert.Equal(t, "Investigate 1 nearby permitted activities", other.SuggestedActions[2])
}

func TestTemplate_MixedSources(t *testing.T) {
	rs := append(readings(model.SourceRainfall, 5.0), readings(model.SourceHydrology, 4.0)...)
	rs = append(rs, readings(model.SourceFlood, 4.0)...)
	a := NewTemplate(3.0, 1.0).Alert(rs, nil)

	assert.True(t, strings.HasPrefix(a.Summary, "3 flood/hydrology/rainfall stations showing elevated readings near 1029TH, 1029TH."), a.Summary)
	assert.Equal(t, "Monitor river levels at 1029TH, 1029TH", a.SuggestedActions[0])

	unknown := NewTemplate(3.0, 1.0).Alert([]model.Reading{{StationID: "X", Value: 4}}, nil)
	assert.Contains(t, unknown.Summary, "1 monitoring stations")
	assert.Equal(t, "Investigate non-permitted sources in the area", unknown.SuggestedActions[2])
}

func TestTemplate_Priority(t *testing.T) {
	tmpl := NewTemplate(3.0, 1.0)
	assert.Equal(t, model.PriorityLow, tmpl.Priority(4.5))
	assert.Equal(t, model.PriorityMedium, tmpl.Priority(4.51))
	assert.Equal(t, model.PriorityMedium, tmpl.Priority(6.0))
	assert.Equal(t, model.PriorityHigh, tmpl.Priority(6.01))
}

func TestTemplate_Empty(t *testing.T) {
	alerts, err := NewTemplate(3, 1).Summarize(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "a", truncate("a£b", 2))
	assert.Len(t, truncate(strings.Repeat("x", 600), MaxSummaryLen), MaxSummaryLen)
}

func TestLLM_Summarize(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			len(req.System) == 1 &&
			strings.Contains(req.Messages[0].Content, "Source=flood Station=1029TH Time=2025-03-01T08:45:00Z Value=3.5") &&
			strings.Contains(req.Messages[0].Content, "- Acme (Standard rules) at Unknown, Distance: 0.42km")
	})).Return(textResponse("```json\n"+`{"alerts":[{"summary":"Levels high at 1029TH","priority":"HIGH","suggested_actions":["Inspect"]},{"summary":"Second","priority":"urgent"}]}`+"\n```"), nil)

	dist := 0.42
	l := NewLLM(client, "claude-haiku-4-5-20251001", 0, fastPolicy())
	alerts, err := l.Summarize(context.Background(), readings(model.SourceFlood, 3.5),
		[]model.Permit{{OperatorName: "Acme", RegistrationType: "Standard rules", DistanceKm: &dist}})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, model.PriorityHigh, alerts[0].Priority)
	assert.Equal(t, []string{"Inspect"}, alerts[0].SuggestedActions)
	assert.Equal(t, model.PriorityMedium, alerts[1].Priority)
	assert.Equal(t, []string{}, alerts[1].SuggestedActions)
	client.AssertExpectations(t)
}

func TestLLM_EmptyReadingsNoCall(t *testing.T) {
	client := new(MockClient)
	alerts, err := NewLLM(client, "m", 100, fastPolicy()).Summarize(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestLLM_PermanentErrorNotRetried(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key")).Once()

	_, err := NewLLM(client, "m", 100, fastPolicy()).Summarize(context.Background(), readings(model.SourceFlood, 4), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summarize: llm")
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestLLM_TransientErrorRetried(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("i/o timeout"), 0)).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"alerts":[{"summary":"ok","priority":"low","suggested_actions":[]}]}`), nil).Once()

	alerts, err := NewLLM(client, "m", 100, fastPolicy()).Summarize(context.Background(), readings(model.SourceFlood, 4), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", alerts[0].Summary)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestParseAlerts_Errors(t *testing.T) {
	_, err := ParseAlerts("I cannot help with that.")
	assert.ErrorContains(t, err, "no JSON object")

	_, err = ParseAlerts(`{"alerts": [`)
	assert.ErrorContains(t, err, "no JSON object")

	_, err = ParseAlerts(`{"alerts": "nope"}`)
	assert.ErrorContains(t, err, "decode model reply")

	_, err = ParseAlerts(`{"alerts": []}`)
	assert.ErrorContains(t, err, "no alerts")
}

func TestFallback(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("not json"), nil)

	f := &Fallback{
		Primary:   NewLLM(client, "m", 100, fastPolicy()),
		Secondary: NewTemplate(3.0, 1.0),
	}
	alerts, err := f.Summarize(context.Background(), readings(model.SourceFlood, 7.0, 3.5), nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.PriorityHigh, alerts[0].Priority)
	assert.Contains(t, alerts[0].Summary, "Elevated river levels")
}

func TestFallback_CancelledContextSkipsSecondary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	f := &Fallback{Primary: NewLLM(client, "m", 100, fastPolicy()), Secondary: NewTemplate(3, 1)}
	_, err := f.Summarize(ctx, readings(model.SourceFlood, 4), nil)
	require.Error(t, err)
}
