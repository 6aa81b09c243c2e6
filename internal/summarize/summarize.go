// Package summarize turns a cluster of anomalous readings and its nearby
// permits into alerts.
package summarize

import (
	"context"

	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// Summarizer produces alerts for one cluster. Zero readings yield no alerts
// and no external call.
type Summarizer interface {
	Summarize(ctx context.Context, readings []model.Reading, permits []model.Permit) ([]model.Alert, error)
}

// Fallback tries Primary and falls back to Secondary when it fails.
type Fallback struct {
	Primary   Summarizer
	Secondary Summarizer
}

func (f *Fallback) Summarize(ctx context.Context, readings []model.Reading, permits []model.Permit) ([]model.Alert, error) {
	if len(readings) == 0 {
		return []model.Alert{}, nil
	}
	alerts, err := f.Primary.Summarize(ctx, readings, permits)
	if err == nil {
		return alerts, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	zap.L().Warn("summarize: primary failed, using fallback", zap.Error(err))
	return f.Secondary.Summarize(ctx, readings, permits)
}
