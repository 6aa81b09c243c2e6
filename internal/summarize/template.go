package summarize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// MaxSummaryLen caps alert summary length in bytes.
const MaxSummaryLen = 500

// Template builds alerts from the readings alone. It never fails and makes
// no network calls.
type Template struct {
	Threshold float64
	RadiusKM  float64
}

// NewTemplate creates a Template for the given anomaly threshold and permit
// search radius.
func NewTemplate(threshold, radiusKM float64) *Template {
	return &Template{Threshold: threshold, RadiusKM: radiusKM}
}

func (t *Template) Summarize(_ context.Context, readings []model.Reading, permits []model.Permit) ([]model.Alert, error) {
	if len(readings) == 0 {
		return []model.Alert{}, nil
	}
	return []model.Alert{t.Alert(readings, permits)}, nil
}

// Alert builds the single alert for a cluster.
func (t *Template) Alert(readings []model.Reading, permits []model.Permit) model.Alert {
	stations := make([]string, len(readings))
	peak, sum := readings[0].Value, 0.0
	for i, r := range readings {
		stations[i] = r.StationID
		sum += r.Value
		if r.Value > peak {
			peak = r.Value
		}
	}
	mean := sum / float64(len(readings))
	sources := sourceSet(readings)
	isFlood, isHydrology := sources[model.SourceFlood], sources[model.SourceHydrology]

	named := strings.Join(stations[:min(2, len(stations))], ", ")

	var b strings.Builder
	switch {
	case isFlood && !isHydrology:
		fmt.Fprintf(&b, "Elevated river levels at %d stations (%s). Peak: %.2fm, Average: %.2fm. Flood risk threshold: %.2fm. ",
			len(readings), named, peak, mean, t.Threshold)
	case isHydrology && !isFlood:
		fmt.Fprintf(&b, "Anomalous hydrology readings at %d stations (%s). Peak: %.2f, Average: %.2f (threshold: %.2f). ",
			len(readings), named, peak, mean, t.Threshold)
	default:
		label := "monitoring"
		if len(sources) > 0 {
			label = strings.Join(sortedSources(sources), "/")
		}
		fmt.Fprintf(&b, "%d %s stations showing elevated readings near %s. Peak: %.2f, Average: %.2f (threshold: %.2f). ",
			len(readings), label, named, peak, mean, t.Threshold)
	}

	switch cats := PermitCategories(permits); {
	case len(permits) == 0:
		b.WriteString("No nearby permits identified.")
	case len(cats) > 0:
		fmt.Fprintf(&b, "%d %s within %gkm.", len(permits), strings.Join(cats, ", "), t.RadiusKM)
	default:
		fmt.Fprintf(&b, "%d permits within %gkm.", len(permits), t.RadiusKM)
	}

	return model.Alert{
		Summary:          truncate(b.String(), MaxSummaryLen),
		Priority:         t.Priority(peak),
		SuggestedActions: t.actions(stations, peak, isFlood, isHydrology, permits),
	}
}

// Priority grades a cluster by its peak value: high above twice the
// threshold, medium above one and a half times, low otherwise.
func (t *Template) Priority(peak float64) model.Priority {
	switch {
	case peak > t.Threshold*2:
		return model.PriorityHigh
	case peak > t.Threshold*1.5:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func (t *Template) actions(stations []string, peak float64, isFlood, isHydrology bool, permits []model.Permit) []string {
	named := strings.Join(stations[:min(2, len(stations))], ", ")
	n := len(permits)
	var out []string

	switch {
	case isFlood:
		out = append(out, "Monitor river levels at "+named)
		if peak > t.Threshold*1.5 {
			out = append(out, fmt.Sprintf("Assess flood risk: %.2fm exceeds safe levels", peak))
		} else {
			out = append(out, "Investigate cause of elevated water levels")
		}
		if n > 0 {
			if anyLabel(permits, "flood") {
				out = append(out, fmt.Sprintf("Review %d flood risk activity exemptions", n))
			} else {
				out = append(out, fmt.Sprintf("Check if %d nearby permits affecting flow", n))
			}
		}
	case isHydrology:
		out = append(out,
			"Monitor groundwater/flow at "+named,
			fmt.Sprintf("Investigate anomaly: peak %.2f", peak),
		)
		switch {
		case n == 0:
		case anyLabel(permits, "waste"):
			out = append(out, fmt.Sprintf("Check %d waste permits for contamination risk", n))
		case anyLabel(permits, "discharge"):
			out = append(out, fmt.Sprintf("Review %d discharge consents for compliance", n))
		default:
			out = append(out, fmt.Sprintf("Investigate %d nearby permitted activities", n))
		}
	default:
		out = append(out,
			"Monitor "+named+" for continued elevation",
			fmt.Sprintf("Investigate cause of %.2f reading (peak value)", peak),
		)
		if n > 0 {
			out = append(out, fmt.Sprintf("Contact operators of %d nearby permits for compliance check", n))
		} else {
			out = append(out, "Investigate non-permitted sources in the area")
		}
	}
	return out
}

var permitCategories = []struct{ keyword, category string }{
	{"flood", "flood risk activities"},
	{"waste", "waste operations"},
	{"discharge", "discharge consents"},
	{"abstraction", "water abstraction"},
	{"installation", "industrial installations"},
}

// PermitCategories maps register labels onto a sorted set of categories.
// Each permit takes the first matching keyword.
func PermitCategories(permits []model.Permit) []string {
	seen := make(map[string]bool)
	for _, p := range permits {
		label := strings.ToLower(p.RegisterLabel)
		for _, c := range permitCategories {
			if strings.Contains(label, c.keyword) {
				seen[c.category] = true
				break
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func anyLabel(permits []model.Permit, keyword string) bool {
	for _, p := range permits {
		if strings.Contains(strings.ToLower(p.RegisterLabel), keyword) {
			return true
		}
	}
	return false
}

func sourceSet(readings []model.Reading) map[model.Source]bool {
	set := make(map[model.Source]bool)
	for _, r := range readings {
		if r.Source != "" {
			set[r.Source] = true
		}
	}
	return set
}

func sortedSources(set map[model.Source]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
