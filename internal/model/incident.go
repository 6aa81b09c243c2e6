package model

import (
	"strings"
	"time"
)

// Priority grades the urgency of an alert.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes a priority label. Unknown labels map to medium.
func ParsePriority(s string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p
	default:
		return PriorityMedium
	}
}

// Alert is a generated risk assessment for one cluster.
type Alert struct {
	Summary          string   `json:"summary"`
	Priority         Priority `json:"priority"`
	SuggestedActions []string `json:"suggested_actions"`
}

// Permit is a regulatory registration found near a cluster.
type Permit struct {
	PermitID         string   `json:"permit_id"`
	OperatorName     string   `json:"operator_name"`
	RegisterLabel    string   `json:"register_label,omitempty"`
	RegistrationType string   `json:"registration_type,omitempty"`
	SiteAddress      string   `json:"site_address,omitempty"`
	SitePostcode     string   `json:"site_postcode,omitempty"`
	DistanceKm       *float64 `json:"distance_km,omitempty"`
}

// Incident is the durable record of one cluster of anomalies.
type Incident struct {
	ID          string    `json:"id"`
	Readings    []Reading `json:"readings"`
	Alerts      []Alert   `json:"alerts"`
	Permits     []Permit  `json:"permits"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Priority returns the priority of the first alert, or empty when there are none.
func (i Incident) Priority() Priority {
	if len(i.Alerts) == 0 {
		return ""
	}
	return i.Alerts[0].Priority
}

// Summary returns the first alert summary, or empty when there are none.
func (i Incident) Summary() string {
	if len(i.Alerts) == 0 {
		return ""
	}
	return i.Alerts[0].Summary
}
