package optimization

import (
	"fmt"
	"strings"
)

// Formatter renders the human-readable title and description of a
// recommendation from its structured fields. The engine never parses the
// text back; ActionCode and the numeric fields stay authoritative.
type Formatter interface {
	Format(rec Recommendation, asset Asset) (title, description string)
}

// PlainFormatter writes short English text.
type PlainFormatter struct{}

var actionTitles = map[string]string{
	"maintenance.immediate":      "Immediate maintenance required",
	"maintenance.within_7_days":  "Schedule maintenance within 7 days",
	"inspection.within_30_days":  "Plan inspection within 30 days",
	"monitor":                    "Monitor, no immediate action",
	"deferral.do_not_defer":      "Do not defer maintenance",
	"deferral.limited":           "Defer with caution",
	"deferral.safe":              "Safe to defer",
	"production.reduce_load_60":  "Reduce load to 60%",
	"production.reduce_load_80":  "Reduce load to 80%",
	"production.monitor_closely": "Monitor production closely",
	"dispatch.assign":            "Assign technician",
}

func (PlainFormatter) Format(rec Recommendation, asset Asset) (string, string) {
	title, ok := actionTitles[rec.ActionCode]
	if !ok {
		title = strings.ReplaceAll(rec.ActionCode, "_", " ")
	}
	name := asset.Name
	if name == "" {
		name = string(rec.AssetID)
	}
	title = fmt.Sprintf("%s: %s", title, name)

	m := rec.Metrics
	var desc string
	switch {
	case strings.HasPrefix(rec.ActionCode, "deferral."):
		desc = fmt.Sprintf("Deferring %s by %.0f days raises failure probability from %.1f%% to %.1f%% (expected cost %s).",
			name, m["days_deferred"], m["failure_probability"]*100, m["projected_failure_probability"]*100, rec.DeferralCost)
	case rec.Type == RecDispatch:
		worker := ""
		if rec.AssignedTo != nil {
			worker = string(*rec.AssignedTo)
		}
		desc = fmt.Sprintf("Assign %s to %s on %s, estimated %.1f hours.", worker, name, dateOrDash(rec.RecommendedDate), rec.EstimatedHours)
	case strings.HasPrefix(rec.ActionCode, "production."):
		desc = fmt.Sprintf("Lower production risk of %s from %.1f to %.1f.", name, m["current_risk"], m["current_risk"]-rec.RiskReduction)
	default:
		desc = fmt.Sprintf("%s has health score %.1f%% and failure probability %.1f%% (priority %.1f).",
			name, m["health_score"], m["failure_probability"]*100, rec.PriorityScore)
	}
	if rec.RecommendedDate != nil && rec.Type != RecDispatch {
		desc += " Act by " + rec.RecommendedDate.String() + "."
	}
	return title, desc
}

func dateOrDash(d *Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
