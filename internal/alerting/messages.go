package alerting

import (
	"fmt"
	"strings"

	"dc-monitor/internal/models"
)

var metricTitles = map[string]string{
	"cpu":         "CPU load",
	"memory":      "Memory usage",
	"disk":        "Disk usage",
	"temperature": "Facility temperature",
	"humidity":    "Facility humidity",
}

var metricUnits = map[string]string{
	"cpu":         "%",
	"memory":      "%",
	"disk":        "%",
	"temperature": "°C",
	"humidity":    "%",
}

func alertMessage(metricType string, severity models.Severity, value, threshold float64) string {
	title, ok := metricTitles[metricType]
	if !ok {
		title = metricType
	}
	unit := metricUnits[metricType]
	return fmt.Sprintf("%s %.1f%s exceeds %s threshold %.1f%s", title, value, unit, severity, threshold, unit)
}

func notificationSubject(a models.Alert, escalated bool) string {
	prefix := "[" + strings.ToUpper(string(a.Severity)) + "]"
	if escalated {
		prefix = "[CRITICAL - ESCALATION]"
	}
	return fmt.Sprintf("%s Data center incident: %s", prefix, a.MetricType)
}

func notificationBody(a models.Alert, escalated bool) string {
	var b strings.Builder
	b.WriteString("An incident was detected by the data center monitoring system:\n\n")
	fmt.Fprintf(&b, "Type: %s\n", a.MetricType)
	fmt.Fprintf(&b, "Severity: %s\n", a.Severity)
	fmt.Fprintf(&b, "Message: %s\n", a.Message)
	fmt.Fprintf(&b, "Value: %.2f\n", a.Value)
	fmt.Fprintf(&b, "Threshold: %.2f\n", a.Threshold)
	fmt.Fprintf(&b, "Time: %s\n", a.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if escalated {
		b.WriteString("\nIMMEDIATE ACTION REQUIRED: the incident has not been resolved in time.\n")
	}
	b.WriteString("\nCheck the monitoring dashboard for details.\n")
	return b.String()
}
