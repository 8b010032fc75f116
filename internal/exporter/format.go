package exporter

import "time"

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
