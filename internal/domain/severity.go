package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is an ordered impact level. Numeric values leave gaps for future levels.
type Severity int

const (
	SeverityNone   Severity = 0
	SeverityLow    Severity = 10
	SeverityMedium Severity = 20
	SeverityHigh   Severity = 30
	SeveritySevere Severity = 40
)

var severityNames = map[Severity]string{
	SeverityNone:   "none",
	SeverityLow:    "low",
	SeverityMedium: "medium",
	SeverityHigh:   "high",
	SeveritySevere: "severe",
}

// Severities lists every level in ascending order.
func Severities() []Severity {
	return []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeveritySevere}
}

// SeverityLabels returns the lower-case names in ascending order.
func SeverityLabels() []string {
	levels := Severities()
	labels := make([]string, len(levels))
	for i, s := range levels {
		labels[i] = s.String()
	}
	return labels
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity maps a label (case-insensitive) to a Severity.
func ParseSeverity(value string) (Severity, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for s, name := range severityNames {
		if name == value {
			return s, nil
		}
	}
	return SeverityNone, fmt.Errorf("%w: %q", ErrUnknownSeverity, value)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSeverity, int(s))
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseSeverity(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
