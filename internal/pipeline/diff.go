package pipeline

import (
	"encoding/json"
	"strconv"

	"github.com/tmsbridge/gradewatch/internal/domain"
)

// scoreFields are the grade components worth telling a human about.
// Everything else in a course entry (names, ECTS, scheduling noise) is
// administrative and never enters a change-set.
var scoreFields = map[string]struct{}{
	"act1":       {},
	"act2":       {},
	"act3":       {},
	"sem":        {},
	"iw":         {},
	"attendance": {},
	"final":      {},
	"addFinal":   {},
	"reFinal":    {},
	"sum":        {},
	"absents":    {},
}

// Diff computes the filtered change-set between two grade tables. Only
// scored fields that changed are retained, sentinel values are dropped,
// and courses missing from the current table are not reported.
func Diff(old, current domain.GradeTable) domain.ChangeSet {
	changes := make(domain.ChangeSet)

	for code, fields := range current {
		prev := old[code]
		var courseChanges map[string]float64

		for name, raw := range fields {
			if _, ok := scoreFields[name]; !ok {
				continue
			}
			value, ok := numericValue(raw)
			if !ok {
				continue
			}
			if value == domain.GradeEmpty || value == domain.GradeExempt || value == domain.GradeUnparsable {
				continue
			}
			if prevValue, ok := numericValue(prev[name]); ok && prevValue == value {
				continue
			}
			if courseChanges == nil {
				courseChanges = make(map[string]float64)
			}
			courseChanges[name] = value
		}

		if len(courseChanges) > 0 {
			changes[code] = courseChanges
		}
	}

	return changes
}

// numericValue normalizes the JSON value shapes the portal emits for a
// grade field. Anything non-numeric reads as absent.
func numericValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
