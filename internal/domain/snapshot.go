package domain

import "time"

// Grade sentinels used by the portal's grade table. Score cells that
// are not applicable carry one of these instead of a real value.
const (
	GradeEmpty      = -1 // cell is blank, component not graded yet
	GradeExempt     = -2 // "Q" cell, component waived
	GradeUnparsable = -3 // cell content the scraper could not read
)

// GradeTable is one fetched grade snapshot: course code to the raw
// per-course field map as returned by the portal. Field values are
// either numbers (scores, sentinels) or strings (course name, term).
type GradeTable map[string]map[string]any

// Snapshot is the last-seen GradeTable for a Subscriber. One row per
// Subscriber, replaced each cycle. Once replaced the previous value is
// unrecoverable, so diffing must happen strictly before the replace.
type Snapshot struct {
	SubscriberID int64
	Grades       GradeTable
	UpdatedAt    time.Time
}

// ChangeSet is the filtered delta between two consecutive snapshots:
// course code to the changed score fields with their new values. It is
// derived each cycle and never persisted.
type ChangeSet map[string]map[string]float64

// Empty reports whether the change-set carries no changes.
func (c ChangeSet) Empty() bool { return len(c) == 0 }

// CourseName returns the display name for a course in the table,
// falling back to the course code.
func (g GradeTable) CourseName(code string) string {
	if course, ok := g[code]; ok {
		if name, ok := course["courseName"].(string); ok && name != "" {
			return name
		}
	}
	return code
}
