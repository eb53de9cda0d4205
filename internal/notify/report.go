package notify

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tmsbridge/gradewatch/internal/domain"
)

// fieldLabels maps portal field keys to human labels. Keys without an
// entry fall back to a title-cased rendering of the key.
var fieldLabels = map[string]string{
	"act1":       "Activity 1",
	"act2":       "Activity 2",
	"act3":       "Activity 3",
	"sem":        "Seminar",
	"iw":         "Independent Work",
	"attendance": "Attendance",
	"final":      "Final",
	"addFinal":   "Additional Final",
	"reFinal":    "Repeat Final",
	"sum":        "Total",
	"absents":    "Absents",
}

// fieldOrder fixes the display order of score fields in reports.
var fieldOrder = []string{
	"act1", "act2", "act3", "sem", "iw", "attendance",
	"final", "addFinal", "reFinal", "sum", "absents",
}

var titleCaser = cases.Title(language.English)

// Report is the channel-independent view of one change-set, ready for
// rendering.
type Report struct {
	SubscriberID int64
	Courses      []CourseReport
}

// CourseReport covers one changed course.
type CourseReport struct {
	Code   string
	Name   string
	Fields []FieldReport
}

// FieldReport is one changed score component.
type FieldReport struct {
	Key   string
	Label string
	Value float64
}

// BuildReport shapes a change-set for rendering, resolving course
// names from the snapshot and ordering courses and fields
// deterministically.
func BuildReport(subscriberID int64, changes domain.ChangeSet, snapshot domain.GradeTable) Report {
	report := Report{SubscriberID: subscriberID}

	codes := make([]string, 0, len(changes))
	for code := range changes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		course := CourseReport{
			Code: code,
			Name: snapshot.CourseName(code),
		}
		fields := changes[code]
		for _, key := range fieldOrder {
			if value, ok := fields[key]; ok {
				course.Fields = append(course.Fields, FieldReport{
					Key:   key,
					Label: fieldLabel(key),
					Value: value,
				})
			}
		}
		report.Courses = append(report.Courses, course)
	}
	return report
}

func fieldLabel(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	return titleCaser.String(key)
}

// FormatScore renders a score without trailing zero noise.
func FormatScore(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// EscapeMarkdown escapes telegram markup metacharacters so course
// names with underscores or brackets survive Markdown parsing.
func EscapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
