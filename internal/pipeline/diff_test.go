package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tmsbridge/gradewatch/internal/domain"
)

func TestDiff_ChangedFinal(t *testing.T) {
	old := domain.GradeTable{
		"CS101": {"final": float64(80)},
	}
	current := domain.GradeTable{
		"CS101": {"final": float64(90)},
	}

	changes := Diff(old, current)

	assert.False(t, changes.Empty())
	assert.Equal(t, domain.ChangeSet{
		"CS101": {"final": 90},
	}, changes)
}

func TestDiff_NoChange(t *testing.T) {
	table := domain.GradeTable{
		"CS101": {"final": float64(80), "sum": float64(91.5)},
		"MA201": {"act1": float64(10), "act2": float64(8)},
	}

	changes := Diff(table, table)

	assert.True(t, changes.Empty())
}

func TestDiff_AdministrativeFieldsDropped(t *testing.T) {
	old := domain.GradeTable{
		"CS101": {"final": float64(80), "courseName": "Intro to CS", "ects": float64(6)},
	}
	current := domain.GradeTable{
		"CS101": {"final": float64(80), "courseName": "Introduction to CS", "ects": float64(5)},
	}

	changes := Diff(old, current)

	assert.True(t, changes.Empty())
}

func TestDiff_SentinelsDropped(t *testing.T) {
	old := domain.GradeTable{
		"CS101": {"final": float64(80), "reFinal": float64(domain.GradeEmpty)},
	}
	current := domain.GradeTable{
		"CS101": {
			"final":    float64(domain.GradeExempt),
			"reFinal":  float64(domain.GradeEmpty),
			"addFinal": float64(domain.GradeUnparsable),
			"sem":      float64(7),
		},
	}

	changes := Diff(old, current)

	assert.Equal(t, domain.ChangeSet{
		"CS101": {"sem": 7},
	}, changes)
}

func TestDiff_RemovedCourseNotReported(t *testing.T) {
	old := domain.GradeTable{
		"CS101": {"final": float64(80)},
		"MA201": {"final": float64(70)},
	}
	current := domain.GradeTable{
		"CS101": {"final": float64(80)},
	}

	changes := Diff(old, current)

	assert.True(t, changes.Empty())
}

func TestDiff_NewCourseReported(t *testing.T) {
	old := domain.GradeTable{
		"CS101": {"final": float64(80)},
	}
	current := domain.GradeTable{
		"CS101": {"final": float64(80)},
		"PH301": {"act1": float64(9), "final": float64(domain.GradeEmpty)},
	}

	changes := Diff(old, current)

	assert.Equal(t, domain.ChangeSet{
		"PH301": {"act1": 9},
	}, changes)
}

func TestDiff_StringAndNumberShapes(t *testing.T) {
	old := domain.GradeTable{
		"CS101": {"attendance": "10"},
	}
	current := domain.GradeTable{
		"CS101": {"attendance": float64(10), "iw": "8.5"},
	}

	changes := Diff(old, current)

	assert.Equal(t, domain.ChangeSet{
		"CS101": {"iw": 8.5},
	}, changes)
}
