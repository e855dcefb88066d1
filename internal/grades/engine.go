// ============================================================================
// internal/grades/engine.go
// Grade engine: pure functions mapping marks to grades and aggregating
// subject grades into SGPA/CGPA. No side effects, no I/O.
// ============================================================================

package grades

import (
	"math"

	"crms/internal/shared"
)

// FailGrade is the catch-all floor of every scale
const FailGrade = "F"

// Scale is an ordered grade table, descending by minimum marks. The first
// band whose MinMarks the total meets wins.
type Scale []shared.GradeBand

// DefaultScale is the R23 scale used when a regulation does not carry its own.
func DefaultScale() Scale {
	return Scale{
		{Grade: "S", MinMarks: 90, Points: 10},
		{Grade: "A", MinMarks: 80, Points: 9},
		{Grade: "B", MinMarks: 70, Points: 8},
		{Grade: "C", MinMarks: 60, Points: 7},
		{Grade: "D", MinMarks: 50, Points: 6},
		{Grade: "E", MinMarks: 40, Points: 5},
		{Grade: "F", MinMarks: 0, Points: 0},
	}
}

// ScaleFor returns the regulation's own grade scale, or the default scale if
// the regulation carries none.
func ScaleFor(reg *shared.Regulation) Scale {
	if reg == nil || len(reg.GradeScale) == 0 {
		return DefaultScale()
	}
	return Scale(reg.GradeScale)
}

// GradeOf maps a total mark to its grade and points. A total outside [0,100]
// is a caller error, not silently clamped.
func (s Scale) GradeOf(total float64) (grade string, points float64, err error) {
	if total < 0 || total > 100 {
		return "", 0, shared.E(shared.KindValidationFailed, "total marks %.2f outside valid range [0,100]", total)
	}

	for _, band := range s {
		if total >= band.MinMarks {
			return band.Grade, band.Points, nil
		}
	}

	// F is the floor even if the scale omits a zero band
	return FailGrade, 0, nil
}

// PointsOf returns the points for a letter grade, or a validation error if
// the grade is not on the scale.
func (s Scale) PointsOf(grade string) (float64, error) {
	for _, band := range s {
		if band.Grade == grade {
			return band.Points, nil
		}
	}
	return 0, shared.E(shared.KindValidationFailed, "grade %q not on scale", grade)
}

// SubjectGrade is the per-subject input to SGPA aggregation. GradePoints is
// already weighted by credits (points x credits), matching the snapshot shape
// stored on results.
type SubjectGrade struct {
	Credits     float64
	Grade       string
	GradePoints float64
}

// Summary is the aggregate outcome of one semester's subjects.
type Summary struct {
	TotalCredits     float64
	EarnedCredits    float64
	TotalGradePoints float64
	SGPA             float64
}

// SGPAOf aggregates subject grades into a semester summary. Failed subjects
// contribute to TotalCredits (for transcript display) but are excluded from
// EarnedCredits and the SGPA numerator. All-fail semesters yield SGPA 0.
func SGPAOf(subjects []SubjectGrade) Summary {
	var sum Summary
	for _, s := range subjects {
		sum.TotalCredits += s.Credits
		if s.Grade != FailGrade {
			sum.EarnedCredits += s.Credits
			sum.TotalGradePoints += s.GradePoints
		}
	}

	if sum.EarnedCredits > 0 {
		sum.SGPA = Round2(sum.TotalGradePoints / sum.EarnedCredits)
	}
	return sum
}

// SemesterSummary is the per-semester input to CGPA aggregation.
type SemesterSummary struct {
	SGPA          float64
	EarnedCredits float64
}

// CGPAOf computes the credit-weighted mean of SGPA across semesters.
// Semesters contributing zero earned credits are excluded entirely, not
// treated as 0-SGPA terms.
func CGPAOf(semesters []SemesterSummary) float64 {
	var totalPoints, totalCredits float64
	for _, sem := range semesters {
		if sem.EarnedCredits <= 0 {
			continue
		}
		totalPoints += sem.SGPA * sem.EarnedCredits
		totalCredits += sem.EarnedCredits
	}

	if totalCredits == 0 {
		return 0
	}
	return Round2(totalPoints / totalCredits)
}

// Round2 fixes a GPA-class value at 2 decimal places, rounding half away
// from zero. This determines tie-break behavior for display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PerformanceBand maps a CGPA to its display category.
func PerformanceBand(cgpa float64) string {
	switch {
	case cgpa >= 9:
		return "Excellent"
	case cgpa >= 8:
		return "Very Good"
	case cgpa >= 7:
		return "Good"
	case cgpa >= 6:
		return "Average"
	case cgpa >= 5:
		return "Pass"
	default:
		return "Fail"
	}
}
