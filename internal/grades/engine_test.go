package grades

import (
	"testing"

	"crms/internal/shared"
)

func TestGradeOf_Boundaries(t *testing.T) {
	scale := DefaultScale()

	tests := []struct {
		total      float64
		wantGrade  string
		wantPoints float64
	}{
		{100, "S", 10},
		{90, "S", 10},
		{89, "A", 9},
		{85, "A", 9},
		{80, "A", 9},
		{79, "B", 8},
		{70, "B", 8},
		{69, "C", 7},
		{60, "C", 7},
		{59, "D", 6},
		{50, "D", 6},
		{49, "E", 5},
		{40, "E", 5},
		{39, "F", 0},
		{0, "F", 0},
	}

	for _, tt := range tests {
		grade, points, err := scale.GradeOf(tt.total)
		if err != nil {
			t.Fatalf("GradeOf(%v) unexpected error: %v", tt.total, err)
		}
		if grade != tt.wantGrade || points != tt.wantPoints {
			t.Errorf("GradeOf(%v) = %s/%v, want %s/%v", tt.total, grade, points, tt.wantGrade, tt.wantPoints)
		}
	}
}

func TestGradeOf_PartitionsRange(t *testing.T) {
	scale := DefaultScale()

	// Every integer total in [0,100] must map to exactly one grade
	for total := 0; total <= 100; total++ {
		grade, _, err := scale.GradeOf(float64(total))
		if err != nil {
			t.Fatalf("GradeOf(%d) unexpected error: %v", total, err)
		}
		if grade == "" {
			t.Errorf("GradeOf(%d) returned empty grade", total)
		}
	}
}

func TestGradeOf_RejectsOutOfRange(t *testing.T) {
	scale := DefaultScale()

	for _, total := range []float64{-1, -0.01, 100.01, 150} {
		_, _, err := scale.GradeOf(total)
		if err == nil {
			t.Errorf("GradeOf(%v) expected error, got nil", total)
		}
		if !shared.IsKind(err, shared.KindValidationFailed) {
			t.Errorf("GradeOf(%v) error kind = %v, want VALIDATION_FAILED", total, shared.KindOf(err))
		}
	}
}

func TestSGPAOf_ExcludesFailedSubjects(t *testing.T) {
	// Failed subject counts toward total credits but not earned credits or
	// the numerator
	subjects := []SubjectGrade{
		{Credits: 4, Grade: "A", GradePoints: 36}, // 9 x 4
		{Credits: 3, Grade: "B", GradePoints: 24}, // 8 x 3
		{Credits: 3, Grade: "F", GradePoints: 0},
	}

	sum := SGPAOf(subjects)
	if sum.TotalCredits != 10 {
		t.Errorf("TotalCredits = %v, want 10", sum.TotalCredits)
	}
	if sum.EarnedCredits != 7 {
		t.Errorf("EarnedCredits = %v, want 7", sum.EarnedCredits)
	}
	if sum.TotalGradePoints != 60 {
		t.Errorf("TotalGradePoints = %v, want 60", sum.TotalGradePoints)
	}
	if want := Round2(60.0 / 7.0); sum.SGPA != want {
		t.Errorf("SGPA = %v, want %v", sum.SGPA, want)
	}
}

func TestSGPAOf_AllFailed(t *testing.T) {
	sum := SGPAOf([]SubjectGrade{{Credits: 3, Grade: "F", GradePoints: 0}})
	if sum.SGPA != 0 {
		t.Errorf("SGPA = %v, want 0", sum.SGPA)
	}
	if sum.EarnedCredits != 0 {
		t.Errorf("EarnedCredits = %v, want 0", sum.EarnedCredits)
	}
	if sum.TotalCredits != 3 {
		t.Errorf("TotalCredits = %v, want 3", sum.TotalCredits)
	}
}

func TestSGPAOf_Empty(t *testing.T) {
	sum := SGPAOf(nil)
	if sum.SGPA != 0 || sum.TotalCredits != 0 {
		t.Errorf("empty input: got %+v, want zero summary", sum)
	}
}

func TestCGPAOf_CreditWeighted(t *testing.T) {
	semesters := []SemesterSummary{
		{SGPA: 8.0, EarnedCredits: 20},
		{SGPA: 9.0, EarnedCredits: 22},
	}

	// (8*20 + 9*22) / 42 = 358/42 = 8.5238... -> 8.52
	if got := CGPAOf(semesters); got != 8.52 {
		t.Errorf("CGPAOf = %v, want 8.52", got)
	}
}

func TestCGPAOf_ExcludesZeroCreditSemesters(t *testing.T) {
	semesters := []SemesterSummary{
		{SGPA: 9.0, EarnedCredits: 20},
		{SGPA: 0, EarnedCredits: 0}, // all-backlog semester must not drag the mean
	}

	if got := CGPAOf(semesters); got != 9.0 {
		t.Errorf("CGPAOf = %v, want 9.0", got)
	}
}

func TestCGPAOf_Empty(t *testing.T) {
	if got := CGPAOf(nil); got != 0 {
		t.Errorf("CGPAOf(nil) = %v, want 0", got)
	}
}

func TestRound2_HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.125, 0.13}, // exact binary half rounds up, not to even
		{-0.125, -0.13},
		{8.524, 8.52},
		{8.526, 8.53},
	}

	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestScaleFor_FallsBackToDefault(t *testing.T) {
	if got := ScaleFor(nil); len(got) != 7 {
		t.Errorf("ScaleFor(nil) returned %d bands, want 7", len(got))
	}

	reg := &shared.Regulation{
		Code: "R20",
		GradeScale: []shared.GradeBand{
			{Grade: "A", MinMarks: 50, Points: 9},
			{Grade: "F", MinMarks: 0, Points: 0},
		},
	}
	scale := ScaleFor(reg)
	grade, points, err := scale.GradeOf(55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grade != "A" || points != 9 {
		t.Errorf("regulation scale GradeOf(55) = %s/%v, want A/9", grade, points)
	}
}

func TestPerformanceBand(t *testing.T) {
	tests := []struct {
		cgpa float64
		want string
	}{
		{9.5, "Excellent"},
		{8.2, "Very Good"},
		{7.0, "Good"},
		{6.1, "Average"},
		{5.0, "Pass"},
		{4.9, "Fail"},
	}

	for _, tt := range tests {
		if got := PerformanceBand(tt.cgpa); got != tt.want {
			t.Errorf("PerformanceBand(%v) = %s, want %s", tt.cgpa, got, tt.want)
		}
	}
}
