// ============================================================================
// internal/results/summary.go
// Published-cohort analytics for dashboards
// ============================================================================

package results

import (
	"context"
	"sort"

	"github.com/montanaflynn/stats"

	"crms/internal/grades"
	"crms/internal/shared"
	"crms/internal/store"
)

// Topper is one entry on the semester leaderboard.
type Topper struct {
	StudentID string  `json:"student_id"`
	Regno     string  `json:"regno"`
	Name      string  `json:"name"`
	SGPA      float64 `json:"sgpa"`
}

// SemesterSummary aggregates the published cohort for one
// (semester, academicYear) scope.
type SemesterSummary struct {
	Semester     int32   `json:"semester"`
	AcademicYear string  `json:"academic_year"`
	Published    int     `json:"published"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	PassRate     float64 `json:"pass_rate"` // percent
	MeanSGPA     float64 `json:"mean_sgpa"`
	MedianSGPA   float64 `json:"median_sgpa"`
	StdDevSGPA   float64 `json:"stddev_sgpa"`
	HighestSGPA  float64 `json:"highest_sgpa"`
	LowestSGPA   float64 `json:"lowest_sgpa"`

	GradeCounts map[string]int `json:"grade_counts"` // per-subject grade distribution
	Toppers     []Topper       `json:"toppers"`      // top 10 by SGPA
}

// Summarize computes cohort statistics over the latest published results in
// scope. An empty cohort yields a zero summary, not an error.
func (s *Service) Summarize(ctx context.Context, semester int32, academicYear string) (*SemesterSummary, error) {
	published, err := s.storage.ListResults(ctx, store.ResultFilter{
		Semester:     semester,
		AcademicYear: academicYear,
		LatestOnly:   true,
	})
	if err != nil {
		return nil, err
	}

	sum := &SemesterSummary{
		Semester:     semester,
		AcademicYear: academicYear,
		Published:    len(published),
		GradeCounts:  map[string]int{},
	}
	if len(published) == 0 {
		return sum, nil
	}

	sgpas := make([]float64, 0, len(published))
	studentIDs := make([]string, 0, len(published))
	for _, r := range published {
		sgpas = append(sgpas, r.SGPA)
		studentIDs = append(studentIDs, r.StudentID)
		if r.Status == shared.ResultPass {
			sum.Passed++
		} else {
			sum.Failed++
		}
		for _, row := range r.Subjects {
			sum.GradeCounts[row.Grade]++
		}
	}

	// The stats calls only fail on empty input, excluded above.
	mean, _ := stats.Mean(sgpas)
	median, _ := stats.Median(sgpas)
	stdDev, _ := stats.StandardDeviation(sgpas)
	high, _ := stats.Max(sgpas)
	low, _ := stats.Min(sgpas)
	sum.MeanSGPA = grades.Round2(mean)
	sum.MedianSGPA = grades.Round2(median)
	sum.StdDevSGPA = grades.Round2(stdDev)
	sum.HighestSGPA = high
	sum.LowestSGPA = low
	sum.PassRate = grades.Round2(float64(sum.Passed) / float64(len(published)) * 100)

	sum.Toppers = s.toppersOf(ctx, published, studentIDs)
	return sum, nil
}

func (s *Service) toppersOf(ctx context.Context, published []shared.Result, studentIDs []string) []Topper {
	ranked := append([]shared.Result(nil), published...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].SGPA != ranked[j].SGPA {
			return ranked[i].SGPA > ranked[j].SGPA
		}
		return ranked[i].StudentID < ranked[j].StudentID
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}

	students, err := s.storage.GetStudentsByIDs(ctx, studentIDs)
	toppers := make([]Topper, 0, len(ranked))
	for _, r := range ranked {
		top := Topper{StudentID: r.StudentID, SGPA: r.SGPA}
		if err == nil {
			if st, ok := students[r.StudentID]; ok {
				top.Regno = st.Regno
				top.Name = st.Name
			}
		}
		toppers = append(toppers, top)
	}
	return toppers
}
