package httpapi

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"crms/internal/shared"
)

func TestSubjectRequestValidation(t *testing.T) {
	s := &Server{validate: validator.New()}

	valid := CreateSubjectRequest{
		Code: "CS301", Name: "Operating Systems", Credits: 4,
		Type: shared.SubjectTheory, Semester: 3, RegulationID: "reg_r23",
	}
	if err := s.validateBody(&valid); err != nil {
		t.Errorf("valid subject rejected: %v", err)
	}

	badType := valid
	badType.Type = "SEMINAR"
	if err := s.validateBody(&badType); err == nil {
		t.Error("unknown subject type accepted")
	}

	badCredits := valid
	badCredits.Credits = 0
	if err := s.validateBody(&badCredits); err == nil {
		t.Error("zero credits accepted")
	}

	badSemester := valid
	badSemester.Semester = 9
	if err := s.validateBody(&badSemester); err == nil {
		t.Error("semester above 8 accepted")
	}

	update := UpdateSubjectRequest{Name: "Operating Systems II"}
	if err := s.validateBody(&update); err != nil {
		t.Errorf("partial update rejected: %v", err)
	}
	negative := -1.0
	if err := s.validateBody(&UpdateSubjectRequest{Credits: &negative}); err == nil {
		t.Error("negative credits accepted on update")
	}
}

func TestAdminSubjectRoutesRegistered(t *testing.T) {
	s := &Server{cfg: &shared.Config{}, mw: &Middleware{}}
	r := s.Routes()

	if !r.Match(chi.NewRouteContext(), http.MethodPost, "/api/admin/subjects") {
		t.Error("POST /api/admin/subjects not routed")
	}
	if !r.Match(chi.NewRouteContext(), http.MethodPut, "/api/admin/subjects/sub_1") {
		t.Error("PUT /api/admin/subjects/{id} not routed")
	}
	if !r.Match(chi.NewRouteContext(), http.MethodPost, "/api/marks/lock-semester") {
		t.Error("POST /api/marks/lock-semester not routed")
	}
}
