package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"crms/internal/shared"
)

func TestHandleErrorStatusMapping(t *testing.T) {
	cases := []struct {
		kind shared.ErrorKind
		want int
	}{
		{shared.KindValidationFailed, http.StatusBadRequest},
		{shared.KindAuthentication, http.StatusUnauthorized},
		{shared.KindReAuthRequired, http.StatusUnauthorized},
		{shared.KindReAuthFailed, http.StatusUnauthorized},
		{shared.KindAuthorization, http.StatusForbidden},
		{shared.KindNotFound, http.StatusNotFound},
		{shared.KindConflict, http.StatusConflict},
		{shared.KindLockedRecord, http.StatusLocked},
		{shared.KindRateLimited, http.StatusTooManyRequests},
		{shared.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		HandleError(rec, shared.E(tc.kind, "boom"))
		if rec.Code != tc.want {
			t.Errorf("kind %s -> %d, want %d", tc.kind, rec.Code, tc.want)
		}

		var body JSONError
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("kind %s: invalid JSON body: %v", tc.kind, err)
		}
		if body.Success {
			t.Errorf("kind %s: success = true in error envelope", tc.kind)
		}
		if tc.kind != shared.KindInternal && body.Error != string(tc.kind) {
			t.Errorf("kind %s: error field = %q", tc.kind, body.Error)
		}
	}
}

func TestHandleErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, shared.Wrap(shared.KindInternal, http.ErrServerClosed, "mongo exploded at 10.1.2.3"))

	var body JSONError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Message != "internal server error" {
		t.Errorf("message = %q, internal detail must not leak", body.Message)
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := ExtractToken(r); err == nil {
		t.Error("missing header should fail")
	}

	r.Header.Set("Authorization", "Token abc")
	if _, err := ExtractToken(r); err == nil {
		t.Error("non-bearer scheme should fail")
	}

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, err := ExtractToken(r)
	if err != nil || token != "abc.def.ghi" {
		t.Errorf("token = %q, err = %v", token, err)
	}
}

func TestCanAccessStudent(t *testing.T) {
	cse := &shared.Student{ID: "stu_1", DepartmentID: "dept_cse"}
	ece := &shared.Student{ID: "stu_2", DepartmentID: "dept_ece"}

	admin := &shared.Actor{ID: "user_a1", Role: shared.RoleAdmin}
	operator := &shared.Actor{ID: "user_op1", Role: shared.RoleOperator}
	if !canAccessStudent(admin, cse) || !canAccessStudent(admin, ece) {
		t.Error("admin reads students in every department")
	}
	if !canAccessStudent(operator, cse) || !canAccessStudent(operator, ece) {
		t.Error("operator reads students in every department")
	}

	hod := &shared.Actor{ID: "user_h1", Role: shared.RoleHOD, DepartmentID: "dept_cse"}
	if !canAccessStudent(hod, cse) {
		t.Error("hod should read students of own department")
	}
	if canAccessStudent(hod, ece) {
		t.Error("hod must not read students of another department")
	}

	faculty := &shared.Actor{ID: "user_f1", Role: shared.RoleFaculty, DepartmentID: "dept_cse"}
	if !canAccessStudent(faculty, cse) {
		t.Error("faculty should read students of own department")
	}
	if canAccessStudent(faculty, ece) {
		t.Error("faculty must not read students of another department")
	}
	if canAccessStudent(&shared.Actor{Role: shared.RoleHOD}, cse) {
		t.Error("hod without a department reads nothing")
	}

	self := &shared.Actor{ID: "stu_1", Role: shared.RoleStudent}
	if !canAccessStudent(self, cse) {
		t.Error("student should read own data")
	}
	if canAccessStudent(self, ece) {
		t.Error("student must not read another student's data")
	}
}

func TestCanManageSubject(t *testing.T) {
	faculty := &shared.Actor{ID: "user_1", Role: shared.RoleFaculty, AssignedSubjects: []string{"sub_1"}}
	if !canManageSubject(faculty, "sub_1") {
		t.Error("assigned subject should be manageable")
	}
	if canManageSubject(faculty, "sub_2") {
		t.Error("unassigned subject must be refused")
	}

	if !canManageSubject(&shared.Actor{Role: shared.RoleHOD}, "sub_2") {
		t.Error("hod manages any subject")
	}
	if canManageSubject(&shared.Actor{Role: shared.RoleOperator}, "sub_1") {
		t.Error("operator does not manage marks entry")
	}
	if canManageSubject(&shared.Actor{Role: shared.RoleStudent}, "sub_1") {
		t.Error("student never manages marks")
	}
}
