// ============================================================================
// internal/httpapi/router.go
// Route table and global middleware stack
// ============================================================================

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"crms/internal/shared"
)

// Routes configures the chi router, middleware, and route handlers.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	// 1. Global Middleware
	r.Use(middleware.Logger)
	r.Use(s.mw.AuditServerErrors)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   s.cfg.CORS.AllowedMethods,
		AllowedHeaders:   s.cfg.CORS.AllowedHeaders,
		AllowCredentials: s.cfg.CORS.AllowCredentials,
		MaxAge:           s.cfg.CORS.MaxAge,
	}))

	// 2. Define Routes (grouped by prefix)
	r.Route("/api", func(r chi.Router) {

		// --- Public Routes ---
		r.Post("/auth/login", s.Login)
		r.Post("/auth/student-login", s.StudentLogin)
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// --- Protected Routes (Require Valid Token) ---
		r.Group(func(r chi.Router) {
			r.Use(s.mw.Authenticate)

			// Auth
			r.Post("/auth/logout", s.Logout)
			r.Get("/auth/me", s.Me)
			r.Post("/auth/change-password", s.ChangePassword)

			// Reference data (any authenticated actor)
			r.Get("/departments", s.ListDepartments)
			r.Get("/regulations", s.ListRegulations)
			r.Get("/subjects", s.ListSubjects)

			// Students
			r.Get("/students/{id}", s.GetStudent)
			r.Get("/students/{id}/transcript", s.GetTranscript)
			r.Get("/students/{id}/results/{semester}", s.GetLatestResult)
			r.With(s.mw.RequireRoles(shared.RoleAdmin, shared.RoleHOD, shared.RoleOperator)).
				Get("/students/{id}/results/{semester}/history", s.GetResultHistory)
			r.With(s.mw.RequireRoles(shared.RoleAdmin, shared.RoleHOD, shared.RoleFaculty, shared.RoleOperator)).
				Get("/students", s.ListStudents)

			// Marks
			r.Route("/marks", func(r chi.Router) {
				r.Get("/", s.ListMarks)
				r.With(s.mw.RequireRoles(shared.RoleFaculty, shared.RoleHOD, shared.RoleAdmin, shared.RoleOperator)).
					Get("/status", s.GetMarksStatus)
				r.Get("/{id}", s.GetMark)

				r.With(s.mw.RequireRoles(shared.RoleFaculty, shared.RoleHOD, shared.RoleAdmin)).
					Post("/", s.EnterMarks)
				r.With(s.mw.RequireRoles(shared.RoleFaculty, shared.RoleHOD, shared.RoleAdmin)).
					Post("/lock", s.LockMarks)
				r.With(s.mw.RequireRoles(shared.RoleOperator), s.mw.ThrottleBulk).
					Post("/lock-semester", s.LockSemesterMarks)
				r.With(s.mw.RequireRoles(shared.RoleHOD, shared.RoleAdmin)).
					Post("/verify", s.VerifyMarks)
			})

			// Results
			r.Route("/results", func(r chi.Router) {
				r.Get("/{id}", s.GetResult)
				r.With(s.mw.RequireRoles(shared.RoleAdmin, shared.RoleHOD, shared.RoleOperator)).
					Get("/summary", s.GetSemesterSummary)

				// Publication pipeline: operator publishes and corrects,
				// admin rolls back. All three are bulk-throttled and
				// re-authenticated inside the handler.
				r.With(s.mw.RequireRoles(shared.RoleOperator), s.mw.ThrottleBulk).
					Post("/publish", s.PublishResults)
				r.With(s.mw.RequireRoles(shared.RoleOperator), s.mw.ThrottleBulk).
					Post("/{id}/correct", s.CorrectResult)
				r.With(s.mw.RequireRoles(shared.RoleAdmin), s.mw.ThrottleBulk).
					Post("/{id}/rollback", s.RollbackResult)
			})

			// Ingestion (operator and admin)
			r.Route("/ingestion", func(r chi.Router) {
				r.Use(s.mw.RequireRoles(shared.RoleOperator, shared.RoleAdmin))

				r.Get("/", s.ListIngestionJobs)
				r.Get("/{id}", s.GetIngestionJob)
				r.Post("/{id}/resolve", s.ResolveConflicts)
				r.With(s.mw.ThrottleBulk).Post("/", s.StageUpload)
				r.With(s.mw.ThrottleBulk).Post("/{id}/commit", s.CommitIngestionJob)
			})

			// Admin Management
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.mw.RequireRoles(shared.RoleAdmin))

				r.Get("/stats", s.GetDashboardStats)
				r.Get("/audit", s.ListAuditLog)
				r.Get("/audit/export", s.ExportAuditLog)

				r.Post("/users", s.CreateUser)
				r.Get("/users", s.ListUsers)
				r.Delete("/users/{id}", s.DeactivateUser)

				r.Post("/students", s.CreateStudent)
				r.Post("/students/{id}/suspend", s.SuspendStudent)

				r.Post("/departments", s.CreateDepartment)
				r.Put("/departments/{id}", s.UpdateDepartment)
				r.Post("/regulations", s.CreateRegulation)

				r.Post("/subjects", s.CreateSubject)
				r.Put("/subjects/{id}", s.UpdateSubject)
			})
		})
	})

	return r
}
