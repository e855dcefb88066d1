// ============================================================================
// internal/httpapi/middleware.go
// Request authentication, role checks, scope checks, and the bulk-operation
// throttle.
// ============================================================================

package httpapi

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"crms/internal/audit"
	"crms/internal/auth"
	"crms/internal/shared"
)

type contextKey string

const (
	actorKey  contextKey = "actor"
	holderKey contextKey = "actorHolder"
)

// actorHolder lets middleware that runs outside Authenticate observe the
// actor resolved further down the chain.
type actorHolder struct {
	actor *shared.Actor
}

// ActorFrom returns the authenticated actor attached to the request, nil on
// unauthenticated routes.
func ActorFrom(r *http.Request) *shared.Actor {
	actor, ok := r.Context().Value(actorKey).(*shared.Actor)
	if !ok {
		return nil
	}
	return actor
}

// RateLimiter is the storage surface the bulk throttle needs.
type RateLimiter interface {
	IncrBulkCounter(ctx context.Context, actorID string, now time.Time) (int32, error)
}

// Middleware bundles the cross-cutting request checks.
type Middleware struct {
	auth    *auth.Service
	limiter RateLimiter
	auditor *audit.Recorder
}

// NewMiddleware creates the middleware set.
func NewMiddleware(authSvc *auth.Service, limiter RateLimiter, auditor *audit.Recorder) *Middleware {
	return &Middleware{auth: authSvc, limiter: limiter, auditor: auditor}
}

// Authenticate validates the bearer token and injects the actor into the
// request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractToken(r)
		if err != nil {
			WriteJSONError(w, http.StatusUnauthorized, shared.KindAuthentication, "authorization token required")
			return
		}

		actor, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			HandleError(w, err)
			return
		}

		if holder, ok := r.Context().Value(holderKey).(*actorHolder); ok {
			holder.actor = actor
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles admits only the named roles. Denials are audited so repeated
// probing is visible.
func (m *Middleware) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFrom(r)
			if actor == nil {
				WriteJSONError(w, http.StatusUnauthorized, shared.KindAuthentication, "authentication required")
				return
			}
			if !allowed[actor.Role] {
				m.auditor.Record(r.Context(), audit.Entry{
					Action:   shared.ActionAccessDenied,
					Actor:    actor,
					Details:  r.Method + " " + r.URL.Path,
					IP:       r.RemoteAddr,
					Severity: shared.SeverityWarning,
				})
				WriteJSONError(w, http.StatusForbidden, shared.KindAuthorization,
					"access denied: role "+actor.Role+" cannot perform this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ThrottleBulk enforces the per-actor bulk-operation limit. The counter is
// persisted, so the limit holds across restarts and instances.
func (m *Middleware) ThrottleBulk(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFrom(r)
		if actor == nil {
			WriteJSONError(w, http.StatusUnauthorized, shared.KindAuthentication, "authentication required")
			return
		}

		count, err := m.limiter.IncrBulkCounter(r.Context(), actor.ID, time.Now())
		if err != nil {
			HandleError(w, err)
			return
		}
		if count > shared.BulkRateLimit {
			m.auditor.Record(r.Context(), audit.Entry{
				Action:   shared.ActionAccessDenied,
				Actor:    actor,
				Details:  "bulk operation limit exceeded",
				Severity: shared.SeverityWarning,
			})
			WriteJSONError(w, http.StatusTooManyRequests, shared.KindRateLimited,
				"bulk operation limit reached, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuditServerErrors mirrors every 5xx response into the audit trail. A 5xx
// is an unexpected failure, and the trail is where its occurrence must be
// provable later.
func (m *Middleware) AuditServerErrors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holder := &actorHolder{}
		ctx := context.WithValue(r.Context(), holderKey, holder)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if ww.Status() >= http.StatusInternalServerError {
			// The request context may already be cancelled; the trail entry
			// must still land.
			m.auditor.Record(context.WithoutCancel(ctx), audit.Entry{
				Action:     shared.ActionSystemError,
				Actor:      holder.actor,
				TargetKind: shared.TargetSystem,
				Details:    r.Method + " " + r.URL.Path,
				IP:         r.RemoteAddr,
				Severity:   shared.SeverityCritical,
			})
		}
	})
}

// canAccessStudent decides whether an actor may read one student's data:
// students see only themselves, HOD and faculty stay inside their own
// department, admin and the examinations operator see everything.
func canAccessStudent(actor *shared.Actor, student *shared.Student) bool {
	switch actor.Role {
	case shared.RoleAdmin, shared.RoleOperator:
		return true
	case shared.RoleHOD, shared.RoleFaculty:
		return actor.DepartmentID != "" && actor.DepartmentID == student.DepartmentID
	case shared.RoleStudent:
		return actor.ID == student.ID
	default:
		return false
	}
}

// studentInScope fetches a student and applies canAccessStudent. Handlers
// call this wherever a student ID crosses a role boundary.
func (s *Server) studentInScope(ctx context.Context, actor *shared.Actor, studentID string) (*shared.Student, error) {
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !canAccessStudent(actor, student) {
		return nil, shared.E(shared.KindAuthorization, "cannot access this student's record")
	}
	return student, nil
}

// canManageSubject decides whether an actor may enter or lock marks for a
// subject: faculty only within their assignment, HOD and admin anywhere.
func canManageSubject(actor *shared.Actor, subjectID string) bool {
	switch actor.Role {
	case shared.RoleAdmin, shared.RoleHOD:
		return true
	case shared.RoleFaculty:
		for _, assigned := range actor.AssignedSubjects {
			if assigned == subjectID {
				return true
			}
		}
		return false
	default:
		return false
	}
}
