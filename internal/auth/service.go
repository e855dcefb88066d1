// ============================================================================
// internal/auth/service.go
// Authentication: staff and student login, JWT issuance with session-backed
// revocation, and the operator re-authentication gate.
// ============================================================================

package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/bcrypt"

	"crms/internal/audit"
	"crms/internal/shared"
)

// Storage is the subset of the store the auth service needs.
type Storage interface {
	FindUserByUsername(ctx context.Context, username string) (*shared.User, error)
	GetUser(ctx context.Context, id string) (*shared.User, error)
	UpdateUser(ctx context.Context, id string, set bson.M) error

	FindStudentByRegno(ctx context.Context, regno string) (*shared.Student, error)
	GetStudent(ctx context.Context, id string) (*shared.Student, error)
	UpdateStudent(ctx context.Context, id string, set bson.M) error

	InsertSession(ctx context.Context, sess *shared.Session) error
	CountSessionsByToken(ctx context.Context, token string) (int64, error)
	DeleteSessionsByToken(ctx context.Context, token string) error
}

// Claims is the JWT payload. Kind distinguishes the staff and student
// collections the subject resolves against.
type Claims struct {
	Kind string `json:"kind"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service implements login, token verification, and re-auth.
type Service struct {
	storage  Storage
	auditor  *audit.Recorder
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates the auth service.
func NewService(storage Storage, auditor *audit.Recorder, jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		storage:  storage,
		auditor:  auditor,
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
	}
}

// LoginResult carries the issued token and the resolved actor.
type LoginResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Actor     *shared.Actor `json:"actor"`
}

// LoginUser authenticates a staff account by username and password.
// Failed attempts are audited at WARNING with the same opaque error whether
// the account or the password was wrong.
func (s *Service) LoginUser(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	user, err := s.storage.FindUserByUsername(ctx, username)
	if err != nil || !user.IsActive {
		s.recordFailed(ctx, username, ip)
		return nil, shared.E(shared.KindAuthentication, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.recordFailed(ctx, username, ip)
		return nil, shared.E(shared.KindAuthentication, "invalid credentials")
	}

	actor := &shared.Actor{
		ID:               user.ID,
		Kind:             shared.ActorKindUser,
		Name:             user.Name,
		Role:             user.Role,
		DepartmentID:     user.DepartmentID,
		AssignedSubjects: user.AssignedSubjects,
	}
	res, err := s.issue(ctx, actor, ip)
	if err != nil {
		return nil, err
	}

	// Best-effort stamp; login succeeds even if it fails
	_ = s.storage.UpdateUser(ctx, user.ID, bson.M{"last_login": time.Now()})
	s.auditor.Record(ctx, audit.Entry{Action: shared.ActionLogin, Actor: actor, IP: ip})
	return res, nil
}

// LoginStudent authenticates a student by registration number. Suspended
// students cannot log in regardless of credentials.
func (s *Service) LoginStudent(ctx context.Context, regno, password, ip string) (*LoginResult, error) {
	student, err := s.storage.FindStudentByRegno(ctx, regno)
	if err != nil || !student.IsActive {
		s.recordFailed(ctx, regno, ip)
		return nil, shared.E(shared.KindAuthentication, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(student.PasswordHash), []byte(password)) != nil {
		s.recordFailed(ctx, regno, ip)
		return nil, shared.E(shared.KindAuthentication, "invalid credentials")
	}
	if student.IsSuspended {
		s.auditor.Record(ctx, audit.Entry{
			Action:     shared.ActionAccessDenied,
			TargetKind: shared.TargetStudent,
			TargetID:   student.ID,
			Details:    "suspended student login attempt",
			IP:         ip,
			Severity:   shared.SeverityWarning,
		})
		return nil, shared.E(shared.KindAuthorization, "account suspended: %s", student.SuspendedReason)
	}

	actor := &shared.Actor{
		ID:    student.ID,
		Kind:  shared.ActorKindStudent,
		Name:  student.Name,
		Role:  shared.RoleStudent,
		Regno: student.Regno,
	}
	res, err := s.issue(ctx, actor, ip)
	if err != nil {
		return nil, err
	}

	_ = s.storage.UpdateStudent(ctx, student.ID, bson.M{"last_login": time.Now(), "first_login": false})
	s.auditor.Record(ctx, audit.Entry{Action: shared.ActionLogin, Actor: actor, IP: ip})
	return res, nil
}

func (s *Service) recordFailed(ctx context.Context, identifier, ip string) {
	s.auditor.Record(ctx, audit.Entry{
		Action:   shared.ActionLoginFailed,
		Details:  "failed login for " + identifier,
		IP:       ip,
		Severity: shared.SeverityWarning,
	})
}

// issue signs a token and records its session for revocation.
func (s *Service) issue(ctx context.Context, actor *shared.Actor, ip string) (*LoginResult, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)

	claims := Claims{
		Kind: actor.Kind,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, shared.Wrap(shared.KindInternal, err, "token signing failed")
	}

	if err := s.storage.InsertSession(ctx, &shared.Session{
		ID:        shared.GenerateID("session"),
		ActorID:   actor.ID,
		ActorKind: actor.Kind,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		IPAddress: ip,
	}); err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, Actor: actor}, nil
}

// Logout revokes every session carrying the token. Revoking an unknown token
// succeeds; logout is idempotent.
func (s *Service) Logout(ctx context.Context, actor *shared.Actor, token string) error {
	if err := s.storage.DeleteSessionsByToken(ctx, token); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Entry{Action: shared.ActionLogout, Actor: actor})
	return nil
}

// Authenticate verifies a token and resolves its actor. A token whose
// session has been revoked is rejected even when the signature is valid.
func (s *Service) Authenticate(ctx context.Context, token string) (*shared.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, shared.E(shared.KindAuthentication, "unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, shared.E(shared.KindAuthentication, "invalid or expired token")
	}

	live, err := s.storage.CountSessionsByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if live == 0 {
		return nil, shared.E(shared.KindAuthentication, "session revoked or expired")
	}

	switch claims.Kind {
	case shared.ActorKindStudent:
		student, err := s.storage.GetStudent(ctx, claims.Subject)
		if err != nil {
			return nil, shared.E(shared.KindAuthentication, "unknown token subject")
		}
		if student.IsSuspended || !student.IsActive {
			return nil, shared.E(shared.KindAuthorization, "account suspended or inactive")
		}
		return &shared.Actor{
			ID:    student.ID,
			Kind:  shared.ActorKindStudent,
			Name:  student.Name,
			Role:  shared.RoleStudent,
			Regno: student.Regno,
		}, nil
	case shared.ActorKindUser:
		user, err := s.storage.GetUser(ctx, claims.Subject)
		if err != nil {
			return nil, shared.E(shared.KindAuthentication, "unknown token subject")
		}
		if !user.IsActive {
			return nil, shared.E(shared.KindAuthorization, "account deactivated")
		}
		return &shared.Actor{
			ID:               user.ID,
			Kind:             shared.ActorKindUser,
			Name:             user.Name,
			Role:             user.Role,
			DepartmentID:     user.DepartmentID,
			AssignedSubjects: user.AssignedSubjects,
		}, nil
	default:
		return nil, shared.E(shared.KindAuthentication, "unknown token kind %q", claims.Kind)
	}
}

// ReAuth verifies the fresh password an operator must present alongside a
// destructive action. A missing credential and a wrong one are distinct
// failures: the first means the client never asked, the second is audited.
func (s *Service) ReAuth(ctx context.Context, actor *shared.Actor, password string) error {
	if password == "" {
		return shared.E(shared.KindReAuthRequired, "re-authentication password required for this operation")
	}

	user, err := s.storage.GetUser(ctx, actor.ID)
	if err != nil {
		return shared.E(shared.KindReAuthFailed, "re-authentication failed")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.auditor.Record(ctx, audit.Entry{
			Action:   shared.ActionAccessDenied,
			Actor:    actor,
			Details:  "re-authentication password mismatch",
			Severity: shared.SeverityWarning,
		})
		return shared.E(shared.KindReAuthFailed, "re-authentication failed")
	}
	return nil
}

// ChangePassword rotates an actor's password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, actor *shared.Actor, current, next string, bcryptCost int) error {
	if len(next) < 8 {
		return shared.E(shared.KindValidationFailed, "password must be at least 8 characters")
	}

	var hash string
	switch actor.Kind {
	case shared.ActorKindStudent:
		student, err := s.storage.GetStudent(ctx, actor.ID)
		if err != nil {
			return err
		}
		hash = student.PasswordHash
	default:
		user, err := s.storage.GetUser(ctx, actor.ID)
		if err != nil {
			return err
		}
		hash = user.PasswordHash
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)) != nil {
		return shared.E(shared.KindAuthentication, "current password incorrect")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcryptCost)
	if err != nil {
		return shared.Wrap(shared.KindInternal, err, "password hashing failed")
	}
	set := bson.M{"password_hash": string(newHash)}
	if actor.Kind == shared.ActorKindStudent {
		err = s.storage.UpdateStudent(ctx, actor.ID, set)
	} else {
		err = s.storage.UpdateUser(ctx, actor.ID, set)
	}
	if err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:   shared.ActionPasswordChanged,
		Actor:    actor,
		Severity: shared.SeverityWarning,
	})
	return nil
}
