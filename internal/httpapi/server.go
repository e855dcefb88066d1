// ============================================================================
// internal/httpapi/server.go
// HTTP API server: wires services to the router
// ============================================================================

package httpapi

import (
	"github.com/go-playground/validator/v10"

	"crms/internal/audit"
	"crms/internal/auth"
	"crms/internal/ingestion"
	"crms/internal/marks"
	"crms/internal/results"
	"crms/internal/shared"
	"crms/internal/store"
)

// Server holds the services behind the HTTP API.
type Server struct {
	cfg       *shared.Config
	store     *store.Store
	auth      *auth.Service
	marks     *marks.Service
	results   *results.Service
	ingestion *ingestion.Service
	auditor   *audit.Recorder
	mw        *Middleware
	validate  *validator.Validate
}

// NewServer wires the API server.
func NewServer(
	cfg *shared.Config,
	st *store.Store,
	authSvc *auth.Service,
	marksSvc *marks.Service,
	resultsSvc *results.Service,
	ingestionSvc *ingestion.Service,
	auditor *audit.Recorder,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		auth:      authSvc,
		marks:     marksSvc,
		results:   resultsSvc,
		ingestion: ingestionSvc,
		auditor:   auditor,
		mw:        NewMiddleware(authSvc, st, auditor),
		validate:  validator.New(),
	}
}

// validateBody runs struct-tag validation on a decoded request DTO.
func (s *Server) validateBody(dto interface{}) error {
	if err := s.validate.Struct(dto); err != nil {
		return shared.E(shared.KindValidationFailed, "validation failed: %v", err)
	}
	return nil
}
