package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Service answers audit trail queries.
type Service struct {
	logger *slog.Logger
	repo   Repository
}

// NewService wires the audit query service.
func NewService(logger *slog.Logger, repo Repository) *Service {
	return &Service{logger: logger, repo: repo}
}

// Query lists audit entries matching the filter, newest first.
func (s *Service) Query(ctx context.Context, orgID uuid.UUID, f Filter) ([]Entry, error) {
	return s.repo.Query(ctx, orgID, f)
}
