package dispute

import (
	"context"
	"time"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListByClient(ctx context.Context, clientID string) ([]Case, error) {
	return s.repo.ListByClient(ctx, clientID)
}

func (s *Service) GetByID(ctx context.Context, caseID string) (Case, error) {
	return s.repo.GetByID(ctx, caseID)
}

func (s *Service) Create(ctx context.Context, params CreateCaseParams) (Case, error) {
	return s.repo.Create(ctx, params)
}

func (s *Service) MarkDispatched(ctx context.Context, caseID string, at time.Time) (Case, error) {
	return s.repo.MarkDispatched(ctx, caseID, at)
}

func (s *Service) MarkResponse(ctx context.Context, caseID string, status ResponseStatus, escalateVerified bool) (Case, error) {
	return s.repo.MarkResponse(ctx, caseID, status, escalateVerified)
}
