package usecase

import (
	"context"

	"github.com/example/currency-check/internal/logging"
	"github.com/example/currency-check/internal/repository"
)

// DashboardStats summarises one user's history.
type DashboardStats struct {
	Total     int64                      `json:"total"`
	RealCount int64                      `json:"real_count"`
	FakeCount int64                      `json:"fake_count"`
	Recent    []*repository.HistoryEntry `json:"recent"`
}

// Stats aggregates the history of username.
func (uc *DetectionUseCase) Stats(ctx context.Context, username string) (*DashboardStats, error) {
	aggregation, err := uc.repo.Stats(ctx, username)
	if err != nil {
		return nil, logging.NewOperationError("usecase.stats", logging.RequestIDFromContext(ctx), err)
	}

	recent := aggregation.Recent
	if recent == nil {
		recent = []*repository.HistoryEntry{}
	}
	return &DashboardStats{
		Total:     aggregation.Total,
		RealCount: aggregation.RealCount,
		FakeCount: aggregation.FakeCount,
		Recent:    recent,
	}, nil
}
