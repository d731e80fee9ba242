package dashboard

import (
	"context"
	"fmt"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecentLimit is the number of invoices shown on the dashboard
const RecentLimit = 3

// InvoiceLister lists stored invoices newest first
type InvoiceLister interface {
	List(ctx context.Context, filter repository.InvoiceFilter) ([]*models.InvoiceRecord, error)
}

// SettingsReader returns the user's settings
type SettingsReader interface {
	Get(ctx context.Context, userID string) (*models.Settings, error)
}

// Summary is the dashboard view over all invoices of a user
type Summary struct {
	TotalCount      int                             `json:"total_count"`
	OpenCount       int                             `json:"open_count"`
	StatusCounts    map[models.ProcessingStatus]int `json:"status_counts"`
	TotalSum        decimal.Decimal                 `json:"total_sum"`
	OutstandingSum  decimal.Decimal                 `json:"outstanding_sum"`
	ReimbursedSum   decimal.Decimal                 `json:"reimbursed_sum"`
	SubsidyRate     int                             `json:"subsidy_rate"`
	ExpectedSubsidy decimal.Decimal                 `json:"expected_subsidy"`
	Recent          []*models.InvoiceRecord         `json:"recent"`
}

// Summarize computes the summary of invoices, which must be ordered newest
// first. subsidyRate is a percentage.
func Summarize(invoices []*models.InvoiceRecord, subsidyRate int) Summary {
	s := Summary{
		TotalCount:     len(invoices),
		StatusCounts:   make(map[models.ProcessingStatus]int, 4),
		TotalSum:       decimal.Zero,
		OutstandingSum: decimal.Zero,
		ReimbursedSum:  decimal.Zero,
		SubsidyRate:    subsidyRate,
		Recent:         []*models.InvoiceRecord{},
	}
	for _, st := range []models.ProcessingStatus{
		models.StatusInProgress,
		models.StatusSubmitted,
		models.StatusUnderReview,
		models.StatusReimbursed,
	} {
		s.StatusCounts[st] = 0
	}

	for _, inv := range invoices {
		s.StatusCounts[inv.Status]++
		s.TotalSum = s.TotalSum.Add(inv.Amount)
		if inv.IsOpen() {
			s.OpenCount++
			s.OutstandingSum = s.OutstandingSum.Add(inv.Amount)
		} else {
			s.ReimbursedSum = s.ReimbursedSum.Add(inv.Amount)
		}
	}

	if len(invoices) > RecentLimit {
		s.Recent = invoices[:RecentLimit]
	} else if len(invoices) > 0 {
		s.Recent = invoices
	}

	s.ExpectedSubsidy = s.OutstandingSum.
		Mul(decimal.NewFromInt(int64(subsidyRate))).
		Div(decimal.NewFromInt(100)).
		Round(2)
	return s
}

// Service builds dashboard summaries from storage
type Service struct {
	invoices InvoiceLister
	settings SettingsReader
	logger   *zap.Logger
}

// NewService creates a new dashboard service
func NewService(invoices InvoiceLister, settings SettingsReader, logger *zap.Logger) *Service {
	return &Service{
		invoices: invoices,
		settings: settings,
		logger:   logger,
	}
}

// Summary returns the dashboard of userID
func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	invoices, err := s.invoices.List(ctx, repository.InvoiceFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	summary := Summarize(invoices, settings.SubsidyRate)
	s.logger.Debug("Dashboard computed",
		zap.String("user_id", userID),
		zap.Int("total", summary.TotalCount),
		zap.Int("open", summary.OpenCount))
	return &summary, nil
}
