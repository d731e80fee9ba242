package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/normalizer"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/beihilfepay/beihilfepay/pkg/utils"
	"go.uber.org/zap"
)

// Store persists the settings row
type Store interface {
	Get(ctx context.Context, userID string) (*models.Settings, error)
	Save(ctx context.Context, s *models.Settings) error
}

// Service reads and updates the user's profile and subsidy rate
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new settings service
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns the stored settings, or the defaults of a fresh installation
func (s *Service) Get(ctx context.Context, userID string) (*models.Settings, error) {
	stored, err := s.store.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return stored, nil
}

// Update validates and saves next. Invalid input yields a
// *normalizer.ValidationFailed.
func (s *Service) Update(ctx context.Context, next *models.Settings) (*models.Settings, error) {
	next.FirstName = utils.SanitizeString(next.FirstName)
	next.LastName = utils.SanitizeString(next.LastName)
	next.Email = strings.TrimSpace(next.Email)
	next.Phone = utils.SanitizeString(next.Phone)
	next.Address = utils.SanitizeString(next.Address)

	if err := Validate(next); err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, next); err != nil {
		s.logger.Error("Failed to save settings", zap.String("user_id", next.UserID), zap.Error(err))
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	s.logger.Info("Settings updated",
		zap.String("user_id", next.UserID),
		zap.Int("subsidy_rate", next.SubsidyRate))
	return next, nil
}

// Validate checks the subsidy rate and the email address
func Validate(s *models.Settings) error {
	fields := make(map[string]string)

	if !models.IsValidSubsidyRate(s.SubsidyRate) {
		fields["subsidy_rate"] = fmt.Sprintf("Beihilfesatz muss einer von %v Prozent sein", models.SubsidyRates)
	}
	if s.Email != "" {
		if err := utils.ValidateEmail(s.Email); err != nil {
			fields["email"] = "Ungültige E-Mail-Adresse"
		}
	}

	if len(fields) > 0 {
		return &normalizer.ValidationFailed{Fields: fields}
	}
	return nil
}
