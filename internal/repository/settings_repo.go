package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"go.uber.org/zap"
)

// SettingsRepository stores the per-user settings row
type SettingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sql.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the settings of userID or ErrNotFound
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*models.Settings, error) {
	query := `
		SELECT user_id, first_name, last_name, email, phone, address,
			subsidy_rate, notify_email, notify_push, updated_at
		FROM settings
		WHERE user_id = ?
	`

	var s models.Settings
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID,
		&s.FirstName,
		&s.LastName,
		&s.Email,
		&s.Phone,
		&s.Address,
		&s.SubsidyRate,
		&s.NotifyEmail,
		&s.NotifyPush,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get settings", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

// Save inserts or replaces the settings row
func (r *SettingsRepository) Save(ctx context.Context, s *models.Settings) error {
	s.UpdatedAt = r.now().UTC()

	query := `
		INSERT INTO settings (
			user_id, first_name, last_name, email, phone, address,
			subsidy_rate, notify_email, notify_push, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			subsidy_rate = excluded.subsidy_rate,
			notify_email = excluded.notify_email,
			notify_push = excluded.notify_push,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		s.UserID,
		s.FirstName,
		s.LastName,
		s.Email,
		s.Phone,
		s.Address,
		s.SubsidyRate,
		s.NotifyEmail,
		s.NotifyPush,
		s.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save settings", zap.String("user_id", s.UserID), zap.Error(err))
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
