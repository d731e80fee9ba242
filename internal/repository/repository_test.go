package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/migrations"
	"github.com/beihilfepay/beihilfepay/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, zap.NewNop()).Run(context.Background(), migrations.FS)
	require.NoError(t, err)
	return db
}

func newRecord(provider, amount string, status models.ProcessingStatus) *models.InvoiceRecord {
	return &models.InvoiceRecord{
		UserID:                 "00000000-0000-0000-0000-000000000000",
		Provider:               provider,
		Amount:                 decimal.RequireFromString(amount),
		Date:                   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Category:               models.CategoryOfficeVisit,
		Status:                 status,
		SubsidyStatus:          models.RoutingSubmitted,
		PrivateInsuranceStatus: models.RoutingNotYetSubmitted,
		DocumentRef:            "http://localhost:8080/files/u/1.jpg",
		ExtractionMethod:       "vision",
	}
}

func TestInvoiceRepository_CreateAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	rec := newRecord("Praxis Müller", "87.50", models.StatusInProgress)
	require.NoError(t, repo.Create(ctx, nil, rec))
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Praxis Müller", got.Provider)
	assert.Equal(t, "87.50", got.Amount.StringFixed(2))
	assert.Equal(t, "2025-03-02", got.DateString())
	assert.Equal(t, models.CategoryOfficeVisit, got.Category)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, models.RoutingSubmitted, got.SubsidyStatus)
	assert.Equal(t, models.RoutingNotYetSubmitted, got.PrivateInsuranceStatus)
	assert.Equal(t, rec.DocumentRef, got.DocumentRef)
}

func TestInvoiceRepository_GetMissing(t *testing.T) {
	repo := NewInvoiceRepository(setupDB(t).DB, zap.NewNop())

	_, err := repo.GetByID(context.Background(), 404)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvoiceRepository_ListNewestFirst(t *testing.T) {
	db := setupDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range []string{"Erste", "Zweite", "Dritte"} {
		rec := newRecord(p, "10.00", models.StatusInProgress)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i == 1 {
			rec.Status = models.StatusReimbursed
		}
		require.NoError(t, repo.Create(ctx, nil, rec))
	}

	all, err := repo.List(ctx, InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Dritte", all[0].Provider)
	assert.Equal(t, "Erste", all[2].Provider)

	reimbursed, err := repo.List(ctx, InvoiceFilter{Status: models.StatusReimbursed})
	require.NoError(t, err)
	require.Len(t, reimbursed, 1)
	assert.Equal(t, "Zweite", reimbursed[0].Provider)

	limited, err := repo.List(ctx, InvoiceFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := repo.List(ctx, InvoiceFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInvoiceRepository_Updates(t *testing.T) {
	db := setupDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	rec := newRecord("Praxis Müller", "87.50", models.StatusInProgress)
	require.NoError(t, repo.Create(ctx, nil, rec))

	require.NoError(t, repo.UpdateStatus(ctx, nil, rec.ID, models.StatusInProgress, models.StatusSubmitted))
	require.NoError(t, repo.UpdateRouting(ctx, nil, rec.ID,
		Routing{Subsidy: models.RoutingSubmitted, PrivateInsurance: models.RoutingNotYetSubmitted},
		Routing{Subsidy: models.RoutingNotYetSubmitted, PrivateInsurance: models.RoutingSubmitted}))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Equal(t, models.RoutingNotYetSubmitted, got.SubsidyStatus)
	assert.Equal(t, models.RoutingSubmitted, got.PrivateInsuranceStatus)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, 999, models.StatusInProgress, models.StatusSubmitted), ErrNotFound)
}

func TestInvoiceRepository_UpdateRejectsStaleState(t *testing.T) {
	db := setupDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	rec := newRecord("Praxis Müller", "87.50", models.StatusInProgress)
	require.NoError(t, repo.Create(ctx, nil, rec))

	// two writers read in_progress, the second one loses
	require.NoError(t, repo.UpdateStatus(ctx, nil, rec.ID, models.StatusInProgress, models.StatusSubmitted))
	err := repo.UpdateStatus(ctx, nil, rec.ID, models.StatusInProgress, models.StatusSubmitted)
	assert.ErrorIs(t, err, ErrConflict)

	stale := Routing{Subsidy: models.RoutingNotYetSubmitted, PrivateInsurance: models.RoutingNotYetSubmitted}
	err = repo.UpdateRouting(ctx, nil, rec.ID, stale, Routing{Subsidy: models.RoutingSubmitted, PrivateInsurance: models.RoutingSubmitted})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Equal(t, models.RoutingSubmitted, got.SubsidyStatus)
	assert.Equal(t, models.RoutingNotYetSubmitted, got.PrivateInsuranceStatus)
}

func TestSettingsRepository_SaveAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewSettingsRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	s := models.DefaultSettings("u1")
	require.NoError(t, repo.Save(ctx, s))

	s.SubsidyRate = 70
	s.NotifyPush = true
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Max", got.FirstName)
	assert.Equal(t, 70, got.SubsidyRate)
	assert.True(t, got.NotifyEmail)
	assert.True(t, got.NotifyPush)
}
