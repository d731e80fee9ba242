package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a record changed between read and update
var ErrConflict = errors.New("record changed concurrently")

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Routing is the pair of routing statuses of one invoice
type Routing struct {
	Subsidy          models.RoutingStatus
	PrivateInsurance models.RoutingStatus
}

// InvoiceFilter narrows List. Zero values match everything.
type InvoiceFilter struct {
	UserID string
	Status models.ProcessingStatus
	Limit  int
}

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *InvoiceRepository) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

const invoiceColumns = `id, user_id, provider, amount, invoice_date, treatment_category,
	processing_status, subsidy_status, private_insurance_status, document_ref,
	extraction_method, created_at, updated_at`

// Create inserts a new invoice and sets its ID and timestamps. tx may be nil.
func (r *InvoiceRepository) Create(ctx context.Context, tx *sql.Tx, inv *models.InvoiceRecord) error {
	now := r.now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	query := `
		INSERT INTO invoices (
			user_id, provider, amount, invoice_date, treatment_category,
			processing_status, subsidy_status, private_insurance_status,
			document_ref, extraction_method, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.execer(tx).ExecContext(ctx, query,
		inv.UserID,
		inv.Provider,
		inv.Amount.StringFixed(2),
		inv.DateString(),
		string(inv.Category),
		string(inv.Status),
		string(inv.SubsidyStatus),
		string(inv.PrivateInsuranceStatus),
		inv.DocumentRef,
		inv.ExtractionMethod,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	inv.ID = id
	return nil
}

// GetByID returns the invoice with id or ErrNotFound
func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*models.InvoiceRecord, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// List returns invoices newest first
func (r *InvoiceRepository) List(ctx context.Context, filter InvoiceFilter) ([]*models.InvoiceRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "processing_status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.InvoiceRecord
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// UpdateStatus moves the processing status from one value to another.
// It fails with ErrConflict if the stored status is no longer from. tx may be nil.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, from, to models.ProcessingStatus) error {
	query := `UPDATE invoices SET processing_status = ?, updated_at = ?
		WHERE id = ? AND processing_status = ?`
	return r.update(ctx, tx, id, query, string(to), r.now().UTC(), id, string(from))
}

// UpdateRouting replaces both routing statuses if they still equal from. tx may be nil.
func (r *InvoiceRepository) UpdateRouting(ctx context.Context, tx *sql.Tx, id int64, from, to Routing) error {
	query := `UPDATE invoices SET subsidy_status = ?, private_insurance_status = ?, updated_at = ?
		WHERE id = ? AND subsidy_status = ? AND private_insurance_status = ?`
	return r.update(ctx, tx, id, query,
		string(to.Subsidy), string(to.PrivateInsurance), r.now().UTC(),
		id, string(from.Subsidy), string(from.PrivateInsurance))
}

func (r *InvoiceRepository) update(ctx context.Context, tx *sql.Tx, id int64, query string, args ...any) error {
	result, err := r.execer(tx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update invoice", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	exists, err := r.exists(ctx, tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	r.logger.Warn("Invoice changed concurrently", zap.Int64("id", id))
	return ErrConflict
}

func (r *InvoiceRepository) exists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	query := `SELECT 1 FROM invoices WHERE id = ?`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, id)
	} else {
		row = r.db.QueryRowContext(ctx, query, id)
	}

	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check invoice: %w", err)
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s scanner) (*models.InvoiceRecord, error) {
	var (
		inv              models.InvoiceRecord
		amount, date     string
		category, status string
		subsidy, private string
	)

	err := s.Scan(
		&inv.ID,
		&inv.UserID,
		&inv.Provider,
		&amount,
		&date,
		&category,
		&status,
		&subsidy,
		&private,
		&inv.DocumentRef,
		&inv.ExtractionMethod,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	if inv.Date, err = time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid stored date %q: %w", date, err)
	}
	inv.Category = models.TreatmentCategory(category)
	inv.Status = models.ProcessingStatus(status)
	inv.SubsidyStatus = models.RoutingStatus(subsidy)
	inv.PrivateInsuranceStatus = models.RoutingStatus(private)

	return &inv, nil
}
