package submission

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/normalizer"
	"github.com/beihilfepay/beihilfepay/internal/notify"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/beihilfepay/beihilfepay/internal/storage"
	"github.com/beihilfepay/beihilfepay/internal/workflow"
	"go.uber.org/zap"
)

// InvoiceStore persists invoice records
type InvoiceStore interface {
	Create(ctx context.Context, tx *sql.Tx, inv *models.InvoiceRecord) error
	GetByID(ctx context.Context, id int64) (*models.InvoiceRecord, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, from, to models.ProcessingStatus) error
	UpdateRouting(ctx context.Context, tx *sql.Tx, id int64, from, to repository.Routing) error
}

// TxRunner runs fn inside a database transaction
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error
}

// FailureRecorder counts undelivered notifications
type FailureRecorder interface {
	RecordNotifyFailure()
}

// Request is one confirmed invoice form
type Request struct {
	UserID    string
	Extracted models.ExtractionResult
	Overrides normalizer.Overrides
	// Document is optional; invoices may be entered by hand
	Document *models.Document
	// Method is the extraction method that produced Extracted, if any
	Method string
}

// Result is the persisted record and the stored document, if any
type Result struct {
	Invoice  *models.InvoiceRecord   `json:"invoice"`
	Document *storage.StoredDocument `json:"document,omitempty"`
}

// Service turns confirmed forms into stored invoice records
type Service struct {
	tx       TxRunner
	invoices InvoiceStore
	files    storage.DocumentStore
	notifier notify.Notifier
	recorder FailureRecorder
	logger   *zap.Logger
}

// NewService creates a new submission service. recorder may be nil.
func NewService(
	tx TxRunner,
	invoices InvoiceStore,
	files storage.DocumentStore,
	notifier notify.Notifier,
	recorder FailureRecorder,
	logger *zap.Logger,
) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		tx:       tx,
		invoices: invoices,
		files:    files,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
	}
}

// Submit validates the form, stores the document and persists the record.
// Validation happens first so rejected forms leave no file behind.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	record, err := normalizer.Normalize(req.Extracted, req.Overrides)
	if err != nil {
		return nil, err
	}
	record.UserID = req.UserID
	record.ExtractionMethod = req.Method

	result := &Result{Invoice: record}

	if req.Document != nil {
		stored, err := s.files.Save(req.UserID, req.Document)
		if err != nil {
			s.logger.Error("Failed to store document", zap.String("user_id", req.UserID), zap.Error(err))
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
		record.DocumentRef = stored.URL
		result.Document = stored
	}

	err = s.tx.WithTransaction(ctx, func(tx *sql.Tx) error {
		return s.invoices.Create(ctx, tx, record)
	})
	if err != nil {
		if result.Document != nil {
			s.discard(result.Document)
		}
		return nil, err
	}

	s.logger.Info("Invoice submitted",
		zap.Int64("invoice_id", record.ID),
		zap.String("provider", record.Provider),
		zap.String("amount", record.Amount.StringFixed(2)),
		zap.String("subsidy_status", string(record.SubsidyStatus)),
		zap.String("private_insurance_status", string(record.PrivateInsuranceStatus)))

	s.notify(ctx, record)
	return result, nil
}

// discard removes a document whose record could not be written
func (s *Service) discard(doc *storage.StoredDocument) {
	if err := s.files.Delete(doc.Path); err != nil {
		s.logger.Warn("Failed to remove orphaned document", zap.String("path", doc.Path), zap.Error(err))
	}
}

// notify never fails the submission
func (s *Service) notify(ctx context.Context, record *models.InvoiceRecord) {
	if record.SubsidyStatus != models.RoutingSubmitted && record.PrivateInsuranceStatus != models.RoutingSubmitted {
		return
	}
	if err := s.notifier.NotifyRouting(ctx, record); err != nil {
		s.logger.Warn("Routing notification failed", zap.Int64("invoice_id", record.ID), zap.Error(err))
		if s.recorder != nil {
			s.recorder.RecordNotifyFailure()
		}
	}
}

// ChangeStatus moves an invoice along its lifecycle
func (s *Service) ChangeStatus(ctx context.Context, id int64, target models.ProcessingStatus) (*models.InvoiceRecord, error) {
	current, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	trigger, err := workflow.Transition(current.Status, target)
	if err != nil {
		return nil, err
	}

	if err := s.invoices.UpdateStatus(ctx, nil, id, current.Status, target); err != nil {
		return nil, err
	}

	s.logger.Info("Invoice status changed",
		zap.Int64("invoice_id", id),
		zap.String("trigger", trigger.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(target)))

	current.Status = target
	return current, nil
}

// ChangeRouting updates where an invoice is forwarded. A nil flag keeps the
// current routing status. Newly forwarded invoices trigger a notification.
func (s *Service) ChangeRouting(ctx context.Context, id int64, toSubsidy, toPrivateInsurance *bool) (*models.InvoiceRecord, error) {
	current, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := repository.Routing{
		Subsidy:          current.SubsidyStatus,
		PrivateInsurance: current.PrivateInsuranceStatus,
	}
	to := repository.Routing{
		Subsidy:          routingFor(toSubsidy, from.Subsidy),
		PrivateInsurance: routingFor(toPrivateInsurance, from.PrivateInsurance),
	}
	if to == from {
		return current, nil
	}

	if err := s.invoices.UpdateRouting(ctx, nil, id, from, to); err != nil {
		return nil, err
	}

	s.logger.Info("Invoice routing changed",
		zap.Int64("invoice_id", id),
		zap.String("subsidy_status", string(to.Subsidy)),
		zap.String("private_insurance_status", string(to.PrivateInsurance)))

	current.SubsidyStatus = to.Subsidy
	current.PrivateInsuranceStatus = to.PrivateInsurance

	newlyForwarded := (to.Subsidy == models.RoutingSubmitted && from.Subsidy != models.RoutingSubmitted) ||
		(to.PrivateInsurance == models.RoutingSubmitted && from.PrivateInsurance != models.RoutingSubmitted)
	if newlyForwarded {
		s.notify(ctx, current)
	}
	return current, nil
}

func routingFor(forward *bool, current models.RoutingStatus) models.RoutingStatus {
	if forward == nil {
		return current
	}
	return models.RoutingFromFlag(*forward)
}
