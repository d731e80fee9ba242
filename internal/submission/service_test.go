package submission

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/normalizer"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/beihilfepay/beihilfepay/internal/storage"
	"github.com/beihilfepay/beihilfepay/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type directTx struct{}

func (directTx) WithTransaction(_ context.Context, fn func(*sql.Tx) error) error {
	return fn(nil)
}

type memInvoices struct {
	rows      map[int64]*models.InvoiceRecord
	createErr error
}

func newMemInvoices() *memInvoices {
	return &memInvoices{rows: make(map[int64]*models.InvoiceRecord)}
}

func (m *memInvoices) Create(_ context.Context, _ *sql.Tx, inv *models.InvoiceRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	inv.ID = int64(len(m.rows) + 1)
	cp := *inv
	m.rows[inv.ID] = &cp
	return nil
}

func (m *memInvoices) GetByID(_ context.Context, id int64) (*models.InvoiceRecord, error) {
	inv, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memInvoices) UpdateStatus(_ context.Context, _ *sql.Tx, id int64, from, to models.ProcessingStatus) error {
	inv, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.Status != from {
		return repository.ErrConflict
	}
	inv.Status = to
	return nil
}

func (m *memInvoices) UpdateRouting(_ context.Context, _ *sql.Tx, id int64, from, to repository.Routing) error {
	inv, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.SubsidyStatus != from.Subsidy || inv.PrivateInsuranceStatus != from.PrivateInsurance {
		return repository.ErrConflict
	}
	inv.SubsidyStatus = to.Subsidy
	inv.PrivateInsuranceStatus = to.PrivateInsurance
	return nil
}

// racingInvoices changes the status behind the service's back between read and write
type racingInvoices struct {
	*memInvoices
}

func (r racingInvoices) GetByID(ctx context.Context, id int64) (*models.InvoiceRecord, error) {
	inv, err := r.memInvoices.GetByID(ctx, id)
	if err == nil {
		r.rows[id].Status = models.StatusSubmitted
	}
	return inv, err
}

type fakeFiles struct {
	saved   int
	deleted []string
	err     error
}

func (f *fakeFiles) Save(userID string, doc *models.Document) (*storage.StoredDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved++
	return &storage.StoredDocument{Path: userID + "/1.jpg", URL: "http://files/" + userID + "/1.jpg"}, nil
}

func (f *fakeFiles) Open(string) (string, error) { return "", nil }

func (f *fakeFiles) Delete(relPath string) error {
	f.deleted = append(f.deleted, relPath)
	return nil
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) NotifyRouting(context.Context, *models.InvoiceRecord) error {
	f.calls++
	return f.err
}

type countingRecorder struct{ failures int }

func (c *countingRecorder) RecordNotifyFailure() { c.failures++ }

func ptr[T any](v T) *T { return &v }

func validRequest() Request {
	return Request{
		UserID: "u1",
		Extracted: models.ExtractionResult{
			Provider: "Dr. med. Anna Schmidt",
			Amount:   "87.50",
			Date:     "2025-03-02",
		},
		Method: "vision",
	}
}

func TestService_Submit(t *testing.T) {
	invoices := newMemInvoices()
	files := &fakeFiles{}
	notifier := &fakeNotifier{}
	svc := NewService(directTx{}, invoices, files, notifier, nil, zap.NewNop())

	req := validRequest()
	req.Document = &models.Document{Content: []byte("jpeg"), MediaType: models.MediaTypeJPEG}

	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Invoice.ID)
	assert.Equal(t, "u1", res.Invoice.UserID)
	assert.Equal(t, "vision", res.Invoice.ExtractionMethod)
	assert.Equal(t, models.StatusInProgress, res.Invoice.Status)
	assert.Equal(t, models.CategoryOfficeVisit, res.Invoice.Category)
	assert.Equal(t, "http://files/u1/1.jpg", res.Invoice.DocumentRef)
	require.NotNil(t, res.Document)
	assert.Equal(t, 1, files.saved)
	assert.Equal(t, 1, notifier.calls)
}

func TestService_SubmitWithoutForwarding(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(directTx{}, newMemInvoices(), &fakeFiles{}, notifier, nil, zap.NewNop())

	req := validRequest()
	req.Overrides = normalizer.Overrides{
		ForwardToSubsidy:          ptr(false),
		ForwardToPrivateInsurance: ptr(false),
	}

	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.RoutingNotYetSubmitted, res.Invoice.SubsidyStatus)
	assert.Nil(t, res.Document)
	assert.Zero(t, notifier.calls)
}

func TestService_SubmitValidationFailureStoresNothing(t *testing.T) {
	invoices := newMemInvoices()
	files := &fakeFiles{}
	svc := NewService(directTx{}, invoices, files, &fakeNotifier{}, nil, zap.NewNop())

	req := validRequest()
	req.Overrides.Amount = ptr("-5")
	req.Document = &models.Document{Content: []byte("jpeg"), MediaType: models.MediaTypeJPEG}

	_, err := svc.Submit(context.Background(), req)

	assert.ErrorIs(t, err, normalizer.ErrValidation)
	assert.Zero(t, files.saved)
	assert.Empty(t, invoices.rows)
}

func TestService_SubmitNotificationFailureIsNotFatal(t *testing.T) {
	recorder := &countingRecorder{}
	svc := NewService(directTx{}, newMemInvoices(), &fakeFiles{}, &fakeNotifier{err: errors.New("lark down")}, recorder, zap.NewNop())

	res, err := svc.Submit(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotZero(t, res.Invoice.ID)
	assert.Equal(t, 1, recorder.failures)
}

func TestService_SubmitStorageErrors(t *testing.T) {
	boom := errors.New("disk full")

	req := validRequest()
	req.Document = &models.Document{Content: []byte("jpeg"), MediaType: models.MediaTypeJPEG}
	_, err := NewService(directTx{}, newMemInvoices(), &fakeFiles{err: boom}, nil, nil, zap.NewNop()).Submit(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	invoices := newMemInvoices()
	invoices.createErr = boom
	_, err = NewService(directTx{}, invoices, &fakeFiles{}, nil, nil, zap.NewNop()).Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, boom)
}

func TestService_SubmitRemovesDocumentWhenInsertFails(t *testing.T) {
	invoices := newMemInvoices()
	invoices.createErr = errors.New("database is locked")
	files := &fakeFiles{}
	svc := NewService(directTx{}, invoices, files, &fakeNotifier{}, nil, zap.NewNop())

	req := validRequest()
	req.Document = &models.Document{Content: []byte("jpeg"), MediaType: models.MediaTypeJPEG}

	_, err := svc.Submit(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, 1, files.saved)
	assert.Equal(t, []string{"u1/1.jpg"}, files.deleted)
	assert.Empty(t, invoices.rows)
}

func TestService_ChangeStatus(t *testing.T) {
	invoices := newMemInvoices()
	svc := NewService(directTx{}, invoices, &fakeFiles{}, nil, nil, zap.NewNop())

	res, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	id := res.Invoice.ID

	updated, err := svc.ChangeStatus(context.Background(), id, models.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, updated.Status)
	assert.Equal(t, models.StatusSubmitted, invoices.rows[id].Status)

	_, err = svc.ChangeStatus(context.Background(), id, models.StatusInProgress)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = svc.ChangeStatus(context.Background(), 99, models.StatusSubmitted)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestService_ChangeStatusLosesRace(t *testing.T) {
	invoices := newMemInvoices()
	svc := NewService(directTx{}, invoices, &fakeFiles{}, nil, nil, zap.NewNop())

	res, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	racing := NewService(directTx{}, racingInvoices{invoices}, &fakeFiles{}, nil, nil, zap.NewNop())
	_, err = racing.ChangeStatus(context.Background(), res.Invoice.ID, models.StatusSubmitted)

	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestService_ChangeRouting(t *testing.T) {
	invoices := newMemInvoices()
	notifier := &fakeNotifier{}
	svc := NewService(directTx{}, invoices, &fakeFiles{}, notifier, nil, zap.NewNop())

	req := validRequest()
	req.Overrides = normalizer.Overrides{
		ForwardToSubsidy:          ptr(false),
		ForwardToPrivateInsurance: ptr(false),
	}
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	id := res.Invoice.ID
	require.Zero(t, notifier.calls)

	t.Run("forwarding notifies", func(t *testing.T) {
		updated, err := svc.ChangeRouting(context.Background(), id, ptr(true), nil)
		require.NoError(t, err)

		assert.Equal(t, models.RoutingSubmitted, updated.SubsidyStatus)
		assert.Equal(t, models.RoutingNotYetSubmitted, updated.PrivateInsuranceStatus)
		assert.Equal(t, models.RoutingSubmitted, invoices.rows[id].SubsidyStatus)
		assert.Equal(t, 1, notifier.calls)
	})

	t.Run("unchanged routing is a no-op", func(t *testing.T) {
		_, err := svc.ChangeRouting(context.Background(), id, ptr(true), ptr(false))
		require.NoError(t, err)
		assert.Equal(t, 1, notifier.calls)
	})

	t.Run("withdrawing does not notify", func(t *testing.T) {
		updated, err := svc.ChangeRouting(context.Background(), id, ptr(false), nil)
		require.NoError(t, err)
		assert.Equal(t, models.RoutingNotYetSubmitted, updated.SubsidyStatus)
		assert.Equal(t, 1, notifier.calls)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		_, err := svc.ChangeRouting(context.Background(), 99, ptr(true), nil)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
