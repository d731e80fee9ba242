package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/acquisition"
	"github.com/beihilfepay/beihilfepay/internal/dashboard"
	"github.com/beihilfepay/beihilfepay/internal/export"
	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/normalizer"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"github.com/beihilfepay/beihilfepay/internal/pipeline"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/beihilfepay/beihilfepay/internal/submission"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Extractor runs the extraction pipeline
type Extractor interface {
	RunDocument(ctx context.Context, doc *models.Document, progress ocr.ProgressFunc) (*pipeline.Outcome, error)
	RunText(ctx context.Context, text string) *pipeline.Outcome
}

// Submitter persists confirmed invoices and changes their status
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (*submission.Result, error)
	ChangeStatus(ctx context.Context, id int64, target models.ProcessingStatus) (*models.InvoiceRecord, error)
	ChangeRouting(ctx context.Context, id int64, toSubsidy, toPrivateInsurance *bool) (*models.InvoiceRecord, error)
}

// InvoiceReader reads stored invoices
type InvoiceReader interface {
	GetByID(ctx context.Context, id int64) (*models.InvoiceRecord, error)
	List(ctx context.Context, filter repository.InvoiceFilter) ([]*models.InvoiceRecord, error)
}

// DashboardProvider computes the dashboard
type DashboardProvider interface {
	Summary(ctx context.Context, userID string) (*dashboard.Summary, error)
}

// SettingsManager reads and writes the user's settings
type SettingsManager interface {
	Get(ctx context.Context, userID string) (*models.Settings, error)
	Update(ctx context.Context, next *models.Settings) (*models.Settings, error)
}

// Exporter renders all invoices as a workbook
type Exporter interface {
	Export(ctx context.Context, userID string) ([]byte, error)
}

// FileOpener resolves stored documents
type FileOpener interface {
	Open(relPath string) (string, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	userID string
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, userID string, logger *zap.Logger) *Handlers {
	return &Handlers{deps: deps, userID: userID, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Strategy  string `json:"strategy,omitempty"`
}

// AnalyzeRequest is the JSON form of POST /api/analyze
type AnalyzeRequest struct {
	Image     string `json:"image"`
	MediaType string `json:"mediaType"`
}

// FormIDHeader names the form an analyze request fills
const FormIDHeader = "X-Form-ID"

// AnalyzeResponse is returned by both analyze endpoints. Form and Stale are
// set when the request names a form.
type AnalyzeResponse struct {
	RunID        uint64                   `json:"run_id"`
	Result       models.ExtractionResult  `json:"result"`
	Method       string                   `json:"method"`
	Warnings     []string                 `json:"warnings"`
	Confidence   *float64                 `json:"confidence,omitempty"`
	Deduplicated bool                     `json:"deduplicated,omitempty"`
	Stale        bool                     `json:"stale,omitempty"`
	Form         *models.ExtractionResult `json:"form,omitempty"`
}

// AnalyzeTextRequest is the body of POST /api/analyze/text
type AnalyzeTextRequest struct {
	Text string `json:"text"`
}

// InvoiceForm is the confirmed form sent with uploads and manual entries
type InvoiceForm struct {
	normalizer.Overrides
	Method string `json:"extraction_method,omitempty"`
}

// UploadResponse is returned by POST /api/upload
type UploadResponse struct {
	Invoice *models.InvoiceRecord `json:"invoice"`
	FileURL string                `json:"fileUrl"`
}

// StatusRequest is the body of PATCH /api/invoices/:id/status
type StatusRequest struct {
	Status models.ProcessingStatus `json:"status"`
}

// RoutingRequest is the body of PATCH /api/invoices/:id/routing. Omitted
// flags keep the current routing.
type RoutingRequest struct {
	ForwardToSubsidy          *bool `json:"forward_to_subsidy"`
	ForwardToPrivateInsurance *bool `json:"forward_to_private_insurance"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if p, ok := h.deps.Pipeline.(interface{ Strategy() pipeline.Strategy }); ok {
		response.Strategy = p.Strategy().String()
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: response})
}

// Analyze handles POST /api/analyze. An empty selection is a no-op (204).
func (h *Handlers) Analyze(c *gin.Context) {
	doc, err := h.acquire(c)
	if errors.Is(err, acquisition.ErrNoFile) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		h.logger.Warn("Rejected analyze request", zap.Error(err))
		h.fail(c, err)
		return
	}

	form, formRun := h.beginForm(c)

	out, shared, err := h.runOnce(c.Request.Context(), doc)
	if err != nil {
		h.logger.Error("Failed to analyze invoice",
			zap.String("digest", doc.Digest),
			zap.Error(err))
		h.fail(c, err)
		return
	}

	resp := toAnalyzeResponse(out, shared)
	h.applyToForm(&resp, form, formRun, out.Result)
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// runOnce runs the pipeline at most once per identical document while a
// result is cached. A shared run outlives the request that started it.
func (h *Handlers) runOnce(ctx context.Context, doc *models.Document) (*pipeline.Outcome, bool, error) {
	if h.deps.Dedup == nil {
		out, err := h.deps.Pipeline.RunDocument(ctx, doc, nil)
		return out, false, err
	}
	shared := context.WithoutCancel(ctx)
	return h.deps.Dedup.Do(doc.Digest, func() (*pipeline.Outcome, error) {
		return h.deps.Pipeline.RunDocument(shared, doc, nil)
	})
}

// beginForm starts a run on the form named by the request, if any
func (h *Handlers) beginForm(c *gin.Context) (*pipeline.FormState, uint64) {
	id := c.GetHeader(FormIDHeader)
	if id == "" || h.deps.Forms == nil {
		return nil, 0
	}
	form := h.deps.Forms.Get(id)
	return form, form.Begin()
}

// applyToForm merges result unless a newer run on the form has started
func (h *Handlers) applyToForm(resp *AnalyzeResponse, form *pipeline.FormState, run uint64, result models.ExtractionResult) {
	if form == nil {
		return
	}
	resp.RunID = run
	if !form.Apply(run, result) {
		resp.Stale = true
		h.logger.Debug("Discarded stale extraction run", zap.Uint64("run_id", run))
	}
	values := form.Values()
	resp.Form = &values
}

// AnalyzeText handles POST /api/analyze/text. It never fails on content.
func (h *Handlers) AnalyzeText(c *gin.Context) {
	var req AnalyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
		return
	}

	form, formRun := h.beginForm(c)

	out := h.deps.Pipeline.RunText(c.Request.Context(), req.Text)

	resp := toAnalyzeResponse(out, false)
	h.applyToForm(&resp, form, formRun, out.Result)
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// GetForm handles GET /api/forms/:id
func (h *Handlers) GetForm(c *gin.Context) {
	form, ok := h.lookupForm(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: form.Values()})
}

// EditForm handles PATCH /api/forms/:id with a field name to value map.
// Edited fields are never overwritten by later runs.
func (h *Handlers) EditForm(c *gin.Context) {
	if h.deps.Forms == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: msgFormNotFound})
		return
	}

	var edits map[string]string
	if err := c.ShouldBindJSON(&edits); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
		return
	}

	form := h.deps.Forms.Get(c.Param("id"))
	for field, value := range edits {
		if err := form.Edit(field, value); err != nil {
			h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: form.Values()})
}

// DeleteForm handles DELETE /api/forms/:id
func (h *Handlers) DeleteForm(c *gin.Context) {
	if h.deps.Forms != nil {
		h.deps.Forms.Drop(c.Param("id"))
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) lookupForm(c *gin.Context) (*pipeline.FormState, bool) {
	if h.deps.Forms != nil {
		if form, ok := h.deps.Forms.Lookup(c.Param("id")); ok {
			return form, true
		}
	}
	c.JSON(http.StatusNotFound, Response{Success: false, Error: msgFormNotFound})
	return nil, false
}

// Upload handles POST /api/upload: multipart "file" plus "data" (JSON form)
func (h *Handlers) Upload(c *gin.Context) {
	doc, err := h.acquireMultipart(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	var form InvoiceForm
	if data := c.PostForm("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &form); err != nil {
			h.fail(c, fmt.Errorf("%w: data: %v", acquisition.ErrInvalidPayload, err))
			return
		}
	}

	req := submission.Request{
		UserID:    h.userID,
		Overrides: form.Overrides,
		Document:  doc,
		Method:    form.Method,
	}
	formID := c.GetHeader(FormIDHeader)
	if formID != "" && h.deps.Forms != nil {
		if state, ok := h.deps.Forms.Lookup(formID); ok {
			req.Extracted = state.Values()
		}
	}

	res, err := h.deps.Submissions.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	if formID != "" && h.deps.Forms != nil {
		h.deps.Forms.Drop(formID)
	}

	resp := UploadResponse{Invoice: res.Invoice}
	if res.Document != nil {
		resp.FileURL = res.Document.URL
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: resp})
}

// CreateInvoice handles POST /api/invoices for entries without a document
func (h *Handlers) CreateInvoice(c *gin.Context) {
	var form InvoiceForm
	if err := c.ShouldBindJSON(&form); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
		return
	}

	res, err := h.deps.Submissions.Submit(c.Request.Context(), submission.Request{
		UserID:    h.userID,
		Overrides: form.Overrides,
		Method:    form.Method,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: res.Invoice})
}

// ListInvoices handles GET /api/invoices?status=&limit=
func (h *Handlers) ListInvoices(c *gin.Context) {
	filter := repository.InvoiceFilter{UserID: h.userID}

	if status := c.Query("status"); status != "" {
		filter.Status = models.ProcessingStatus(status)
		if !filter.Status.IsValid() {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: msgInvalidStatus})
			return
		}
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: msgInvalidPayload})
			return
		}
		filter.Limit = n
	}

	invoices, err := h.deps.Invoices.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list invoices", zap.Error(err))
		h.fail(c, err)
		return
	}
	if invoices == nil {
		invoices = []*models.InvoiceRecord{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: invoices})
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}

	inv, err := h.deps.Invoices.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inv})
}

// UpdateInvoiceStatus handles PATCH /api/invoices/:id/status
func (h *Handlers) UpdateInvoiceStatus(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
		return
	}

	inv, err := h.deps.Submissions.ChangeStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inv})
}

// UpdateInvoiceRouting handles PATCH /api/invoices/:id/routing
func (h *Handlers) UpdateInvoiceRouting(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}

	var req RoutingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
		return
	}

	inv, err := h.deps.Submissions.ChangeRouting(c.Request.Context(), id, req.ForwardToSubsidy, req.ForwardToPrivateInsurance)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inv})
}

// ExportInvoices handles GET /api/invoices/export
func (h *Handlers) ExportInvoices(c *gin.Context) {
	content, err := h.deps.Exporter.Export(c.Request.Context(), h.userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(time.Now())))
	c.Data(http.StatusOK, export.ContentType, content)
}

// Dashboard handles GET /api/dashboard
func (h *Handlers) Dashboard(c *gin.Context) {
	summary, err := h.deps.Dashboard.Summary(c.Request.Context(), h.userID)
	if err != nil {
		h.logger.Error("Failed to compute dashboard", zap.Error(err))
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// GetSettings handles GET /api/settings
func (h *Handlers) GetSettings(c *gin.Context) {
	s, err := h.deps.Settings.Get(c.Request.Context(), h.userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: s})
}

// UpdateSettings handles PUT /api/settings
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var next models.Settings
	if err := c.ShouldBindJSON(&next); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err))
		return
	}
	next.UserID = h.userID

	saved, err := h.deps.Settings.Update(c.Request.Context(), &next)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: saved})
}

// ServeFile handles GET /files/*path
func (h *Handlers) ServeFile(c *gin.Context) {
	full, err := h.deps.Files.Open(c.Param("path"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.File(full)
}

func (h *Handlers) invoiceID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Warn("Invalid invoice ID", zap.String("id", idStr))
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: msgInvalidID})
		return 0, false
	}
	return id, true
}

// acquire reads the document from a multipart "file" field or from the
// JSON body {image, mediaType}.
func (h *Handlers) acquire(c *gin.Context) (*models.Document, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return h.acquireMultipart(c)
	}

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, acquisition.ErrNoFile
		}
		return nil, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err)
	}
	return h.deps.Acquirer.AcceptBase64(req.Image, req.MediaType)
}

func (h *Handlers) acquireMultipart(c *gin.Context) (*models.Document, error) {
	limit := h.deps.Acquirer.MaxBytes()
	// Room for the form fields around the file
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrMissingFile):
			return nil, acquisition.ErrNoFile
		case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
			return nil, fmt.Errorf("%w: request exceeds %d bytes", acquisition.ErrTooLarge, limit)
		default:
			return nil, fmt.Errorf("%w: %v", acquisition.ErrInvalidPayload, err)
		}
	}

	content, err := readFormFile(fh, limit)
	if err != nil {
		return nil, err
	}
	return h.deps.Acquirer.Accept(content, fh.Filename, fh.Header.Get("Content-Type"))
}

// readFormFile reads at most limit+1 bytes so Accept can report the overflow
func readFormFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return content, nil
}

func toAnalyzeResponse(out *pipeline.Outcome, shared bool) AnalyzeResponse {
	resp := AnalyzeResponse{
		RunID:        out.RunID,
		Result:       out.Result,
		Method:       out.Method,
		Warnings:     out.Warnings,
		Deduplicated: shared,
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	if out.Text != nil {
		confidence := out.Text.Confidence
		resp.Confidence = &confidence
	}
	return resp
}
