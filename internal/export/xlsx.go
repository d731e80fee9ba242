package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SheetName is the worksheet holding the invoice table
const SheetName = "Rechnungen"

// ContentType is the media type of the generated workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{
	"Datum",
	"Leistungserbringer",
	"Art",
	"Betrag (EUR)",
	"Status",
	"Beihilfe",
	"Private Krankenversicherung",
	"Beleg",
}

var statusLabels = map[models.ProcessingStatus]string{
	models.StatusInProgress:  "In Bearbeitung",
	models.StatusSubmitted:   "Eingereicht",
	models.StatusUnderReview: "In Prüfung",
	models.StatusReimbursed:  "Erstattet",
}

var routingLabels = map[models.RoutingStatus]string{
	models.RoutingSubmitted:       "Eingereicht",
	models.RoutingNotYetSubmitted: "Noch nicht eingereicht",
}

// InvoiceLister lists stored invoices newest first
type InvoiceLister interface {
	List(ctx context.Context, filter repository.InvoiceFilter) ([]*models.InvoiceRecord, error)
}

// Exporter produces XLSX workbooks of stored invoices
type Exporter struct {
	invoices InvoiceLister
	logger   *zap.Logger
}

// NewExporter creates a new exporter
func NewExporter(invoices InvoiceLister, logger *zap.Logger) *Exporter {
	return &Exporter{invoices: invoices, logger: logger}
}

// Export returns the workbook bytes for all invoices of userID
func (e *Exporter) Export(ctx context.Context, userID string) ([]byte, error) {
	start := time.Now()

	invoices, err := e.invoices.List(ctx, repository.InvoiceFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	content, err := Workbook(invoices)
	if err != nil {
		e.logger.Error("Failed to build workbook", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	e.logger.Info("Invoices exported",
		zap.String("user_id", userID),
		zap.Int("rows", len(invoices)),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

// Workbook renders invoices as a single-sheet workbook with a totals row
func Workbook(invoices []*models.InvoiceRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	total := decimal.Zero
	row := 2
	for _, inv := range invoices {
		values := []any{
			inv.DateString(),
			inv.Provider,
			inv.Category.Label(),
			inv.Amount.Round(2).InexactFloat64(),
			statusLabels[inv.Status],
			routingLabels[inv.SubsidyStatus],
			routingLabels[inv.PrivateInsuranceStatus],
			inv.DocumentRef,
		}
		if err := writeRow(f, row, values); err != nil {
			return nil, err
		}
		total = total.Add(inv.Amount)
		row++
	}

	if err := writeRow(f, row, []any{"Summe", "", "", total.Round(2).InexactFloat64()}); err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(SheetName, row, row, bold); err != nil {
		return nil, fmt.Errorf("failed to style totals: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "D2", fmt.Sprintf("D%d", row), money); err != nil {
		return nil, fmt.Errorf("failed to style amounts: %w", err)
	}

	_ = f.SetColWidth(SheetName, "A", "A", 12)
	_ = f.SetColWidth(SheetName, "B", "B", 32)
	_ = f.SetColWidth(SheetName, "C", "C", 16)
	_ = f.SetColWidth(SheetName, "D", "D", 14)
	_ = f.SetColWidth(SheetName, "E", "G", 24)
	_ = f.SetColWidth(SheetName, "H", "H", 60)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := f.SetCellValue(SheetName, cell, v); err != nil {
			return fmt.Errorf("failed to write cell %s: %w", cell, err)
		}
	}
	return nil
}

// FileName returns the download name for an export created at t
func FileName(t time.Time) string {
	return fmt.Sprintf("rechnungen-%s.xlsx", t.Format("2006-01-02"))
}
