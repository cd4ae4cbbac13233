package documents

import (
	"context"
	"log/slog"
	"path"

	"github.com/repairdesk/repairdesk/internal/billing"
)

// Archiver stores rendered documents.
type Archiver interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// InvoiceSource renders invoices.
type InvoiceSource interface {
	Invoice(ctx context.Context, bill billing.Bill) ([]byte, error)
}

// ArchivingRenderer copies every rendered invoice into the archive. Archive
// failures are logged and never fail the render.
type ArchivingRenderer struct {
	next    InvoiceSource
	archive Archiver
	logger  *slog.Logger
}

// NewArchivingRenderer wraps next. A nil archive disables archiving.
func NewArchivingRenderer(next InvoiceSource, archive Archiver, logger *slog.Logger) *ArchivingRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchivingRenderer{next: next, archive: archive, logger: logger.With("component", "documents")}
}

// Invoice implements billing.InvoiceRenderer.
func (a *ArchivingRenderer) Invoice(ctx context.Context, bill billing.Bill) ([]byte, error) {
	pdf, err := a.next.Invoice(ctx, bill)
	if err != nil {
		return nil, err
	}
	if a.archive == nil {
		return pdf, nil
	}
	key := path.Join("invoices", bill.Date.Format("2006/01"), bill.BillNumber+".pdf")
	if _, err := a.archive.Put(ctx, key, "application/pdf", pdf); err != nil {
		a.logger.Warn("archive invoice failed", slog.String("bill", bill.BillNumber), slog.Any("error", err))
	}
	return pdf, nil
}
