package documents

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/billing"
	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/shared"
	"github.com/repairdesk/repairdesk/web"
)

// HTMLRenderer converts HTML to PDF.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, html string, paper Paper) ([]byte, error)
}

// Renderer produces invoice and job-note PDFs.
type Renderer struct {
	pdf       HTMLRenderer
	shop      string
	templates *template.Template
}

// NewRenderer parses the embedded document templates.
func NewRenderer(pdf HTMLRenderer, shop string) (*Renderer, error) {
	funcs := template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"inc": func(i int) int { return i + 1 },
		"dash": func(s string) string {
			if s == "" {
				return "-"
			}
			return s
		},
	}
	tpl, err := template.New("documents").Funcs(funcs).ParseFS(web.Templates, web.DocumentTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse document templates: %w", err)
	}
	return &Renderer{pdf: pdf, shop: shop, templates: tpl}, nil
}

type invoiceView struct {
	billing.Bill
	Shop string
}

type jobNoteView struct {
	repair.Job
	Shop       string
	BillNumber string
}

// InvoiceHTML renders the invoice page of bill.
func (r *Renderer) InvoiceHTML(bill billing.Bill) (string, error) {
	return r.execute(web.InvoiceTemplate, invoiceView{Bill: bill, Shop: r.shop})
}

// Invoice renders the invoice PDF of bill.
func (r *Renderer) Invoice(ctx context.Context, bill billing.Bill) ([]byte, error) {
	html, err := r.InvoiceHTML(bill)
	if err != nil {
		return nil, err
	}
	return r.render(ctx, html)
}

// JobNoteHTML renders the technician copy of job.
func (r *Renderer) JobNoteHTML(job repair.Job) (string, error) {
	return r.execute(web.JobNoteTemplate, jobNoteView{Job: job, Shop: r.shop, BillNumber: job.BillNumber()})
}

// JobNote renders the job note PDF of job.
func (r *Renderer) JobNote(ctx context.Context, job repair.Job) ([]byte, error) {
	html, err := r.JobNoteHTML(job)
	if err != nil {
		return nil, err
	}
	return r.render(ctx, html)
}

func (r *Renderer) execute(name string, data any) (string, error) {
	buf := &bytes.Buffer{}
	if err := r.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) render(ctx context.Context, html string) ([]byte, error) {
	pdf, err := r.pdf.RenderHTML(ctx, html, A5Landscape)
	if err != nil {
		return nil, shared.Transient(err)
	}
	return pdf, nil
}
