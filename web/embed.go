// Package web holds the HTML templates rendered into printable documents.
package web

import "embed"

//go:embed templates/documents/*.html
var Templates embed.FS

// DocumentTemplates is the glob handed to template.ParseFS.
const DocumentTemplates = "templates/documents/*.html"

// Template names as declared with {{define}}.
const (
	InvoiceTemplate = "documents/invoice.html"
	JobNoteTemplate = "documents/job_note.html"
)
