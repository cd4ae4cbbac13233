// Package repair manages repair job intake and the customers seen on jobs.
package repair

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// DefaultRefPrefix starts every job reference.
const DefaultRefPrefix = "IDSJBN-"

// ProgressPending is the progress of a freshly created job.
const ProgressPending = "Pending"

var (
	// ErrJobNotFound is returned for unknown job references.
	ErrJobNotFound = fmt.Errorf("%w: repair job", shared.ErrNotFound)
	// ErrCustomerNotFound is returned when no job carries the phone number.
	ErrCustomerNotFound = fmt.Errorf("%w: customer", shared.ErrNotFound)
	// ErrDuplicateRef is returned when a job reference is reused.
	ErrDuplicateRef = fmt.Errorf("%w: job reference already used", shared.ErrConflict)
)

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

// Customer is the contact block captured on a job.
type Customer struct {
	Prefix     string `json:"prefix"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	AlterPhone string `json:"alterPhone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	Company    string `json:"company"`
}

// Device describes the handset left for repair.
type Device struct {
	Type         string `json:"deviceType"`
	Model        string `json:"model"`
	Capacity     string `json:"capacity"`
	Color        string `json:"color"`
	SerialNumber string `json:"serialNumber"`
	Passcode     string `json:"passcode"`
}

// Job is a repair job ticket.
type Job struct {
	ID         int64     `json:"id"`
	Ref        string    `json:"jobRef"`
	Customer   Customer  `json:"customer"`
	Device     Device    `json:"device"`
	Issues     []string  `json:"issues"`
	Technician string    `json:"technician"`
	CreatedBy  string    `json:"createdBy"`
	Progress   string    `json:"jobProgress"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Closed reports whether the job was closed by a bill.
func (j Job) Closed() bool {
	return strings.HasPrefix(strings.ToLower(j.Progress), "closed by bill")
}

// BillNumber returns the number of the bill that closed the job, if any.
func (j Job) BillNumber() string {
	if !j.Closed() {
		return ""
	}
	_, number, _ := strings.Cut(j.Progress, " - ")
	return strings.TrimSpace(number)
}

// IntakeInput opens a job.
type IntakeInput struct {
	Customer   Customer
	Device     Device
	Issues     []string
	Technician string
}

// UpdateInput replaces the editable fields of a job.
type UpdateInput struct {
	Customer   Customer
	Device     Device
	Issues     []string
	Technician string
	Progress   string
}

// ListFilter narrows job listings.
type ListFilter struct {
	Technician string
	Page       shared.PageRequest
}

// ClosedByBill is the progress text written when a bill closes a job.
func ClosedByBill(billNumber string) string {
	return "Closed By Bill - " + billNumber
}

// FormatRef builds IDSJBN-<MM>-<YY>-<seq>.
func FormatRef(prefix string, at time.Time, seq int64) string {
	if prefix == "" {
		prefix = DefaultRefPrefix
	}
	return fmt.Sprintf("%s%02d-%02d-%d", prefix, int(at.Month()), at.Year()%100, seq)
}

// NormalizeRef upper-cases raw and adds prefix unless already present.
func NormalizeRef(prefix, raw string) string {
	if prefix == "" {
		prefix = DefaultRefPrefix
	}
	ref := strings.ToUpper(strings.TrimSpace(raw))
	if ref == "" || strings.HasPrefix(ref, strings.ToUpper(prefix)) {
		return ref
	}
	return strings.ToUpper(prefix) + ref
}

// ValidPhone reports whether phone is a 10 digit number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func trimIssues(issues []string) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			out = append(out, issue)
		}
	}
	return out
}

func trimCustomer(c Customer) Customer {
	return Customer{
		Prefix:     strings.TrimSpace(c.Prefix),
		Name:       strings.TrimSpace(c.Name),
		Phone:      strings.TrimSpace(c.Phone),
		AlterPhone: strings.TrimSpace(c.AlterPhone),
		Email:      strings.TrimSpace(c.Email),
		Address:    strings.TrimSpace(c.Address),
		Company:    strings.TrimSpace(c.Company),
	}
}

func validateContent(c Customer) error {
	fields := shared.FieldErrors{}
	if c.Name == "" {
		fields.Add("customer.name", "is required")
	}
	if c.Phone != "" && !ValidPhone(c.Phone) {
		fields.Add("customer.phone", "must be 10 digits")
	}
	return fields.Err()
}
