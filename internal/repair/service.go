package repair

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// RepositoryPort abstracts job persistence.
type RepositoryPort interface {
	NextSequence(ctx context.Context) (int64, error)
	InsertJob(ctx context.Context, job Job) (Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, int, error)
	GetByRef(ctx context.Context, ref string) (Job, error)
	GetByID(ctx context.Context, id int64) (Job, error)
	UpdateJob(ctx context.Context, id int64, in UpdateInput) (Job, error)
	SetProgress(ctx context.Context, ref, progress string) (Job, error)
	LatestCustomerByPhone(ctx context.Context, phone string) (Customer, error)
}

// AuditPort records job changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditEntry) error
}

// Service coordinates repair job operations.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	logger    *slog.Logger
	refPrefix string
	now       func() time.Time
}

// NewService builds the service. An empty refPrefix uses DefaultRefPrefix.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, refPrefix string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if refPrefix == "" {
		refPrefix = DefaultRefPrefix
	}
	return &Service{repo: repo, audit: audit, logger: logger.With("component", "repair"), refPrefix: refPrefix, now: time.Now}
}

// RefPrefix returns the configured job reference prefix.
func (s *Service) RefPrefix() string { return s.refPrefix }

// Intake opens a job in Pending state.
func (s *Service) Intake(ctx context.Context, actor shared.Actor, in IntakeInput) (Job, error) {
	customer := trimCustomer(in.Customer)
	if err := validateContent(customer); err != nil {
		return Job{}, err
	}
	seq, err := s.repo.NextSequence(ctx)
	if err != nil {
		return Job{}, shared.Transient(err)
	}
	job, err := s.repo.InsertJob(ctx, Job{
		Ref:        FormatRef(s.refPrefix, s.now(), seq),
		Customer:   customer,
		Device:     in.Device,
		Issues:     trimIssues(in.Issues),
		Technician: strings.TrimSpace(in.Technician),
		CreatedBy:  actor.Label(),
		Progress:   ProgressPending,
	})
	if err != nil {
		return Job{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "JOB_CREATE", job.Ref, map[string]any{"technician": job.Technician})
	return job, nil
}

// List returns a page of jobs, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Job, shared.Pagination, error) {
	if filter.Page.PerPage <= 0 {
		filter.Page = shared.PageRequest{Page: 1, PerPage: 50}
	}
	filter.Technician = strings.TrimSpace(filter.Technician)
	jobs, total, err := s.repo.ListJobs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, wrapIO(err)
	}
	return jobs, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

// Details looks a job up by reference. The reference is normalized first.
func (s *Service) Details(ctx context.Context, ref string) (Job, error) {
	ref = NormalizeRef(s.refPrefix, ref)
	if ref == "" {
		return Job{}, shared.Validationf("job reference is required")
	}
	job, err := s.repo.GetByRef(ctx, ref)
	if err != nil {
		return Job{}, wrapIO(err)
	}
	return job, nil
}

// Update replaces the editable fields of a job.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (Job, error) {
	in.Customer = trimCustomer(in.Customer)
	in.Issues = trimIssues(in.Issues)
	in.Technician = strings.TrimSpace(in.Technician)
	in.Progress = strings.TrimSpace(in.Progress)
	if err := validateContent(in.Customer); err != nil {
		return Job{}, err
	}
	job, err := s.repo.UpdateJob(ctx, id, in)
	if err != nil {
		return Job{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "JOB_UPDATE", job.Ref, map[string]any{"progress": job.Progress})
	return job, nil
}

// SetProgress records a new progress text for the job.
func (s *Service) SetProgress(ctx context.Context, actor shared.Actor, ref, progress string) (Job, error) {
	progress = strings.TrimSpace(progress)
	if progress == "" {
		return Job{}, shared.FieldErrors{"jobProgress": "is required"}
	}
	ref = NormalizeRef(s.refPrefix, ref)
	job, err := s.repo.SetProgress(ctx, ref, progress)
	if err != nil {
		return Job{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "JOB_PROGRESS", job.Ref, map[string]any{"progress": progress})
	return job, nil
}

// CloseByBill marks the job as closed by billNumber.
func (s *Service) CloseByBill(ctx context.Context, actor shared.Actor, ref, billNumber string) (Job, error) {
	if strings.TrimSpace(billNumber) == "" {
		return Job{}, shared.Validationf("bill number is required")
	}
	return s.SetProgress(ctx, actor, ref, ClosedByBill(billNumber))
}

// CustomerByPhone returns the most recent customer details seen on jobs.
func (s *Service) CustomerByPhone(ctx context.Context, phone string) (Customer, error) {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return Customer{}, shared.FieldErrors{"phone": "must be 10 digits"}
	}
	c, err := s.repo.LatestCustomerByPhone(ctx, phone)
	if err != nil {
		return Customer{}, wrapIO(err)
	}
	return c, nil
}

func wrapIO(err error) error {
	for _, known := range []error{shared.ErrNotFound, shared.ErrConflict, shared.ErrValidation, shared.ErrInvalidState} {
		if errors.Is(err, known) {
			return err
		}
	}
	return shared.Transient(err)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, ref string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{Actor: actor, Action: action, Entity: "repair_job", EntityID: ref, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.String("ref", ref), slog.Any("error", err))
	}
}
