package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const jobColumns = `id, job_ref, customer_prefix, customer_name, phone, alter_phone, email, address, company,
	device_type, model, capacity, color, serial_number, issues, passcode, technician, created_by, job_progress,
	created_at, updated_at`

// issueSeparator joins issues in the issues column.
const issueSeparator = " | "

// Repository provides PostgreSQL backed persistence for jobs.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		job    Job
		issues string
	)
	err := row.Scan(&job.ID, &job.Ref, &job.Customer.Prefix, &job.Customer.Name, &job.Customer.Phone,
		&job.Customer.AlterPhone, &job.Customer.Email, &job.Customer.Address, &job.Customer.Company,
		&job.Device.Type, &job.Device.Model, &job.Device.Capacity, &job.Device.Color, &job.Device.SerialNumber,
		&issues, &job.Device.Passcode, &job.Technician, &job.CreatedBy, &job.Progress, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	job.Issues = splitIssues(issues)
	return job, nil
}

func splitIssues(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return trimIssues(strings.Split(raw, issueSeparator))
}

// NextSequence draws the next job sequence number.
func (r *Repository) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('job_ref_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next job sequence: %w", err)
	}
	return seq, nil
}

// InsertJob stores a new job.
func (r *Repository) InsertJob(ctx context.Context, job Job) (Job, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO repair_jobs (job_ref, customer_prefix, customer_name, phone, alter_phone, email,
	address, company, device_type, model, capacity, color, serial_number, issues, passcode, technician, created_by, job_progress)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING `+jobColumns,
		job.Ref, job.Customer.Prefix, job.Customer.Name, job.Customer.Phone, job.Customer.AlterPhone, job.Customer.Email,
		job.Customer.Address, job.Customer.Company, job.Device.Type, job.Device.Model, job.Device.Capacity, job.Device.Color,
		job.Device.SerialNumber, strings.Join(job.Issues, issueSeparator), job.Device.Passcode, job.Technician, job.CreatedBy, job.Progress)
	created, err := scanJob(row)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Job{}, ErrDuplicateRef
		}
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return created, nil
}

// ListJobs returns jobs newest first.
func (r *Repository) ListJobs(ctx context.Context, filter ListFilter) ([]Job, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM repair_jobs WHERE ($1 = '' OR technician = $1)`, filter.Technician).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+jobColumns+` FROM repair_jobs
WHERE ($1 = '' OR technician = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, filter.Technician, filter.Page.PerPage, filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// GetByRef loads one job.
func (r *Repository) GetByRef(ctx context.Context, ref string) (Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM repair_jobs WHERE job_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

// GetByID loads one job.
func (r *Repository) GetByID(ctx context.Context, id int64) (Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM repair_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

// UpdateJob overwrites the editable fields.
func (r *Repository) UpdateJob(ctx context.Context, id int64, in UpdateInput) (Job, error) {
	row := r.db.QueryRow(ctx, `UPDATE repair_jobs SET customer_prefix=$2, customer_name=$3, phone=$4, alter_phone=$5,
	email=$6, address=$7, company=$8, device_type=$9, model=$10, capacity=$11, color=$12, serial_number=$13,
	issues=$14, passcode=$15, technician=$16, job_progress=COALESCE(NULLIF($17, ''), job_progress), updated_at=NOW()
WHERE id=$1
RETURNING `+jobColumns,
		id, in.Customer.Prefix, in.Customer.Name, in.Customer.Phone, in.Customer.AlterPhone, in.Customer.Email,
		in.Customer.Address, in.Customer.Company, in.Device.Type, in.Device.Model, in.Device.Capacity, in.Device.Color,
		in.Device.SerialNumber, strings.Join(in.Issues, issueSeparator), in.Device.Passcode, in.Technician, in.Progress)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

// SetProgress updates the progress text of a job by reference.
func (r *Repository) SetProgress(ctx context.Context, ref, progress string) (Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `UPDATE repair_jobs SET job_progress=$2, updated_at=NOW()
WHERE job_ref=$1 RETURNING `+jobColumns, ref, progress))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

// LatestCustomerByPhone returns the customer block of the newest job with phone.
func (r *Repository) LatestCustomerByPhone(ctx context.Context, phone string) (Customer, error) {
	var c Customer
	err := r.db.QueryRow(ctx, `SELECT customer_prefix, customer_name, phone, alter_phone, email, address, company
FROM repair_jobs WHERE phone = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, phone).
		Scan(&c.Prefix, &c.Name, &c.Phone, &c.AlterPhone, &c.Email, &c.Address, &c.Company)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("customer by phone: %w", err)
	}
	return c, nil
}
