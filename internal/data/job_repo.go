package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mediaforge/transcoder/internal/domain/model"
)

// RepoConfig holds configuration options for the data-layer repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for transcode jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  tenant_id,
  video_id,
  status,
  input_location,
  output_manifest_location,
  error_message,
  retry_count,
  notification_attempts,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	manifestLocation, errorMessage sql.NullString
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.VideoID,
		&job.Status,
		&job.InputLocation,
		&d.manifestLocation,
		&d.errorMessage,
		&job.RetryCount,
		&job.NotificationAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.OutputManifestLocation = cloneNullableString(d.manifestLocation)
	job.ErrorMessage = cloneNullableString(d.errorMessage)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	data.apply(job)
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CreateIdempotent inserts a new received job for the request unless a
// non-terminal job already exists for its (tenant, video) key.
//
// The partial unique index over non-terminal rows is the arbiter: two
// concurrent creates race on the insert and the loser re-reads the winner's
// row, so duplicate deliveries of the upload event collapse into one job.
func (r *JobRepo) CreateIdempotent(
	ctx context.Context,
	req *model.CreateJobRequest,
) (*model.Job, bool, error) {
	if req == nil {
		return nil, false, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	if existing, err := r.getActiveByKey(ctx, req.Key()); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
      INSERT INTO transcode_jobs (tenant_id, video_id, status, input_location, created_at, updated_at)
      VALUES ($1, $2, 'received', $3, $4, $4)
      RETURNING `+jobColumns,
		req.TenantID, req.VideoID, req.InputLocation, currentTime)

	job, err := scanJobFromRow(row)
	if err == nil {
		return job, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	// Lost the insert race; the winner's row must exist now.
	existing, lookupErr := r.getActiveByKey(ctx, req.Key())
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	return existing, false, nil
}

// getActiveByKey returns the non-terminal job for the key, or nil when none exists.
func (r *JobRepo) getActiveByKey(ctx context.Context, key model.JobKey) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM transcode_jobs
		WHERE tenant_id = $1 AND video_id = $2 AND status IN ('received', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, key.TenantID, key.VideoID)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active job: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM transcode_jobs
		WHERE id = $1
	`, id)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByKey retrieves the most recently created job for the key, terminal or not.
func (r *JobRepo) GetByKey(ctx context.Context, key model.JobKey) (*model.Job, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM transcode_jobs
		WHERE tenant_id = $1 AND video_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, key.TenantID, key.VideoID)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by key: %w", err)
	}
	return job, nil
}

// ListReceived returns up to limit received jobs, oldest first.
func (r *JobRepo) ListReceived(ctx context.Context, limit int) ([]*model.Job, error) {
	return r.listByStatus(ctx, listByStatusParams{
		status: model.JobStatusReceived,
		limit:  limit,
	})
}

// ListCompletedBefore returns up to limit completed jobs not touched since cutoff.
func (r *JobRepo) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	return r.listByStatus(ctx, listByStatusParams{
		status:        model.JobStatusCompleted,
		updatedBefore: &cutoff,
		limit:         limit,
	})
}

// ListProcessingOlderThan returns up to limit processing jobs not touched since cutoff.
func (r *JobRepo) ListProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	return r.listByStatus(ctx, listByStatusParams{
		status:        model.JobStatusProcessing,
		updatedBefore: &cutoff,
		limit:         limit,
	})
}

type listByStatusParams struct {
	status        model.JobStatus
	updatedBefore *time.Time
	limit         int
}

func (r *JobRepo) listByStatus(ctx context.Context, p listByStatusParams) ([]*model.Job, error) {
	if p.limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + jobColumns + `
		FROM transcode_jobs
		WHERE status = $1`
	args := []any{p.status}
	if p.updatedBefore != nil {
		query += ` AND updated_at < $2`
		args = append(args, p.updatedBefore.UTC())
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, len(args)+1)
	args = append(args, p.limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", p.status, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// transition runs a conditional status update and reports whether the row changed.
func (r *JobRepo) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkProcessing transitions received -> processing. The conditional WHERE is
// the optimistic claim: of two racing pollers exactly one sees a row change.
func (r *JobRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE transcode_jobs
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'received'
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark job processing: %w", err)
	}
	return ok, nil
}

// MarkCompleted transitions processing -> completed and records the manifest location.
func (r *JobRepo) MarkCompleted(ctx context.Context, id, manifestLocation string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE transcode_jobs
		SET status = 'completed',
		    output_manifest_location = $2,
		    error_message = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, manifestLocation, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	return ok, nil
}

// MarkFailed transitions from the expected prior status to failed.
func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string, from model.JobStatus) (bool, error) {
	if from.Terminal() {
		return false, fmt.Errorf("cannot fail job from terminal status %s", from)
	}

	ok, err := r.transition(ctx, `
		UPDATE transcode_jobs
		SET status = 'failed',
		    error_message = $2,
		    retry_count = retry_count + 1,
		    updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, errMsg, r.timeProvider.Now().UTC(), from)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	return ok, nil
}

// MarkNotified transitions completed -> notified.
func (r *JobRepo) MarkNotified(ctx context.Context, id string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE transcode_jobs
		SET status = 'notified', updated_at = $2
		WHERE id = $1 AND status = 'completed'
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark job notified: %w", err)
	}
	return ok, nil
}

// MarkReceived transitions processing -> received so a future intake cycle can
// reclaim a job whose worker died.
func (r *JobRepo) MarkReceived(ctx context.Context, id string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE transcode_jobs
		SET status = 'received', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark job received: %w", err)
	}
	return ok, nil
}

// IncrementNotificationAttempts bumps the delivery counter for a completed job
// and returns the new count.
func (r *JobRepo) IncrementNotificationAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.DB.QueryRowContext(ctx, `
		UPDATE transcode_jobs
		SET notification_attempts = notification_attempts + 1, updated_at = $2
		WHERE id = $1 AND status = 'completed'
		RETURNING notification_attempts
	`, id, r.timeProvider.Now().UTC()).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment notification attempts: %w", err)
	}
	return attempts, nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// List returns jobs matching the optional filters, newest first.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}

	var conditions []string
	var args []any
	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}
	if opts.VideoID != nil {
		args = append(args, *opts.VideoID)
		conditions = append(conditions, "video_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM transcode_jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectJobs(rows)
}

// Stats returns counts of jobs per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'received')   AS received,
	    count(*) FILTER (WHERE status = 'processing') AS processing,
	    count(*) FILTER (WHERE status = 'completed')  AS completed,
	    count(*) FILTER (WHERE status = 'notified')   AS notified,
	    count(*) FILTER (WHERE status = 'failed')     AS failed
	  FROM transcode_jobs
	`).Scan(&s.Received, &s.Processing, &s.Completed, &s.Notified, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &s, nil
}
