package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mediaforge/transcoder/internal/data/pgxutil"
	"github.com/mediaforge/transcoder/internal/domain/model"
)

// RenditionRepo provides database operations for per-job rendition rows.
type RenditionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRenditionRepo creates a new RenditionRepo with the given database connection and configuration.
func NewRenditionRepo(db *sql.DB, cfg RepoConfig) *RenditionRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RenditionRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const renditionColumns = `
  id,
  job_id,
  profile_name,
  resolution,
  bitrate,
  status,
  output_path,
  created_at,
  completed_at
`

func scanRendition(scanner jobRowScanner) (*model.Rendition, error) {
	rendition := &model.Rendition{}
	var outputPath sql.NullString
	var completedAt sql.NullTime
	err := scanner.Scan(
		&rendition.ID,
		&rendition.JobID,
		&rendition.ProfileName,
		&rendition.Resolution,
		&rendition.Bitrate,
		&rendition.Status,
		&outputPath,
		&rendition.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	rendition.OutputPath = cloneNullableString(outputPath)
	rendition.CompletedAt = cloneNullableTime(completedAt)
	return rendition, nil
}

// CreateForJob inserts a pending rendition row per profile in one transaction.
// The profile set for a job is fixed here, at processing start. On a
// reattempt after an abandoned run, existing rows are reset to pending,
// except completed rows, whose outputs are kept.
func (r *RenditionRepo) CreateForJob(
	ctx context.Context,
	jobID string,
	profiles []model.RenditionProfile,
) ([]*model.Rendition, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	if len(profiles) == 0 {
		return nil, errors.New("at least one rendition profile is required")
	}

	currentTime := r.timeProvider.Now().UTC()
	renditions := make([]*model.Rendition, 0, len(profiles))

	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			for _, profile := range profiles {
				if validateErr := profile.Validate(); validateErr != nil {
					return validateErr
				}

				row := tx.QueryRowContext(ctx, `
					INSERT INTO renditions (job_id, profile_name, resolution, bitrate, status, created_at)
					VALUES ($1, $2, $3, $4, 'pending', $5)
					ON CONFLICT (job_id, profile_name) DO UPDATE SET
						status = CASE WHEN renditions.status = 'completed' THEN renditions.status ELSE 'pending' END,
						output_path = CASE WHEN renditions.status = 'completed' THEN renditions.output_path ELSE NULL END,
						completed_at = CASE WHEN renditions.status = 'completed' THEN renditions.completed_at ELSE NULL END
					RETURNING `+renditionColumns,
					jobID, profile.Name, profile.Resolution, profile.Bitrate, currentTime)

				rendition, scanErr := scanRendition(row)
				if scanErr != nil {
					return fmt.Errorf("insert rendition %s: %w", profile.Name, scanErr)
				}
				renditions = append(renditions, rendition)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return renditions, nil
}

// ListByJob returns all renditions for a job ordered by profile name.
func (r *RenditionRepo) ListByJob(ctx context.Context, jobID string) ([]*model.Rendition, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+renditionColumns+`
		FROM renditions
		WHERE job_id = $1
		ORDER BY profile_name ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var renditions []*model.Rendition
	for rows.Next() {
		rendition, scanErr := scanRendition(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan rendition: %w", scanErr)
		}
		renditions = append(renditions, rendition)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate renditions: %w", rowsErr)
	}
	return renditions, nil
}

func (r *RenditionRepo) transition(ctx context.Context, query string, args ...any) (bool, error) {
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

// MarkProcessing transitions pending -> processing.
func (r *RenditionRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE renditions
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark rendition processing: %w", err)
	}
	return ok, nil
}

// MarkCompleted transitions processing -> completed and records the output path.
func (r *RenditionRepo) MarkCompleted(ctx context.Context, id, outputPath string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE renditions
		SET status = 'completed', output_path = $2, completed_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, outputPath, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark rendition completed: %w", err)
	}
	return ok, nil
}

// MarkFailed transitions pending or processing -> failed.
func (r *RenditionRepo) MarkFailed(ctx context.Context, id string) (bool, error) {
	ok, err := r.transition(ctx, `
		UPDATE renditions
		SET status = 'failed', completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark rendition failed: %w", err)
	}
	return ok, nil
}
