package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// memJobRepo is an in-memory core.JobRepository with the same conditional
// transition semantics as the Postgres repository. Error fields, when set,
// force the matching method to fail.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	listReceivedErr  error
	markCompletedErr error
	markFailedErr    error
	incrementErr     error
}

func newMemJobRepo(jobs ...*model.Job) *memJobRepo {
	repo := &memJobRepo{jobs: make(map[string]*model.Job)}
	for _, job := range jobs {
		repo.put(job)
	}
	return repo
}

func (r *memJobRepo) put(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
}

// snapshot returns a copy of the stored row, failing the test caller's
// assertion path with nil when the id is unknown.
func (r *memJobRepo) snapshot(id string) *model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

func (r *memJobRepo) CreateIdempotent(_ context.Context, req *model.CreateJobRequest) (*model.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.TenantID == req.TenantID && job.VideoID == req.VideoID && !job.Status.Terminal() {
			copied := *job
			return &copied, false, nil
		}
	}
	job := &model.Job{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		VideoID:       req.VideoID,
		Status:        model.JobStatusReceived,
		InputLocation: req.InputLocation,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	r.jobs[job.ID] = job
	copied := *job
	return &copied, true, nil
}

func (r *memJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	job := r.snapshot(id)
	if job == nil {
		return nil, data.ErrJobNotFound
	}
	return job, nil
}

func (r *memJobRepo) GetByKey(_ context.Context, key model.JobKey) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *model.Job
	for _, job := range r.jobs {
		if job.TenantID != key.TenantID || job.VideoID != key.VideoID {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, data.ErrJobNotFound
	}
	copied := *newest
	return &copied, nil
}

func (r *memJobRepo) ListReceived(_ context.Context, limit int) ([]*model.Job, error) {
	if r.listReceivedErr != nil {
		return nil, r.listReceivedErr
	}
	return r.listByStatus(model.JobStatusReceived, limit), nil
}

func (r *memJobRepo) ListCompletedBefore(_ context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if job.Status == model.JobStatusCompleted && job.UpdatedAt.Before(cutoff) {
			copied := *job
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memJobRepo) ListProcessingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if job.Status == model.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			copied := *job
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memJobRepo) listByStatus(status model.JobStatus, limit int) []*model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if job.Status != status {
			continue
		}
		copied := *job
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (r *memJobRepo) transition(id string, from, to model.JobStatus, mutate func(*model.Job)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, data.ErrJobNotFound
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(job)
	}
	return true, nil
}

func (r *memJobRepo) MarkProcessing(_ context.Context, id string) (bool, error) {
	return r.transition(id, model.JobStatusReceived, model.JobStatusProcessing, nil)
}

func (r *memJobRepo) MarkCompleted(_ context.Context, id, manifestLocation string) (bool, error) {
	if r.markCompletedErr != nil {
		return false, r.markCompletedErr
	}
	return r.transition(id, model.JobStatusProcessing, model.JobStatusCompleted, func(job *model.Job) {
		job.OutputManifestLocation = &manifestLocation
	})
}

func (r *memJobRepo) MarkFailed(_ context.Context, id, errMsg string, from model.JobStatus) (bool, error) {
	if r.markFailedErr != nil {
		return false, r.markFailedErr
	}
	return r.transition(id, from, model.JobStatusFailed, func(job *model.Job) {
		job.ErrorMessage = &errMsg
	})
}

func (r *memJobRepo) MarkNotified(_ context.Context, id string) (bool, error) {
	return r.transition(id, model.JobStatusCompleted, model.JobStatusNotified, nil)
}

func (r *memJobRepo) MarkReceived(_ context.Context, id string) (bool, error) {
	return r.transition(id, model.JobStatusProcessing, model.JobStatusReceived, nil)
}

func (r *memJobRepo) IncrementNotificationAttempts(_ context.Context, id string) (int, error) {
	if r.incrementErr != nil {
		return 0, r.incrementErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return 0, data.ErrJobNotFound
	}
	job.NotificationAttempts++
	return job.NotificationAttempts, nil
}

func (r *memJobRepo) List(_ context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if opts != nil && opts.Status != nil && job.Status != *opts.Status {
			continue
		}
		if opts != nil && opts.VideoID != nil && job.VideoID != *opts.VideoID {
			continue
		}
		copied := *job
		out = append(out, &copied)
		if opts != nil && opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (r *memJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case model.JobStatusReceived:
			stats.Received++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusNotified:
			stats.Notified++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// memRenditionRepo is an in-memory core.RenditionRepository. Rows keep their
// creation order in ListByJob.
type memRenditionRepo struct {
	mu    sync.Mutex
	rows  map[string]*model.Rendition
	order []string

	createErr error
}

func newMemRenditionRepo() *memRenditionRepo {
	return &memRenditionRepo{rows: make(map[string]*model.Rendition)}
}

func (r *memRenditionRepo) CreateForJob(_ context.Context, jobID string, profiles []model.RenditionProfile) ([]*model.Rendition, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Rendition, 0, len(profiles))
	for _, p := range profiles {
		row := r.upsertLocked(jobID, p)
		copied := *row
		out = append(out, &copied)
	}
	return out, nil
}

// upsertLocked reuses an existing (job, profile) row: completed rows keep
// their output, anything else resets to pending for a reattempt.
func (r *memRenditionRepo) upsertLocked(jobID string, p model.RenditionProfile) *model.Rendition {
	for _, id := range r.order {
		row := r.rows[id]
		if row.JobID != jobID || row.ProfileName != p.Name {
			continue
		}
		if row.Status != model.RenditionStatusCompleted {
			row.Status = model.RenditionStatusPending
			row.OutputPath = nil
			row.CompletedAt = nil
		}
		return row
	}
	row := &model.Rendition{
		ID:          uuid.NewString(),
		JobID:       jobID,
		ProfileName: p.Name,
		Resolution:  p.Resolution,
		Bitrate:     p.Bitrate,
		Status:      model.RenditionStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	r.rows[row.ID] = row
	r.order = append(r.order, row.ID)
	return row
}

func (r *memRenditionRepo) ListByJob(_ context.Context, jobID string) ([]*model.Rendition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Rendition, 0)
	for _, id := range r.order {
		row := r.rows[id]
		if row.JobID != jobID {
			continue
		}
		copied := *row
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memRenditionRepo) add(row *model.Rendition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *row
	r.rows[row.ID] = &copied
	r.order = append(r.order, row.ID)
}

func (r *memRenditionRepo) transition(id string, from, to model.RenditionStatus, mutate func(*model.Rendition)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, data.ErrRenditionNotFound
	}
	if row.Status != from {
		return false, nil
	}
	row.Status = to
	if mutate != nil {
		mutate(row)
	}
	return true, nil
}

func (r *memRenditionRepo) MarkProcessing(_ context.Context, id string) (bool, error) {
	return r.transition(id, model.RenditionStatusPending, model.RenditionStatusProcessing, nil)
}

func (r *memRenditionRepo) MarkCompleted(_ context.Context, id, outputPath string) (bool, error) {
	return r.transition(id, model.RenditionStatusProcessing, model.RenditionStatusCompleted, func(row *model.Rendition) {
		row.OutputPath = &outputPath
		now := time.Now().UTC()
		row.CompletedAt = &now
	})
}

func (r *memRenditionRepo) MarkFailed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, data.ErrRenditionNotFound
	}
	if row.Status == model.RenditionStatusCompleted || row.Status == model.RenditionStatusFailed {
		return false, nil
	}
	row.Status = model.RenditionStatusFailed
	return true, nil
}

// memLockService is an in-memory core.LockService tracking held keys and
// call counts. extendResult defaults to extensions succeeding.
type memLockService struct {
	mu   sync.Mutex
	held map[string]bool

	acquires int
	releases int
	extends  int

	acquireErr error
	existsErr  error
	extendErr  error
	extendFail bool
}

func newMemLockService() *memLockService {
	return &memLockService{held: make(map[string]bool)}
}

func (l *memLockService) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLockService) Release(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	if !l.held[key] {
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}

func (l *memLockService) Extend(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	if l.extendErr != nil {
		return false, l.extendErr
	}
	if l.extendFail {
		return false, nil
	}
	return l.held[key], nil
}

func (l *memLockService) Exists(_ context.Context, key string) (bool, error) {
	if l.existsErr != nil {
		return false, l.existsErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key], nil
}

func (l *memLockService) holds(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

// fakeStore is an in-memory core.ObjectStore. Locations are rendered as
// s3://test-bucket/<key> so assertions can check the exact value services
// persist.
type fakeStore struct {
	mu        sync.Mutex
	downloads []string
	uploads   map[string]string
	puts      map[string][]byte

	downloadErr error
	uploadErr   error
	putErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploads: make(map[string]string),
		puts:    make(map[string][]byte),
	}
}

func (s *fakeStore) location(key string) string {
	return "s3://test-bucket/" + key
}

func (s *fakeStore) Download(_ context.Context, key, _ string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, key)
	return nil
}

func (s *fakeStore) Upload(_ context.Context, key, srcPath, _ string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = srcPath
	return s.location(key), nil
}

func (s *fakeStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[key] = append([]byte(nil), body...)
	return s.location(key), nil
}

// fakeEncoder records encode requests. encodeFn, when set, decides the
// outcome per request.
type fakeEncoder struct {
	mu       sync.Mutex
	requests []core.EncodeRequest

	encodeFn func(ctx context.Context, req core.EncodeRequest) error
}

func (e *fakeEncoder) Encode(ctx context.Context, req core.EncodeRequest) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	if e.encodeFn != nil {
		return e.encodeFn(ctx, req)
	}
	return nil
}

func (e *fakeEncoder) encoded() []core.EncodeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.EncodeRequest(nil), e.requests...)
}

// fakePublisher records published events and pops one queued error per call.
type fakePublisher struct {
	mu     sync.Mutex
	events []*model.TranscodedEvent
	errs   []error
}

func (p *fakePublisher) PublishTranscoded(_ context.Context, event *model.TranscodedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return err
		}
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) published() []*model.TranscodedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.TranscodedEvent(nil), p.events...)
}

// blockingProcessor is a JobProcessor that parks until released, for
// saturation tests.
type blockingProcessor struct {
	started chan string
	release chan struct{}
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (p *blockingProcessor) Process(ctx context.Context, job *model.Job) error {
	p.started <- job.ID
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordingProcessor is a JobProcessor that completes immediately.
type recordingProcessor struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (p *recordingProcessor) Process(_ context.Context, job *model.Job) error {
	p.mu.Lock()
	p.jobs = append(p.jobs, job.ID)
	p.mu.Unlock()
	return p.err
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.jobs...)
}

// recordingSink counts emitted metrics by name.
type recordingSink struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *recordingSink) Count(name string, value int64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[name] += value
}

func (s *recordingSink) Gauge(string, float64, map[string]string)        {}
func (s *recordingSink) Timing(string, time.Duration, map[string]string) {}

func (s *recordingSink) counted(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

var _ core.JobRepository = (*memJobRepo)(nil)
var _ core.RenditionRepository = (*memRenditionRepo)(nil)
var _ core.LockService = (*memLockService)(nil)
var _ core.ObjectStore = (*fakeStore)(nil)
var _ core.Encoder = (*fakeEncoder)(nil)
var _ core.EventPublisher = (*fakePublisher)(nil)
var _ statsd.Sink = (*recordingSink)(nil)

// errBoom is the generic injected failure for these tests.
var errBoom = fmt.Errorf("boom")
