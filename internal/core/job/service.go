package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"enricher/internal/core/commit"
	"enricher/internal/core/scan"
	"enricher/internal/core/session"
	"enricher/internal/logger"
	"enricher/internal/platform/tasks"
	"enricher/internal/store"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ErrInvalidSpec rejects malformed submissions before any job is created.
var ErrInvalidSpec = errors.New("invalid job spec")

// Fetcher runs one target through the extraction pipeline.
type Fetcher interface {
	Extract(ctx context.Context, sess *session.Session, profile store.Profile, target string) (store.Payload, error)
}

// Sessions resolves the authenticated browsing context for a job.
type Sessions interface {
	Establish(ctx context.Context, jobID string, profile store.Profile) (*session.Session, error)
	Release(jobID string)
}

// Runner drains a target list through the bounded worker pool.
type Runner interface {
	Run(ctx context.Context, targets []string, skip func(string) bool, work func(ctx context.Context, target string))
}

// Scanner builds navigation trees and plans bulk target lists.
type Scanner interface {
	Scan(ctx context.Context, req scan.Request) (*scan.Node, error)
	PlanTargets(ctx context.Context, rootURL string, deep bool) ([]string, error)
}

// Committer promotes staged results into the catalog.
type Committer interface {
	Commit(ctx context.Context, jobID, profileID string) (commit.Summary, error)
}

// TaskClient enqueues background work.
type TaskClient interface {
	Enqueue(task *asynq.Task, queue string, maxRetries int) error
}

// Options tune orchestration policy.
type Options struct {
	// FailureThreshold is the failed/processed ratio above which the whole
	// job is marked failed instead of completing with item errors.
	FailureThreshold float64
	// CommitOnStop promotes already-staged items when a job is stopped
	// without a data purge.
	CommitOnStop   bool
	TaskMaxRetries int
}

// Service owns job lifecycle: submission, scheduling, progress accounting,
// stop handling and the staging -> commit handoff.
type Service struct {
	log       *logger.Logger
	jobs      Store
	staging   store.StagingStore
	catalog   store.CatalogStore
	profiles  store.ProfileStore
	tasks     TaskClient
	pool      Runner
	fetcher   Fetcher
	sessions  Sessions
	scanner   Scanner
	committer Committer
	opts      Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewService(jobs Store, staging store.StagingStore, catalog store.CatalogStore, profiles store.ProfileStore,
	taskClient TaskClient, runner Runner, fetcher Fetcher, sessions Sessions, scanner Scanner, committer Committer,
	opts Options) *Service {
	if opts.FailureThreshold <= 0 || opts.FailureThreshold > 1 {
		opts.FailureThreshold = 0.5
	}
	return &Service{
		log:       logger.New("JobService"),
		jobs:      jobs,
		staging:   staging,
		catalog:   catalog,
		profiles:  profiles,
		tasks:     taskClient,
		pool:      runner,
		fetcher:   fetcher,
		sessions:  sessions,
		scanner:   scanner,
		committer: committer,
		opts:      opts,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// TaskPayload is the queue message; everything else is re-read from the
// store so interrupted jobs resume from durable state.
type TaskPayload struct {
	JobID string `json:"job_id"`
}

// Submit validates the request, persists a pending job and enqueues it.
func (s *Service) Submit(ctx context.Context, jobType Type, params Params) (Job, error) {
	if err := validate(jobType, params); err != nil {
		return Job{}, err
	}
	if _, err := s.profiles.GetProfile(ctx, params.ProfileID); err != nil {
		return Job{}, fmt.Errorf("%w: profile %s: %v", ErrInvalidSpec, params.ProfileID, err)
	}

	j := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    StatusPending,
		ProfileID: params.ProfileID,
		Params:    params,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return Job{}, err
	}

	taskType := tasks.TaskTypeBulkExtract
	if jobType == TypeStructureScan {
		taskType = tasks.TaskTypeStructureScan
	}
	payload, _ := json.Marshal(TaskPayload{JobID: j.ID})
	if err := s.tasks.Enqueue(asynq.NewTask(taskType, payload), "default", s.opts.TaskMaxRetries); err != nil {
		return Job{}, err
	}
	s.log.LogInfof("submitted %s job %s (profile %s)", jobType, j.ID, params.ProfileID)
	return j, nil
}

func validate(jobType Type, params Params) error {
	if params.ProfileID == "" {
		return fmt.Errorf("%w: profile_id is required", ErrInvalidSpec)
	}
	switch jobType {
	case TypeBulkExtract:
		if len(params.URLs) == 0 && params.ScanRoot == "" {
			return fmt.Errorf("%w: bulk-extract needs target urls or a scan_root", ErrInvalidSpec)
		}
		for _, u := range params.URLs {
			if u == "" {
				return fmt.Errorf("%w: empty target url", ErrInvalidSpec)
			}
		}
	case TypeStructureScan:
		if params.ScanRoot == "" {
			return fmt.Errorf("%w: structure-scan needs a scan_root", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidSpec, jobType)
	}
	return nil
}

// Get returns the job by id.
func (s *Service) Get(ctx context.Context, id string) (Job, error) { return s.jobs.Get(ctx, id) }

// ListActive returns all non-terminal jobs from the durable store, so jobs
// survive process restarts and still show up on the control surface.
func (s *Service) ListActive(ctx context.Context) ([]Job, error) { return s.jobs.ListActive(ctx) }

// ResumeActive re-enqueues every non-terminal job found at startup. Task
// handlers re-read durable state and skip already-succeeded targets, so a
// job interrupted by a crash picks up where it left off.
func (s *Service) ResumeActive(ctx context.Context) error {
	active, err := s.jobs.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, j := range active {
		taskType := tasks.TaskTypeBulkExtract
		if j.Type == TypeStructureScan {
			taskType = tasks.TaskTypeStructureScan
		}
		payload, _ := json.Marshal(TaskPayload{JobID: j.ID})
		if err := s.tasks.Enqueue(asynq.NewTask(taskType, payload), "default", s.opts.TaskMaxRetries); err != nil {
			s.log.LogErrorf("resume job %s: %v", j.ID, err)
			continue
		}
		s.log.LogInfof("resumed interrupted job %s (status=%s)", j.ID, j.Status)
	}
	return nil
}

// RequestStop signals cooperative cancellation. In-flight targets finish;
// no new targets are dispatched. With purge, all staged data and
// job-provenance products are deleted once the pool drains.
func (s *Service) RequestStop(ctx context.Context, id string, purge bool) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	if err := s.jobs.SetStopRequested(ctx, id, purge); err != nil {
		return err
	}

	// A pending job was never scheduled: settle it here.
	if j.Status == StatusPending {
		if purge {
			s.purgeData(ctx, id)
		}
		return s.jobs.UpdateStatus(ctx, id, StatusStopped, "cancelled by user")
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.log.LogInfof("stop requested for job %s (purge=%v)", id, purge)
	return nil
}

// Purge deletes a terminal job and everything it owns.
func (s *Service) Purge(ctx context.Context, id string) error {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return err
	}
	s.purgeData(ctx, id)
	return s.jobs.Delete(ctx, id)
}

func (s *Service) purgeData(ctx context.Context, id string) {
	if err := s.staging.DeleteByJob(ctx, id); err != nil {
		s.log.LogErrorf("purge staging for %s: %v", id, err)
	}
	if n, err := s.catalog.DeleteByJob(ctx, id); err != nil {
		s.log.LogErrorf("purge products for %s: %v", id, err)
	} else if n > 0 {
		s.log.LogInfof("purged %d products provenanced by job %s", n, id)
	}
}

// HandleBulkTask is the asynq handler driving a bulk-extract job end to end.
func (s *Service) HandleBulkTask(ctx context.Context, task *asynq.Task) error {
	var p TaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return err
	}
	j, err := s.jobs.Get(ctx, p.JobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	if err := s.Start(ctx, j.ID); err != nil {
		return err
	}

	profile, err := s.profiles.GetProfile(ctx, j.ProfileID)
	if err != nil {
		return s.fail(ctx, j.ID, "profile lookup failed: "+err.Error())
	}

	// Auth mode is resolved once per job; a failed pre-login fails the job
	// before any worker is dispatched.
	sess, err := s.sessions.Establish(ctx, j.ID, profile)
	if err != nil {
		if errors.Is(err, session.ErrAuthFailed) {
			return s.fail(ctx, j.ID, "AuthFailed: "+err.Error())
		}
		return err
	}
	defer s.sessions.Release(j.ID)

	targets := j.Params.URLs
	if len(targets) == 0 {
		targets, err = s.scanner.PlanTargets(ctx, j.Params.ScanRoot, true)
		if err != nil {
			return s.fail(ctx, j.ID, "planning failed: "+err.Error())
		}
	}
	targets = dedupe(targets)
	if j.Counters.Queued < len(targets) {
		if err := s.jobs.AddQueued(ctx, j.ID, len(targets)-j.Counters.Queued); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[j.ID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, j.ID)
		s.mu.Unlock()
	}()

	skip := func(url string) bool {
		item, err := s.staging.Get(ctx, j.ID, url)
		return err == nil && item.Status == store.ItemOK
	}
	work := func(wctx context.Context, target string) {
		payload, err := s.fetcher.Extract(wctx, sess, profile, target)
		if rerr := s.ReportItemResult(ctx, j.ID, target, payload, err); rerr != nil {
			s.log.LogErrorf("report %s for job %s: %v", target, j.ID, rerr)
		}
	}
	s.pool.Run(runCtx, targets, skip, work)

	return s.finalize(ctx, j.ID)
}

// ReportItemResult records one target outcome: the staging row is keyed
// (job, url) so a retry overwrites instead of duplicating, and counters move
// atomically, swapping instead of double counting on overwrite.
func (s *Service) ReportItemResult(ctx context.Context, jobID, url string, payload store.Payload, itemErr error) error {
	item := store.StagingItem{JobID: jobID, URL: url, Status: store.ItemOK, Payload: payload}
	if itemErr != nil {
		item.Status = store.ItemError
		item.Error = itemErr.Error()
		item.Payload = store.Payload{}
	}

	prev, err := s.staging.Get(ctx, jobID, url)
	firstReport := err != nil
	if err := s.staging.Upsert(ctx, item); err != nil {
		return err
	}
	if !firstReport && prev.Status == item.Status {
		return nil
	}
	counters, err := s.jobs.ApplyItemResult(ctx, jobID, item.Status == store.ItemOK, !firstReport)
	if err != nil {
		return err
	}
	s.log.LogDebugf("job %s progress %d/%d (ok=%d err=%d)", jobID, counters.Processed, counters.Queued, counters.Succeeded, counters.Failed)
	return nil
}

// Start moves a pending job to running. Idempotent: a job already running
// is left untouched.
func (s *Service) Start(ctx context.Context, id string) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != StatusPending {
		return nil
	}
	return s.jobs.UpdateStatus(ctx, id, StatusRunning, "")
}

// finalize settles a drained job: stop handling, failure-threshold policy,
// then the staging -> commit promotion.
func (s *Service) finalize(ctx context.Context, id string) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}

	if j.StopRequested {
		return s.settleStopped(ctx, j)
	}

	c := j.Counters
	if c.Processed > 0 && float64(c.Failed)/float64(c.Processed) > s.opts.FailureThreshold {
		sum := Summary{Errors: c.Failed, Cause: "ThresholdExceeded", SampleErrors: s.sampleErrors(ctx, id)}
		_ = s.jobs.SetSummary(ctx, id, sum)
		return s.fail(ctx, id, fmt.Sprintf("ThresholdExceeded: %d of %d targets failed", c.Failed, c.Processed))
	}

	return s.Finalize(ctx, id)
}

// Finalize runs the commit phase. It is retriable: a crash mid-commit
// leaves the job in waiting_commit and upserts are idempotent.
func (s *Service) Finalize(ctx context.Context, id string) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == StatusRunning {
		if err := s.jobs.UpdateStatus(ctx, id, StatusWaitingCommit, ""); err != nil {
			return err
		}
	}

	commitSum, err := s.committer.Commit(ctx, id, j.ProfileID)
	if err != nil {
		return s.fail(ctx, id, "CommitError: "+err.Error())
	}
	sum := Summary{
		Staged:       commitSum.Staged,
		Promoted:     commitSum.Promoted,
		Duplicates:   commitSum.Duplicates,
		Errors:       j.Counters.Failed + commitSum.Errors,
		SampleErrors: s.sampleErrors(ctx, id),
	}
	if err := s.jobs.SetSummary(ctx, id, sum); err != nil {
		return err
	}
	s.log.LogInfof("job %s completed: promoted=%d errors=%d", id, sum.Promoted, sum.Errors)
	return s.jobs.UpdateStatus(ctx, id, StatusCompleted, "")
}

func (s *Service) settleStopped(ctx context.Context, j Job) error {
	if j.PurgeOnStop {
		s.purgeData(ctx, j.ID)
		_ = s.jobs.SetSummary(ctx, j.ID, Summary{Cause: "CancelledByUser", SampleErrors: nil})
		return s.jobs.UpdateStatus(ctx, j.ID, StatusStopped, "cancelled by user, data purged")
	}
	if s.opts.CommitOnStop {
		commitSum, err := s.committer.Commit(ctx, j.ID, j.ProfileID)
		if err != nil {
			s.log.LogErrorf("partial commit for stopped job %s: %v", j.ID, err)
		} else {
			_ = s.jobs.SetSummary(ctx, j.ID, Summary{
				Staged:     commitSum.Staged,
				Promoted:   commitSum.Promoted,
				Duplicates: commitSum.Duplicates,
				Errors:     j.Counters.Failed + commitSum.Errors,
				Cause:      "CancelledByUser",
			})
		}
	} else {
		_ = s.jobs.SetSummary(ctx, j.ID, Summary{Cause: "CancelledByUser"})
	}
	return s.jobs.UpdateStatus(ctx, j.ID, StatusStopped, "cancelled by user")
}

func (s *Service) fail(ctx context.Context, id, cause string) error {
	s.log.LogWarnf("job %s failed: %s", id, cause)
	j, err := s.jobs.Get(ctx, id)
	if err == nil && (j.Summary == nil || j.Summary.Cause == "") {
		_ = s.jobs.SetSummary(ctx, id, Summary{Errors: j.Counters.Failed, Cause: cause})
	}
	return s.jobs.UpdateStatus(ctx, id, StatusFailed, cause)
}

// HandleScanTask is the asynq handler for structure-scan jobs.
func (s *Service) HandleScanTask(ctx context.Context, task *asynq.Task) error {
	var p TaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return err
	}
	j, err := s.jobs.Get(ctx, p.JobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	if err := s.Start(ctx, j.ID); err != nil {
		return err
	}

	tree, err := s.scanner.Scan(ctx, scan.Request{URL: j.Params.ScanRoot, Deep: j.Params.Deep})
	if err != nil {
		return s.fail(ctx, j.ID, "scan failed: "+err.Error())
	}
	if err := s.jobs.SetSummary(ctx, j.ID, Summary{Tree: tree}); err != nil {
		return err
	}
	return s.jobs.UpdateStatus(ctx, j.ID, StatusCompleted, "")
}

func (s *Service) sampleErrors(ctx context.Context, jobID string) []string {
	items, err := s.staging.ListByJob(ctx, jobID)
	if err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		if it.Status == store.ItemError && it.Error != "" {
			out = append(out, fmt.Sprintf("%s: %s", it.URL, it.Error))
			if len(out) == 5 {
				break
			}
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
