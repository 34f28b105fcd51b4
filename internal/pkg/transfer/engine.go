package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/app/repository"
	"github.com/cloudhop/cloudhop/internal/pkg/provider"
	"github.com/cloudhop/cloudhop/internal/pkg/quota"
	"github.com/cloudhop/cloudhop/internal/pkg/slots"
)

var (
	// ErrSameAccount rejects a job whose source and target are the same
	// provider account.
	ErrSameAccount = errors.New("source and target must be different accounts")
	// ErrNoFiles rejects a job created with an empty file list.
	ErrNoFiles = errors.New("no files selected")
	// ErrWrongPhase is returned when a phase is invoked out of order.
	ErrWrongPhase = errors.New("job is not in the right phase for this operation")
	// ErrJobTerminal is returned when cancelling an already settled job.
	ErrJobTerminal = errors.New("job already reached a terminal status")
)

// Per-job pacing. The inter-item delay keeps us under the providers'
// per-account rate limits; the retry cap bounds how long one throttled
// item can hold its worker.
const (
	DefaultItemDelay          = 10 * time.Second
	DefaultMaxRateLimitRetries = 5
	defaultRateLimitWait       = 30 * time.Second
)

// Engine orchestrates the Create -> Prepare -> Run pipeline for transfer
// jobs. One Engine serves all jobs; each running job gets its own
// sequential item loop.
type Engine struct {
	jobs     repository.JobRepository
	quota    *quota.Service
	slots    *slots.Service
	resolver provider.Resolver

	itemDelay  time.Duration
	maxRetries int
	sleep      func(time.Duration)
	now        func() time.Time
}

// NewEngine wires the engine against its collaborators.
func NewEngine(jobs repository.JobRepository, quotaSvc *quota.Service, slotSvc *slots.Service, resolver provider.Resolver) *Engine {
	return &Engine{
		jobs:       jobs,
		quota:      quotaSvc,
		slots:      slotSvc,
		resolver:   resolver,
		itemDelay:  DefaultItemDelay,
		maxRetries: DefaultMaxRateLimitRetries,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// CreateRequest is the input of the create phase.
type CreateRequest struct {
	SourceProvider  string   `json:"source_provider" validate:"required"`
	SourceAccountID string   `json:"source_account_id" validate:"required"`
	TargetProvider  string   `json:"target_provider" validate:"required"`
	TargetAccountID string   `json:"target_account_id" validate:"required"`
	TargetFolderID  string   `json:"target_folder_id"`
	FileIDs         []string `json:"file_ids" validate:"required,min=1"`
}

// Create validates the account pairing and persists an empty pending job.
// No remote calls happen here.
func (e *Engine) Create(userID uint, req CreateRequest) (*models.TransferJob, error) {
	if len(req.FileIDs) == 0 {
		return nil, ErrNoFiles
	}
	if req.SourceProvider == req.TargetProvider && req.SourceAccountID == req.TargetAccountID {
		return nil, ErrSameAccount
	}

	// Both endpoints must be accounts the caller currently owns.
	if _, err := e.slots.GetCredentials(userID, req.SourceProvider, req.SourceAccountID); err != nil {
		return nil, fmt.Errorf("source account: %w", err)
	}
	if _, err := e.slots.GetCredentials(userID, req.TargetProvider, req.TargetAccountID); err != nil {
		return nil, fmt.Errorf("target account: %w", err)
	}

	job := &models.TransferJob{
		UUID:             uuid.New().String(),
		UserID:           userID,
		SourceProvider:   req.SourceProvider,
		SourceAccountID:  req.SourceAccountID,
		TargetProvider:   req.TargetProvider,
		TargetAccountID:  req.TargetAccountID,
		TargetFolderID:   req.TargetFolderID,
		RequestedFileIDs: req.FileIDs,
		Status:           models.JobPending,
	}
	if err := e.jobs.Create(job); err != nil {
		return nil, err
	}

	log.Infof("[Transfer] Created job %s (%d files, %s -> %s)", job.UUID, len(req.FileIDs), req.SourceProvider, req.TargetProvider)
	return job, nil
}

// Prepare resolves the requested files into transfer items and pre-checks
// quota for the whole batch. No usage counter moves here; a quota shortfall
// parks the job in blocked_quota with nothing mutated.
func (e *Engine) Prepare(ctx context.Context, jobUUID string, userID uint) (*models.TransferJob, error) {
	job, err := e.jobs.GetByUUIDForUser(jobUUID, userID)
	if err != nil {
		return nil, err
	}

	ok, err := e.jobs.SetStatusIf(job.ID, models.JobPending, models.JobPreparing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return job, ErrWrongPhase
	}
	job.Status = models.JobPreparing

	src, err := e.resolveGateway(job.UserID, job.SourceProvider, job.SourceAccountID)
	if err != nil {
		return e.failJob(job, fmt.Sprintf("source account unavailable: %v", err))
	}

	var (
		surviving   []models.TransferItem
		failed      []models.TransferItem
		batchBytes  uint64
		batchCopies uint64
	)
	for _, fileID := range job.RequestedFileIDs {
		mctx, cancel := context.WithTimeout(ctx, provider.MetadataTimeout)
		meta, err := src.GetItem(mctx, fileID)
		cancel()

		item := models.TransferItem{JobID: job.ID, SourceItemID: fileID}
		switch {
		case err != nil:
			item.Status = models.ItemFailed
			item.ErrorMessage = fmt.Sprintf("metadata lookup failed: %v", err)
		case meta.IsFolder:
			item.SourceName = meta.Name
			item.Status = models.ItemFailed
			item.ErrorMessage = "folders are not transferable"
		default:
			item.SourceName = meta.Name
			item.SizeBytes = meta.Size
			if err := e.quota.CheckFileSize(job.UserID, meta.Size); err != nil {
				item.Status = models.ItemFailed
				item.ErrorMessage = err.Error()
			} else {
				item.Status = models.ItemQueued
				batchBytes += meta.Size
				batchCopies++
				surviving = append(surviving, item)
				continue
			}
		}
		failed = append(failed, item)
	}

	// Nothing survived: the job fails as a whole, with the per-item
	// reasons preserved.
	if len(surviving) == 0 {
		if err := e.jobs.CreateItems(failed); err != nil {
			return nil, err
		}
		job.TotalItems = len(failed)
		job.FailedItems = len(failed)
		return e.finishJob(job, models.JobFailed)
	}

	// Batch quota pre-check before any item exists.
	if err := e.quota.CheckCopyQuota(job.UserID, batchCopies); err != nil {
		if _, e2 := e.finishJob(job, models.JobBlockedQuota); e2 != nil {
			return nil, e2
		}
		return job, err
	}
	if err := e.quota.CheckTransferBytes(job.UserID, batchBytes); err != nil {
		if _, e2 := e.finishJob(job, models.JobBlockedQuota); e2 != nil {
			return nil, e2
		}
		return job, err
	}

	if err := e.jobs.CreateItems(append(surviving, failed...)); err != nil {
		return nil, err
	}

	job.TotalItems = len(surviving) + len(failed)
	job.FailedItems = len(failed)
	job.TotalBytes = batchBytes
	job.Status = models.JobQueued
	if err := e.jobs.Update(job); err != nil {
		return nil, err
	}

	log.Infof("[Transfer] Prepared job %s: %d queued, %d failed, %d bytes", job.UUID, len(surviving), len(failed), batchBytes)
	return job, nil
}

// Run drives the sequential item loop for one job. Re-running a terminal
// job is a no-op; re-running an interrupted job resumes its unsettled
// items.
func (e *Engine) Run(ctx context.Context, jobID uint) error {
	job, err := e.jobs.GetByID(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		log.Infof("[Transfer] Job %s already %s, run is a no-op", job.UUID, job.Status)
		return nil
	}

	switch job.Status {
	case models.JobQueued:
		ok, err := e.jobs.SetStatusIf(job.ID, models.JobQueued, models.JobRunning)
		if err != nil {
			return err
		}
		if !ok {
			// Raced with a cancel or another worker.
			return nil
		}
		job.Status = models.JobRunning
		if job.StartedAt == nil {
			now := e.now()
			job.StartedAt = &now
			if err := e.jobs.Update(job); err != nil {
				return err
			}
		}
	case models.JobRunning:
		// Resume after an interrupted worker.
	default:
		return ErrWrongPhase
	}

	src, err := e.resolveGateway(job.UserID, job.SourceProvider, job.SourceAccountID)
	if err != nil {
		_, ferr := e.failJob(job, "")
		if ferr != nil {
			return ferr
		}
		return err
	}
	dst, err := e.resolveGateway(job.UserID, job.TargetProvider, job.TargetAccountID)
	if err != nil {
		_, ferr := e.failJob(job, "")
		if ferr != nil {
			return ferr
		}
		return err
	}

	items, err := e.jobs.GetPendingItems(job.ID)
	if err != nil {
		return err
	}

	for i := range items {
		// Cooperative cancellation, observed between items only.
		current, err := e.jobs.GetByID(job.ID)
		if err != nil {
			return err
		}
		if current.Status == models.JobCancelled {
			log.Infof("[Transfer] Job %s cancelled, stopping after %d items", job.UUID, i)
			return nil
		}
		job = current

		if err := e.processItem(ctx, job, &items[i], src, dst); err != nil {
			return err
		}
	}

	return e.settle(job)
}

// processItem settles exactly one item: duplicate-skip, copy with bounded
// rate-limit retries, then the idempotent usage commit.
func (e *Engine) processItem(ctx context.Context, job *models.TransferJob, item *models.TransferItem, src, dst provider.Gateway) error {
	item.Status = models.ItemRunning
	if err := e.jobs.UpdateItem(item); err != nil {
		return err
	}

	existing, err := e.withRateLimitRetry(func() (*provider.Item, error) {
		mctx, cancel := context.WithTimeout(ctx, provider.MetadataTimeout)
		defer cancel()
		return dst.FindChildByName(mctx, job.TargetFolderID, item.SourceName)
	})
	if err != nil {
		return e.settleItem(job, item, models.ItemFailed, fmt.Sprintf("duplicate check failed: %v", err), nil, false)
	}
	if existing != nil {
		// Target already holds this file. No copy, no quota.
		log.Infof("[Transfer] Job %s: %q already at target, skipping", job.UUID, item.SourceName)
		return e.settleItem(job, item, models.ItemSkipped, "", existing, false)
	}

	copied, err := e.withRateLimitRetry(func() (*provider.Item, error) {
		cctx, cancel := context.WithTimeout(ctx, provider.CopyTimeout)
		defer cancel()
		return provider.Copy(cctx, src, item.SourceItemID, dst, job.TargetFolderID, item.SourceName, item.SizeBytes)
	})
	if err != nil {
		// One item's failure never aborts the batch.
		log.Warnf("[Transfer] Job %s: copy of %q failed: %v", job.UUID, item.SourceName, err)
		return e.settleItem(job, item, models.ItemFailed, err.Error(), nil, false)
	}

	itemRef := fmt.Sprintf("item:%d", item.ID)
	if _, err := e.quota.CommitCopySuccess(job.UserID, itemRef, item.SizeBytes); err != nil {
		return err
	}
	return e.settleItem(job, item, models.ItemDone, "", copied, true)
}

// settleItem writes the item's terminal state, rolls the job counters
// forward and applies the inter-item pacing delay after real copies.
func (e *Engine) settleItem(job *models.TransferJob, item *models.TransferItem, status models.ItemStatus, errMsg string, result *provider.Item, delay bool) error {
	item.Status = status
	item.ErrorMessage = errMsg
	if result != nil {
		item.TargetItemID = result.ID
		item.TargetWebURL = result.WebURL
	}
	if err := e.jobs.UpdateItem(item); err != nil {
		return err
	}

	switch status {
	case models.ItemDone:
		job.CompletedItems++
		job.TransferredBytes += item.SizeBytes
	case models.ItemFailed:
		job.FailedItems++
	case models.ItemSkipped:
		job.SkippedItems++
	}
	if err := e.jobs.Update(job); err != nil {
		return err
	}

	if delay {
		e.sleep(e.itemDelay)
	}
	return nil
}

// withRateLimitRetry blocks on provider throttling and retries the same
// call, up to the retry cap. Any other error passes straight through.
func (e *Engine) withRateLimitRetry(call func() (*provider.Item, error)) (*provider.Item, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		item, err := call()
		if err == nil {
			return item, nil
		}
		wait, throttled := provider.IsRateLimit(err)
		if !throttled {
			return nil, err
		}
		lastErr = err
		if wait <= 0 {
			wait = defaultRateLimitWait
		}
		log.Warnf("[Transfer] Rate limited, waiting %s before retry %d/%d", wait, attempt+1, e.maxRetries)
		e.sleep(wait)
	}
	return nil, lastErr
}

// settle computes the job's terminal status from its aggregate counters.
func (e *Engine) settle(job *models.TransferJob) error {
	current, err := e.jobs.GetByID(job.ID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return nil
	}

	var status models.JobStatus
	switch {
	case current.CompletedItems == current.TotalItems:
		status = models.JobDone
	case current.SkippedItems == current.TotalItems:
		status = models.JobDoneSkipped
	case current.CompletedItems > 0:
		status = models.JobPartial
	default:
		status = models.JobFailed
	}

	// Guarded transition so a concurrent cancel keeps its win.
	ok, err := e.jobs.SetStatusIf(current.ID, models.JobRunning, status)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	now := e.now()
	current.Status = status
	current.CompletedAt = &now
	if err := e.jobs.Update(current); err != nil {
		return err
	}

	log.Infof("[Transfer] Job %s finished: %s (%d done, %d failed, %d skipped)", current.UUID, status, current.CompletedItems, current.FailedItems, current.SkippedItems)
	return nil
}

// Cancel flips a non-terminal job to cancelled. The running item, if any,
// is left for the next status read to reconcile.
func (e *Engine) Cancel(jobUUID string, userID uint) (*models.TransferJob, error) {
	job, err := e.jobs.GetByUUIDForUser(jobUUID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, ErrJobTerminal
	}
	ok, err := e.jobs.SetStatusIf(job.ID, job.Status, models.JobCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The status moved under us; re-read and re-judge.
		job, err = e.jobs.GetByUUIDForUser(jobUUID, userID)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, ErrJobTerminal
		}
		ok, err = e.jobs.SetStatusIf(job.ID, job.Status, models.JobCancelled)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race twice; the run loop settled the job between
			// our re-read and the swap. Report what actually happened.
			job, err = e.jobs.GetByUUIDForUser(jobUUID, userID)
			if err != nil {
				return nil, err
			}
			return job, ErrJobTerminal
		}
	}
	job.Status = models.JobCancelled
	log.Infof("[Transfer] Job %s cancelled", job.UUID)
	return job, nil
}

// Snapshot is what the status endpoint serves to polling clients.
type Snapshot struct {
	Job      *models.TransferJob   `json:"job"`
	Items    []models.TransferItem `json:"items"`
	Progress float64               `json:"progress"`
}

// Status returns the poll-friendly job snapshot. Reading also gives the
// quota ledger a chance to apply a pending monthly rollover.
func (e *Engine) Status(jobUUID string, userID uint) (*Snapshot, error) {
	job, err := e.jobs.GetByUUIDForUser(jobUUID, userID)
	if err != nil {
		return nil, err
	}
	items, err := e.jobs.GetItems(job.ID)
	if err != nil {
		return nil, err
	}

	if _, err := e.quota.GetOrCreatePlan(userID); err != nil {
		log.Warnf("[Transfer] Rollover check for user %d failed: %v", userID, err)
	}

	return &Snapshot{
		Job:      job,
		Items:    items,
		Progress: job.Progress(),
	}, nil
}

// Quota exposes the engine's quota ledger for read-side callers.
func (e *Engine) Quota() *quota.Service {
	return e.quota
}

// ListJobs returns the user's jobs, newest first.
func (e *Engine) ListJobs(userID uint, offset, limit int) ([]models.TransferJob, error) {
	return e.jobs.GetByUserID(userID, offset, limit)
}

func (e *Engine) resolveGateway(userID uint, providerName, accountID string) (provider.Gateway, error) {
	account, err := e.slots.GetCredentials(userID, providerName, accountID)
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(account)
}

// failJob settles a job as failed outside the run loop (unresolvable
// accounts, nothing survived prepare).
func (e *Engine) failJob(job *models.TransferJob, reason string) (*models.TransferJob, error) {
	if reason != "" {
		log.Warnf("[Transfer] Job %s failed: %s", job.UUID, reason)
	}
	return e.finishJob(job, models.JobFailed)
}

func (e *Engine) finishJob(job *models.TransferJob, status models.JobStatus) (*models.TransferJob, error) {
	now := e.now()
	job.Status = status
	job.CompletedAt = &now
	if err := e.jobs.Update(job); err != nil {
		return nil, err
	}
	return job, nil
}
