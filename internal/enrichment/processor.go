package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/threatforge/enrichment-engine/internal/db"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// ErrJobFinished is returned when a run is requested for a job already in a
// terminal state. Terminal status is written exactly once.
var ErrJobFinished = errors.New("job already finished")

// Progress is a snapshot of a running job, delivered to observers after each
// IOC completes and once more at terminal state.
type Progress struct {
	JobID      int64            `json:"jobId"`
	Status     models.JobStatus `json:"status"`
	Total      int              `json:"total"`
	Processed  int              `json:"processed"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
}

// OutcomeObserver receives each IOC's enrichment outcome as it lands.
// Used for alerting on high-risk indicators.
type OutcomeObserver func(ioc *models.IOC, outcome *Outcome)

// Processor drives a queued job through the orchestrator for every IOC in
// its upload batch, maintaining the progress counters and the job state
// machine: queued -> running -> done | error.
type Processor struct {
	store        db.Gateway
	orchestrator *Orchestrator

	// concurrency bounds simultaneous IOC enrichments within one job.
	concurrency int64

	onProgress func(Progress)
	onOutcome  OutcomeObserver
}

func NewProcessor(store db.Gateway, orchestrator *Orchestrator, concurrency int) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		store:        store,
		orchestrator: orchestrator,
		concurrency:  int64(concurrency),
	}
}

// OnProgress registers a progress observer. Not safe to call after Run starts.
func (p *Processor) OnProgress(fn func(Progress)) { p.onProgress = fn }

// OnOutcome registers a per-IOC outcome observer.
func (p *Processor) OnOutcome(fn OutcomeObserver) { p.onOutcome = fn }

// Run executes one job to its terminal state. A fatal setup failure (missing
// job, missing upload, unreadable batch) lands the job in error; per-IOC
// failures only bump failed_iocs and never trip the error state.
func (p *Processor) Run(ctx context.Context, jobID int64) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("job %d not found", jobID)
		}
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}
	if job.Status == models.JobRunning {
		return fmt.Errorf("job %d is already running", jobID)
	}

	// The job enters running before any batch lookups so error'd jobs still
	// carry started_at.
	now := time.Now().UTC()
	running := models.JobRunning
	if err := p.store.UpdateJob(ctx, jobID, db.JobFields{
		Status:    &running,
		StartedAt: &now,
	}); err != nil {
		return err
	}

	if _, err := p.store.GetUploadCreatedAt(ctx, job.UploadID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return p.fail(ctx, jobID, "Upload not found")
		}
		return p.fail(ctx, jobID, fmt.Sprintf("Failed to load upload: %v", err))
	}

	iocs, err := p.store.ListIOCsForUpload(ctx, job.UploadID)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Sprintf("Failed to load IOC batch: %v", err))
	}

	total := len(iocs)
	if err := p.store.UpdateJob(ctx, jobID, db.JobFields{TotalIOCs: &total}); err != nil {
		return err
	}
	log.Printf("[Processor] Job %d started: %d IOCs", jobID, total)

	var mu sync.Mutex
	processed, successful, failed := 0, 0, 0

	emit := func(status models.JobStatus) {
		if p.onProgress != nil {
			p.onProgress(Progress{
				JobID: jobID, Status: status, Total: total,
				Processed: processed, Successful: successful, Failed: failed,
			})
		}
	}

	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup
	for i := range iocs {
		ioc := &iocs[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			outcome, err := p.orchestrator.EnrichIOC(ctx, ioc)

			mu.Lock()
			processed++
			if err != nil {
				failed++
				log.Printf("[Processor] Job %d: IOC %d failed: %v", jobID, ioc.ID, err)
			} else {
				successful++
			}
			pr, su, fa := processed, successful, failed
			mu.Unlock()

			if err := p.store.UpdateJob(ctx, jobID, db.JobFields{
				ProcessedIOCs:  &pr,
				SuccessfulIOCs: &su,
				FailedIOCs:     &fa,
			}); err != nil {
				log.Printf("[Processor] Job %d: counter update failed: %v", jobID, err)
			}

			mu.Lock()
			emit(models.JobRunning)
			mu.Unlock()

			if err == nil && p.onOutcome != nil {
				p.onOutcome(ioc, outcome)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return p.fail(ctx, jobID, fmt.Sprintf("Job interrupted: %v", ctx.Err()))
	}

	finished := time.Now().UTC()
	done := models.JobDone
	if err := p.store.UpdateJob(ctx, jobID, db.JobFields{
		Status:     &done,
		FinishedAt: &finished,
	}); err != nil {
		return err
	}

	mu.Lock()
	emit(models.JobDone)
	mu.Unlock()
	log.Printf("[Processor] Job %d done: %d processed, %d successful, %d failed",
		jobID, processed, successful, failed)
	return nil
}

// fail moves the job into the error terminal state with a message.
// A cancelled context must not block the terminal write, so the update runs
// on a detached short-deadline context.
func (p *Processor) fail(ctx context.Context, jobID int64, message string) error {
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	now := time.Now().UTC()
	status := models.JobError
	if err := p.store.UpdateJob(writeCtx, jobID, db.JobFields{
		Status:       &status,
		FinishedAt:   &now,
		ErrorMessage: &message,
	}); err != nil {
		return err
	}

	if p.onProgress != nil {
		p.onProgress(Progress{JobID: jobID, Status: models.JobError})
	}
	log.Printf("[Processor] Job %d failed: %s", jobID, message)
	return errors.New(message)
}
