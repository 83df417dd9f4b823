package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

func seedJob(store *fakeGateway, jobID, uploadID int64, iocCount int) {
	store.jobs[jobID] = &models.Job{ID: jobID, UploadID: uploadID, Status: models.JobQueued}
	store.uploads[uploadID] = time.Now().UTC()
	iocs := make([]models.IOC, iocCount)
	for i := range iocs {
		iocs[i] = models.IOC{ID: int64(100 + i), Value: "evil.example.com", Type: models.IOCTypeDomain}
	}
	store.batches[uploadID] = iocs
}

func TestProcessorRun_CountersAndTerminalState(t *testing.T) {
	store := newFakeGateway()
	seedJob(store, 1, 10, 4)

	vt := &fakeAdapter{name: "virustotal", result: models.NormalizedResult{Verdict: models.VerdictMalicious}}
	us := &fakeAdapter{name: "urlscan", result: models.NormalizedResult{Verdict: models.VerdictBenign}}
	proc := NewProcessor(store, newTestOrchestrator(store, vt, us), 1)

	require.NoError(t, proc.Run(context.Background(), 1))

	job, err := store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, job.Status)
	assert.Equal(t, 4, job.TotalIOCs)
	assert.Equal(t, 4, job.ProcessedIOCs)
	assert.Equal(t, job.ProcessedIOCs, job.SuccessfulIOCs+job.FailedIOCs)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 1, store.terminalWrites, "terminal status written exactly once")

	// N IOCs x K providers rows. The shared cache collapses upstream calls
	// but every (ioc, provider) pair still gets its own row.
	assert.Equal(t, 4*2, store.resultCount())
}

func TestProcessorRun_PerIOCFailureDoesNotTripError(t *testing.T) {
	store := newFakeGateway()
	seedJob(store, 2, 20, 3)
	store.failScoreInsert = true // every IOC fails at the score insert

	vt := &fakeAdapter{name: "virustotal", result: models.NormalizedResult{Verdict: models.VerdictBenign}}
	proc := NewProcessor(store, newTestOrchestrator(store, vt), 1)

	require.NoError(t, proc.Run(context.Background(), 2))

	job, _ := store.GetJob(context.Background(), 2)
	assert.Equal(t, models.JobDone, job.Status, "per-IOC failures finish as done, not error")
	assert.Equal(t, 3, job.ProcessedIOCs)
	assert.Equal(t, 3, job.FailedIOCs)
	assert.Equal(t, 0, job.SuccessfulIOCs)
}

func TestProcessorRun_MissingUpload(t *testing.T) {
	store := newFakeGateway()
	store.jobs[3] = &models.Job{ID: 3, UploadID: 999, Status: models.JobQueued}

	proc := NewProcessor(store, newTestOrchestrator(store), 1)

	err := proc.Run(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Upload not found")

	job, _ := store.GetJob(context.Background(), 3)
	assert.Equal(t, models.JobError, job.Status)
	assert.Equal(t, "Upload not found", job.ErrorMessage)
	// The job went through running first, so started_at is recorded even
	// though it error'd during setup.
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
}

func TestProcessorRun_CounterWriteFailureDoesNotAbort(t *testing.T) {
	store := newFakeGateway()
	seedJob(store, 8, 80, 3)
	store.failCounterUpdates = true

	vt := &fakeAdapter{name: "virustotal", result: models.NormalizedResult{Verdict: models.VerdictBenign}}
	proc := NewProcessor(store, newTestOrchestrator(store, vt), 1)

	require.NoError(t, proc.Run(context.Background(), 8))

	// Lost counter commits are logged, not fatal; the terminal write still
	// lands and the run finishes.
	job, _ := store.GetJob(context.Background(), 8)
	assert.Equal(t, models.JobDone, job.Status)
	assert.Equal(t, 3, job.TotalIOCs)
	assert.Equal(t, 1, store.terminalWrites)
}

func TestProcessorRun_MissingJob(t *testing.T) {
	store := newFakeGateway()
	proc := NewProcessor(store, newTestOrchestrator(store), 1)

	err := proc.Run(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProcessorRun_TerminalJobRejected(t *testing.T) {
	store := newFakeGateway()
	store.jobs[4] = &models.Job{ID: 4, UploadID: 40, Status: models.JobDone}

	proc := NewProcessor(store, newTestOrchestrator(store), 1)

	err := proc.Run(context.Background(), 4)
	assert.True(t, errors.Is(err, ErrJobFinished))
	assert.Equal(t, 0, store.terminalWrites, "no second terminal write")
}

func TestProcessorRun_EmptyBatch(t *testing.T) {
	store := newFakeGateway()
	seedJob(store, 5, 50, 0)

	proc := NewProcessor(store, newTestOrchestrator(store), 1)
	require.NoError(t, proc.Run(context.Background(), 5))

	job, _ := store.GetJob(context.Background(), 5)
	assert.Equal(t, models.JobDone, job.Status)
	assert.Equal(t, 0, job.TotalIOCs)
	assert.Equal(t, 0, job.ProcessedIOCs)
}

func TestProcessorRun_ProgressObserver(t *testing.T) {
	store := newFakeGateway()
	seedJob(store, 6, 60, 2)

	vt := &fakeAdapter{name: "virustotal", result: models.NormalizedResult{Verdict: models.VerdictBenign}}
	proc := NewProcessor(store, newTestOrchestrator(store, vt), 1)

	var snapshots []Progress
	proc.OnProgress(func(p Progress) { snapshots = append(snapshots, p) })

	require.NoError(t, proc.Run(context.Background(), 6))

	// One snapshot per IOC plus the terminal one.
	require.Len(t, snapshots, 3)
	for _, p := range snapshots {
		assert.LessOrEqual(t, p.Processed, p.Total)
	}
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, models.JobDone, final.Status)
	assert.Equal(t, 2, final.Processed)
}

func TestProcessorRun_ConcurrentEnrichment(t *testing.T) {
	store := newFakeGateway()
	seedJob(store, 7, 70, 8)

	vt := &fakeAdapter{name: "virustotal", result: models.NormalizedResult{Verdict: models.VerdictMalicious}}
	proc := NewProcessor(store, newTestOrchestrator(store, vt), 4)

	require.NoError(t, proc.Run(context.Background(), 7))

	job, _ := store.GetJob(context.Background(), 7)
	assert.Equal(t, models.JobDone, job.Status)
	assert.Equal(t, 8, job.ProcessedIOCs)
	assert.Equal(t, 8, job.SuccessfulIOCs)
}
