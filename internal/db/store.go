package db

import (
	"context"
	"errors"
	"time"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

// ErrNotFound is returned by single-row reads when no row matches.
var ErrNotFound = errors.New("not found")

// JobFields carries a partial job update. Nil fields are left untouched so
// the processor can bump counters without re-writing the whole row.
type JobFields struct {
	Status         *models.JobStatus
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ErrorMessage   *string
	TotalIOCs      *int
	ProcessedIOCs  *int
	SuccessfulIOCs *int
	FailedIOCs     *int
}

// Gateway is the persistence surface the enrichment pipeline writes through.
// The orchestrator and job processor depend on this interface, never on the
// Postgres store directly, so tests run against an in-memory fake.
type Gateway interface {
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	UpdateJob(ctx context.Context, jobID int64, fields JobFields) error

	GetUploadCreatedAt(ctx context.Context, uploadID int64) (time.Time, error)
	ListIOCsForUpload(ctx context.Context, uploadID int64) ([]models.IOC, error)
	GetIOC(ctx context.Context, iocID int64) (*models.IOC, error)

	// SaveEnrichmentResult replaces the prior row for (ioc_id, provider)
	// in one transaction, keeping at most one row per pair.
	SaveEnrichmentResult(ctx context.Context, result *models.EnrichmentResult) error

	InsertIOCScore(ctx context.Context, score *models.IOCScore) error
}
