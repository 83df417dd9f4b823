package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Gateway = (*PostgresStore)(nil)

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Enrichment Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Threat enrichment schema initialized")
	return nil
}

// ─────────────────────────── Ingestion writes ───────────────────────────

// CreateUpload persists one parsed CSV batch in a single transaction: the
// upload row, every valid IOC (upserted on the (value, type, source_platform)
// business key) and a queued job covering the batch. Returns the upload and
// job IDs.
func (s *PostgresStore) CreateUpload(ctx context.Context, upload *models.Upload, iocs []models.IOC) (int64, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var uploadID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO uploads (filename, rows_ok, rows_failed, total_rows, file_size, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, upload.Filename, upload.RowsOK, upload.RowsFailed, upload.TotalRows, upload.FileSize, upload.MimeType).Scan(&uploadID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert upload: %v", err)
	}

	// Upsert keeps the earliest first_seen and latest last_seen, and only
	// upgrades classification away from unknown, never downgrades it.
	upsertSQL := `
		INSERT INTO iocs
			(value, type, classification, source_platform, email_id, campaign_id,
			 user_reported, first_seen, last_seen, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (value, type, source_platform) DO UPDATE SET
			classification = CASE
				WHEN iocs.classification = 'unknown' THEN EXCLUDED.classification
				ELSE iocs.classification
			END,
			email_id    = COALESCE(NULLIF(EXCLUDED.email_id, ''), iocs.email_id),
			campaign_id = COALESCE(NULLIF(EXCLUDED.campaign_id, ''), iocs.campaign_id),
			first_seen  = LEAST(COALESCE(iocs.first_seen, EXCLUDED.first_seen), COALESCE(EXCLUDED.first_seen, iocs.first_seen)),
			last_seen   = GREATEST(COALESCE(iocs.last_seen, EXCLUDED.last_seen), COALESCE(EXCLUDED.last_seen, iocs.last_seen)),
			updated_at  = NOW();
	`
	for i := range iocs {
		ioc := &iocs[i]
		_, err = tx.Exec(ctx, upsertSQL,
			ioc.Value, ioc.Type, ioc.Classification, ioc.SourcePlatform,
			ioc.EmailID, ioc.CampaignID, ioc.UserReported,
			ioc.FirstSeen, ioc.LastSeen, ioc.Notes,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert ioc %q: %v", ioc.Value, err)
		}
	}

	var jobID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO jobs (upload_id, status, total_iocs)
		VALUES ($1, 'queued', $2)
		RETURNING id
	`, uploadID, len(iocs)).Scan(&jobID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert job: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return uploadID, jobID, nil
}

// ──────────────────────────── Job persistence ────────────────────────────

func (s *PostgresStore) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	var j models.Job
	var errMsg *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, upload_id, status, started_at, finished_at, error_message,
		       total_iocs, processed_iocs, successful_iocs, failed_iocs,
		       created_at, updated_at
		FROM jobs WHERE id = $1
	`, jobID).Scan(
		&j.ID, &j.UploadID, &j.Status, &j.StartedAt, &j.FinishedAt, &errMsg,
		&j.TotalIOCs, &j.ProcessedIOCs, &j.SuccessfulIOCs, &j.FailedIOCs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	return &j, nil
}

// UpdateJob applies the non-nil fields of a partial update. Building the SET
// clause dynamically keeps counter bumps to a single small statement.
func (s *PostgresStore) UpdateJob(ctx context.Context, jobID int64, fields JobFields) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{jobID}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if fields.Status != nil {
		add("status", *fields.Status)
	}
	if fields.StartedAt != nil {
		add("started_at", *fields.StartedAt)
	}
	if fields.FinishedAt != nil {
		add("finished_at", *fields.FinishedAt)
	}
	if fields.ErrorMessage != nil {
		add("error_message", *fields.ErrorMessage)
	}
	if fields.TotalIOCs != nil {
		add("total_iocs", *fields.TotalIOCs)
	}
	if fields.ProcessedIOCs != nil {
		add("processed_iocs", *fields.ProcessedIOCs)
	}
	if fields.SuccessfulIOCs != nil {
		add("successful_iocs", *fields.SuccessfulIOCs)
	}
	if fields.FailedIOCs != nil {
		add("failed_iocs", *fields.FailedIOCs)
	}

	sql := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ───────────────────────────── Batch reads ─────────────────────────────

func (s *PostgresStore) GetUploadCreatedAt(ctx context.Context, uploadID int64) (time.Time, error) {
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT created_at FROM uploads WHERE id = $1`, uploadID).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return createdAt, err
}

// ListIOCsForUpload returns the batch an upload introduced: IOC rows created
// or touched at-or-after the upload, bounded by the next upload's creation
// time so later batches do not bleed in.
func (s *PostgresStore) ListIOCsForUpload(ctx context.Context, uploadID int64) ([]models.IOC, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.value, i.type, i.classification, i.source_platform,
		       COALESCE(i.email_id, ''), COALESCE(i.campaign_id, ''), i.user_reported,
		       i.first_seen, i.last_seen, COALESCE(i.notes, ''), i.created_at, i.updated_at
		FROM iocs i, uploads u
		WHERE u.id = $1
		  AND i.updated_at >= u.created_at
		  AND i.updated_at < COALESCE(
		        (SELECT MIN(created_at) FROM uploads WHERE created_at > u.created_at),
		        'infinity'::timestamptz)
		ORDER BY i.id
	`, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	iocs := make([]models.IOC, 0)
	for rows.Next() {
		var ioc models.IOC
		if err := rows.Scan(
			&ioc.ID, &ioc.Value, &ioc.Type, &ioc.Classification, &ioc.SourcePlatform,
			&ioc.EmailID, &ioc.CampaignID, &ioc.UserReported,
			&ioc.FirstSeen, &ioc.LastSeen, &ioc.Notes, &ioc.CreatedAt, &ioc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		iocs = append(iocs, ioc)
	}
	return iocs, rows.Err()
}

func (s *PostgresStore) GetIOC(ctx context.Context, iocID int64) (*models.IOC, error) {
	var ioc models.IOC
	err := s.pool.QueryRow(ctx, `
		SELECT id, value, type, classification, source_platform,
		       COALESCE(email_id, ''), COALESCE(campaign_id, ''), user_reported,
		       first_seen, last_seen, COALESCE(notes, ''), created_at, updated_at
		FROM iocs WHERE id = $1
	`, iocID).Scan(
		&ioc.ID, &ioc.Value, &ioc.Type, &ioc.Classification, &ioc.SourcePlatform,
		&ioc.EmailID, &ioc.CampaignID, &ioc.UserReported,
		&ioc.FirstSeen, &ioc.LastSeen, &ioc.Notes, &ioc.CreatedAt, &ioc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ioc, nil
}

// ─────────────────────────── Enrichment writes ───────────────────────────

// SaveEnrichmentResult replaces the prior row for (ioc_id, provider) inside
// one transaction. Delete-then-insert rather than upsert so a schema change
// in raw_json never leaves stale columns behind.
func (s *PostgresStore) SaveEnrichmentResult(ctx context.Context, result *models.EnrichmentResult) error {
	rawJSON, err := json.Marshal(result.RawJSON)
	if err != nil {
		rawJSON = []byte("null")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `DELETE FROM enrichment_results WHERE ioc_id = $1 AND provider = $2`,
		result.IOCID, result.Provider)
	if err != nil {
		return fmt.Errorf("failed to delete prior enrichment result: %v", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO enrichment_results
			(ioc_id, provider, verdict, actor, family, confidence, evidence,
			 raw_json, http_status, first_seen, last_seen, queried_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		result.IOCID, result.Provider, result.Verdict,
		nullIfEmpty(result.Actor), nullIfEmpty(result.Family),
		result.Confidence, nullIfEmpty(result.Evidence),
		rawJSON, result.HTTPStatus, result.FirstSeen, result.LastSeen, result.QueriedAt,
	).Scan(&result.ID)
	if err != nil {
		return fmt.Errorf("failed to insert enrichment result: %v", err)
	}

	return tx.Commit(ctx)
}

// InsertIOCScore appends one scoring run. Scores are history; the latest row
// by computed_at is the current score.
func (s *PostgresStore) InsertIOCScore(ctx context.Context, score *models.IOCScore) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO ioc_scores (ioc_id, risk_score, attribution_score, risk_band, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, score.IOCID, score.RiskScore, score.AttributionScore, score.RiskBand, score.ComputedAt).Scan(&score.ID)
}

// ───────────────────────────── Read API ─────────────────────────────

// IOCSummary is the search-result row: the IOC plus its latest score.
type IOCSummary struct {
	models.IOC
	RiskScore        *int             `json:"riskScore,omitempty"`
	AttributionScore *int             `json:"attributionScore,omitempty"`
	RiskBand         *models.RiskBand `json:"riskBand,omitempty"`
}

// IOCFilter narrows SearchIOCs. Zero values mean "no constraint".
type IOCFilter struct {
	Query          string
	Type           models.IOCType
	Classification models.Classification
	SourcePlatform string
	RiskBand       models.RiskBand
	Page           int
	Limit          int
}

func (s *PostgresStore) SearchIOCs(ctx context.Context, filter IOCFilter) ([]IOCSummary, int, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	where := []string{"TRUE"}
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Query != "" {
		add("i.value ILIKE $%d", "%"+filter.Query+"%")
	}
	if filter.Type != "" {
		add("i.type = $%d", filter.Type)
	}
	if filter.Classification != "" {
		add("i.classification = $%d", filter.Classification)
	}
	if filter.SourcePlatform != "" {
		add("i.source_platform = $%d", filter.SourcePlatform)
	}
	if filter.RiskBand != "" {
		add("sc.risk_band = $%d", filter.RiskBand)
	}

	base := `
		FROM iocs i
		LEFT JOIN LATERAL (
			SELECT risk_score, attribution_score, risk_band
			FROM ioc_scores
			WHERE ioc_id = i.id
			ORDER BY computed_at DESC
			LIMIT 1
		) sc ON TRUE
		WHERE ` + strings.Join(where, " AND ")

	var totalCount int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) "+base, args...).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, offset)
	dataSQL := fmt.Sprintf(`
		SELECT i.id, i.value, i.type, i.classification, i.source_platform,
		       COALESCE(i.email_id, ''), COALESCE(i.campaign_id, ''), i.user_reported,
		       i.first_seen, i.last_seen, COALESCE(i.notes, ''), i.created_at, i.updated_at,
		       sc.risk_score, sc.attribution_score, sc.risk_band
		%s
		ORDER BY i.updated_at DESC
		LIMIT $%d OFFSET $%d
	`, base, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := make([]IOCSummary, 0)
	for rows.Next() {
		var r IOCSummary
		if err := rows.Scan(
			&r.ID, &r.Value, &r.Type, &r.Classification, &r.SourcePlatform,
			&r.EmailID, &r.CampaignID, &r.UserReported,
			&r.FirstSeen, &r.LastSeen, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
			&r.RiskScore, &r.AttributionScore, &r.RiskBand,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, totalCount, rows.Err()
}

// ListEnrichmentResults returns the stored provider results for one IOC.
func (s *PostgresStore) ListEnrichmentResults(ctx context.Context, iocID int64) ([]models.EnrichmentResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ioc_id, provider, verdict, COALESCE(actor, ''), COALESCE(family, ''),
		       confidence, COALESCE(evidence, ''), raw_json, http_status,
		       first_seen, last_seen, queried_at
		FROM enrichment_results
		WHERE ioc_id = $1
		ORDER BY provider
	`, iocID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]models.EnrichmentResult, 0)
	for rows.Next() {
		var r models.EnrichmentResult
		var rawJSON []byte
		if err := rows.Scan(
			&r.ID, &r.IOCID, &r.Provider, &r.Verdict, &r.Actor, &r.Family,
			&r.Confidence, &r.Evidence, &rawJSON, &r.HTTPStatus,
			&r.FirstSeen, &r.LastSeen, &r.QueriedAt,
		); err != nil {
			return nil, err
		}
		if len(rawJSON) > 0 {
			_ = json.Unmarshal(rawJSON, &r.RawJSON)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LatestScore returns the most recent scoring run for an IOC, or ErrNotFound
// when the IOC has never been scored.
func (s *PostgresStore) LatestScore(ctx context.Context, iocID int64) (*models.IOCScore, error) {
	var sc models.IOCScore
	err := s.pool.QueryRow(ctx, `
		SELECT id, ioc_id, risk_score, attribution_score, risk_band, computed_at
		FROM ioc_scores
		WHERE ioc_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`, iocID).Scan(&sc.ID, &sc.IOCID, &sc.RiskScore, &sc.AttributionScore, &sc.RiskBand, &sc.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// OverviewStats aggregates dashboard counters in one round trip.
type OverviewStats struct {
	TotalIOCs         int            `json:"totalIocs"`
	TotalUploads      int            `json:"totalUploads"`
	NewIOCsLast7d     int            `json:"newIocsLast7d"`
	JobsByStatus      map[string]int `json:"jobsByStatus"`
	IOCsByBand        map[string]int `json:"iocsByBand"`
	IOCsByType        map[string]int `json:"iocsByType"`
	IOCsByVerdict     map[string]int `json:"iocsByClassification"`
	ResultsByProvider map[string]int `json:"resultsByProvider"`
	EnrichedIOCs      int            `json:"enrichedIocs"`
	ResultsStored     int            `json:"resultsStored"`
}

func (s *PostgresStore) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{
		JobsByStatus:      map[string]int{},
		IOCsByBand:        map[string]int{},
		IOCsByType:        map[string]int{},
		IOCsByVerdict:     map[string]int{},
		ResultsByProvider: map[string]int{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM iocs),
			(SELECT COUNT(*) FROM uploads),
			(SELECT COUNT(*) FROM iocs WHERE created_at >= NOW() - INTERVAL '7 days'),
			(SELECT COUNT(DISTINCT ioc_id) FROM enrichment_results),
			(SELECT COUNT(*) FROM enrichment_results)
	`).Scan(&stats.TotalIOCs, &stats.TotalUploads, &stats.NewIOCsLast7d, &stats.EnrichedIOCs, &stats.ResultsStored)
	if err != nil {
		return nil, err
	}

	if err := s.scanGroupCounts(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`, stats.JobsByStatus); err != nil {
		return nil, err
	}
	if err := s.scanGroupCounts(ctx, `SELECT type, COUNT(*) FROM iocs GROUP BY type`, stats.IOCsByType); err != nil {
		return nil, err
	}
	if err := s.scanGroupCounts(ctx, `SELECT classification, COUNT(*) FROM iocs GROUP BY classification`, stats.IOCsByVerdict); err != nil {
		return nil, err
	}
	if err := s.scanGroupCounts(ctx, `SELECT provider, COUNT(*) FROM enrichment_results GROUP BY provider`, stats.ResultsByProvider); err != nil {
		return nil, err
	}
	bandSQL := `
		SELECT sc.risk_band, COUNT(*)
		FROM iocs i
		JOIN LATERAL (
			SELECT risk_band FROM ioc_scores
			WHERE ioc_id = i.id ORDER BY computed_at DESC LIMIT 1
		) sc ON TRUE
		GROUP BY sc.risk_band
	`
	if err := s.scanGroupCounts(ctx, bandSQL, stats.IOCsByBand); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PostgresStore) scanGroupCounts(ctx context.Context, sql string, into map[string]int) error {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// GetPool exposes the connection pool for subsystems that need raw access
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
