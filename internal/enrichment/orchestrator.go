package enrichment

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/threatforge/enrichment-engine/internal/cache"
	"github.com/threatforge/enrichment-engine/internal/db"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// Orchestrator fans one IOC out across every adapter, consults the shared
// cache before each upstream call, persists the normalized results and the
// resulting score.
type Orchestrator struct {
	adapters []Adapter
	cache    *cache.ResultCache
	store    db.Gateway

	// now is swapped by tests to pin the scoring clock.
	now func() time.Time
}

// Adapter mirrors the provider contract without importing the providers
// package, keeping the dependency arrow pointing outward.
type Adapter interface {
	Name() string
	Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error)
}

func NewOrchestrator(adapters []Adapter, resultCache *cache.ResultCache, store db.Gateway) *Orchestrator {
	return &Orchestrator{
		adapters: adapters,
		cache:    resultCache,
		store:    store,
		now:      time.Now,
	}
}

// Outcome reports one IOC's enrichment: the persisted results keyed by
// provider and the score computed over them. Failed persists are absent from
// Results but still counted in scoring input.
type Outcome struct {
	IOCID   int64
	Results map[string]models.EnrichmentResult
	Score   Score
}

// EnrichIOC runs the full fan-out for one IOC. Adapter failures degrade into
// stored unknown verdicts rather than failing the IOC; the returned error is
// reserved for the score insert, without which the run is not observable.
func (o *Orchestrator) EnrichIOC(ctx context.Context, ioc *models.IOC) (*Outcome, error) {
	normalized := make(map[string]models.NormalizedResult, len(o.adapters))

	g, gctx := errgroup.WithContext(ctx)
	type keyed struct {
		provider string
		result   models.NormalizedResult
	}
	resultCh := make(chan keyed, len(o.adapters))

	for _, adapter := range o.adapters {
		g.Go(func() error {
			resultCh <- keyed{adapter.Name(), o.enrichOne(gctx, adapter, ioc)}
			return nil
		})
	}
	_ = g.Wait()
	close(resultCh)
	for kr := range resultCh {
		normalized[kr.provider] = kr.result
	}

	queriedAt := o.now().UTC()
	persisted := make(map[string]models.EnrichmentResult, len(normalized))

	// Deterministic persist order keeps logs and tests stable.
	providers := make([]string, 0, len(normalized))
	for p := range normalized {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		nr := normalized[provider]
		row := models.EnrichmentResult{
			IOCID:      ioc.ID,
			Provider:   provider,
			Verdict:    nr.Verdict,
			Actor:      nr.Actor,
			Family:     nr.Family,
			Confidence: nr.Confidence,
			Evidence:   nr.Evidence,
			RawJSON:    CoerceRawJSON(nr.RawJSON),
			HTTPStatus: nr.HTTPStatus,
			FirstSeen:  ParseTimestamp(nr.FirstSeen),
			LastSeen:   ParseTimestamp(nr.LastSeen),
			QueriedAt:  queriedAt,
		}
		if err := o.store.SaveEnrichmentResult(ctx, &row); err != nil {
			log.Printf("[Orchestrator] Failed to persist %s result for IOC %d: %v", provider, ioc.ID, err)
			continue
		}
		persisted[provider] = row
	}

	score := ComputeScore(normalized, o.now().UTC())
	scoreRow := models.IOCScore{
		IOCID:            ioc.ID,
		RiskScore:        score.Risk,
		AttributionScore: score.Attribution,
		RiskBand:         score.Band,
		ComputedAt:       queriedAt,
	}
	if err := o.store.InsertIOCScore(ctx, &scoreRow); err != nil {
		return nil, fmt.Errorf("failed to persist score for IOC %d: %w", ioc.ID, err)
	}

	return &Outcome{IOCID: ioc.ID, Results: persisted, Score: score}, nil
}

// enrichOne resolves a single (IOC, provider) lookup through the cache.
// An adapter error is synthesized into a stored unknown verdict so every
// attempted provider leaves a row behind, and the synthesized result is
// cached under the negative TTL like any other unknown.
func (o *Orchestrator) enrichOne(ctx context.Context, adapter Adapter, ioc *models.IOC) models.NormalizedResult {
	key := cache.Key(adapter.Name(), ioc.Type, ioc.Value)
	if cached, ok := o.cache.Get(key); ok {
		return cached
	}

	result, err := adapter.Enrich(ctx, ioc.Value, ioc.Type)
	if err != nil {
		log.Printf("[Orchestrator] %s lookup failed for IOC %d: %v", adapter.Name(), ioc.ID, err)
		result = models.NormalizedResult{
			Verdict:    models.VerdictUnknown,
			Evidence:   fmt.Sprintf("Error: %v", err),
			HTTPStatus: intPtr(500),
		}
	}

	o.cache.Put(key, result)
	return result
}

func intPtr(v int) *int { return &v }
