package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// Flashpoint queries the indicator search API. The REST attribute route is
// tried first; older deployments only expose the Elasticsearch-style POST
// routes, so those are fallbacks in fixed order.
type Flashpoint struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func NewFlashpoint(apiKey, baseURL string, client *httpclient.Client) *Flashpoint {
	if baseURL == "" {
		baseURL = "https://fp.tools/api/v4"
	}
	return &Flashpoint{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *Flashpoint) Name() string { return "flashpoint" }

func (a *Flashpoint) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	if a.apiKey == "" {
		return notConfigured(), nil
	}

	switch iocType {
	case models.IOCTypeURL, models.IOCTypeDomain, models.IOCTypeIPv4,
		models.IOCTypeSHA256, models.IOCTypeMD5, models.IOCTypeEmail:
	default:
		return unsupportedType(iocType), nil
	}

	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}

	// Route 1: REST attribute search.
	query := url.Values{}
	query.Set("q", fmt.Sprintf("value:%s", value))
	query.Set("limit", "1")
	resp, err := a.client.Get(ctx, a.baseURL+"/indicators/attribute", headers, query)
	if err == nil && resp.StatusCode == 200 {
		if result, ok := a.parseHits(resp); ok {
			return result, nil
		}
	}

	// Routes 2-4: ES-style POST search bodies, tried in order until one
	// answers with a hit.
	esBodies := []map[string]any{
		{"query": fmt.Sprintf("+value.\\*:\"%s\"", value), "size": 1},
		{"query": map[string]any{"match": map[string]any{"value": value}}, "size": 1},
		{"search": value, "limit": 1},
	}
	var lastStatus int
	for _, body := range esBodies {
		resp, err := a.client.PostJSON(ctx, a.baseURL+"/indicators/simple", headers, body)
		if err != nil {
			continue
		}
		lastStatus = resp.StatusCode
		if resp.StatusCode != 200 {
			continue
		}
		if result, ok := a.parseHits(resp); ok {
			return result, nil
		}
	}

	if lastStatus != 0 && lastStatus != 200 {
		return apiError(lastStatus), nil
	}
	return unknownResult("Not found in Flashpoint", intPtr(404)), nil
}

// parseHits pulls the first indicator from either response shape:
// a bare array, a {"results": [...]} wrapper, or ES {"hits": {"hits": [...]}}.
func (a *Flashpoint) parseHits(resp *httpclient.Response) (models.NormalizedResult, bool) {
	var raw any
	if err := resp.JSON(&raw); err != nil {
		return models.NormalizedResult{}, false
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = digSlice(v, "results")
		if len(items) == 0 {
			items = digSlice(v, "hits", "hits")
		}
		if len(items) == 0 {
			items = digSlice(v, "data")
		}
	}
	if len(items) == 0 {
		return models.NormalizedResult{}, false
	}

	hit, ok := items[0].(map[string]any)
	if !ok {
		return models.NormalizedResult{}, false
	}
	// ES hits nest the document under _source.
	if src := digMap(hit, "_source"); src != nil {
		hit = src
	}
	return a.normalize(hit), true
}

func (a *Flashpoint) normalize(hit map[string]any) models.NormalizedResult {
	score, scored := a.score(hit)

	verdict := models.VerdictSuspicious
	confidence := 50
	if scored {
		verdict = VerdictFromRiskScore(score)
		confidence = int(score)
		if confidence > 100 {
			confidence = 100
		}
	}

	actor := firstName(digSlice(hit, "actors"))
	if actor == "" {
		actor = digString(hit, "actor", "name")
	}
	family := firstName(digSlice(hit, "malware_families"))
	if family == "" {
		family = digString(hit, "malware_description")
	}

	var evidence []string
	if scored {
		evidence = append(evidence, fmt.Sprintf("Flashpoint score: %d", int(score)))
	}
	if category := digString(hit, "category"); category != "" {
		evidence = append(evidence, "Category: "+category)
	}
	if tags := digSlice(hit, "tags"); len(tags) > 0 {
		var names []string
		for _, t := range tags {
			if s, ok := t.(string); ok {
				names = append(names, s)
			}
		}
		if len(names) > 5 {
			names = names[:5]
		}
		if len(names) > 0 {
			evidence = append(evidence, "Tags: "+strings.Join(names, ", "))
		}
	}
	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "Indicator present in Flashpoint collections"
	}

	result := models.NormalizedResult{
		Verdict:    verdict,
		Confidence: &confidence,
		Actor:      actor,
		Family:     family,
		Evidence:   ev,
		HTTPStatus: intPtr(200),
		RawJSON:    hit,
	}
	if fs := dig(hit, "first_seen_at"); fs != nil {
		result.FirstSeen = fs
	} else if fs := dig(hit, "first_observed_at"); fs != nil {
		result.FirstSeen = fs
	}
	if ls := dig(hit, "last_seen_at"); ls != nil {
		result.LastSeen = ls
	} else if ls := dig(hit, "last_observed_at"); ls != nil {
		result.LastSeen = ls
	}
	return result
}

// score reads the indicator score, which the API serves either as a bare
// number, a numeric string, or a {"value": ...} object.
func (a *Flashpoint) score(hit map[string]any) (float64, bool) {
	if v, ok := digFloat(hit, "score"); ok {
		return v, true
	}
	if v, ok := digFloat(hit, "score", "value"); ok {
		return v, true
	}
	return 0, false
}
