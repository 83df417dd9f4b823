package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

const rfDefaultBaseURL = "https://api.recordedfuture.com/v2"

// RecordedFuture queries the v2 risk endpoints. The verdict comes from
// risk.score on the Recorded Future 0-99 scale.
type RecordedFuture struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func NewRecordedFuture(apiKey string, client *httpclient.Client) *RecordedFuture {
	return &RecordedFuture{apiKey: apiKey, baseURL: rfDefaultBaseURL, client: client}
}

func (a *RecordedFuture) Name() string { return "recorded_future" }

func (a *RecordedFuture) pathSegment(t models.IOCType) string {
	switch t {
	case models.IOCTypeIPv4:
		return "ip"
	case models.IOCTypeDomain:
		return "domain"
	case models.IOCTypeURL:
		return "url"
	case models.IOCTypeSHA256, models.IOCTypeMD5:
		return "hash"
	case models.IOCTypeEmail:
		return "email"
	default:
		return ""
	}
}

func (a *RecordedFuture) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	if a.apiKey == "" {
		return notConfigured(), nil
	}
	segment := a.pathSegment(iocType)
	if segment == "" {
		return unsupportedType(iocType), nil
	}

	query := url.Values{}
	query.Set("fields", "risk,timestamps")

	target := a.baseURL + "/" + segment + "/" + url.PathEscape(value)
	resp, err := a.client.Get(ctx, target, map[string]string{"X-RFToken": a.apiKey}, query)
	if err != nil {
		return models.NormalizedResult{}, err
	}

	switch {
	case resp.StatusCode == 200:
		var raw map[string]any
		if err := resp.JSON(&raw); err != nil {
			return models.NormalizedResult{}, fmt.Errorf("decode Recorded Future response: %w", err)
		}
		return a.normalize(raw), nil

	case resp.StatusCode == 404:
		return unknownResult("Not found in Recorded Future", intPtr(404)), nil

	default:
		return apiError(resp.StatusCode), nil
	}
}

func (a *RecordedFuture) normalize(raw map[string]any) models.NormalizedResult {
	data := digMap(raw, "data")
	if data == nil {
		data = raw
	}

	score, scored := digFloat(data, "risk", "score")
	verdict := models.VerdictUnknown
	confidence := 0
	if scored {
		verdict = VerdictFromRiskScore(score)
		confidence = int(score)
		if confidence > 100 {
			confidence = 100
		}
	}

	actor, family := a.attribution(data)

	var evidence []string
	if scored {
		evidence = append(evidence, fmt.Sprintf("Risk score: %d", int(score)))
	}
	if rules := digSlice(data, "risk", "evidenceDetails"); len(rules) > 0 {
		evidence = append(evidence, fmt.Sprintf("%d risk rules triggered", len(rules)))
	} else if count, ok := digFloat(data, "risk", "rules"); ok && count > 0 {
		evidence = append(evidence, fmt.Sprintf("%d risk rules triggered", int(count)))
	}
	if crit := digString(data, "risk", "criticalityLabel"); crit != "" {
		evidence = append(evidence, "Criticality: "+crit)
	}
	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "No risk evidence reported"
	}

	result := models.NormalizedResult{
		Verdict:    verdict,
		Confidence: &confidence,
		Actor:      actor,
		Family:     family,
		Evidence:   ev,
		HTTPStatus: intPtr(200),
		RawJSON:    raw,
	}
	if fs := dig(data, "timestamps", "firstSeen"); fs != nil {
		result.FirstSeen = fs
	}
	if ls := dig(data, "timestamps", "lastSeen"); ls != nil {
		result.LastSeen = ls
	}
	return result
}

// attribution scans evidenceDetails for actor and malware references, then
// falls back to the flat threat_actors / malware_families lists some
// responses carry.
func (a *RecordedFuture) attribution(data map[string]any) (actor, family string) {
	for _, item := range digSlice(data, "risk", "evidenceDetails") {
		detail, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rule := strings.ToLower(digString(detail, "rule"))
		evidence := digString(detail, "evidenceString")
		if actor == "" && strings.Contains(rule, "threat actor") {
			actor = evidence
		}
		if family == "" && strings.Contains(rule, "malware") {
			family = evidence
		}
	}
	if actor == "" {
		actor = firstName(digSlice(data, "threat_actors"))
	}
	if family == "" {
		family = firstName(digSlice(data, "malware_families"))
	}
	return truncateField(actor), truncateField(family)
}

// truncateField bounds free-text attribution pulled from evidence strings.
func truncateField(v string) string {
	if len(v) > 255 {
		return v[:255]
	}
	return v
}
