package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/threatforge/enrichment-engine/internal/config"
	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// Adapter is the uniform capability for one upstream intelligence provider.
//
// Enrich never returns an error for "nothing known": missing credentials,
// unsupported IOC types, 404s and upstream 4xx all come back as
// verdict=unknown with a non-empty evidence string. An error return means
// the lookup itself broke (transport exhaustion, unparseable payload) and
// the orchestrator synthesizes the stored result.
type Adapter interface {
	Name() string
	Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error)
}

// BuildAll wires every compiled-in adapter against one shared harness.
// Providers are compiled in; there is no plugin runtime.
func BuildAll(cfg *config.Config, client *httpclient.Client) []Adapter {
	return []Adapter{
		NewVirusTotal(cfg.VirusTotalAPIKey, client),
		NewURLScan(cfg.URLScanAPIKey, client),
		NewCrowdStrike(cfg.CrowdStrikeClientID, cfg.CrowdStrikeClientSecret, client),
		NewFlashpoint(cfg.FlashpointAPIKey, cfg.FlashpointBaseURL, client),
		NewRecordedFuture(cfg.RecordedFutureAPIKey, client),
		NewOSINT(),
		NewForensic(client),
	}
}

// NormalizeVerdict maps free-form upstream vocabulary onto the canonical
// enum. Anything unrecognized is unknown, never passed through.
func NormalizeVerdict(raw string) models.Verdict {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "malicious", "high", "dangerous", "threat":
		return models.VerdictMalicious
	case "suspicious", "medium", "warning":
		return models.VerdictSuspicious
	case "benign", "clean", "safe", "low":
		return models.VerdictBenign
	default:
		return models.VerdictUnknown
	}
}

// VerdictFromRiskScore maps a numeric 0-100 provider risk score onto the
// canonical enum: ≥80 malicious, ≥40 suspicious, else benign.
func VerdictFromRiskScore(score float64) models.Verdict {
	switch {
	case score >= 80:
		return models.VerdictMalicious
	case score >= 40:
		return models.VerdictSuspicious
	default:
		return models.VerdictBenign
	}
}

// unknownResult builds the canonical empty-handed answer.
func unknownResult(evidence string, httpStatus *int) models.NormalizedResult {
	return models.NormalizedResult{
		Verdict:    models.VerdictUnknown,
		Evidence:   evidence,
		HTTPStatus: httpStatus,
	}
}

func notConfigured() models.NormalizedResult {
	return unknownResult("API key not configured", nil)
}

func unsupportedType(t models.IOCType) models.NormalizedResult {
	return unknownResult(fmt.Sprintf("Unsupported IOC type: %s", t), nil)
}

func apiError(status int) models.NormalizedResult {
	return unknownResult(fmt.Sprintf("API error: %d", status), intPtr(status))
}

func intPtr(v int) *int { return &v }

// truncate shortens long IOC values for log lines.
func truncate(v string) string {
	if len(v) > 50 {
		return v[:50] + "..."
	}
	return v
}

// Loosely typed JSON helpers. Provider payloads are dynamic trees; these
// pull the handful of fields we read without a schema per provider.

func dig(m map[string]any, path ...string) any {
	cur := any(m)
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[p]
	}
	return cur
}

func digMap(m map[string]any, path ...string) map[string]any {
	v, _ := dig(m, path...).(map[string]any)
	return v
}

func digString(m map[string]any, path ...string) string {
	switch v := dig(m, path...).(type) {
	case string:
		return v
	default:
		return ""
	}
}

func digFloat(m map[string]any, path ...string) (float64, bool) {
	switch v := dig(m, path...).(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func digSlice(m map[string]any, path ...string) []any {
	v, _ := dig(m, path...).([]any)
	return v
}

func digBool(m map[string]any, path ...string) bool {
	v, _ := dig(m, path...).(bool)
	return v
}

// firstName pulls a display name out of a list whose elements may be plain
// strings or {"name": ...} objects. Provider schemas disagree on this.
func firstName(items []any) string {
	if len(items) == 0 {
		return ""
	}
	switch v := items[0].(type) {
	case string:
		return v
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return name
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
