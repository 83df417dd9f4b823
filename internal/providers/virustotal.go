package providers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

const vtDefaultBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotal queries the v3 object endpoints for URLs, domains, IPs and
// file hashes. The verdict comes from last_analysis_stats: any engine
// flagging malicious wins, then suspicious, else benign.
type VirusTotal struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func NewVirusTotal(apiKey string, client *httpclient.Client) *VirusTotal {
	return &VirusTotal{apiKey: apiKey, baseURL: vtDefaultBaseURL, client: client}
}

func (a *VirusTotal) Name() string { return "virustotal" }

func (a *VirusTotal) endpoint(t models.IOCType) string {
	switch t {
	case models.IOCTypeURL:
		return "/urls"
	case models.IOCTypeDomain:
		return "/domains"
	case models.IOCTypeIPv4:
		return "/ip_addresses"
	default: // sha256, md5
		return "/files"
	}
}

func (a *VirusTotal) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	if a.apiKey == "" {
		return notConfigured(), nil
	}

	switch iocType {
	case models.IOCTypeURL, models.IOCTypeDomain, models.IOCTypeIPv4, models.IOCTypeSHA256, models.IOCTypeMD5:
	default:
		return unsupportedType(iocType), nil
	}

	url := a.baseURL + a.endpoint(iocType) + "/" + value
	resp, err := a.client.Get(ctx, url, map[string]string{"X-Apikey": a.apiKey}, nil)
	if err != nil {
		log.Printf("[VirusTotal] Lookup failed for %s: %v", truncate(value), err)
		return models.NormalizedResult{}, err
	}

	switch {
	case resp.StatusCode == 200:
		var raw map[string]any
		if err := resp.JSON(&raw); err != nil {
			return models.NormalizedResult{}, fmt.Errorf("decode VirusTotal response: %w", err)
		}
		return a.normalize(raw, resp.StatusCode), nil

	case resp.StatusCode == 404:
		return unknownResult("Not found in VirusTotal", intPtr(404)), nil

	default:
		return apiError(resp.StatusCode), nil
	}
}

func (a *VirusTotal) normalize(raw map[string]any, status int) models.NormalizedResult {
	stats := digMap(raw, "data", "attributes", "last_analysis_stats")
	malicious, _ := digFloat(stats, "malicious")
	suspicious, _ := digFloat(stats, "suspicious")
	undetected, _ := digFloat(stats, "undetected")

	verdict := models.VerdictBenign
	if malicious >= 1 {
		verdict = models.VerdictMalicious
	} else if suspicious >= 1 {
		verdict = models.VerdictSuspicious
	}

	var confidence *int
	if total := malicious + suspicious + undetected; total > 0 {
		c := int((malicious + suspicious) / total * 100)
		if c > 100 {
			c = 100
		}
		confidence = &c
	}

	actor, family := a.threatLabel(raw)

	var evidence []string
	if malicious > 0 {
		evidence = append(evidence, fmt.Sprintf("%d engines detected as malicious", int(malicious)))
	}
	if suspicious > 0 {
		evidence = append(evidence, fmt.Sprintf("%d engines detected as suspicious", int(suspicious)))
	}
	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "No detections"
	}

	result := models.NormalizedResult{
		Verdict:    verdict,
		Confidence: confidence,
		Actor:      actor,
		Family:     family,
		Evidence:   ev,
		HTTPStatus: intPtr(status),
		RawJSON:    raw,
	}
	// Submission timestamps arrive as epoch seconds.
	if fs, ok := digFloat(raw, "data", "attributes", "first_submission_date"); ok {
		result.FirstSeen = fs
	}
	if ls, ok := digFloat(raw, "data", "attributes", "last_analysis_date"); ok {
		result.LastSeen = ls
	}
	return result
}

// threatLabel parses popular_threat_classification.suggested_threat_label.
// Labels shaped "family:actor" split into both fields; a bare label is a
// family name.
func (a *VirusTotal) threatLabel(raw map[string]any) (actor, family string) {
	labels := digSlice(raw, "data", "attributes", "popular_threat_classification", "suggested_threat_label")
	label := ""
	switch v := dig(raw, "data", "attributes", "popular_threat_classification", "suggested_threat_label").(type) {
	case string:
		label = v
	default:
		if len(labels) > 0 {
			label, _ = labels[0].(string)
		}
	}
	if label == "" {
		return "", ""
	}
	if fam, act, found := strings.Cut(label, ":"); found {
		return strings.TrimSpace(act), strings.TrimSpace(fam)
	}
	return "", strings.TrimSpace(label)
}
