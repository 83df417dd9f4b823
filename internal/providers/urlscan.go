package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

const (
	urlscanDefaultBaseURL = "https://urlscan.io/api/v1"

	// Search-only policy: submitting a scan would visit the URL from
	// URLScan infrastructure and tip off the adversary that the indicator
	// is under investigation. We only ever read prior public submissions.
	urlscanNoResultEvidence = "No prior URLScan result found; submission disabled by policy"
)

// URLScan searches urlscan.io for prior public scans of a URL or domain.
// It never submits new scans.
type URLScan struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func NewURLScan(apiKey string, client *httpclient.Client) *URLScan {
	return &URLScan{apiKey: apiKey, baseURL: urlscanDefaultBaseURL, client: client}
}

func (a *URLScan) Name() string { return "urlscan" }

func (a *URLScan) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	if a.apiKey == "" {
		return notConfigured(), nil
	}
	if iocType != models.IOCTypeURL && iocType != models.IOCTypeDomain {
		return unsupportedType(iocType), nil
	}

	target := value
	if iocType == models.IOCTypeDomain {
		target = "https://" + value
	}

	query := url.Values{}
	query.Set("q", "page.url:"+target)
	query.Set("size", "1")

	resp, err := a.client.Get(ctx, a.baseURL+"/search/", map[string]string{"API-Key": a.apiKey}, query)
	if err != nil {
		return models.NormalizedResult{}, err
	}
	if resp.StatusCode != 200 {
		return apiError(resp.StatusCode), nil
	}

	var raw map[string]any
	if err := resp.JSON(&raw); err != nil {
		return models.NormalizedResult{}, fmt.Errorf("decode URLScan response: %w", err)
	}

	results := digSlice(raw, "results")
	if len(results) == 0 {
		return unknownResult(urlscanNoResultEvidence, intPtr(204)), nil
	}
	hit, ok := results[0].(map[string]any)
	if !ok {
		return unknownResult(urlscanNoResultEvidence, intPtr(204)), nil
	}

	verdict, confidence := a.verdict(hit)

	var evidence []string
	if title := digString(hit, "page", "title"); title != "" {
		evidence = append(evidence, "Page title: "+title)
	}
	switch verdict {
	case models.VerdictMalicious:
		evidence = append(evidence, "Overall verdict: malicious")
	case models.VerdictSuspicious:
		evidence = append(evidence, "Overall verdict: suspicious")
	}
	if shot := digString(hit, "task", "screenshotURL"); shot != "" {
		evidence = append(evidence, "Screenshot: "+shot)
	}
	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "No specific evidence"
	}

	return models.NormalizedResult{
		Verdict:    verdict,
		Confidence: &confidence,
		Evidence:   ev,
		HTTPStatus: intPtr(200),
		RawJSON:    hit,
	}, nil
}

// verdict folds the per-scope verdict flags into one answer. Malicious on
// any scope wins over suspicious on any scope.
func (a *URLScan) verdict(hit map[string]any) (models.Verdict, int) {
	malicious := digBool(hit, "verdicts", "overall", "malicious") ||
		digBool(hit, "verdicts", "urls", "malicious") ||
		digBool(hit, "verdicts", "domains", "malicious")
	if malicious {
		return models.VerdictMalicious, 90
	}

	suspicious := digBool(hit, "verdicts", "overall", "suspicious") ||
		digBool(hit, "verdicts", "urls", "suspicious") ||
		digBool(hit, "verdicts", "domains", "suspicious")
	if suspicious {
		return models.VerdictSuspicious, 60
	}

	return models.VerdictBenign, 10
}
