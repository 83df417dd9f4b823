package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

const csDefaultBaseURL = "https://api.crowdstrike.com"

// CrowdStrike queries the Falcon Intel indicator API. OAuth2 client-credential
// tokens are cached until shortly before expiry and refreshed under a mutex
// so concurrent enrichments share one token.
type CrowdStrike struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *httpclient.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewCrowdStrike(clientID, clientSecret string, client *httpclient.Client) *CrowdStrike {
	return &CrowdStrike{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      csDefaultBaseURL,
		client:       client,
	}
}

func (a *CrowdStrike) Name() string { return "crowdstrike" }

// indicatorType maps our IOC types onto Falcon indicator types.
func (a *CrowdStrike) indicatorType(t models.IOCType) string {
	switch t {
	case models.IOCTypeURL:
		return "url"
	case models.IOCTypeDomain:
		return "domain"
	case models.IOCTypeIPv4:
		return "ip_address"
	case models.IOCTypeSHA256:
		return "hash_sha256"
	case models.IOCTypeMD5:
		return "hash_md5"
	default:
		return ""
	}
}

func (a *CrowdStrike) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	if a.clientID == "" || a.clientSecret == "" {
		return notConfigured(), nil
	}
	csType := a.indicatorType(iocType)
	if csType == "" {
		return unsupportedType(iocType), nil
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return models.NormalizedResult{}, err
	}

	query := url.Values{}
	query.Set("filter", fmt.Sprintf("indicator:'%s'+type:'%s'", value, csType))
	query.Set("limit", "1")

	resp, err := a.client.Get(ctx, a.baseURL+"/intel/combined/indicators/v1",
		map[string]string{"Authorization": "Bearer " + token}, query)
	if err != nil {
		return models.NormalizedResult{}, err
	}
	if resp.StatusCode != 200 {
		return apiError(resp.StatusCode), nil
	}

	var raw map[string]any
	if err := resp.JSON(&raw); err != nil {
		return models.NormalizedResult{}, fmt.Errorf("decode CrowdStrike response: %w", err)
	}

	resources := digSlice(raw, "resources")
	if len(resources) == 0 {
		return unknownResult("Not found in CrowdStrike intel", intPtr(404)), nil
	}
	indicator, ok := resources[0].(map[string]any)
	if !ok {
		return unknownResult("Not found in CrowdStrike intel", intPtr(404)), nil
	}
	return a.normalize(indicator), nil
}

// accessToken returns a cached OAuth2 token, minting a fresh one when the
// cached token is within a minute of expiry.
func (a *CrowdStrike) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.tokenExpiry.Add(-time.Minute)) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)

	resp, err := a.client.PostForm(ctx, a.baseURL+"/oauth2/token", nil, form)
	if err != nil {
		return "", fmt.Errorf("CrowdStrike token request: %w", err)
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return "", fmt.Errorf("CrowdStrike token request: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.JSON(&body); err != nil {
		return "", fmt.Errorf("decode CrowdStrike token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("CrowdStrike token response missing access_token")
	}

	a.token = body.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return a.token, nil
}

func (a *CrowdStrike) normalize(indicator map[string]any) models.NormalizedResult {
	verdict, confidence := a.verdict(indicator)

	actor := firstName(digSlice(indicator, "actors"))
	if actor == "" {
		actor = digString(indicator, "actor")
	}
	family := firstName(digSlice(indicator, "malware_families"))

	var evidence []string
	if mc := digString(indicator, "malicious_confidence"); mc != "" {
		evidence = append(evidence, "Malicious confidence: "+mc)
	}
	if labels := digSlice(indicator, "labels"); len(labels) > 0 {
		var names []string
		for _, l := range labels {
			if m, ok := l.(map[string]any); ok {
				if name, ok := m["name"].(string); ok {
					names = append(names, name)
				}
			} else if s, ok := l.(string); ok {
				names = append(names, s)
			}
		}
		if len(names) > 5 {
			names = names[:5]
		}
		if len(names) > 0 {
			evidence = append(evidence, "Labels: "+strings.Join(names, ", "))
		}
	}
	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "Indicator present with no confidence rating"
	}

	result := models.NormalizedResult{
		Verdict:    verdict,
		Confidence: &confidence,
		Actor:      actor,
		Family:     family,
		Evidence:   ev,
		HTTPStatus: intPtr(200),
		RawJSON:    indicator,
	}
	// published_date / last_updated are epoch seconds.
	if fs, ok := digFloat(indicator, "published_date"); ok {
		result.FirstSeen = fs
	}
	if ls, ok := digFloat(indicator, "last_updated"); ok {
		result.LastSeen = ls
	}
	return result
}

// verdict maps Falcon's malicious_confidence rating. An indicator that
// exists in the feed but carries no rating is still suspicious.
func (a *CrowdStrike) verdict(indicator map[string]any) (models.Verdict, int) {
	switch strings.ToLower(digString(indicator, "malicious_confidence")) {
	case "high", "very-high", "critical":
		return models.VerdictMalicious, 90
	case "medium", "moderate":
		return models.VerdictSuspicious, 60
	case "low", "unverified":
		return models.VerdictSuspicious, 40
	default:
		return models.VerdictSuspicious, 30
	}
}
