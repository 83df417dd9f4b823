package providers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// OSINT probes URLs and domains directly: liveness, page title, favicon
// fingerprint and robots.txt presence. It needs no credentials and talks
// straight HTTP with its own short-timeout client because the target is the
// adversary's infrastructure, not a rate-limited API. It never returns an
// error: an unreachable host is itself a finding.
type OSINT struct {
	http *http.Client
}

func NewOSINT() *OSINT {
	return &OSINT{http: &http.Client{Timeout: 10 * time.Second}}
}

func (a *OSINT) Name() string { return "osint" }

func (a *OSINT) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	if iocType != models.IOCTypeURL && iocType != models.IOCTypeDomain {
		return unsupportedType(iocType), nil
	}

	target := value
	if iocType == models.IOCTypeDomain {
		target = "https://" + value
	}

	status, body := a.fetch(ctx, target)

	findings := map[string]any{"probed_url": target}
	var evidence []string

	if status == 0 {
		findings["reachable"] = false
		return models.NormalizedResult{
			Verdict:    models.VerdictUnknown,
			Confidence: intPtr(10),
			Evidence:   "Host unreachable",
			RawJSON:    findings,
		}, nil
	}

	findings["reachable"] = true
	findings["http_status"] = status
	evidence = append(evidence, fmt.Sprintf("HTTP %d", status))

	if title := a.pageTitle(body); title != "" {
		findings["page_title"] = title
		evidence = append(evidence, "Title: "+title)
	}
	if hash := a.faviconHash(ctx, target); hash != "" {
		findings["favicon_md5"] = hash
		evidence = append(evidence, "Favicon fingerprint: "+hash)
	}
	if a.hasRobots(ctx, target) {
		findings["robots_txt"] = true
		evidence = append(evidence, "robots.txt present")
	}

	verdict := models.VerdictUnknown
	confidence := 10
	switch {
	case status >= 400:
		verdict = models.VerdictSuspicious
		confidence = 30
		evidence = append(evidence, "Server rejects direct requests")
	case status == 200:
		verdict = models.VerdictBenign
		confidence = 20
	}

	return models.NormalizedResult{
		Verdict:    verdict,
		Confidence: &confidence,
		Evidence:   strings.Join(evidence, "; "),
		HTTPStatus: intPtr(status),
		RawJSON:    findings,
	}, nil
}

// fetch tries a HEAD first, falling back to GET when HEAD is refused or the
// body is needed for the title. Returns status 0 when the host is down.
func (a *OSINT) fetch(ctx context.Context, target string) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, nil
	}
	req.Header.Set("User-Agent", "Threat-Forge/1.0")

	if resp, err := a.http.Do(req); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusMethodNotAllowed {
			return a.get(ctx, target)
		}
		// HEAD carries no body; re-fetch for the title only on success.
		if resp.StatusCode == 200 {
			return a.get(ctx, target)
		}
		return resp.StatusCode, nil
	}
	return a.get(ctx, target)
}

func (a *OSINT) get(ctx context.Context, target string) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil
	}
	req.Header.Set("User-Agent", "Threat-Forge/1.0")

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	return resp.StatusCode, body
}

func (a *OSINT) pageTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if m == nil {
		return ""
	}
	title := strings.TrimSpace(string(m[1]))
	if len(title) > 200 {
		title = title[:200]
	}
	return title
}

// faviconHash fetches /favicon.ico and returns a short MD5 fingerprint,
// enough to pivot on phishing-kit reuse.
func (a *OSINT) faviconHash(ctx context.Context, target string) string {
	base := a.origin(target)
	if base == "" {
		return ""
	}
	status, body := a.get(ctx, base+"/favicon.ico")
	if status != 200 || len(body) == 0 {
		return ""
	}
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])[:16]
}

func (a *OSINT) hasRobots(ctx context.Context, target string) bool {
	base := a.origin(target)
	if base == "" {
		return false
	}
	status, _ := a.get(ctx, base+"/robots.txt")
	return status == 200
}

// origin reduces a URL to scheme://host.
func (a *OSINT) origin(target string) string {
	rest, ok := strings.CutPrefix(target, "https://")
	scheme := "https://"
	if !ok {
		rest, ok = strings.CutPrefix(target, "http://")
		scheme = "http://"
		if !ok {
			return ""
		}
	}
	host, _, _ := strings.Cut(rest, "/")
	if host == "" {
		return ""
	}
	return scheme + host
}
