package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

func testHarness() *httpclient.Client {
	return httpclient.NewWithOptions(2*time.Second, 1)
}

func TestNormalizeVerdict(t *testing.T) {
	tests := []struct {
		in   string
		want models.Verdict
	}{
		{"malicious", models.VerdictMalicious},
		{"MALICIOUS", models.VerdictMalicious},
		{"  High ", models.VerdictMalicious},
		{"dangerous", models.VerdictMalicious},
		{"threat", models.VerdictMalicious},
		{"suspicious", models.VerdictSuspicious},
		{"medium", models.VerdictSuspicious},
		{"warning", models.VerdictSuspicious},
		{"benign", models.VerdictBenign},
		{"clean", models.VerdictBenign},
		{"safe", models.VerdictBenign},
		{"low", models.VerdictBenign},
		{"", models.VerdictUnknown},
		{"weird-vendor-string", models.VerdictUnknown},
		{"critical-ish", models.VerdictUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeVerdict(tt.in); got != tt.want {
			t.Errorf("NormalizeVerdict(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestVerdictFromRiskScore(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Verdict
	}{
		{0, models.VerdictBenign},
		{39, models.VerdictBenign},
		{40, models.VerdictSuspicious},
		{79, models.VerdictSuspicious},
		{80, models.VerdictMalicious},
		{99, models.VerdictMalicious},
	}
	for _, tt := range tests {
		if got := VerdictFromRiskScore(tt.score); got != tt.want {
			t.Errorf("VerdictFromRiskScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestAdapters_MissingCredentials(t *testing.T) {
	harness := testHarness()
	adapters := []Adapter{
		NewVirusTotal("", harness),
		NewURLScan("", harness),
		NewCrowdStrike("", "", harness),
		NewFlashpoint("", "", harness),
		NewRecordedFuture("", harness),
	}

	for _, a := range adapters {
		result, err := a.Enrich(context.Background(), "evil.example.com", models.IOCTypeDomain)
		if err != nil {
			t.Errorf("%s: missing credentials must not error: %v", a.Name(), err)
		}
		if result.Verdict != models.VerdictUnknown {
			t.Errorf("%s: verdict = %s, want unknown", a.Name(), result.Verdict)
		}
		if result.Evidence != "API key not configured" {
			t.Errorf("%s: evidence = %q", a.Name(), result.Evidence)
		}
	}
}

func TestVirusTotal_UnsupportedType(t *testing.T) {
	vt := NewVirusTotal("key", testHarness())
	result, err := vt.Enrich(context.Background(), "urgent invoice", models.IOCTypeSubjectKeyword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
	if result.Evidence != "Unsupported IOC type: subject_keyword" {
		t.Errorf("evidence = %q", result.Evidence)
	}
}

func TestVirusTotal_MaliciousDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Apikey") != "vt-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/domains/evil.example.com" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"data": {"attributes": {
				"last_analysis_stats": {"malicious": 12, "suspicious": 3, "undetected": 55},
				"popular_threat_classification": {"suggested_threat_label": "emotet:mummy_spider"},
				"first_submission_date": 1767225600,
				"last_analysis_date": 1772000000
			}}
		}`))
	}))
	defer srv.Close()

	vt := NewVirusTotal("vt-key", testHarness())
	vt.baseURL = srv.URL

	result, err := vt.Enrich(context.Background(), "evil.example.com", models.IOCTypeDomain)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", result.Verdict)
	}
	if result.Family != "emotet" || result.Actor != "mummy_spider" {
		t.Errorf("attribution = (%q, %q), want (mummy_spider, emotet)", result.Actor, result.Family)
	}
	if result.Confidence == nil || *result.Confidence != 21 { // (12+3)/70*100
		t.Errorf("confidence = %v, want 21", result.Confidence)
	}
	if result.FirstSeen == nil || result.LastSeen == nil {
		t.Error("expected epoch timestamps carried through")
	}
}

func TestVirusTotal_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	vt := NewVirusTotal("vt-key", testHarness())
	vt.baseURL = srv.URL

	result, err := vt.Enrich(context.Background(), "clean.example.com", models.IOCTypeDomain)
	if err != nil {
		t.Fatalf("404 must not be an error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
	if result.Evidence != "Not found in VirusTotal" {
		t.Errorf("evidence = %q", result.Evidence)
	}
	if result.HTTPStatus == nil || *result.HTTPStatus != 404 {
		t.Errorf("http status = %v, want 404", result.HTTPStatus)
	}
}

func TestURLScan_NoPriorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-Key") != "us-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query().Get("q"); got != "page.url:https://fresh.example.com/kit" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	us := NewURLScan("us-key", testHarness())
	us.baseURL = srv.URL

	result, err := us.Enrich(context.Background(), "https://fresh.example.com/kit", models.IOCTypeURL)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
	if result.HTTPStatus == nil || *result.HTTPStatus != 204 {
		t.Errorf("http status = %v, want 204", result.HTTPStatus)
	}
	if result.Evidence != "No prior URLScan result found; submission disabled by policy" {
		t.Errorf("evidence = %q", result.Evidence)
	}
}

func TestURLScan_MaliciousVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{
			"page": {"title": "Login - Totally Real Bank"},
			"verdicts": {"overall": {"malicious": true}}
		}]}`))
	}))
	defer srv.Close()

	us := NewURLScan("us-key", testHarness())
	us.baseURL = srv.URL

	result, err := us.Enrich(context.Background(), "https://phish.example.com", models.IOCTypeURL)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", result.Verdict)
	}
	if result.Confidence == nil || *result.Confidence != 90 {
		t.Errorf("confidence = %v, want 90", result.Confidence)
	}
}

func TestURLScan_UnsupportedType(t *testing.T) {
	us := NewURLScan("us-key", testHarness())
	result, err := us.Enrich(context.Background(), "198.51.100.7", models.IOCTypeIPv4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
}

func TestCrowdStrike_TokenAndIndicator(t *testing.T) {
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenCalls++
			if r.PostFormValue("client_id") != "cs-id" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"access_token": "cs-token", "expires_in": 1800}`))
		case "/intel/combined/indicators/v1":
			if r.Header.Get("Authorization") != "Bearer cs-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"resources": [{
				"malicious_confidence": "high",
				"actors": ["WIZARD SPIDER"],
				"malware_families": [{"name": "TrickBot"}],
				"published_date": 1767225600,
				"last_updated": 1772000000
			}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cs := NewCrowdStrike("cs-id", "cs-secret", testHarness())
	cs.baseURL = srv.URL

	result, err := cs.Enrich(context.Background(), "evil.example.com", models.IOCTypeDomain)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", result.Verdict)
	}
	if result.Actor != "WIZARD SPIDER" {
		t.Errorf("actor = %q", result.Actor)
	}
	if result.Family != "TrickBot" {
		t.Errorf("family = %q", result.Family)
	}

	// Second lookup reuses the cached token.
	if _, err := cs.Enrich(context.Background(), "evil2.example.com", models.IOCTypeDomain); err != nil {
		t.Fatalf("second Enrich() error: %v", err)
	}
	if tokenCalls != 1 {
		t.Errorf("token minted %d times, want 1", tokenCalls)
	}
}

func TestCrowdStrike_NoIndicator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			w.Write([]byte(`{"access_token": "t", "expires_in": 1800}`))
			return
		}
		w.Write([]byte(`{"resources": []}`))
	}))
	defer srv.Close()

	cs := NewCrowdStrike("id", "secret", testHarness())
	cs.baseURL = srv.URL

	result, err := cs.Enrich(context.Background(), "clean.example.com", models.IOCTypeDomain)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
	if result.HTTPStatus == nil || *result.HTTPStatus != 404 {
		t.Errorf("http status = %v, want 404", result.HTTPStatus)
	}
}

func TestFlashpoint_RESTRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/indicators/attribute" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"results": [{
			"score": 85,
			"actors": [{"name": "FIN7"}],
			"first_seen_at": "2026-01-10T00:00:00Z",
			"last_seen_at": "2026-03-01T00:00:00Z"
		}]}`))
	}))
	defer srv.Close()

	fp := NewFlashpoint("fp-key", srv.URL, testHarness())

	result, err := fp.Enrich(context.Background(), "evil.example.com", models.IOCTypeDomain)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious (score 85)", result.Verdict)
	}
	if result.Actor != "FIN7" {
		t.Errorf("actor = %q", result.Actor)
	}
}

func TestFlashpoint_ESFallback(t *testing.T) {
	var postCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost:
			postCalls++
			if postCalls == 1 {
				// First ES shape rejected; adapter must try the next.
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"hits": {"hits": [{"_source": {"score": {"value": 50}}}]}}`))
		}
	}))
	defer srv.Close()

	fp := NewFlashpoint("fp-key", srv.URL, testHarness())

	result, err := fp.Enrich(context.Background(), "evil.example.com", models.IOCTypeDomain)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictSuspicious {
		t.Errorf("verdict = %s, want suspicious (score 50)", result.Verdict)
	}
	if postCalls < 2 {
		t.Errorf("expected fallback across ES routes, got %d POST calls", postCalls)
	}
}

func TestRecordedFuture_RiskScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-RFToken") != "rf-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/ip/198.51.100.7" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"data": {
			"risk": {
				"score": 92,
				"criticalityLabel": "Very Malicious",
				"evidenceDetails": [
					{"rule": "Historical Threat Actor Infrastructure", "evidenceString": "APT28"},
					{"rule": "Recent Malware Analysis", "evidenceString": "X-Agent"}
				]
			},
			"timestamps": {"firstSeen": "2025-11-01T00:00:00.000Z", "lastSeen": "2026-03-05T00:00:00.000Z"}
		}}`))
	}))
	defer srv.Close()

	rf := NewRecordedFuture("rf-key", testHarness())
	rf.baseURL = srv.URL

	result, err := rf.Enrich(context.Background(), "198.51.100.7", models.IOCTypeIPv4)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if result.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", result.Verdict)
	}
	if result.Actor != "APT28" {
		t.Errorf("actor = %q", result.Actor)
	}
	if result.Family != "X-Agent" {
		t.Errorf("family = %q", result.Family)
	}
	if result.Confidence == nil || *result.Confidence != 92 {
		t.Errorf("confidence = %v, want 92", result.Confidence)
	}
}

func TestOSINT_UnsupportedType(t *testing.T) {
	o := NewOSINT()
	result, err := o.Enrich(context.Background(), "d41d8cd98f00b204e9800998ecf8427e", models.IOCTypeMD5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
}

func TestOSINT_UnreachableHostIsNotAnError(t *testing.T) {
	o := NewOSINT()
	o.http.Timeout = 500 * time.Millisecond

	// Reserved TEST-NET address, guaranteed unroutable.
	result, err := o.Enrich(context.Background(), "https://192.0.2.1/", models.IOCTypeURL)
	if err != nil {
		t.Fatalf("unreachable host must not error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
	if result.Evidence != "Host unreachable" {
		t.Errorf("evidence = %q", result.Evidence)
	}
}

func TestForensic_UnsupportedType(t *testing.T) {
	f := NewForensic(testHarness())
	result, err := f.Enrich(context.Background(), "urgent wire transfer", models.IOCTypeSubjectKeyword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Verdict != models.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", result.Verdict)
	}
}

func TestFirstName_Shapes(t *testing.T) {
	if got := firstName([]any{"APT29"}); got != "APT29" {
		t.Errorf("string element: %q", got)
	}
	if got := firstName([]any{map[string]any{"name": "TrickBot"}}); got != "TrickBot" {
		t.Errorf("object element: %q", got)
	}
	if got := firstName(nil); got != "" {
		t.Errorf("empty list: %q", got)
	}
}
