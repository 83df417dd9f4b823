package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

// Alert & Webhook System
//
// Structured alert emission for SOC operations. Alerts are:
//   1. Broadcast via WebSocket to connected dashboards
//   2. Pushed to registered webhook endpoints (Slack, Discord, SIEM)
//   3. Stored in memory for recent alert history
//
// Alerts fire for IOCs that score into the High or Critical risk bands.
// Webhook payloads follow a common JSON format compatible with
// Slack incoming webhooks, Discord webhooks, and PagerDuty Events API.

// Alert represents a structured enrichment alert
type Alert struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Severity    string          `json:"severity"`  // info/low/medium/high/critical
	AlertType   string          `json:"alertType"` // high_risk/attributed_threat
	Title       string          `json:"title"`
	Description string          `json:"description"`
	IOCID       int64           `json:"iocId,omitempty"`
	IOCValue    string          `json:"iocValue,omitempty"`
	IOCType     models.IOCType  `json:"iocType,omitempty"`
	RiskScore   int             `json:"riskScore"`
	RiskBand    models.RiskBand `json:"riskBand,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"` // Only send alerts >= this severity
}

// AlertManager handles alert emission and webhook delivery
type AlertManager struct {
	mu            sync.RWMutex
	webhooks      []WebhookEndpoint
	recentAlerts  []Alert
	maxHistory    int
	httpClient    *http.Client
	alertCallback func(Alert) // WebSocket broadcast callback
}

// NewAlertManager creates a new alert system
func NewAlertManager(broadcastFn func(Alert)) *AlertManager {
	return &AlertManager{
		webhooks:      make([]WebhookEndpoint, 0),
		recentAlerts:  make([]Alert, 0),
		maxHistory:    1000,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
	}
}

// RegisterWebhook adds a webhook endpoint
func (am *AlertManager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.webhooks = append(am.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})

	log.Printf("[AlertManager] Registered webhook: %s (min: %s)", name, minSeverity)
}

// RemoveWebhook removes a webhook by name
func (am *AlertManager) RemoveWebhook(name string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for i, wh := range am.webhooks {
		if wh.Name == name {
			am.webhooks = append(am.webhooks[:i], am.webhooks[i+1:]...)
			return
		}
	}
}

// EmitFromOutcome creates and emits an alert when an IOC scores into the
// High or Critical band. Lower bands stay quiet.
func (am *AlertManager) EmitFromOutcome(ioc *models.IOC, outcome *Outcome) {
	if outcome.Score.Band != models.BandHigh && outcome.Score.Band != models.BandCritical {
		return
	}

	severity := "high"
	if outcome.Score.Band == models.BandCritical {
		severity = "critical"
	}

	alertType := "high_risk"
	title := fmt.Sprintf("High-risk indicator: %s", ioc.Value)
	actor, family := attributionOf(outcome)
	if actor != "" || family != "" {
		alertType = "attributed_threat"
		title = fmt.Sprintf("Attributed threat: %s", ioc.Value)
	}

	am.EmitAlert(Alert{
		Severity:    severity,
		AlertType:   alertType,
		Title:       title,
		Description: buildDescription(ioc, outcome, actor, family),
		IOCID:       ioc.ID,
		IOCValue:    ioc.Value,
		IOCType:     ioc.Type,
		RiskScore:   outcome.Score.Risk,
		RiskBand:    outcome.Score.Band,
	})
}

// EmitAlert processes and distributes an alert
func (am *AlertManager) EmitAlert(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	// Store in history
	am.mu.Lock()
	am.recentAlerts = append(am.recentAlerts, alert)
	if len(am.recentAlerts) > am.maxHistory {
		am.recentAlerts = am.recentAlerts[len(am.recentAlerts)-am.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(am.webhooks))
	copy(webhooks, am.webhooks)
	am.mu.Unlock()

	// Broadcast via WebSocket callback
	if am.alertCallback != nil {
		am.alertCallback(alert)
	}

	// Send to webhooks (async, non-blocking)
	for _, wh := range webhooks {
		if !wh.Enabled {
			continue
		}
		if !severityMeetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		go am.sendWebhook(wh, alert)
	}

	log.Printf("[Alert] [%s] %s: %s (ioc: %d)", alert.Severity, alert.AlertType, alert.Title, alert.IOCID)
}

// GetRecentAlerts returns the most recent alerts, newest first
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.recentAlerts) {
		limit = len(am.recentAlerts)
	}

	start := len(am.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = am.recentAlerts[start+limit-1-i]
	}
	return result
}

// sendWebhook delivers an alert to a webhook endpoint
func (am *AlertManager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal alert: %v", err)
		return
	}

	req, err := http.NewRequest("POST", wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[Webhook] Failed to create request for %s: %v", wh.Name, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := am.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhook] Failed to send to %s: %v", wh.Name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[Webhook] %s returned status %d", wh.Name, resp.StatusCode)
	}
}

// severityMeetsThreshold checks if a severity level meets the minimum
func severityMeetsThreshold(severity, minimum string) bool {
	levels := map[string]int{
		"info": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
	}
	return levels[severity] >= levels[minimum]
}

func attributionOf(outcome *Outcome) (actor, family string) {
	for _, r := range outcome.Results {
		if actor == "" && r.Actor != "" {
			actor = r.Actor
		}
		if family == "" && r.Family != "" {
			family = r.Family
		}
	}
	return actor, family
}

// buildDescription creates a human-readable alert description
func buildDescription(ioc *models.IOC, outcome *Outcome, actor, family string) string {
	parts := []string{
		fmt.Sprintf("%s scored %d (%s band)", ioc.Type, outcome.Score.Risk, outcome.Score.Band),
	}

	malicious := 0
	for _, r := range outcome.Results {
		if r.Verdict == models.VerdictMalicious {
			malicious++
		}
	}
	if malicious > 0 {
		parts = append(parts, fmt.Sprintf("%d providers report malicious", malicious))
	}
	if actor != "" {
		parts = append(parts, "actor "+actor)
	}
	if family != "" {
		parts = append(parts, "family "+family)
	}
	return strings.Join(parts, "; ") + "."
}
