package models

import "time"

// Verdict is the canonical four-valued verdict every provider response is
// normalized into. No other value reaches storage or scoring.
type Verdict string

const (
	VerdictUnknown    Verdict = "unknown"
	VerdictBenign     Verdict = "benign"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
)

// NormalizedResult is the adapter contract output for one (IOC, provider)
// lookup. FirstSeen/LastSeen hold whatever shape the upstream reported
// (RFC 3339 string, epoch seconds, time.Time); the orchestrator normalizes
// them to UTC before persisting.
type NormalizedResult struct {
	Verdict    Verdict `json:"verdict"`
	Confidence *int    `json:"confidence,omitempty"` // 0-100
	Actor      string  `json:"actor,omitempty"`
	Family     string  `json:"family,omitempty"`
	Evidence   string  `json:"evidence"`
	HTTPStatus *int    `json:"httpStatus,omitempty"`
	RawJSON    any     `json:"rawJson,omitempty"`
	FirstSeen  any     `json:"firstSeen,omitempty"`
	LastSeen   any     `json:"lastSeen,omitempty"`
}

// EnrichmentResult is the persisted form of a NormalizedResult. At most one
// row exists per (ioc_id, provider); re-enrichment replaces the prior row.
type EnrichmentResult struct {
	ID         int64      `json:"id"`
	IOCID      int64      `json:"iocId"`
	Provider   string     `json:"provider"`
	Verdict    Verdict    `json:"verdict"`
	Actor      string     `json:"actor,omitempty"`
	Family     string     `json:"family,omitempty"`
	Confidence *int       `json:"confidence,omitempty"`
	Evidence   string     `json:"evidence,omitempty"`
	RawJSON    any        `json:"rawJson,omitempty"`
	HTTPStatus *int       `json:"httpStatus,omitempty"`
	FirstSeen  *time.Time `json:"firstSeen,omitempty"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
	QueriedAt  time.Time  `json:"queriedAt"`
}

// RiskBand buckets the composite risk score for dashboards and filtering.
type RiskBand string

const (
	BandLow      RiskBand = "Low"
	BandMedium   RiskBand = "Medium"
	BandHigh     RiskBand = "High"
	BandCritical RiskBand = "Critical"
)

// IOCScore is one scoring run for an IOC. Scores are append-only; the row
// with the largest ComputedAt is the current one.
type IOCScore struct {
	ID               int64     `json:"id"`
	IOCID            int64     `json:"iocId"`
	RiskScore        int       `json:"riskScore"`        // 0-100
	AttributionScore int       `json:"attributionScore"` // 0-100
	RiskBand         RiskBand  `json:"riskBand"`
	ComputedAt       time.Time `json:"computedAt"`
}
