package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

func highRiskOutcome(band models.RiskBand, risk int) *Outcome {
	return &Outcome{
		IOCID: 7,
		Results: map[string]models.EnrichmentResult{
			"virustotal": {Provider: "virustotal", Verdict: models.VerdictMalicious, Actor: "APT29"},
		},
		Score: Score{Risk: risk, Attribution: 40, Band: band},
	}
}

func TestAlertManager_BandGating(t *testing.T) {
	var broadcast []Alert
	am := NewAlertManager(func(a Alert) { broadcast = append(broadcast, a) })
	ioc := testIOC(7)

	am.EmitFromOutcome(ioc, &Outcome{IOCID: 7, Score: Score{Risk: 10, Band: models.BandLow}})
	am.EmitFromOutcome(ioc, &Outcome{IOCID: 7, Score: Score{Risk: 30, Band: models.BandMedium}})
	assert.Empty(t, broadcast, "Low and Medium bands stay quiet")

	am.EmitFromOutcome(ioc, highRiskOutcome(models.BandHigh, 55))
	require.Len(t, broadcast, 1)
	assert.Equal(t, "high", broadcast[0].Severity)
	assert.Equal(t, "attributed_threat", broadcast[0].AlertType)
	assert.NotEmpty(t, broadcast[0].ID)

	am.EmitFromOutcome(ioc, highRiskOutcome(models.BandCritical, 90))
	require.Len(t, broadcast, 2)
	assert.Equal(t, "critical", broadcast[1].Severity)
}

func TestAlertManager_RecentAlertsNewestFirst(t *testing.T) {
	am := NewAlertManager(nil)
	am.EmitAlert(Alert{Severity: "high", AlertType: "high_risk", Title: "first", RiskScore: 60})
	am.EmitAlert(Alert{Severity: "critical", AlertType: "high_risk", Title: "second", RiskScore: 90})

	recent := am.GetRecentAlerts(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Title)
	assert.Equal(t, "first", recent[1].Title)

	limited := am.GetRecentAlerts(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "second", limited[0].Title)
}

func TestSeverityMeetsThreshold(t *testing.T) {
	assert.True(t, severityMeetsThreshold("critical", "high"))
	assert.True(t, severityMeetsThreshold("high", "high"))
	assert.False(t, severityMeetsThreshold("medium", "high"))
	assert.True(t, severityMeetsThreshold("low", "info"))
}
