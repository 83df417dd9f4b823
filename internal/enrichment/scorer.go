package enrichment

import (
	"time"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

// recentWindow is how far back a last_seen counts as active infrastructure.
const recentWindow = 7 * 24 * time.Hour

// Score is the composite output of one scoring run.
type Score struct {
	Risk        int
	Attribution int
	Band        models.RiskBand
}

// ComputeScore folds the provider results for one IOC into a risk score, an
// attribution score and a band. Pure: the same input map and clock always
// produce the same output, and unknown verdicts contribute nothing.
//
// Risk: 15 per malicious verdict, 5 per suspicious, +10 when three or more
// providers agree the indicator is bad, +10 when any provider saw it within
// the last 7 days, +10 when anyone names an actor or family. Clamped to 100.
//
// Attribution: 40 for any actor, 30 for any family, 20 extra when providers
// disagree on either (more than one distinct value). Clamped to 100.
func ComputeScore(results map[string]models.NormalizedResult, now time.Time) Score {
	risk := 0
	agreement := 0
	recent := false
	attributed := false

	actors := map[string]struct{}{}
	families := map[string]struct{}{}

	for _, r := range results {
		switch r.Verdict {
		case models.VerdictMalicious:
			risk += 15
			agreement++
		case models.VerdictSuspicious:
			risk += 5
			agreement++
		}

		if !recent {
			if ls := ParseTimestamp(r.LastSeen); ls != nil && now.Sub(*ls) <= recentWindow && !ls.After(now) {
				recent = true
			}
		}

		if r.Actor != "" {
			actors[r.Actor] = struct{}{}
			attributed = true
		}
		if r.Family != "" {
			families[r.Family] = struct{}{}
			attributed = true
		}
	}

	if agreement >= 3 {
		risk += 10
	}
	if recent {
		risk += 10
	}
	if attributed {
		risk += 10
	}
	risk = clamp100(risk)

	attribution := 0
	if len(actors) >= 1 {
		attribution += 40
	}
	if len(families) >= 1 {
		attribution += 30
	}
	if len(actors) > 1 || len(families) > 1 {
		attribution += 20
	}
	attribution = clamp100(attribution)

	return Score{Risk: risk, Attribution: attribution, Band: BandFor(risk)}
}

// BandFor buckets a risk score. Boundaries are 24, 49 and 74.
func BandFor(risk int) models.RiskBand {
	switch {
	case risk <= 24:
		return models.BandLow
	case risk <= 49:
		return models.BandMedium
	case risk <= 74:
		return models.BandHigh
	default:
		return models.BandCritical
	}
}

func clamp100(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
