package engine

import (
	"math"
	"sort"
	"time"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// EvaluateConsistency groups verdicts by fingerprint and scores how often
// identical failures received identical outcomes. A group is consistent
// iff every member carries the same (errorClass, confidenceScore) pair.
// Zero groups score 100: nothing observed, nothing contradicted.
func EvaluateConsistency(verdicts []models.Verdict, since, now time.Time) models.ConsistencyReport {
	report := models.ConsistencyReport{
		GeneratedAt:        now,
		Since:              since,
		ConsistencyPercent: 100,
	}
	if len(verdicts) == 0 {
		return report
	}

	groups := make(map[string][]models.VerdictOutcome)
	for _, verdict := range verdicts {
		groups[verdict.FingerprintID] = append(groups[verdict.FingerprintID], models.VerdictOutcome{
			ErrorClass:      verdict.ErrorClass,
			ConfidenceScore: verdict.ConfidenceScore,
		})
	}

	fingerprints := make([]string, 0, len(groups))
	for fingerprint := range groups {
		fingerprints = append(fingerprints, fingerprint)
	}
	sort.Strings(fingerprints)

	for _, fingerprint := range fingerprints {
		outcomes := uniqueOutcomes(groups[fingerprint])
		report.TotalGroups++
		if len(outcomes) == 1 {
			report.ConsistentGroups++
			continue
		}
		report.Inconsistent = append(report.Inconsistent, models.InconsistentGroup{
			FingerprintID: fingerprint,
			Outcomes:      outcomes,
		})
	}

	ratio := float64(report.ConsistentGroups) / float64(report.TotalGroups)
	report.ConsistencyPercent = int(math.Round(100 * ratio))
	return report
}

func uniqueOutcomes(outcomes []models.VerdictOutcome) []models.VerdictOutcome {
	seen := make(map[models.VerdictOutcome]struct{}, len(outcomes))
	unique := make([]models.VerdictOutcome, 0, 1)
	for _, outcome := range outcomes {
		if _, dup := seen[outcome]; dup {
			continue
		}
		seen[outcome] = struct{}{}
		unique = append(unique, outcome)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].ErrorClass != unique[j].ErrorClass {
			return unique[i].ErrorClass < unique[j].ErrorClass
		}
		return unique[i].ConfidenceScore < unique[j].ConfidenceScore
	})
	return unique
}
