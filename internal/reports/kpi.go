package reports

import (
	"math"
	"sort"
	"time"

	"github.com/verdictstack/verdict-engine/internal/engine"
	"github.com/verdictstack/verdict-engine/internal/models"
)

const topClassLimit = 5

// BuildKPI aggregates verdict volume, confidence, action mix, and the
// consistency score since a cutoff. Top error classes are ranked by count
// with alphabetical tie-breaks, so repeated runs over the same verdicts
// produce identical reports.
func BuildKPI(verdicts []models.Verdict, since, now time.Time) models.KPIReport {
	report := models.KPIReport{
		GeneratedAt:        now,
		Since:              since,
		CountsByAction:     make(map[models.ProposedAction]int),
		ConsistencyPercent: engine.EvaluateConsistency(verdicts, since, now).ConsistencyPercent,
	}
	if len(verdicts) == 0 {
		return report
	}

	classStats := make(map[string]*classAggregate)
	var confidenceSum float64
	for _, verdict := range verdicts {
		report.TotalVerdicts++
		confidenceSum += float64(verdict.ConfidenceScore)
		report.CountsByAction[verdict.ProposedAction]++

		agg := ensureAggregate(classStats, verdict.ErrorClass)
		agg.count++
		agg.confidenceSum += float64(verdict.ConfidenceScore)
	}

	report.AvgConfidence = round2(confidenceSum / float64(report.TotalVerdicts))

	classes := make([]string, 0, len(classStats))
	for class := range classStats {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		ci, cj := classStats[classes[i]], classStats[classes[j]]
		if ci.count != cj.count {
			return ci.count > cj.count
		}
		return classes[i] < classes[j]
	})
	if len(classes) > topClassLimit {
		classes = classes[:topClassLimit]
	}
	for _, class := range classes {
		agg := classStats[class]
		report.TopErrorClasses = append(report.TopErrorClasses, models.ClassStat{
			ErrorClass:    class,
			Count:         agg.count,
			AvgConfidence: round2(agg.confidenceSum / float64(agg.count)),
		})
	}
	return report
}

type classAggregate struct {
	count         int
	confidenceSum float64
}

func ensureAggregate(m map[string]*classAggregate, class string) *classAggregate {
	agg, ok := m[class]
	if !ok {
		agg = &classAggregate{}
		m[class] = agg
	}
	return agg
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
