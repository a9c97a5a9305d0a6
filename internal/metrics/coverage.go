// Package metrics derives summary statistics from a completed or in-flight
// scan, for reporting in the CLI and in serve-mode's scan-session responses.
package metrics

import (
	"sort"

	"github.com/rawblock/keysweep/pkg/models"
)

// Accumulator builds a models.CoverageReport incrementally as a scan
// progresses, so the same type can back both a final CLI summary and a
// live WebSocket progress stream.
type Accumulator struct {
	scriptsProbed    int
	remainingScripts int
	probedTemplates  map[string]bool
	hitTemplates     map[string]bool
	perTemplateHits  map[string]int
}

// NewAccumulator starts an accumulator with the iterator's initial total,
// since RemainingScripts needs a baseline before any probing happens.
func NewAccumulator(initialTotalScripts int) *Accumulator {
	return &Accumulator{
		remainingScripts: initialTotalScripts,
		probedTemplates:  map[string]bool{},
		hitTemplates:     map[string]bool{},
		perTemplateHits:  map[string]int{},
	}
}

// RecordProbe counts count script hashes handed to the oracle, all drawn
// from templatePath, so TemplatesProbed can track every template the scan
// actually touched, not just the ones that turned up funds.
func (a *Accumulator) RecordProbe(templatePath string, count int) {
	a.scriptsProbed += count
	a.probedTemplates[templatePath] = true
}

// RecordHit records a gap hit on templatePath, so PerTemplateHits and
// HitTemplates can distinguish templates that actually held funds from
// ones merely probed.
func (a *Accumulator) RecordHit(templatePath string) {
	a.hitTemplates[templatePath] = true
	a.perTemplateHits[templatePath]++
}

// SetRemaining refreshes the remaining-scripts count; gap expansion grows
// this as the scan proceeds, so it is not simply "initial minus probed".
func (a *Accumulator) SetRemaining(remaining int) {
	a.remainingScripts = remaining
}

// Report snapshots the accumulator into a models.CoverageReport.
func (a *Accumulator) Report() models.CoverageReport {
	hitTemplates := make([]string, 0, len(a.hitTemplates))
	for t := range a.hitTemplates {
		hitTemplates = append(hitTemplates, t)
	}
	sort.Strings(hitTemplates)

	perTemplateHits := make(map[string]int, len(a.perTemplateHits))
	for t, n := range a.perTemplateHits {
		perTemplateHits[t] = n
	}

	return models.CoverageReport{
		TemplatesProbed:  len(a.probedTemplates),
		ScriptsProbed:    a.scriptsProbed,
		GapHits:          sumValues(a.perTemplateHits),
		HitTemplates:     hitTemplates,
		RemainingScripts: a.remainingScripts,
		PerTemplateHits:  perTemplateHits,
	}
}

func sumValues(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}
