package metrics

import "testing"

func TestAccumulatorEmptyReport(t *testing.T) {
	a := NewAccumulator(1000)
	report := a.Report()

	if report.TemplatesProbed != 0 {
		t.Errorf("expected 0 templates probed, got %d", report.TemplatesProbed)
	}
	if report.ScriptsProbed != 0 {
		t.Errorf("expected 0 scripts probed, got %d", report.ScriptsProbed)
	}
	if report.RemainingScripts != 1000 {
		t.Errorf("expected remaining=1000, got %d", report.RemainingScripts)
	}
	if len(report.HitTemplates) != 0 {
		t.Errorf("expected no hit templates, got %v", report.HitTemplates)
	}
}

func TestAccumulatorTracksProbesAndHitsSeparately(t *testing.T) {
	a := NewAccumulator(500)
	a.RecordProbe("bip84-external", 20)
	a.RecordProbe("bip44-external", 20)
	a.RecordHit("bip84-external")
	a.RecordHit("bip84-external")
	a.SetRemaining(480)

	report := a.Report()
	if report.ScriptsProbed != 40 {
		t.Errorf("expected 40 scripts probed, got %d", report.ScriptsProbed)
	}
	if report.TemplatesProbed != 2 {
		t.Errorf("expected 2 templates probed (hit and unhit both count), got %d", report.TemplatesProbed)
	}
	if len(report.HitTemplates) != 1 || report.HitTemplates[0] != "bip84-external" {
		t.Errorf("expected hitTemplates=[bip84-external], got %v", report.HitTemplates)
	}
	if report.GapHits != 2 {
		t.Errorf("expected 2 gap hits, got %d", report.GapHits)
	}
	if report.PerTemplateHits["bip84-external"] != 2 {
		t.Errorf("expected 2 hits recorded for bip84-external, got %d", report.PerTemplateHits["bip84-external"])
	}
	if report.RemainingScripts != 480 {
		t.Errorf("expected remaining=480, got %d", report.RemainingScripts)
	}
}

func TestAccumulatorHitTemplatesSorted(t *testing.T) {
	a := NewAccumulator(0)
	a.RecordProbe("zzz", 1)
	a.RecordProbe("aaa", 1)
	a.RecordHit("zzz")
	a.RecordHit("aaa")

	report := a.Report()
	if len(report.HitTemplates) != 2 || report.HitTemplates[0] != "aaa" || report.HitTemplates[1] != "zzz" {
		t.Errorf("expected sorted [aaa zzz], got %v", report.HitTemplates)
	}
}
