package pipeline

import (
	"math"
	"testing"
)

func testWeights() Weights {
	return Weights{
		Create:          1.5,
		Upload:          2,
		Diffusion:       80,
		Refine:          20,
		StorePerRender:  2,
		DetectPerRender: 3,
		Finalize:        1.5,
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestWeightsValidate(t *testing.T) {
	if err := testWeights().Validate(3); err != nil {
		t.Fatalf("default weights for 3 renders: %v", err)
	}
	if err := testWeights().Validate(4); err == nil {
		t.Fatal("expected validation failure for 4 renders")
	}

	w := testWeights()
	w.Refine = 80
	if err := w.Validate(3); err == nil {
		t.Fatal("expected validation failure when refine share swallows the diffusion block")
	}
}

func TestTrackerFullRun(t *testing.T) {
	tr := NewTracker(testWeights(), false)

	if v, changed := tr.Created(); !changed || !almostEqual(v, 1.5) {
		t.Fatalf("Created = %v, %v", v, changed)
	}
	if v, changed := tr.Uploaded(); !changed || !almostEqual(v, 3.5) {
		t.Fatalf("Uploaded = %v, %v", v, changed)
	}
	if v, changed := tr.DiffusionDone(); !changed || !almostEqual(v, 83.5) {
		t.Fatalf("DiffusionDone = %v, %v", v, changed)
	}
	for i := 0; i < 3; i++ {
		tr.RenderStored()
		tr.RenderDetected()
	}
	if v := tr.Value(); !almostEqual(v, 98.5) {
		t.Fatalf("after 3 renders value = %v, want 98.5", v)
	}
	if v, changed := tr.Finalized(); !changed || v != 100 {
		t.Fatalf("Finalized = %v, %v", v, changed)
	}
}

func TestTrackerMonotonic(t *testing.T) {
	tr := NewTracker(testWeights(), false)
	tr.Uploaded()

	if _, changed := tr.Created(); changed {
		t.Fatal("Created after Uploaded must not move progress backwards")
	}
	if v := tr.Value(); !almostEqual(v, 3.5) {
		t.Fatalf("value = %v, want 3.5", v)
	}
}

func TestTrackerAddClampedBelowFinalize(t *testing.T) {
	tr := NewTracker(testWeights(), false)
	tr.DiffusionDone()

	// More per-render credit than the weights budget for: the value must
	// stop just short of 100 so only Finalized reaches it.
	for i := 0; i < 10; i++ {
		tr.RenderStored()
		tr.RenderDetected()
	}
	if v := tr.Value(); !almostEqual(v, 98.5) {
		t.Fatalf("clamped value = %v, want 98.5", v)
	}
	if _, changed := tr.RenderStored(); changed {
		t.Fatal("further credit at the clamp must report no change")
	}
	if v, changed := tr.Finalized(); !changed || v != 100 {
		t.Fatalf("Finalized = %v, %v", v, changed)
	}
}

func TestApplyLogsSingleStage(t *testing.T) {
	tr := NewTracker(testWeights(), false)
	tr.Uploaded()

	logs := "Using seed: 42\n 5/30 [00:04<00:21]\n"
	v, changed := tr.ApplyLogs(logs)
	want := 3.5 + (5.0/30.0)*80
	if !changed || !almostEqual(v, want) {
		t.Fatalf("ApplyLogs = %v, %v, want %v", v, changed, want)
	}

	// A later delivery reporting an earlier step is stale and must be dropped.
	if _, changed := tr.ApplyLogs("3/30"); changed {
		t.Fatal("stale marker must not change progress")
	}
	if got := tr.Value(); !almostEqual(got, want) {
		t.Fatalf("value after stale marker = %v, want %v", got, want)
	}
}

func TestApplyLogsConsecutiveMarkersCollapse(t *testing.T) {
	tr := NewTracker(testWeights(), false)
	tr.Uploaded()

	// Accumulated logs repeat the same sub-stage total; only the latest
	// marker of the run counts.
	logs := "1/30\n2/30\n12/30\n"
	v, _ := tr.ApplyLogs(logs)
	want := 3.5 + (12.0/30.0)*80
	if !almostEqual(v, want) {
		t.Fatalf("ApplyLogs = %v, want %v", v, want)
	}
}

func TestApplyLogsRefinementStage(t *testing.T) {
	tr := NewTracker(testWeights(), true)
	tr.Uploaded()

	// First sub-stage complete, refinement halfway: 3.5 + 60 + 0.5*20.
	logs := "30/30\n0/20\n10/20\n"
	v, _ := tr.ApplyLogs(logs)
	want := 3.5 + 60 + 10
	if !almostEqual(v, want) {
		t.Fatalf("ApplyLogs = %v, want %v", v, want)
	}
}

func TestApplyLogsNoMarkers(t *testing.T) {
	tr := NewTracker(testWeights(), false)
	tr.Uploaded()

	if _, changed := tr.ApplyLogs("loading pipeline weights"); changed {
		t.Fatal("logs without markers must not change progress")
	}
}

func TestParseStageFractions(t *testing.T) {
	fracs := parseStageFractions("5/30 then 7/30, later 3/20 and 0/0")
	if len(fracs) != 2 {
		t.Fatalf("got %d stages, want 2", len(fracs))
	}
	if !almostEqual(fracs[0], 7.0/30.0) || !almostEqual(fracs[1], 3.0/20.0) {
		t.Fatalf("fractions = %v", fracs)
	}
}
