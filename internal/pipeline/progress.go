package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"
)

// Weights are the per-stage progress contributions. They are hand-tuned to
// reflect relative stage cost and must sum to 100 across a complete run for
// the configured number of renders.
type Weights struct {
	// Create is credited when the record is first persisted.
	Create float64
	// Upload is credited once the original images are in object storage.
	Upload float64
	// Diffusion is the whole generation block. When refinement is enabled,
	// Refine of it is reserved for the refinement sub-stage.
	Diffusion float64
	Refine    float64
	// StorePerRender and DetectPerRender are credited per render.
	StorePerRender  float64
	DetectPerRender float64
	// Finalize is the remainder credited by the final save.
	Finalize float64
}

// Total returns the sum of all contributions for a run with n renders.
func (w Weights) Total(n int) float64 {
	return w.Create + w.Upload + w.Diffusion +
		float64(n)*(w.StorePerRender+w.DetectPerRender) + w.Finalize
}

// Validate checks that a complete run lands on exactly 100.
func (w Weights) Validate(n int) error {
	if total := w.Total(n); math.Abs(total-100) > 1e-6 {
		return fmt.Errorf("progress weights sum to %.2f for %d renders, want 100", total, n)
	}
	if w.Refine >= w.Diffusion {
		return fmt.Errorf("refinement weight %.2f must be below the diffusion block %.2f", w.Refine, w.Diffusion)
	}
	return nil
}

// Tracker folds heterogeneous step-completion signals into a single 0-100
// percentage. Values are strictly monotonic: a computed value that does not
// exceed the current one is discarded, which callers rely on when provider
// logs legitimately reset (a new sub-stage starting at 0/total).
type Tracker struct {
	mu     sync.Mutex
	w      Weights
	refine bool
	value  float64
}

// NewTracker creates a tracker starting at zero progress.
func NewTracker(w Weights, refine bool) *Tracker {
	return &Tracker{w: w, refine: refine}
}

// Value returns the current progress percentage.
func (t *Tracker) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Created credits record creation.
func (t *Tracker) Created() (float64, bool) { return t.set(t.w.Create) }

// Uploaded credits the original-image uploads.
func (t *Tracker) Uploaded() (float64, bool) { return t.set(t.w.Create + t.w.Upload) }

// DiffusionDone credits the whole generation block.
func (t *Tracker) DiffusionDone() (float64, bool) {
	return t.set(t.w.Create + t.w.Upload + t.w.Diffusion)
}

// RenderStored credits one stored render.
func (t *Tracker) RenderStored() (float64, bool) { return t.add(t.w.StorePerRender) }

// RenderDetected credits one analyzed render.
func (t *Tracker) RenderDetected() (float64, bool) { return t.add(t.w.DetectPerRender) }

// Finalized pins progress to exactly 100.
func (t *Tracker) Finalized() (float64, bool) { return t.set(100) }

// ApplyLogs blends provider-reported "part/total" markers into the diffusion
// block. Consecutive markers sharing a total are updates to the same
// sub-stage; the first distinct sub-stage maps onto the main generation
// share, and a second one onto the refinement share when refinement is
// enabled. The returned bool reports whether the value changed and therefore
// needs persisting.
func (t *Tracker) ApplyLogs(logs string) (float64, bool) {
	fractions := parseStageFractions(logs)
	if len(fractions) == 0 {
		return t.Value(), false
	}

	main := t.w.Diffusion
	if t.refine {
		main -= t.w.Refine
	}
	target := t.w.Create + t.w.Upload + main*fractions[0]
	if t.refine && len(fractions) > 1 {
		target += t.w.Refine * fractions[1]
	}
	return t.set(target)
}

func (t *Tracker) set(target float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target <= t.value {
		return t.value, false
	}
	t.value = target
	return t.value, true
}

// add accumulates per-render credit, clamped so that only Finalized can
// reach 100: runaway increments must neither overflow the scale nor make an
// unfinished record listable.
func (t *Tracker) add(delta float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if delta <= 0 {
		return t.value, false
	}
	next := t.value + delta
	if limit := 100 - t.w.Finalize; next > limit {
		next = limit
	}
	if next <= t.value {
		return t.value, false
	}
	t.value = next
	return t.value, true
}

var stageMarkerRE = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// parseStageFractions extracts every part/total marker from free-text logs
// and collapses consecutive markers with the same total into the latest
// fraction, yielding one fraction per sub-stage in order of appearance.
func parseStageFractions(logs string) []float64 {
	type stage struct {
		total int
		frac  float64
	}
	var stages []stage
	for _, m := range stageMarkerRE.FindAllStringSubmatch(logs, -1) {
		part, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		if total <= 0 {
			continue
		}
		frac := float64(part) / float64(total)
		if frac > 1 {
			frac = 1
		}
		if n := len(stages); n > 0 && stages[n-1].total == total {
			stages[n-1].frac = frac
			continue
		}
		stages = append(stages, stage{total: total, frac: frac})
	}

	out := make([]float64, len(stages))
	for i, s := range stages {
		out[i] = s.frac
	}
	return out
}
