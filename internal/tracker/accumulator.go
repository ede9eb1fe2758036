package tracker

import "backend-vehiclecare/internal/shared/geo"

// Accumulator sums great-circle distance over consecutive fixes. The first fix
// after Reset only seeds the position.
type Accumulator struct {
	// MaxJumpKm discards fixes further than this from the last one. Zero disables it.
	MaxJumpKm float64

	last     geo.Fix
	hasLast  bool
	totalKm  float64
	rejected int
}

func (a *Accumulator) Reset() {
	a.hasLast = false
	a.last = geo.Fix{}
	a.totalKm = 0
	a.rejected = 0
}

// Add applies one fix and returns the distance it contributed.
// ok is false when the fix was discarded by the jump policy.
func (a *Accumulator) Add(f geo.Fix) (deltaKm float64, ok bool) {
	if !a.hasLast {
		a.last = f
		a.hasLast = true
		return 0, true
	}

	deltaKm = geo.DistanceKm(a.last, f)
	if a.MaxJumpKm > 0 && deltaKm > a.MaxJumpKm {
		a.rejected++
		return 0, false
	}

	a.totalKm += deltaKm
	a.last = f
	return deltaKm, true
}

func (a *Accumulator) TotalKm() float64 { return a.totalKm }

func (a *Accumulator) Rejected() int { return a.rejected }

func (a *Accumulator) Last() (geo.Fix, bool) { return a.last, a.hasLast }
