package finance

import "math"

// Root-finding parameters for the IRR solver. Bisection brackets the root
// between irrLow and irrHigh, Newton-Raphson polishes it.
const (
	irrLow     = -0.99
	irrHigh    = 10.0
	irrTol     = 1e-7
	irrMaxIter = 100
)

// NPV discounts a year-indexed cash-flow series at the given decimal rate.
func NPV(flows []float64, rate float64) float64 {
	total := 0.0
	for n, cf := range flows {
		total += cf / math.Pow(1+rate, float64(n))
	}
	return total
}

// npvDerivative is dNPV/dr, used by the Newton refinement.
func npvDerivative(flows []float64, rate float64) float64 {
	total := 0.0
	for n, cf := range flows {
		if n == 0 {
			continue
		}
		total += -float64(n) * cf / math.Pow(1+rate, float64(n+1))
	}
	return total
}

// IRR solves NPV(flows, r) = 0 for r in [irrLow, irrHigh]. A series with
// no sign change has no IRR; that and non-convergence both return nil,
// which callers surface as a KPI value, never as an error.
func IRR(flows []float64) *float64 {
	if !hasSignChange(flows) {
		return nil
	}

	lo, hi := irrLow, irrHigh
	flo := NPV(flows, lo)
	fhi := NPV(flows, hi)
	if flo == 0 {
		return &lo
	}
	if fhi == 0 {
		return &hi
	}
	if (flo > 0) == (fhi > 0) {
		// Root lies outside the economically meaningful bracket.
		return nil
	}

	mid := lo
	for i := 0; i < irrMaxIter; i++ {
		mid = (lo + hi) / 2
		fm := NPV(flows, mid)
		if math.Abs(fm) < irrTol || (hi-lo)/2 < irrTol {
			break
		}
		if (flo > 0) == (fm > 0) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}

	// Newton polish; fall back to the bisection estimate if it escapes
	// the bracket or the derivative degenerates.
	r := mid
	for i := 0; i < 10; i++ {
		f := NPV(flows, r)
		if math.Abs(f) < irrTol {
			break
		}
		d := npvDerivative(flows, r)
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			break
		}
		next := r - f/d
		if next <= irrLow || next >= irrHigh || math.IsNaN(next) {
			break
		}
		r = next
	}

	if math.Abs(NPV(flows, r)) > math.Abs(NPV(flows, mid)) {
		r = mid
	}
	if math.Abs(NPV(flows, r)) > 1e-3*scale(flows) {
		// Did not converge to anything usable.
		return nil
	}
	return &r
}

// hasSignChange reports whether the series has at least one positive and
// one negative flow. Without one, cumulative flow never crosses zero and
// no IRR exists.
func hasSignChange(flows []float64) bool {
	var pos, neg bool
	for _, cf := range flows {
		if cf > 0 {
			pos = true
		}
		if cf < 0 {
			neg = true
		}
	}
	return pos && neg
}

// scale gives a magnitude reference for the convergence check.
func scale(flows []float64) float64 {
	max := 1.0
	for _, cf := range flows {
		if a := math.Abs(cf); a > max {
			max = a
		}
	}
	return max
}
