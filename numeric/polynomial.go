package numeric

import (
	"math"
)

// SolveCubic returns the real roots of c[3]*x^3 + c[2]*x^2 + c[1]*x + c[0] = 0.
// The coefficients are in ascending powers. A cubic has one or three real roots;
// when the leading coefficient vanishes the lower order equation is solved instead,
// which may yield no roots at all.
func SolveCubic(c [4]float64) []float64 {
	if c[3] == 0 {
		return SolveQuadratic([3]float64{c[0], c[1], c[2]})
	}
	// monic form x^3 + a*x^2 + b*x + d
	a := c[2] / c[3]
	b := c[1] / c[3]
	d := c[0] / c[3]

	q := (a*a - 3*b) / 9
	r := (2*a*a*a - 9*a*b + 27*d) / 54
	q3 := q * q * q
	shift := a / 3

	var roots []float64
	if r*r < q3 {
		theta := math.Acos(r / math.Sqrt(q3))
		m := -2 * math.Sqrt(q)
		roots = []float64{
			m*math.Cos(theta/3) - shift,
			m*math.Cos((theta+2*math.Pi)/3) - shift,
			m*math.Cos((theta-2*math.Pi)/3) - shift,
		}
	} else {
		big := -math.Copysign(math.Cbrt(math.Abs(r)+math.Sqrt(r*r-q3)), r)
		small := 0.0
		if big != 0 {
			small = q / big
		}
		roots = []float64{big + small - shift}
	}
	for i, x := range roots {
		roots[i] = polishCubicRoot(c, x)
	}
	return roots
}

// SolveQuadratic returns the real roots of c[2]*x^2 + c[1]*x + c[0] = 0.
func SolveQuadratic(c [3]float64) []float64 {
	if c[2] == 0 {
		if c[1] == 0 {
			return nil
		}
		return []float64{-c[0] / c[1]}
	}
	disc := c[1]*c[1] - 4*c[2]*c[0]
	if disc < 0 {
		return nil
	}
	// avoid cancellation between -b and sqrt(disc)
	q := -0.5 * (c[1] + math.Copysign(math.Sqrt(disc), c[1]))
	if q == 0 {
		return []float64{0}
	}
	if disc == 0 {
		return []float64{q / c[2]}
	}
	return []float64{q / c[2], c[0] / q}
}

// polishCubicRoot applies a single Newton step, keeping x if the step makes things worse.
func polishCubicRoot(c [4]float64, x float64) float64 {
	f := ((c[3]*x+c[2])*x+c[1])*x + c[0]
	df := (3*c[3]*x+2*c[2])*x + c[1]
	if df == 0 {
		return x
	}
	nx := x - f/df
	nf := ((c[3]*nx+c[2])*nx+c[1])*nx + c[0]
	if math.IsNaN(nf) || math.Abs(nf) > math.Abs(f) {
		return x
	}
	return nx
}
