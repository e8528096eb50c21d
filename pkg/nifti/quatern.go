package nifti

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// quatern is the qform representation of the rotation part of an affine.
type quatern struct {
	b, c, d    float64
	dx, dy, dz float64
	qfac       float64
}

// affineToQuatern follows nifti_mat44_to_quatern, assuming orthogonal columns.
func affineToQuatern(a *mat.Dense) quatern {
	var r [3][3]float64
	var q quatern
	scale := [3]*float64{&q.dx, &q.dy, &q.dz}
	for c := 0; c < 3; c++ {
		n := math.Sqrt(a.At(0, c)*a.At(0, c) + a.At(1, c)*a.At(1, c) + a.At(2, c)*a.At(2, c))
		if n == 0 {
			n = 1
			r[c][c] = 1
		} else {
			for row := 0; row < 3; row++ {
				r[row][c] = a.At(row, c) / n
			}
		}
		*scale[c] = n
	}

	det := mat.Det(mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	}))
	q.qfac = 1
	if det < 0 {
		q.qfac = -1
		r[0][2], r[1][2], r[2][2] = -r[0][2], -r[1][2], -r[2][2]
	}

	var qa float64
	trace := r[0][0] + r[1][1] + r[2][2] + 1
	if trace > 0.5 {
		qa = 0.5 * math.Sqrt(trace)
		q.b = 0.25 * (r[2][1] - r[1][2]) / qa
		q.c = 0.25 * (r[0][2] - r[2][0]) / qa
		q.d = 0.25 * (r[1][0] - r[0][1]) / qa
		return q
	}

	xd := 1 + r[0][0] - (r[1][1] + r[2][2])
	yd := 1 + r[1][1] - (r[0][0] + r[2][2])
	zd := 1 + r[2][2] - (r[0][0] + r[1][1])
	switch {
	case xd > 1:
		q.b = 0.5 * math.Sqrt(xd)
		q.c = 0.25 * (r[0][1] + r[1][0]) / q.b
		q.d = 0.25 * (r[0][2] + r[2][0]) / q.b
		qa = 0.25 * (r[2][1] - r[1][2]) / q.b
	case yd > 1:
		q.c = 0.5 * math.Sqrt(yd)
		q.b = 0.25 * (r[0][1] + r[1][0]) / q.c
		q.d = 0.25 * (r[1][2] + r[2][1]) / q.c
		qa = 0.25 * (r[0][2] - r[2][0]) / q.c
	default:
		q.d = 0.5 * math.Sqrt(zd)
		q.b = 0.25 * (r[0][2] + r[2][0]) / q.d
		q.c = 0.25 * (r[1][2] + r[2][1]) / q.d
		qa = 0.25 * (r[1][0] - r[0][1]) / q.d
	}
	if qa < 0 {
		q.b, q.c, q.d = -q.b, -q.c, -q.d
	}
	return q
}

// fill writes the scaled rotation into the upper-left 3x3 of a.
func (q quatern) fill(a *mat.Dense) {
	b, c, d := q.b, q.c, q.d
	qa := 1 - (b*b + c*c + d*d)
	if qa < 1e-7 {
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*n, c*n, d*n
		qa = 0
	} else {
		qa = math.Sqrt(qa)
	}

	dx, dy, dz := q.dx, q.dy, q.dz
	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}
	if dz <= 0 {
		dz = 1
	}
	dz *= q.qfac

	a.Set(0, 0, (qa*qa+b*b-c*c-d*d)*dx)
	a.Set(0, 1, 2*(b*c-qa*d)*dy)
	a.Set(0, 2, 2*(b*d+qa*c)*dz)
	a.Set(1, 0, 2*(b*c+qa*d)*dx)
	a.Set(1, 1, (qa*qa+c*c-b*b-d*d)*dy)
	a.Set(1, 2, 2*(c*d-qa*b)*dz)
	a.Set(2, 0, 2*(b*d-qa*c)*dx)
	a.Set(2, 1, 2*(c*d+qa*b)*dy)
	a.Set(2, 2, (qa*qa+d*d-c*c-b*b)*dz)
}
