// Package interpolation resamples images under rotation about their centre.
package interpolation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// Method selects the sampling kernel used when resampling.
type Method int

const (
	// Linear is bilinear interpolation (the default).
	Linear Method = iota

	// Nearest picks the closest source sample.
	Nearest

	// Cubic is separable 4-point cubic Hermite (Catmull-Rom) interpolation.
	Cubic
)

// ErrUnknownMethod is returned for an unrecognized method name.
var ErrUnknownMethod = errors.New("interpolation: unknown method")

// String returns the configuration name of the method.
func (m Method) String() string {
	switch m {
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	case Cubic:
		return "cubic"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear", "bilinear":
		return Linear, nil
	case "nearest":
		return Nearest, nil
	case "cubic", "bicubic":
		return Cubic, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Rotate returns src rotated counter-clockwise by angleDeg degrees about its
// centre. The output has the bounds of the input; source positions outside
// the image contribute zero.
func Rotate(src *mat.Dense, angleDeg float64, method Method) *mat.Dense {
	if src == nil || src.IsEmpty() {
		return &mat.Dense{}
	}

	rows, cols := src.Dims()
	dst := mat.NewDense(rows, cols, nil)
	RotateInto(dst, src, angleDeg, method)
	return dst
}

// RotateInto writes the rotation of src into dst, which must have the same
// dimensions. dst and src must not alias.
func RotateInto(dst, src *mat.Dense, angleDeg float64, method Method) {
	rows, cols := src.Dims()
	if r, c := dst.Dims(); r != rows || c != cols {
		panic(mat.ErrShape)
	}

	in := src.RawMatrix()
	out := dst.RawMatrix()

	// Output pixel (r, c) samples the source at the inverse-mapped position
	// centre + R(angle) * ((c, r) - centre).
	theta := angleDeg * math.Pi / 180
	sin, cos := math.Sincos(theta)
	cx := float64(cols)/2 - 0.5
	cy := float64(rows)/2 - 0.5

	sample := samplerFor(method)
	for r := 0; r < rows; r++ {
		dy := float64(r) - cy
		xs := -cos*cx - sin*dy + cx
		ys := -sin*cx + cos*dy + cy

		line := out.Data[r*out.Stride : r*out.Stride+cols]
		for c := range line {
			line[c] = sample(in, xs, ys)
			xs += cos
			ys += sin
		}
	}
}

type sampler func(m blas64.General, x, y float64) float64

func samplerFor(method Method) sampler {
	switch method {
	case Nearest:
		return sampleNearest
	case Cubic:
		return sampleCubic
	default:
		return sampleLinear
	}
}

// at returns the sample at (row, col), or zero outside the image.
func at(m blas64.General, row, col int) float64 {
	if row < 0 || row >= m.Rows || col < 0 || col >= m.Cols {
		return 0
	}
	return m.Data[row*m.Stride+col]
}

func sampleNearest(m blas64.General, x, y float64) float64 {
	return at(m, int(math.Floor(y+0.5)), int(math.Floor(x+0.5)))
}

func sampleLinear(m blas64.General, x, y float64) float64 {
	if x <= -1 || y <= -1 || x >= float64(m.Cols) || y >= float64(m.Rows) {
		return 0
	}

	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0
	c := int(x0)
	r := int(y0)

	top := at(m, r, c)*(1-fx) + at(m, r, c+1)*fx
	bottom := at(m, r+1, c)*(1-fx) + at(m, r+1, c+1)*fx
	return top*(1-fy) + bottom*fy
}

func sampleCubic(m blas64.General, x, y float64) float64 {
	if x <= -2 || y <= -2 || x >= float64(m.Cols)+1 || y >= float64(m.Rows)+1 {
		return 0
	}

	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0
	c := int(x0)
	r := int(y0)

	var col [4]float64
	for i := range col {
		row := r - 1 + i
		col[i] = Hermite4(fx, at(m, row, c-1), at(m, row, c), at(m, row, c+1), at(m, row, c+2))
	}
	return Hermite4(fy, col[0], col[1], col[2], col[3])
}

// Hermite4 evaluates the Catmull-Rom spline through four consecutive grid
// samples at fraction t of the way from x0 to x1. Tangents at x0 and x1 are
// the central differences of their neighbours, so t=0 gives x0 and t=1 gives x1.
func Hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c0 := x0
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + c0
}
