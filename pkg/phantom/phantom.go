// Package phantom builds synthetic test objects and simulates their
// parallel-beam sinograms in the same geometry the back-projector uses.
package phantom

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
	"sinorecon/pkg/backprojection"
	"sinorecon/pkg/interpolation"
)

// Ellipse describes one component of an analytic phantom in normalized
// coordinates: x to the right and y up, both in [-1, 1].
type Ellipse struct {
	// Intensity is added inside the ellipse
	Intensity float64

	// A and B are the semi-axes along x and y before rotation
	A, B float64

	// X0 and Y0 are the centre
	X0, Y0 float64

	// Phi is the counter-clockwise rotation in degrees
	Phi float64
}

// sheppLogan lists the ellipses of the modified (high contrast) Shepp-Logan
// head phantom.
var sheppLogan = []Ellipse{
	{1.0, 0.69, 0.92, 0, 0, 0},
	{-0.8, 0.6624, 0.8740, 0, -0.0184, 0},
	{-0.2, 0.1100, 0.3100, 0.22, 0, -18},
	{-0.2, 0.1600, 0.4100, -0.22, 0, 18},
	{0.1, 0.2100, 0.2500, 0, 0.35, 0},
	{0.1, 0.0460, 0.0460, 0, 0.1, 0},
	{0.1, 0.0460, 0.0460, 0, -0.1, 0},
	{0.1, 0.0460, 0.0230, -0.08, -0.605, 0},
	{0.1, 0.0230, 0.0230, 0, -0.606, 0},
	{0.1, 0.0230, 0.0460, 0.06, -0.605, 0},
}

// Point returns a w x w image with a single unit sample.
func Point(w, row, col int) *mat.Dense {
	img := mat.NewDense(w, w, nil)
	img.Set(row, col, 1)
	return img
}

// Disk returns a w x w image holding value v inside the circle of radius r
// centred on column cx and row cy.
func Disk(w int, cx, cy, r, v float64) *mat.Dense {
	img := mat.NewDense(w, w, nil)
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= r {
				img.Set(y, x, v)
			}
		}
	}
	return img
}

// Ellipses rasterizes a sum of ellipses onto a w x w grid. The normalized
// square [-1, 1] spans the whole image.
func Ellipses(w int, ellipses []Ellipse) *mat.Dense {
	img := mat.NewDense(w, w, nil)
	if w == 1 {
		return img
	}

	scale := 2.0 / float64(w-1)
	for _, e := range ellipses {
		sin, cos := math.Sincos(e.Phi * math.Pi / 180)
		for r := 0; r < w; r++ {
			y := 1 - float64(r)*scale
			row := img.RawRowView(r)
			for c := 0; c < w; c++ {
				x := float64(c)*scale - 1

				dx, dy := x-e.X0, y-e.Y0
				u := dx*cos + dy*sin
				v := -dx*sin + dy*cos
				if (u*u)/(e.A*e.A)+(v*v)/(e.B*e.B) <= 1 {
					row[c] += e.Intensity
				}
			}
		}
	}
	return img
}

// SheppLogan returns the modified Shepp-Logan head phantom. It lies inside
// the circle inscribed in the image, so no projection angle clips it.
func SheppLogan(w int) *mat.Dense {
	return Ellipses(w, sheppLogan)
}

// Names lists the phantoms accepted by ByName.
func Names() []string {
	return []string{"point", "disk", "shepp-logan"}
}

// ByName builds a w x w phantom from its configuration name.
func ByName(name string, w int) (*mat.Dense, error) {
	if w <= 0 {
		return nil, fmt.Errorf("phantom size %d: %w", w, models.ErrInvalidGeometry)
	}

	c := float64(w-1) / 2
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "point":
		return Point(w, w/2, w/2), nil
	case "disk":
		return Disk(w, c, c, float64(w)/4, 1), nil
	case "", "shepp-logan", "shepplogan":
		return SheppLogan(w), nil
	}
	return nil, fmt.Errorf("unknown phantom %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// Project simulates p parallel-beam projections of a square image spread
// evenly over 180 degrees. Projection i is the column sums of the image
// rotated by -i*180/p, the adjoint of the back-projection smear at the same
// angle.
func Project(img *mat.Dense, p int, method interpolation.Method) (*mat.Dense, error) {
	if img == nil || img.IsEmpty() || p <= 0 {
		return nil, fmt.Errorf("projection of %d angles: %w", p, models.ErrInvalidGeometry)
	}

	rows, w := img.Dims()
	if rows != w {
		return nil, fmt.Errorf("projection of %dx%d image: %w", rows, w, models.ErrShapeMismatch)
	}

	workers := min(runtime.NumCPU(), p)
	dTheta := backprojection.AngleStep(p)
	sinogram := mat.NewDense(p, w, nil)

	var g errgroup.Group
	for wk := 0; wk < workers; wk++ {
		start := wk * p / workers
		end := (wk + 1) * p / workers

		g.Go(func() error {
			rotated := mat.NewDense(w, w, nil)
			for i := start; i < end; i++ {
				interpolation.RotateInto(rotated, img, -dTheta*float64(i), method)

				// Each worker writes only its own rows
				proj := sinogram.RawRowView(i)
				for r := 0; r < w; r++ {
					vecmath.AddBlockInPlace(proj, rotated.RawRowView(r))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return sinogram, nil
}

// Sinogram wraps the projections of img as a one-channel grey sinogram.
func Sinogram(img *mat.Dense, p int, method interpolation.Method) (*models.Sinogram, error) {
	data, err := Project(img, p, method)
	if err != nil {
		return nil, err
	}
	return &models.Sinogram{Channels: []models.Channel{{Name: models.ChannelGrey, Data: data}}}, nil
}

// ColourSinogram projects three images as the red, green and blue channels
// of one sinogram.
func ColourSinogram(red, green, blue *mat.Dense, p int, method interpolation.Method) (*models.Sinogram, error) {
	names := []string{models.ChannelRed, models.ChannelGreen, models.ChannelBlue}
	s := &models.Sinogram{}
	for i, img := range []*mat.Dense{red, green, blue} {
		data, err := Project(img, p, method)
		if err != nil {
			return nil, fmt.Errorf("%s channel: %w", names[i], err)
		}
		s.Channels = append(s.Channels, models.Channel{Name: names[i], Data: data})
	}
	return s, s.Validate()
}
