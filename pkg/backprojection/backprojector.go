// Package backprojection implements the reconstruction kernel: every
// projection is smeared across the image at its acquisition angle and the
// smears are summed into a laminogram.
package backprojection

import (
	"fmt"
	"runtime"

	vecmath "github.com/cwbudde/algo-vecmath"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
	"sinorecon/pkg/interpolation"
)

// AngleStep returns the angular spacing in degrees of p projections spread
// evenly over 180 degrees, 180 excluded.
func AngleStep(p int) float64 {
	return 180.0 / float64(p)
}

// Ridge broadcasts a projection into a W x W image whose rows all equal the
// projection.
func Ridge(row []float64) *mat.Dense {
	w := len(row)
	ridge := mat.NewDense(w, w, nil)
	fillRidge(ridge, row)
	return ridge
}

func fillRidge(ridge *mat.Dense, row []float64) {
	w := len(row)
	for r := 0; r < w; r++ {
		copy(ridge.RawRowView(r), row)
	}
}

// Smear returns the ridge of row rotated by angleDeg about the image centre.
func Smear(row []float64, angleDeg float64, method interpolation.Method) *mat.Dense {
	return interpolation.Rotate(Ridge(row), angleDeg, method)
}

// BackProjector sums rotated smears of every projection.
type BackProjector struct {
	// Workers is the number of partial accumulators. Zero or less uses all
	// CPUs; the count is capped at the number of projections.
	Workers int

	// Method is the rotation interpolation kernel.
	Method interpolation.Method
}

// Reconstruct back-projects the P x W channel into a W x W laminogram.
//
// Projections are split into contiguous ranges, one per worker. Each worker
// owns its accumulator and scratch images, and the partial sums are folded in
// range order, so the result does not depend on goroutine scheduling.
func (b BackProjector) Reconstruct(ch *mat.Dense) (*mat.Dense, error) {
	if ch == nil || ch.IsEmpty() {
		return nil, fmt.Errorf("back-projection of empty channel: %w", models.ErrInvalidGeometry)
	}

	p, w := ch.Dims()
	if p <= 0 || w <= 0 {
		return nil, fmt.Errorf("back-projection of %dx%d channel: %w", p, w, models.ErrInvalidGeometry)
	}

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > p {
		workers = p
	}

	dTheta := AngleStep(p)
	partials := make([]*mat.Dense, workers)

	var g errgroup.Group
	for wk := 0; wk < workers; wk++ {
		start := wk * p / workers
		end := (wk + 1) * p / workers

		g.Go(func() error {
			acc := mat.NewDense(w, w, nil)
			ridge := mat.NewDense(w, w, nil)
			smear := mat.NewDense(w, w, nil)
			row := make([]float64, w)

			for i := start; i < end; i++ {
				mat.Row(row, i, ch)
				fillRidge(ridge, row)
				interpolation.RotateInto(smear, ridge, dTheta*float64(i), b.Method)
				vecmath.AddBlockInPlace(acc.RawMatrix().Data, smear.RawMatrix().Data)
			}

			partials[wk] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	laminogram := partials[0]
	for _, partial := range partials[1:] {
		vecmath.AddBlockInPlace(laminogram.RawMatrix().Data, partial.RawMatrix().Data)
	}

	return laminogram, nil
}
