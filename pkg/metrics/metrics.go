// Package metrics grades a reconstruction against a reference image.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"sinorecon/internal/models"
)

// ErrLengthMismatch is returned when the two images differ in size.
var ErrLengthMismatch = errors.New("metrics: sample count mismatch")

// Metrics holds the reconstruction quality metrics. Both inputs are
// normalized to [0, 1] before comparison, so the metrics ignore the
// arbitrary scale of filtered back-projection.
type Metrics struct {
	// RMSE (Root Mean Square Error) of the normalized samples. Lower is better.
	RMSE float64

	// SSIM (Structural Similarity Index) computed globally over the image.
	// Values range from -1 to 1, with 1 indicating identical structure.
	SSIM float64

	// Correlation is the Pearson correlation coefficient.
	Correlation float64

	// MI is the Gaussian approximation of mutual information, in nats.
	MI float64

	// EntropyDiff is the absolute difference of the 256-bin Shannon
	// entropies, in bits. Lower is better.
	EntropyDiff float64
}

// String formats the metrics on one line.
func (m Metrics) String() string {
	return fmt.Sprintf("RMSE %.4f  SSIM %.4f  correlation %.4f  MI %.4f  entropy diff %.4f",
		m.RMSE, m.SSIM, m.Correlation, m.MI, m.EntropyDiff)
}

// Compare computes every metric of reconstructed against reference.
func Compare(reference, reconstructed []float64) (Metrics, error) {
	if len(reference) != len(reconstructed) {
		return Metrics{}, fmt.Errorf("%w: %d reference, %d reconstructed",
			ErrLengthMismatch, len(reference), len(reconstructed))
	}
	if len(reference) == 0 {
		return Metrics{}, fmt.Errorf("metrics of empty images: %w", models.ErrInvalidGeometry)
	}

	x := Normalize(reference)
	y := Normalize(reconstructed)

	return Metrics{
		RMSE:        RMSE(x, y),
		SSIM:        SSIM(x, y),
		Correlation: correlation(x, y),
		MI:          MutualInformation(x, y),
		EntropyDiff: math.Abs(Entropy(x) - Entropy(y)),
	}, nil
}

// Normalize maps data linearly onto [0, 1]. Constant data becomes zeros.
func Normalize(data []float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}

	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return out
	}
	copy(out, data)
	floats.AddConst(-lo, out)
	floats.Scale(1/(hi-lo), out)
	return out
}

// RMSE computes the root mean square error
func RMSE(x, y []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Distance(x, y, 2) / math.Sqrt(float64(len(x)))
}

// SSIM computes the Structural Similarity Index of data in [0, 1]
func SSIM(x, y []float64) float64 {
	// Constants for SSIM calculation
	const L = 1.0 // Dynamic range
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// correlation returns 0 instead of NaN when either input is constant
func correlation(x, y []float64) float64 {
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// MutualInformation approximates MI as 0.5 * log(var(X) var(Y) / det(cov)).
// Perfectly correlated inputs report +Inf.
func MutualInformation(x, y []float64) float64 {
	varX := stat.Variance(x, nil)
	varY := stat.Variance(y, nil)
	if varX <= 0 || varY <= 0 {
		return 0
	}

	covar := stat.Covariance(x, y, nil)
	det := varX*varY - covar*covar
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/det)
}

// Entropy computes the Shannon entropy of data over 256 equal bins, in bits
func Entropy(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}

	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (hi - lo) / numBins
	for _, v := range data {
		binIdx := int((v - lo) / binWidth)
		if binIdx >= numBins {
			binIdx = numBins - 1
		} else if binIdx < 0 {
			binIdx = 0
		}
		hist[binIdx]++
	}

	floats.Scale(1/float64(len(data)), hist)
	return stat.Entropy(hist) / math.Ln2
}

// FromChannel returns the samples of a reconstructed channel as floats
func FromChannel(c models.ReconstructedChannel) []float64 {
	out := make([]float64, len(c.Pix))
	for i, v := range c.Pix {
		out[i] = float64(v)
	}
	return out
}

// FromDense returns the samples of m in row-major order
func FromDense(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		out = append(out, m.RawRowView(r)...)
	}
	return out
}
