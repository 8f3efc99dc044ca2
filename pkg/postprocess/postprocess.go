// Package postprocess crops a laminogram to the square every projection
// covers and rescales it to 8 bits.
package postprocess

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
)

// MaxValue is the largest 8-bit output sample.
const MaxValue = 255

var (
	// ErrDegenerateChannel is returned when the cropped reconstruction has
	// zero dynamic range (max == min) and the policy is PolicyFail.
	ErrDegenerateChannel = errors.New("degenerate channel: zero dynamic range")

	// ErrNonFinite is returned when the reconstruction contains NaN or
	// infinite samples.
	ErrNonFinite = errors.New("non-finite sample in reconstruction")

	// ErrUnknownPolicy is returned for an unrecognized policy name.
	ErrUnknownPolicy = errors.New("postprocess: unknown degenerate policy")
)

// Policy decides how a channel with zero dynamic range is rescaled.
type Policy int

const (
	// PolicyFail reports ErrDegenerateChannel.
	PolicyFail Policy = iota

	// PolicyZero substitutes an all-zero channel.
	PolicyZero
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyFail:
		return "fail"
	case PolicyZero:
		return "zero"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return PolicyFail, nil
	case "zero":
		return PolicyZero, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// InscribedSide returns floor(w / sqrt(2)), the side of the square inscribed
// in the circle every projection angle covers.
func InscribedSide(w int) int {
	return int(float64(w) / math.Sqrt2)
}

// CropOffset returns the start row and column of the centred inscribed
// square.
func CropOffset(w int) int {
	return (w - InscribedSide(w)) / 2
}

// Crop extracts the centred inscribed square of a square laminogram.
func Crop(lam *mat.Dense) (*mat.Dense, error) {
	if lam == nil || lam.IsEmpty() {
		return nil, fmt.Errorf("crop of empty laminogram: %w", models.ErrInvalidGeometry)
	}

	rows, cols := lam.Dims()
	if rows != cols {
		return nil, fmt.Errorf("crop of %dx%d laminogram: %w", rows, cols, models.ErrShapeMismatch)
	}

	side := InscribedSide(cols)
	if side <= 0 {
		return nil, fmt.Errorf("laminogram width %d has no inscribed square: %w", cols, models.ErrInvalidGeometry)
	}

	off := CropOffset(cols)
	return mat.DenseCopyOf(lam.Slice(off, off+side, off, off+side)), nil
}

// Rescale maps m linearly onto [0, 255] with floor(255 * (x - min) / (max - min)).
// Samples are returned row-major.
func Rescale(m *mat.Dense, policy Policy) ([]uint8, error) {
	if m == nil || m.IsEmpty() {
		return nil, fmt.Errorf("rescale of empty matrix: %w", models.ErrInvalidGeometry)
	}

	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		data = append(data, m.RawRowView(r)...)
	}

	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNonFinite
		}
	}

	out := make([]uint8, len(data))
	lo, hi := floats.Min(data), floats.Max(data)
	if hi == lo {
		if policy == PolicyZero {
			return out, nil
		}
		return nil, fmt.Errorf("%w (all samples %g)", ErrDegenerateChannel, lo)
	}

	span := hi - lo
	for i, v := range data {
		scaled := math.Floor((v - lo) / span * MaxValue)
		out[i] = uint8(math.Max(0, math.Min(MaxValue, scaled)))
	}

	return out, nil
}

// Postprocessor crops and rescales laminograms.
type Postprocessor struct {
	Policy Policy
}

// CropAndRescale turns a laminogram into a reconstructed channel.
func (p Postprocessor) CropAndRescale(name string, lam *mat.Dense) (models.ReconstructedChannel, error) {
	cropped, err := Crop(lam)
	if err != nil {
		return models.ReconstructedChannel{}, err
	}

	pix, err := Rescale(cropped, p.Policy)
	if err != nil {
		return models.ReconstructedChannel{}, err
	}

	side, _ := cropped.Dims()
	return models.ReconstructedChannel{Name: name, Side: side, Pix: pix}, nil
}
