// Package transform implements the row-wise real frequency transform applied
// independently to every projection of a channel.
package transform

import (
	"errors"
	"fmt"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
)

// Backend selects the FFT library that performs the row transforms.
type Backend string

const (
	// BackendGonum uses gonum's real FFT (any length).
	BackendGonum Backend = "gonum"

	// BackendGoDSP uses github.com/mjibson/go-dsp (any length).
	BackendGoDSP Backend = "go-dsp"

	// BackendAlgoFFT uses github.com/MeKo-Christian/algo-fft complex plans.
	BackendAlgoFFT Backend = "algo-fft"
)

// ErrUnknownBackend is returned when a backend name is not recognized.
var ErrUnknownBackend = errors.New("transform: unknown backend")

// Backends lists every supported backend.
func Backends() []Backend {
	return []Backend{BackendGonum, BackendGoDSP, BackendAlgoFFT}
}

// ParseBackend converts a configuration string into a Backend. The empty
// string selects gonum.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendGonum:
		return BackendGonum, nil
	case BackendGoDSP, "godsp":
		return BackendGoDSP, nil
	case BackendAlgoFFT, "algofft":
		return BackendAlgoFFT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// engine computes a single row transform. forward fills len(dst) = W/2+1
// bins; inverse writes W normalized samples.
type engine interface {
	forward(dst []complex128, src []float64) error
	inverse(dst []float64, src []complex128) error
}

// ProjectionTransform performs forward and inverse real half-spectrum
// transforms of projection rows. It owns scratch buffers and must not be
// shared between goroutines; build one per channel.
type ProjectionTransform struct {
	width   int
	backend Backend
	engine  engine

	row    []float64
	coeffs []complex128
}

// New creates a transform for rows of the given width.
func New(width int, backend Backend) (*ProjectionTransform, error) {
	if width <= 0 {
		return nil, fmt.Errorf("transform width %d: %w", width, models.ErrInvalidGeometry)
	}

	var (
		eng engine
		err error
	)
	switch backend {
	case "", BackendGonum:
		backend = BackendGonum
		eng = newGonumEngine(width)
	case BackendGoDSP:
		eng = newGoDSPEngine(width)
	case BackendAlgoFFT:
		eng, err = newAlgoFFTEngine(width)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	return &ProjectionTransform{
		width:   width,
		backend: backend,
		engine:  eng,
		row:     make([]float64, width),
		coeffs:  make([]complex128, models.Bins(width)),
	}, nil
}

// Width returns the spatial row length the transform was built for.
func (t *ProjectionTransform) Width() int {
	return t.width
}

// Backend returns the FFT library in use.
func (t *ProjectionTransform) Backend() Backend {
	return t.backend
}

// Forward transforms every row of ch into its F = W/2+1 bin half-spectrum.
// Rows are transformed independently; the row count is unconstrained.
func (t *ProjectionTransform) Forward(ch *mat.Dense) (*models.FrequencyProjections, error) {
	if ch == nil || ch.IsEmpty() {
		return nil, fmt.Errorf("forward transform of empty channel: %w", models.ErrInvalidGeometry)
	}

	rows, w := ch.Dims()
	if w != t.width {
		return nil, fmt.Errorf("forward transform: row width %d, transform width %d: %w",
			w, t.width, models.ErrShapeMismatch)
	}

	out := models.NewFrequencyProjections(rows, w)
	for i := 0; i < rows; i++ {
		mat.Row(t.row, i, ch)
		if err := t.engine.forward(t.coeffs, t.row); err != nil {
			return nil, fmt.Errorf("forward transform of row %d: %w", i, err)
		}

		re := out.Re.RawRowView(i)
		im := out.Im.RawRowView(i)
		for k, c := range t.coeffs {
			re[k] = real(c)
			im[k] = imag(c)
		}
	}

	return out, nil
}

// Inverse reconstructs W real samples per row from the half-spectrum. The
// imaginary parts of the DC bin, and of the Nyquist bin for even widths, do
// not contribute to a real signal and are ignored.
func (t *ProjectionTransform) Inverse(f *models.FrequencyProjections) (*mat.Dense, error) {
	rows, bins := f.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("inverse transform of empty spectrum: %w", models.ErrInvalidGeometry)
	}
	if f.Width != t.width || bins != len(t.coeffs) {
		return nil, fmt.Errorf("inverse transform: spectrum width %d (%d bins), transform width %d: %w",
			f.Width, bins, t.width, models.ErrShapeMismatch)
	}

	out := mat.NewDense(rows, t.width, nil)
	for i := 0; i < rows; i++ {
		re := f.Re.RawRowView(i)
		im := f.Im.RawRowView(i)
		for k := range t.coeffs {
			t.coeffs[k] = complex(re[k], im[k])
		}
		dropSelfConjugateImag(t.coeffs, t.width)

		if err := t.engine.inverse(out.RawRowView(i), t.coeffs); err != nil {
			return nil, fmt.Errorf("inverse transform of row %d: %w", i, err)
		}
	}

	return out, nil
}

// Magnitude returns |X[i,k]| for every row and bin.
func Magnitude(f *models.FrequencyProjections) *mat.Dense {
	rows, bins := f.Dims()
	if rows == 0 {
		return &mat.Dense{}
	}

	out := mat.NewDense(rows, bins, nil)
	for i := 0; i < rows; i++ {
		vecmath.Magnitude(out.RawRowView(i), f.Re.RawRowView(i), f.Im.RawRowView(i))
	}
	return out
}

// dropSelfConjugateImag zeroes the imaginary parts of the bins that are their
// own conjugate pair.
func dropSelfConjugateImag(coeffs []complex128, width int) {
	coeffs[0] = complex(real(coeffs[0]), 0)
	if width%2 == 0 {
		n := width / 2
		coeffs[n] = complex(real(coeffs[n]), 0)
	}
}

// expandHermitian fills the full n-point spectrum of a real signal from its
// half-spectrum using X[n-k] = conj(X[k]).
func expandHermitian(full, half []complex128) {
	n := len(full)
	copy(full, half)
	for k := len(half); k < n; k++ {
		c := half[n-k]
		full[k] = complex(real(c), -imag(c))
	}
}
