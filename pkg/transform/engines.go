package transform

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	dspfft "github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// gonumEngine wraps gonum's real FFT, which already works on half-spectra.
type gonumEngine struct {
	fft   *fourier.FFT
	scale float64
}

func newGonumEngine(width int) *gonumEngine {
	return &gonumEngine{
		fft:   fourier.NewFFT(width),
		scale: 1 / float64(width),
	}
}

func (e *gonumEngine) forward(dst []complex128, src []float64) error {
	e.fft.Coefficients(dst, src)
	return nil
}

func (e *gonumEngine) inverse(dst []float64, src []complex128) error {
	// gonum's Sequence is unnormalized
	e.fft.Sequence(dst, src)
	for i := range dst {
		dst[i] *= e.scale
	}
	return nil
}

// goDSPEngine uses the full complex transform of go-dsp and keeps the
// non-redundant half.
type goDSPEngine struct {
	full []complex128
}

func newGoDSPEngine(width int) *goDSPEngine {
	return &goDSPEngine{full: make([]complex128, width)}
}

func (e *goDSPEngine) forward(dst []complex128, src []float64) error {
	spectrum := dspfft.FFTReal(src)
	copy(dst, spectrum[:len(dst)])
	return nil
}

func (e *goDSPEngine) inverse(dst []float64, src []complex128) error {
	expandHermitian(e.full, src)
	signal := dspfft.IFFT(e.full)
	for i := range dst {
		dst[i] = real(signal[i])
	}
	return nil
}

// algoFFTEngine runs a precomputed complex plan. The library decides which
// lengths it can plan for; New reports the failure.
type algoFFTEngine struct {
	plan *algofft.Plan[complex128]
	in   []complex128
	out  []complex128
}

func newAlgoFFTEngine(width int) (*algoFFTEngine, error) {
	plan, err := algofft.NewPlan64(width)
	if err != nil {
		return nil, fmt.Errorf("transform: failed to create algo-fft plan of length %d: %w", width, err)
	}

	return &algoFFTEngine{
		plan: plan,
		in:   make([]complex128, width),
		out:  make([]complex128, width),
	}, nil
}

func (e *algoFFTEngine) forward(dst []complex128, src []float64) error {
	for i, v := range src {
		e.in[i] = complex(v, 0)
	}
	if err := e.plan.Forward(e.out, e.in); err != nil {
		return err
	}
	copy(dst, e.out[:len(dst)])
	return nil
}

func (e *algoFFTEngine) inverse(dst []float64, src []complex128) error {
	expandHermitian(e.in, src)
	if err := e.plan.Inverse(e.out, e.in); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = real(e.out[i])
	}
	return nil
}
