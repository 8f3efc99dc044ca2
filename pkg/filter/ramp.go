// Package filter implements the frequency-domain ramp filter of filtered
// back-projection.
package filter

import (
	"errors"
	"fmt"
	"math"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"

	"sinorecon/internal/models"
)

// Layout selects how the ramp formula is indexed against the spectrum.
type Layout int

const (
	// LayoutPacked indexes the formula by position in the packed real
	// spectrum [r0, r1, i1, r2, i2, ...]. Bin k owns packed coefficients
	// 2k-1 and 2k, both weighted Ramp(2k) = k.
	LayoutPacked Layout = iota

	// LayoutHalfSpectrum applies the formula to the complex bin index k.
	LayoutHalfSpectrum
)

// Window selects an optional apodization multiplied onto the ramp.
type Window int

const (
	WindowNone Window = iota
	WindowHamming
	WindowHann
)

var (
	// ErrUnknownLayout is returned for an unrecognized layout name.
	ErrUnknownLayout = errors.New("filter: unknown layout")

	// ErrUnknownWindow is returned for an unrecognized window name.
	ErrUnknownWindow = errors.New("filter: unknown window")
)

// String returns the configuration name of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutPacked:
		return "packed"
	case LayoutHalfSpectrum:
		return "half-spectrum"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// String returns the configuration name of the window.
func (w Window) String() string {
	switch w {
	case WindowNone:
		return "none"
	case WindowHamming:
		return "hamming"
	case WindowHann:
		return "hann"
	}
	return fmt.Sprintf("Window(%d)", int(w))
}

// ParseLayout converts a configuration string into a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "packed":
		return LayoutPacked, nil
	case "half-spectrum", "half":
		return LayoutHalfSpectrum, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayout, s)
}

// ParseWindow converts a configuration string into a Window.
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "ram-lak", "ramlak":
		return WindowNone, nil
	case "hamming":
		return WindowHamming, nil
	case "hann", "hanning":
		return WindowHann, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWindow, s)
}

// Ramp is the ramp weight at index j: floor(0.5 + 0.5*j). Ramp(0) is 0,
// which removes the DC component of every projection.
func Ramp(j int) float64 {
	return math.Floor(0.5 + 0.5*float64(j))
}

// Weights returns the per-bin weight vector for a half-spectrum of the given
// number of bins.
func Weights(bins int, layout Layout, window Window) ([]float64, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("ramp of %d bins: %w", bins, models.ErrInvalidGeometry)
	}

	weights := make([]float64, bins)
	for k := range weights {
		switch layout {
		case LayoutPacked:
			weights[k] = Ramp(2 * k)
		case LayoutHalfSpectrum:
			weights[k] = Ramp(k)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownLayout, int(layout))
		}
	}

	if window != WindowNone {
		taper, err := apodization(bins, window)
		if err != nil {
			return nil, err
		}
		vecmath.MulBlockInPlace(weights, taper)
	}

	return weights, nil
}

// apodization returns the right half of a symmetric cosine window sampled at
// the bins, 1 at DC falling towards the Nyquist bin.
func apodization(bins int, window Window) ([]float64, error) {
	var a float64
	switch window {
	case WindowHamming:
		a = 0.54
	case WindowHann:
		a = 0.5
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownWindow, int(window))
	}

	taper := make([]float64, bins)
	if bins == 1 {
		taper[0] = 1
		return taper, nil
	}

	for k := range taper {
		taper[k] = a + (1-a)*math.Cos(math.Pi*float64(k)/float64(bins-1))
	}
	return taper, nil
}

// RampFilter weights every projection's spectrum by the ramp.
type RampFilter struct {
	Layout Layout
	Window Window
}

// Apply returns a filtered copy of f. The same weight vector multiplies bin k
// of every row.
func (r RampFilter) Apply(f *models.FrequencyProjections) (*models.FrequencyProjections, error) {
	rows, bins := f.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("ramp filter of empty spectrum: %w", models.ErrInvalidGeometry)
	}

	weights, err := Weights(bins, r.Layout, r.Window)
	if err != nil {
		return nil, err
	}

	out := models.NewFrequencyProjections(rows, f.Width)
	for i := 0; i < rows; i++ {
		vecmath.MulBlock(out.Re.RawRowView(i), f.Re.RawRowView(i), weights)
		vecmath.MulBlock(out.Im.RawRowView(i), f.Im.RawRowView(i), weights)
	}

	return out, nil
}
