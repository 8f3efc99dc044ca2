package models

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/mat"
)

// Bins returns the number of half-spectrum frequency bins of a real signal
// of the given width.
func Bins(width int) int {
	return width/2 + 1
}

// FrequencyProjections is the row-wise frequency-domain representation of a
// channel: P rows of F = W/2+1 complex bins. Real and imaginary parts are
// kept in separate planes.
type FrequencyProjections struct {
	// Width is the spatial length W each row was transformed from
	Width int

	// Re and Im are P x F planes
	Re *mat.Dense
	Im *mat.Dense
}

// NewFrequencyProjections allocates zeroed planes for rows projections of
// the given spatial width.
func NewFrequencyProjections(rows, width int) *FrequencyProjections {
	bins := Bins(width)
	return &FrequencyProjections{
		Width: width,
		Re:    mat.NewDense(rows, bins, nil),
		Im:    mat.NewDense(rows, bins, nil),
	}
}

// Dims returns the number of rows and frequency bins.
func (f *FrequencyProjections) Dims() (rows, bins int) {
	if f == nil || f.Re == nil || f.Re.IsEmpty() {
		return 0, 0
	}
	return f.Re.Dims()
}

// At returns bin k of row i.
func (f *FrequencyProjections) At(i, k int) complex128 {
	return complex(f.Re.At(i, k), f.Im.At(i, k))
}

// Set stores v into bin k of row i.
func (f *FrequencyProjections) Set(i, k int, v complex128) {
	f.Re.Set(i, k, real(v))
	f.Im.Set(i, k, imag(v))
}

// Clone returns a deep copy.
func (f *FrequencyProjections) Clone() *FrequencyProjections {
	return &FrequencyProjections{
		Width: f.Width,
		Re:    mat.DenseCopyOf(f.Re),
		Im:    mat.DenseCopyOf(f.Im),
	}
}

// ReconstructedChannel is a cropped, 8-bit rescaled laminogram.
type ReconstructedChannel struct {
	Name string

	// Side is the width and height of the square channel
	Side int

	// Pix holds Side*Side samples in row-major order
	Pix []uint8
}

// At returns the sample at row y, column x.
func (c ReconstructedChannel) At(y, x int) uint8 {
	return c.Pix[y*c.Side+x]
}

// Gray renders the channel as a greyscale image.
func (c ReconstructedChannel) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, c.Side, c.Side))
	copy(img.Pix, c.Pix)
	return img
}

// ReconstructedImage stacks reconstructed channels in split order.
type ReconstructedImage struct {
	Side     int
	Channels []ReconstructedChannel
}

// Channel returns the channel with the given name.
func (r *ReconstructedImage) Channel(name string) (ReconstructedChannel, bool) {
	for _, c := range r.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ReconstructedChannel{}, false
}

// Image renders the stacked channels. A single channel becomes a greyscale
// image; three or more channels become an opaque RGBA image built from the
// first three.
func (r *ReconstructedImage) Image() image.Image {
	switch {
	case len(r.Channels) == 0:
		return image.NewGray(image.Rect(0, 0, r.Side, r.Side))
	case len(r.Channels) < 3:
		return r.Channels[0].Gray()
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Side, r.Side))
	red, green, blue := r.Channels[0], r.Channels[1], r.Channels[2]
	for y := 0; y < r.Side; y++ {
		for x := 0; x < r.Side; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: red.At(y, x),
				G: green.At(y, x),
				B: blue.At(y, x),
				A: 255,
			})
		}
	}
	return img
}
