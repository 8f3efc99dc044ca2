package models

import (
	"fmt"
	"image"
	"image/color"

	"gonum.org/v1/gonum/mat"
)

// Standard channel names produced by SplitRGB and the greyscale derivation.
const (
	ChannelRed   = "red"
	ChannelGreen = "green"
	ChannelBlue  = "blue"
	ChannelGrey  = "grey"
)

// Channel is one plane of projection data extracted from a single colour
// (or intensity) plane of the input.
type Channel struct {
	// Name identifies the plane, e.g. "red" or "grey"
	Name string

	// Data holds P projections (rows) of W detector samples (columns)
	Data *mat.Dense
}

// Dims returns the number of projections and the detector width.
func (c Channel) Dims() (p, w int) {
	if c.Data == nil || c.Data.IsEmpty() {
		return 0, 0
	}
	return c.Data.Dims()
}

// Sinogram is a collection of channels acquired together. All channels
// share the same (P, W) shape.
type Sinogram struct {
	Channels []Channel
}

// NewChannel builds a channel from row slices. Every row must have the same
// length.
func NewChannel(name string, rows [][]float64) (Channel, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Channel{}, fmt.Errorf("channel %q: %w", name, ErrInvalidGeometry)
	}

	w := len(rows[0])
	data := mat.NewDense(len(rows), w, nil)
	for i, row := range rows {
		if len(row) != w {
			return Channel{}, fmt.Errorf("channel %q row %d has %d samples, want %d: %w",
				name, i, len(row), w, ErrShapeMismatch)
		}
		data.SetRow(i, row)
	}

	return Channel{Name: name, Data: data}, nil
}

// Shape returns the common (P, W) shape of the sinogram, taken from the
// first channel.
func (s *Sinogram) Shape() (p, w int) {
	if s == nil || len(s.Channels) == 0 {
		return 0, 0
	}
	return s.Channels[0].Dims()
}

// Validate checks the geometry and that every channel shares the shape of the
// first one. It runs before any transform so that a bad input never reaches
// the reconstruction kernels.
func (s *Sinogram) Validate() error {
	if s == nil || len(s.Channels) == 0 {
		return fmt.Errorf("sinogram has no channels: %w", ErrInvalidGeometry)
	}

	p0, w0 := s.Channels[0].Dims()
	for _, ch := range s.Channels {
		p, w := ch.Dims()
		if p <= 0 || w <= 0 {
			return fmt.Errorf("channel %q has shape (%d, %d): %w", ch.Name, p, w, ErrInvalidGeometry)
		}
		if p != p0 || w != w0 {
			return fmt.Errorf("channel %q has shape (%d, %d), channel %q has (%d, %d): %w",
				ch.Name, p, w, s.Channels[0].Name, p0, w0, ErrShapeMismatch)
		}
	}

	return nil
}

// SplitRGB separates an image into red, green and blue channels, in that
// order. Rows of the image are projections, columns are detector samples.
// Samples are scaled to the 8-bit range [0, 255].
func SplitRGB(img image.Image) *Sinogram {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	red := mat.NewDense(height, width, nil)
	green := mat.NewDense(height, width, nil)
	blue := mat.NewDense(height, width, nil)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := straight(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			// Convert 16-bit colour to the 8-bit scale
			red.Set(y, x, float64(c.R)/257.0)
			green.Set(y, x, float64(c.G)/257.0)
			blue.Set(y, x, float64(c.B)/257.0)
		}
	}

	return &Sinogram{Channels: []Channel{
		{Name: ChannelRed, Data: red},
		{Name: ChannelGreen, Data: green},
		{Name: ChannelBlue, Data: blue},
	}}
}

// SplitGray extracts a single intensity channel from an image.
func SplitGray(img image.Image) *Sinogram {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	grey := mat.NewDense(height, width, nil)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := straight(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			grey.Set(y, x, float64(c.R)/257.0)
		}
	}

	return &Sinogram{Channels: []Channel{{Name: ChannelGrey, Data: grey}}}
}

// straight returns c with alpha ignored. Samples are not premultiplied, so a
// translucent pixel keeps its stored intensity.
func straight(c color.Color) color.NRGBA64 {
	switch v := c.(type) {
	case color.NRGBA:
		return color.NRGBA64{R: uint16(v.R) * 257, G: uint16(v.G) * 257, B: uint16(v.B) * 257, A: uint16(v.A) * 257}
	case color.NRGBA64:
		return v
	}
	return color.NRGBA64Model.Convert(c).(color.NRGBA64)
}

// Luminance weights (ITU-R BT.601) used to derive the greyscale channel.
const (
	LumaRed   = 0.299
	LumaGreen = 0.587
	LumaBlue  = 0.114
)

// Luminance derives a greyscale channel as a luminance-weighted combination
// of red, green and blue channels of identical shape.
func Luminance(r, g, b Channel) (Channel, error) {
	pr, wr := r.Dims()
	for _, c := range []Channel{g, b} {
		p, w := c.Dims()
		if p != pr || w != wr {
			return Channel{}, fmt.Errorf("luminance of %q and %q: %w", r.Name, c.Name, ErrShapeMismatch)
		}
	}
	if pr == 0 || wr == 0 {
		return Channel{}, fmt.Errorf("luminance: %w", ErrInvalidGeometry)
	}

	var grey mat.Dense
	grey.Scale(LumaRed, r.Data)

	var tmp mat.Dense
	tmp.Scale(LumaGreen, g.Data)
	grey.Add(&grey, &tmp)
	tmp.Scale(LumaBlue, b.Data)
	grey.Add(&grey, &tmp)

	return Channel{Name: ChannelGrey, Data: &grey}, nil
}
