// Package imageio reads sinogram images from disk and writes reconstructions
// and intermediary results back out.
package imageio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
	"sinorecon/pkg/reconstruction"
)

// ErrUnsupportedFormat is returned for an output extension with no encoder.
var ErrUnsupportedFormat = errors.New("imageio: unsupported image format")

// DecodeSinogram decodes a PNG, JPEG, TIFF or BMP sinogram. Greyscale images
// yield one grey channel; anything else is split into red, green and blue.
func DecodeSinogram(r io.Reader) (*models.Sinogram, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode sinogram: %w", err)
	}

	var s *models.Sinogram
	if isGrey(img) {
		s = models.SplitGray(img)
	} else {
		s = models.SplitRGB(img)
	}
	if err := s.Validate(); err != nil {
		return nil, format, err
	}
	return s, format, nil
}

// LoadSinogram reads a sinogram image file.
func LoadSinogram(path string) (*models.Sinogram, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sinogram: %w", err)
	}
	defer file.Close()

	s, _, err := DecodeSinogram(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func isGrey(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return true
	}
	return false
}

// SaveImage encodes img to path. The extension selects the encoder: .png,
// .jpg/.jpeg, .tif/.tiff or .bmp.
func SaveImage(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(io.Writer, image.Image) error
	switch ext {
	case ".png":
		encode = png.Encode
	case ".jpg", ".jpeg":
		encode = func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
		}
	case ".tif", ".tiff":
		encode = func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}
	case ".bmp":
		encode = bmp.Encode
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}

// SaveChannel writes one reconstructed channel as a greyscale image.
func SaveChannel(path string, c models.ReconstructedChannel) error {
	return SaveImage(path, c.Gray())
}

// MatrixImage renders m as a 16-bit greyscale preview, mapping its minimum
// to black and its maximum to white. Non-finite samples render black, as do
// constant matrices.
func MatrixImage(m *mat.Dense) *image.Gray16 {
	rows, cols := m.Dims()
	img := image.NewGray16(image.Rect(0, 0, cols, rows))

	lo, hi := math.Inf(1), math.Inf(-1)
	for r := 0; r < rows; r++ {
		for _, v := range m.RawRowView(r) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if !(hi > lo) {
		return img
	}

	span := hi - lo
	for r := 0; r < rows; r++ {
		for c, v := range m.RawRowView(r) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			value := uint16(math.Max(0, math.Min(65535, (v-lo)/span*65535)))
			img.SetGray16(c, r, color.Gray16{Y: value})
		}
	}
	return img
}

// SaveMatrix writes a normalized preview of m.
func SaveMatrix(path string, m *mat.Dense) error {
	return SaveImage(path, MatrixImage(m))
}

// SaveRaw writes m as little-endian float64 samples in row-major order.
func SaveRaw(path string, m *mat.Dense) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create binary file: %w", err)
	}

	rows, _ := m.Dims()
	for r := 0; r < rows; r++ {
		if err := binary.Write(file, binary.LittleEndian, m.RawRowView(r)); err != nil {
			file.Close()
			return fmt.Errorf("failed to write binary data: %w", err)
		}
	}
	return file.Close()
}

// SaveResult writes the stacked reconstruction to path and, when present,
// the unfiltered diagnostic and greyscale channel next to it with
// "_unfiltered" and "_grey" suffixes.
func SaveResult(path string, result *reconstruction.Result) error {
	if err := SaveImage(path, result.Image.Image()); err != nil {
		return err
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if result.Unfiltered != nil && len(result.Unfiltered.Channels) > 0 {
		if err := SaveImage(base+"_unfiltered"+ext, result.Unfiltered.Image()); err != nil {
			return err
		}
	}
	if result.Greyscale != nil {
		if err := SaveChannel(base+"_grey"+ext, *result.Greyscale); err != nil {
			return err
		}
	}
	return nil
}

// StageWriter saves every intermediate matrix of a reconstruction under Dir.
// Stages get numbered directories in the order they are first seen, e.g.
// Dir/01_sinogram/red.png. Its Hook method is a reconstruction.StageHook.
type StageWriter struct {
	// Dir is the root of the stage directories
	Dir string

	// Ext selects the preview format; empty means ".png"
	Ext string

	// Raw additionally writes each matrix as a .bin file of float64 samples
	Raw bool

	// Logger receives warnings for files that could not be written
	Logger *log.Logger

	mu     sync.Mutex
	stages map[reconstruction.Stage]string
	err    error
}

// NewStageWriter creates a writer rooted at dir.
func NewStageWriter(dir string) *StageWriter {
	return &StageWriter{Dir: dir}
}

// Hook writes data for the given channel and stage. Failures are logged and
// the first one is kept for Err.
func (w *StageWriter) Hook(channel string, stage reconstruction.Stage, data *mat.Dense) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(channel, stage, data); err != nil {
		if w.Logger != nil {
			w.Logger.Printf("Warning: Failed to save %s of channel %s: %v", stage, channel, err)
		}
		if w.err == nil {
			w.err = err
		}
	}
}

// Err returns the first write failure.
func (w *StageWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *StageWriter) write(channel string, stage reconstruction.Stage, data *mat.Dense) error {
	if w.stages == nil {
		w.stages = make(map[reconstruction.Stage]string)
	}
	name, ok := w.stages[stage]
	if !ok {
		name = fmt.Sprintf("%02d_%s", len(w.stages)+1, stage)
		w.stages[stage] = name
	}

	stageDir := filepath.Join(w.Dir, name)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	ext := w.Ext
	if ext == "" {
		ext = ".png"
	}
	if err := SaveMatrix(filepath.Join(stageDir, channel+ext), data); err != nil {
		return err
	}
	if w.Raw {
		return SaveRaw(filepath.Join(stageDir, channel+".bin"), data)
	}
	return nil
}
