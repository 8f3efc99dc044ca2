package transform

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
)

// randomChannel creates a channel of normally distributed samples
func randomChannel(rows, width int, seed int64) *mat.Dense {
	rnd := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*width)
	for i := range data {
		data[i] = rnd.NormFloat64() * 100
	}
	return mat.NewDense(rows, width, data)
}

// TestRoundTrip verifies inverse(forward(x)) == x for every backend
func TestRoundTrip(t *testing.T) {
	cases := []struct {
		backend Backend
		widths  []int
	}{
		{BackendGonum, []int{2, 7, 8, 65, 658}},
		{BackendGoDSP, []int{2, 7, 8, 65}},
		{BackendAlgoFFT, []int{8, 64}},
	}

	for _, tc := range cases {
		for _, width := range tc.widths {
			tr, err := New(width, tc.backend)
			if err != nil {
				t.Fatalf("%s: failed to create transform of width %d: %v", tc.backend, width, err)
			}

			channel := randomChannel(5, width, int64(width))
			freq, err := tr.Forward(channel)
			if err != nil {
				t.Fatalf("%s: forward failed: %v", tc.backend, err)
			}

			rows, bins := freq.Dims()
			if rows != 5 || bins != width/2+1 {
				t.Errorf("%s: expected spectrum 5x%d, got %dx%d", tc.backend, width/2+1, rows, bins)
			}

			back, err := tr.Inverse(freq)
			if err != nil {
				t.Fatalf("%s: inverse failed: %v", tc.backend, err)
			}

			scale := mat.Norm(channel, math.Inf(1))
			if !mat.EqualApprox(channel, back, 1e-9*scale) {
				t.Errorf("%s: round trip of width %d does not reproduce the input", tc.backend, width)
			}
		}
	}
}

// TestBackendsAgree checks that every backend yields the same half-spectrum
func TestBackendsAgree(t *testing.T) {
	channel := randomChannel(3, 16, 42)

	reference, err := New(16, BackendGonum)
	if err != nil {
		t.Fatalf("Failed to create gonum transform: %v", err)
	}
	want, err := reference.Forward(channel)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	for _, backend := range []Backend{BackendGoDSP, BackendAlgoFFT} {
		tr, err := New(16, backend)
		if err != nil {
			t.Fatalf("Failed to create %s transform: %v", backend, err)
		}
		got, err := tr.Forward(channel)
		if err != nil {
			t.Fatalf("%s: forward failed: %v", backend, err)
		}

		for i := 0; i < 3; i++ {
			for k := 0; k < 9; k++ {
				if cmplx.Abs(got.At(i, k)-want.At(i, k)) > 1e-9 {
					t.Errorf("%s: bin (%d,%d) = %v, gonum gives %v", backend, i, k, got.At(i, k), want.At(i, k))
				}
			}
		}
	}
}

// TestForwardKnownSpectra checks the transform against analytic DFTs
func TestForwardKnownSpectra(t *testing.T) {
	const width = 8
	tr, err := New(width, BackendGonum)
	if err != nil {
		t.Fatalf("Failed to create transform: %v", err)
	}

	ones := make([]float64, width)
	impulse := make([]float64, width)
	for i := range ones {
		ones[i] = 1
	}
	impulse[0] = 1

	channel := mat.NewDense(2, width, append(ones, impulse...))
	freq, err := tr.Forward(channel)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// A constant row concentrates in the DC bin
	if math.Abs(real(freq.At(0, 0))-width) > 1e-12 {
		t.Errorf("Expected DC bin %d, got %v", width, freq.At(0, 0))
	}
	for k := 1; k <= width/2; k++ {
		if cmplx.Abs(freq.At(0, k)) > 1e-12 {
			t.Errorf("Expected bin %d of a constant row to be zero, got %v", k, freq.At(0, k))
		}
	}

	// An impulse at the origin has a flat spectrum
	for k := 0; k <= width/2; k++ {
		if cmplx.Abs(freq.At(1, k)-1) > 1e-12 {
			t.Errorf("Expected bin %d of an impulse to be 1, got %v", k, freq.At(1, k))
		}
	}
}

// TestTransformErrors covers geometry and shape validation
func TestTransformErrors(t *testing.T) {
	if _, err := New(0, BackendGonum); !errors.Is(err, models.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for width 0, got %v", err)
	}
	if _, err := New(8, Backend("fftw")); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}

	tr, err := New(8, BackendGonum)
	if err != nil {
		t.Fatalf("Failed to create transform: %v", err)
	}
	if _, err := tr.Forward(&mat.Dense{}); !errors.Is(err, models.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for empty channel, got %v", err)
	}
	if _, err := tr.Forward(randomChannel(2, 9, 1)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for wrong width, got %v", err)
	}
	if _, err := tr.Inverse(models.NewFrequencyProjections(2, 10)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for wrong spectrum width, got %v", err)
	}
}

// TestParseBackend checks configuration names
func TestParseBackend(t *testing.T) {
	for input, want := range map[string]Backend{
		"":         BackendGonum,
		"gonum":    BackendGonum,
		"Go-DSP":   BackendGoDSP,
		"algofft":  BackendAlgoFFT,
		"algo-fft": BackendAlgoFFT,
	} {
		got, err := ParseBackend(input)
		if err != nil {
			t.Errorf("ParseBackend(%q) failed: %v", input, err)
			continue
		}
		if got != want {
			t.Errorf("ParseBackend(%q) = %q, expected %q", input, got, want)
		}
	}

	if _, err := ParseBackend("cufft"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}

// TestMagnitude checks the per-bin magnitude helper
func TestMagnitude(t *testing.T) {
	f := models.NewFrequencyProjections(1, 4)
	f.Set(0, 1, complex(3, 4))

	m := Magnitude(f)
	if got := m.At(0, 1); math.Abs(got-5) > 1e-12 {
		t.Errorf("Expected magnitude 5, got %f", got)
	}
	if got := m.At(0, 0); got != 0 {
		t.Errorf("Expected magnitude 0, got %f", got)
	}
}
