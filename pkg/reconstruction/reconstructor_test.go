package reconstruction

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
	"sinorecon/pkg/config"
	"sinorecon/pkg/filter"
	"sinorecon/pkg/postprocess"
	"sinorecon/pkg/transform"
)

// randomChannel creates a P x W channel of uniform noise
func randomChannel(name string, p, w int, seed int64) models.Channel {
	rnd := rand.New(rand.NewSource(seed))
	data := make([]float64, p*w)
	for i := range data {
		data[i] = rnd.Float64()
	}
	return models.Channel{Name: name, Data: mat.NewDense(p, w, data)}
}

// pointSource creates the sinogram of a point at the rotation centre
func pointSource(name string, p, w int) models.Channel {
	data := mat.NewDense(p, w, nil)
	for i := 0; i < p; i++ {
		data.Set(i, w/2, 1)
	}
	return models.Channel{Name: name, Data: data}
}

// testParams returns default parameters with a fixed worker count
func testParams(workers int) *Params {
	params := DefaultParams()
	params.Workers = workers
	return params
}

// TestProcessShapeMismatch verifies validation happens before any stage runs
func TestProcessShapeMismatch(t *testing.T) {
	s := &models.Sinogram{Channels: []models.Channel{
		randomChannel(models.ChannelRed, 10, 20, 1),
		randomChannel(models.ChannelGreen, 10, 21, 2),
	}}

	r := NewReconstructor(testParams(2))
	calls := 0
	r.SetProgressCallback(func(completed, total int, message string) { calls++ })

	if _, err := r.Process(s); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no stage to run, got %d progress reports", calls)
	}

	if _, err := r.Process(&models.Sinogram{}); !errors.Is(err, models.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for an empty sinogram, got %v", err)
	}
	if _, err := r.Process(nil); !errors.Is(err, models.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for a nil sinogram, got %v", err)
	}
}

// TestProcessDegenerate covers an all-zero channel under both policies
func TestProcessDegenerate(t *testing.T) {
	s := &models.Sinogram{Channels: []models.Channel{
		{Name: models.ChannelGrey, Data: mat.NewDense(10, 20, nil)},
	}}

	_, err := NewReconstructor(testParams(2)).Process(s)
	if !errors.Is(err, postprocess.ErrDegenerateChannel) {
		t.Fatalf("Expected ErrDegenerateChannel, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected a *StageError, got %T", err)
	}
	if stageErr.Channel != models.ChannelGrey || stageErr.Stage != StageCrop {
		t.Errorf("Expected failure of grey at %s, got %s at %s", StageCrop, stageErr.Channel, stageErr.Stage)
	}

	params := testParams(2)
	params.Degenerate = postprocess.PolicyZero
	result, err := NewReconstructor(params).Process(s)
	if err != nil {
		t.Fatalf("Expected zero policy to succeed, got %v", err)
	}
	ch := result.Image.Channels[0]
	if ch.Side != 14 {
		t.Errorf("Expected side 14, got %d", ch.Side)
	}
	for i, v := range ch.Pix {
		if v != 0 {
			t.Fatalf("Expected an all-zero channel, sample %d is %d", i, v)
		}
	}
}

// TestChannelIndependence verifies that changing one channel leaves the
// others untouched
func TestChannelIndependence(t *testing.T) {
	const p, w = 16, 21
	red := randomChannel(models.ChannelRed, p, w, 1)
	green := randomChannel(models.ChannelGreen, p, w, 2)

	first, err := NewReconstructor(testParams(3)).Process(&models.Sinogram{Channels: []models.Channel{
		red, green, randomChannel(models.ChannelBlue, p, w, 3),
	}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	second, err := NewReconstructor(testParams(3)).Process(&models.Sinogram{Channels: []models.Channel{
		red, green, randomChannel(models.ChannelBlue, p, w, 99),
	}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for c := 0; c < 2; c++ {
		a, b := first.Image.Channels[c], second.Image.Channels[c]
		for i := range a.Pix {
			if a.Pix[i] != b.Pix[i] {
				t.Fatalf("Channel %s changed at sample %d: %d vs %d", a.Name, i, a.Pix[i], b.Pix[i])
			}
		}
	}
}

// TestStackingOrder verifies channels are stacked in split order and match
// their single-channel reconstruction
func TestStackingOrder(t *testing.T) {
	const p, w = 12, 15
	channels := []models.Channel{
		randomChannel("a", p, w, 10),
		randomChannel("b", p, w, 11),
		randomChannel("c", p, w, 12),
	}

	result, err := NewReconstructor(testParams(1)).Process(&models.Sinogram{Channels: channels})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for i, ch := range channels {
		if got := result.Image.Channels[i].Name; got != ch.Name {
			t.Errorf("Expected channel %d to be %s, got %s", i, ch.Name, got)
		}
		if got := result.Unfiltered.Channels[i].Name; got != ch.Name {
			t.Errorf("Expected unfiltered channel %d to be %s, got %s", i, ch.Name, got)
		}
	}

	single, err := NewReconstructor(testParams(1)).Process(&models.Sinogram{Channels: channels[1:2]})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	want, got := single.Image.Channels[0], result.Image.Channels[1]
	for i := range want.Pix {
		if want.Pix[i] != got.Pix[i] {
			t.Fatalf("Stacked channel b differs from its own reconstruction at sample %d", i)
		}
	}

	if result.Image.Side != postprocess.InscribedSide(w) || result.Unfiltered.Side != w {
		t.Errorf("Unexpected sides %d and %d", result.Image.Side, result.Unfiltered.Side)
	}
}

// ringRatio returns the mean absolute value on a ring around the centre of
// a laminogram, relative to the centre value
func ringRatio(lam *mat.Dense, inner, outer float64) float64 {
	n, _ := lam.Dims()
	c := float64(n / 2)
	sum, count := 0.0, 0
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			d := math.Hypot(float64(x)-c, float64(y)-c)
			if d >= inner && d <= outer {
				sum += math.Abs(lam.At(y, x))
				count++
			}
		}
	}
	return sum / float64(count) / lam.At(n/2, n/2)
}

// TestPointSourceFiltered checks that the ramp filter sharpens a centred
// point source compared with plain back-projection
func TestPointSourceFiltered(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping 180-projection reconstruction in short mode")
	}

	const p, w = 180, 65
	laminograms := make(map[Stage]*mat.Dense)

	r := NewReconstructor(testParams(4))
	r.SetStageHook(func(channel string, stage Stage, data *mat.Dense) {
		if stage == StageUnfiltered || stage == StageLaminogram {
			laminograms[stage] = mat.DenseCopyOf(data)
		}
	})

	result, err := r.Process(&models.Sinogram{Channels: []models.Channel{pointSource(models.ChannelGrey, p, w)}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	filtered := laminograms[StageLaminogram]
	unfiltered := laminograms[StageUnfiltered]
	if filtered == nil || unfiltered == nil {
		t.Fatal("Expected the stage hook to receive both laminograms")
	}

	// Peak at the rotation centre
	peakR, peakC := 0, 0
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			if filtered.At(y, x) > filtered.At(peakR, peakC) {
				peakR, peakC = y, x
			}
		}
	}
	if abs(peakR-w/2) > 1 || abs(peakC-w/2) > 1 {
		t.Errorf("Expected the peak near (%d,%d), got (%d,%d)", w/2, w/2, peakR, peakC)
	}

	sharp := ringRatio(filtered, 6, 12)
	blurred := ringRatio(unfiltered, 6, 12)
	if sharp >= blurred/2 {
		t.Errorf("Expected the filtered halo (%f) to be well below the unfiltered one (%f)", sharp, blurred)
	}

	ch := result.Image.Channels[0]
	off := w/2 - postprocess.CropOffset(w)
	if ch.At(off, off) != postprocess.MaxValue {
		t.Errorf("Expected the 8-bit peak at the centre of the crop, got %d", ch.At(off, off))
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// TestGreyscaleOutput verifies the luminance channel is reported separately
func TestGreyscaleOutput(t *testing.T) {
	const p, w = 8, 13
	params := testParams(2)
	params.Greyscale = true

	result, err := NewReconstructor(params).Process(&models.Sinogram{Channels: []models.Channel{
		randomChannel(models.ChannelRed, p, w, 1),
		randomChannel(models.ChannelGreen, p, w, 2),
		randomChannel(models.ChannelBlue, p, w, 3),
	}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(result.Image.Channels) != 3 {
		t.Errorf("Expected 3 stacked channels, got %d", len(result.Image.Channels))
	}
	if result.Greyscale == nil || result.Greyscale.Name != models.ChannelGrey {
		t.Fatalf("Expected a grey channel, got %+v", result.Greyscale)
	}
	if result.Greyscale.Side != result.Image.Side {
		t.Errorf("Expected grey side %d, got %d", result.Image.Side, result.Greyscale.Side)
	}

	single, err := NewReconstructor(params).Process(&models.Sinogram{Channels: []models.Channel{
		randomChannel(models.ChannelGrey, p, w, 4),
	}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if single.Greyscale == nil || single.Greyscale.Name != models.ChannelGrey {
		t.Errorf("Expected a single-channel sinogram to be its own greyscale output")
	}
}

// TestAllowPartial replaces a failed channel by a zero plane
func TestAllowPartial(t *testing.T) {
	const p, w = 10, 20
	params := testParams(2)
	params.AllowPartial = true

	result, err := NewReconstructor(params).Process(&models.Sinogram{Channels: []models.Channel{
		randomChannel(models.ChannelRed, p, w, 5),
		{Name: models.ChannelGreen, Data: mat.NewDense(p, w, nil)},
	}})
	if err != nil {
		t.Fatalf("Expected partial success, got %v", err)
	}

	if len(result.Failures) != 1 || result.Failures[0].Channel != models.ChannelGreen {
		t.Fatalf("Expected one failure on green, got %v", result.Failures)
	}
	if !errors.Is(result.Failures[0], postprocess.ErrDegenerateChannel) {
		t.Errorf("Expected the failure to wrap ErrDegenerateChannel, got %v", result.Failures[0])
	}

	red, _ := result.Image.Channel(models.ChannelRed)
	green, _ := result.Image.Channel(models.ChannelGreen)
	if len(green.Pix) != len(red.Pix) {
		t.Fatalf("Expected the zero plane to match the red side")
	}
	redMax := uint8(0)
	for i := range green.Pix {
		if green.Pix[i] != 0 {
			t.Fatalf("Expected a zero plane for green, sample %d is %d", i, green.Pix[i])
		}
		redMax = max(redMax, red.Pix[i])
	}
	if redMax != postprocess.MaxValue {
		t.Errorf("Expected red to be reconstructed, max is %d", redMax)
	}
}

// TestMultipleFailuresJoined verifies every failed channel is reported
func TestMultipleFailuresJoined(t *testing.T) {
	_, err := NewReconstructor(testParams(2)).Process(&models.Sinogram{Channels: []models.Channel{
		{Name: models.ChannelRed, Data: mat.NewDense(4, 9, nil)},
		{Name: models.ChannelGreen, Data: mat.NewDense(4, 9, nil)},
	}})
	if err == nil {
		t.Fatal("Expected an error")
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("Expected a joined error, got %T", err)
	}
	if n := len(joined.Unwrap()); n != 2 {
		t.Errorf("Expected 2 channel errors, got %d", n)
	}
}

// TestProgressCallback verifies progress is reported once per stage
func TestProgressCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []int
		total   int
	)
	r := NewReconstructor(testParams(3))
	r.SetProgressCallback(func(completed, tot int, message string) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, completed)
		total = tot
	})

	_, err := r.Process(&models.Sinogram{Channels: []models.Channel{
		randomChannel(models.ChannelRed, 6, 9, 1),
		randomChannel(models.ChannelGreen, 6, 9, 2),
		randomChannel(models.ChannelBlue, 6, 9, 3),
	}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if total != 3*stagesPerChannel {
		t.Errorf("Expected total %d, got %d", 3*stagesPerChannel, total)
	}
	if len(reports) != total {
		t.Fatalf("Expected %d reports, got %d", total, len(reports))
	}
	for i, c := range reports {
		if c != i+1 {
			t.Errorf("Expected report %d to be %d, got %d", i, i+1, c)
		}
	}
}

// TestStageHook verifies each intermediate matrix has the expected shape
func TestStageHook(t *testing.T) {
	const p, w = 6, 10
	shapes := make(map[Stage][2]int)

	r := NewReconstructor(testParams(1))
	r.SetStageHook(func(channel string, stage Stage, data *mat.Dense) {
		rows, cols := data.Dims()
		shapes[stage] = [2]int{rows, cols}
	})
	if _, err := r.Process(&models.Sinogram{Channels: []models.Channel{randomChannel("x", p, w, 8)}}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	expected := map[Stage][2]int{
		StageSinogram:   {p, w},
		StageUnfiltered: {w, w},
		StageSpectrum:   {p, models.Bins(w)},
		StageRamp:       {p, models.Bins(w)},
		StageFiltered:   {p, w},
		StageLaminogram: {w, w},
	}
	for stage, want := range expected {
		if got, ok := shapes[stage]; !ok || got != want {
			t.Errorf("Stage %s: expected shape %v, got %v (seen %v)", stage, want, got, ok)
		}
	}
}

// TestBackendsReconstructAlike compares the full pipeline across FFT backends
func TestBackendsReconstructAlike(t *testing.T) {
	ch := randomChannel(models.ChannelGrey, 8, 16, 21)

	var reference *mat.Dense
	for _, backend := range transform.Backends() {
		params := testParams(1)
		params.Backend = backend

		var lam *mat.Dense
		r := NewReconstructor(params)
		r.SetStageHook(func(channel string, stage Stage, data *mat.Dense) {
			if stage == StageLaminogram {
				lam = mat.DenseCopyOf(data)
			}
		})
		if _, err := r.Process(&models.Sinogram{Channels: []models.Channel{ch}}); err != nil {
			t.Fatalf("Backend %s: Process failed: %v", backend, err)
		}

		if reference == nil {
			reference = lam
			continue
		}
		if !mat.EqualApprox(lam, reference, 1e-6) {
			t.Errorf("Backend %s: laminogram differs from %s", backend, transform.BackendGonum)
		}
	}
}

// TestParamsFromConfig verifies configuration names are parsed
func TestParamsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Processing.Backend = "go-dsp"
	cfg.Filter.Window = "hann"
	cfg.Output.DegeneratePolicy = "zero"
	cfg.Output.Greyscale = true

	params, err := ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig failed: %v", err)
	}
	if params.Backend != transform.BackendGoDSP || params.Window != filter.WindowHann ||
		params.Degenerate != postprocess.PolicyZero || !params.Greyscale {
		t.Errorf("Unexpected params %+v", params)
	}

	cfg.Processing.Backend = "fftw"
	if _, err := ParamsFromConfig(cfg); !errors.Is(err, transform.ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}
