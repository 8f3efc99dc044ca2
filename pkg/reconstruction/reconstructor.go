// Package reconstruction runs filtered back-projection over every channel of
// a sinogram and stacks the results into one image.
package reconstruction

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"sinorecon/internal/models"
	"sinorecon/pkg/backprojection"
	"sinorecon/pkg/config"
	"sinorecon/pkg/filter"
	"sinorecon/pkg/interpolation"
	"sinorecon/pkg/postprocess"
	"sinorecon/pkg/transform"
)

// Params holds the reconstruction parameters.
type Params struct {
	// Workers bounds the CPU cores used. Channels run concurrently and the
	// remaining cores are shared out to each channel's back-projection.
	// Zero or less uses all CPUs.
	Workers int

	// Backend selects the FFT library for the row transforms.
	Backend transform.Backend

	// Layout and Window configure the ramp filter.
	Layout filter.Layout
	Window filter.Window

	// Method is the interpolation kernel of the back-projection rotation.
	Method interpolation.Method

	// Degenerate decides what happens to a channel with zero dynamic range.
	Degenerate postprocess.Policy

	// Greyscale additionally reconstructs the luminance of the first three
	// channels. The result is reported separately and never stacked.
	Greyscale bool

	// AllowPartial replaces a failed channel by a zero plane instead of
	// aborting the whole image.
	AllowPartial bool

	// Logger receives progress lines. Nil discards them.
	Logger *log.Logger
}

// DefaultParams returns the parameters of the reference pipeline.
func DefaultParams() *Params {
	return &Params{
		Workers:    runtime.NumCPU(),
		Backend:    transform.BackendGonum,
		Layout:     filter.LayoutPacked,
		Window:     filter.WindowNone,
		Method:     interpolation.Linear,
		Degenerate: postprocess.PolicyFail,
	}
}

// ParamsFromConfig converts a loaded configuration into parameters.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := transform.ParseBackend(cfg.Processing.Backend)
	if err != nil {
		return nil, err
	}
	method, err := interpolation.ParseMethod(cfg.Processing.Interpolation)
	if err != nil {
		return nil, err
	}
	layout, err := filter.ParseLayout(cfg.Filter.Layout)
	if err != nil {
		return nil, err
	}
	window, err := filter.ParseWindow(cfg.Filter.Window)
	if err != nil {
		return nil, err
	}
	policy, err := postprocess.ParsePolicy(cfg.Output.DegeneratePolicy)
	if err != nil {
		return nil, err
	}

	return &Params{
		Workers:      cfg.Processing.NumCores,
		Backend:      backend,
		Layout:       layout,
		Window:       window,
		Method:       method,
		Degenerate:   policy,
		Greyscale:    cfg.Output.Greyscale,
		AllowPartial: cfg.Processing.AllowPartial,
	}, nil
}

// Result is the output of a reconstruction.
type Result struct {
	// Image stacks the filtered reconstructions in channel order.
	Image *models.ReconstructedImage

	// Unfiltered stacks the plain back-projections, uncropped (W x W).
	Unfiltered *models.ReconstructedImage

	// Greyscale is the luminance reconstruction when requested.
	Greyscale *models.ReconstructedChannel

	// Failures lists the channels replaced by zero planes under AllowPartial.
	Failures []*StageError
}

// Reconstructor handles the filtered back-projection of a sinogram.
//
// Each channel runs through the same steps:
// 1. Plain back-projection for the unfiltered diagnostic
// 2. Row-wise forward transform
// 3. Ramp filter
// 4. Inverse transform
// 5. Back-projection of the filtered projections
// 6. Crop to the inscribed square and rescale to 8 bits
type Reconstructor struct {
	params *Params
	logger *log.Logger

	progressCallback ProgressCallback
	stageHook        StageHook

	// mu serializes progress reports and hook calls across channels
	mu        sync.Mutex
	completed int
	total     int
}

// NewReconstructor creates a new reconstructor. Nil params selects
// DefaultParams.
func NewReconstructor(params *Params) *Reconstructor {
	if params == nil {
		params = DefaultParams()
	}

	logger := params.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Reconstructor{
		params: params,
		logger: logger,
	}
}

// SetProgressCallback sets a callback function for progress reporting
func (r *Reconstructor) SetProgressCallback(callback ProgressCallback) {
	r.progressCallback = callback
}

// SetStageHook sets an observer for intermediate matrices
func (r *Reconstructor) SetStageHook(hook StageHook) {
	r.stageHook = hook
}

// channelOutcome is what one channel goroutine hands back
type channelOutcome struct {
	filtered   models.ReconstructedChannel
	unfiltered models.ReconstructedChannel
	err        *StageError
}

// Process reconstructs every channel of the sinogram.
//
// The sinogram is validated before any transform runs. Channels share no
// mutable state, so the result of one channel never depends on another. By
// default the first failure aborts the image and the returned error wraps a
// *StageError for every failed channel.
func (r *Reconstructor) Process(s *models.Sinogram) (*Result, error) {
	if s == nil {
		return nil, fmt.Errorf("nil sinogram: %w", models.ErrInvalidGeometry)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	p, w := s.Shape()

	channels := append([]models.Channel(nil), s.Channels...)
	greyIdx := -1
	if r.params.Greyscale {
		if len(s.Channels) >= 3 {
			grey, err := models.Luminance(channels[0], channels[1], channels[2])
			if err != nil {
				return nil, err
			}
			greyIdx = len(channels)
			channels = append(channels, grey)
		} else if len(s.Channels) != 1 {
			r.logger.Printf("Greyscale output needs 3 channels, sinogram has %d; skipping", len(s.Channels))
		}
	}

	workers := r.params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	parallel := min(workers, len(channels))
	bpWorkers := max(1, workers/parallel)

	r.logger.Printf("Reconstructing %d channel(s): %d projections of width %d", len(channels), p, w)
	r.logger.Printf("Using %d CPU cores (%d channel(s) at a time, %d back-projection worker(s) each)",
		workers, parallel, bpWorkers)

	r.mu.Lock()
	r.completed = 0
	r.total = len(channels) * stagesPerChannel
	r.mu.Unlock()

	outcomes := make([]channelOutcome, len(channels))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, ch := range channels {
		g.Go(func() error {
			outcomes[i] = r.reconstructChannel(ch, bpWorkers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	side := postprocess.InscribedSide(w)
	result := &Result{
		Image:      &models.ReconstructedImage{Side: side},
		Unfiltered: &models.ReconstructedImage{Side: w},
	}

	var errs []error
	for i, o := range outcomes {
		name := channels[i].Name
		if o.err != nil {
			errs = append(errs, o.err)
			result.Failures = append(result.Failures, o.err)
			o.filtered = zeroChannel(name, side)
			if o.unfiltered.Pix == nil {
				o.unfiltered = zeroChannel(name, w)
			}
		}

		if i == greyIdx {
			grey := o.filtered
			result.Greyscale = &grey
			continue
		}
		result.Image.Channels = append(result.Image.Channels, o.filtered)
		result.Unfiltered.Channels = append(result.Unfiltered.Channels, o.unfiltered)
	}

	if len(errs) > 0 {
		if !r.params.AllowPartial {
			if len(errs) == 1 {
				return nil, errs[0]
			}
			return nil, errors.Join(errs...)
		}
		for _, f := range result.Failures {
			r.logger.Printf("Warning: %v; substituted a zero plane", f)
		}
	}

	if r.params.Greyscale && len(s.Channels) == 1 {
		grey := result.Image.Channels[0]
		result.Greyscale = &grey
	}

	r.logger.Printf("Reconstruction complete: %d channel(s) of %dx%d", len(result.Image.Channels), side, side)
	return result, nil
}

// reconstructChannel runs the six pipeline steps for one channel.
func (r *Reconstructor) reconstructChannel(ch models.Channel, workers int) channelOutcome {
	var out channelOutcome
	fail := func(stage Stage, err error) channelOutcome {
		out.err = &StageError{Channel: ch.Name, Stage: stage, Err: err}
		return out
	}

	_, w := ch.Dims()
	r.emit(ch.Name, StageSinogram, ch.Data)

	bp := backprojection.BackProjector{Workers: workers, Method: r.params.Method}

	// Step 1: Unfiltered back-projection
	plain, err := bp.Reconstruct(ch.Data)
	if err != nil {
		return fail(StageUnfiltered, err)
	}
	pix, err := postprocess.Rescale(plain, postprocess.PolicyZero)
	if err != nil {
		return fail(StageUnfiltered, err)
	}
	out.unfiltered = models.ReconstructedChannel{Name: ch.Name, Side: w, Pix: pix}
	r.emit(ch.Name, StageUnfiltered, plain)
	r.step(ch.Name, StageUnfiltered)

	// Step 2: Forward transform
	tr, err := transform.New(w, r.params.Backend)
	if err != nil {
		return fail(StageSpectrum, err)
	}
	spectrum, err := tr.Forward(ch.Data)
	if err != nil {
		return fail(StageSpectrum, err)
	}
	r.emitSpectrum(ch.Name, StageSpectrum, spectrum)
	r.step(ch.Name, StageSpectrum)

	// Step 3: Ramp filter
	ramp := filter.RampFilter{Layout: r.params.Layout, Window: r.params.Window}
	weighted, err := ramp.Apply(spectrum)
	if err != nil {
		return fail(StageRamp, err)
	}
	r.emitSpectrum(ch.Name, StageRamp, weighted)
	r.step(ch.Name, StageRamp)

	// Step 4: Inverse transform
	projections, err := tr.Inverse(weighted)
	if err != nil {
		return fail(StageFiltered, err)
	}
	r.emit(ch.Name, StageFiltered, projections)
	r.step(ch.Name, StageFiltered)

	// Step 5: Filtered back-projection
	laminogram, err := bp.Reconstruct(projections)
	if err != nil {
		return fail(StageLaminogram, err)
	}
	r.emit(ch.Name, StageLaminogram, laminogram)
	r.step(ch.Name, StageLaminogram)

	// Step 6: Crop and rescale
	pp := postprocess.Postprocessor{Policy: r.params.Degenerate}
	out.filtered, err = pp.CropAndRescale(ch.Name, laminogram)
	if err != nil {
		return fail(StageCrop, err)
	}
	r.step(ch.Name, StageCrop)

	return out
}

// step records a finished stage and reports progress
func (r *Reconstructor) step(channel string, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed++
	r.logger.Printf("Channel %s: %s done (%d/%d)", channel, stage, r.completed, r.total)
	if r.progressCallback != nil {
		r.progressCallback(r.completed, r.total, fmt.Sprintf("%s: %s", channel, stage))
	}
}

// emit passes an intermediate matrix to the stage hook
func (r *Reconstructor) emit(channel string, stage Stage, data *mat.Dense) {
	if r.stageHook == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageHook(channel, stage, data)
}

// emitSpectrum passes the magnitude of a spectrum to the stage hook
func (r *Reconstructor) emitSpectrum(channel string, stage Stage, f *models.FrequencyProjections) {
	if r.stageHook == nil {
		return
	}
	r.emit(channel, stage, transform.Magnitude(f))
}

// zeroChannel is the plane substituted for a failed channel
func zeroChannel(name string, side int) models.ReconstructedChannel {
	return models.ReconstructedChannel{Name: name, Side: side, Pix: make([]uint8, side*side)}
}
