package reconstruction

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stage identifies a step of the per-channel pipeline.
type Stage string

const (
	// StageSinogram is the P x W input channel. It is reported to the stage
	// hook only and is not a progress step.
	StageSinogram Stage = "sinogram"

	// StageUnfiltered is the W x W back-projection of the raw channel.
	StageUnfiltered Stage = "unfiltered"

	// StageSpectrum is the forward transform; hooks receive its magnitude.
	StageSpectrum Stage = "spectrum"

	// StageRamp is the ramp weighting; hooks receive the filtered magnitude.
	StageRamp Stage = "ramp"

	// StageFiltered is the inverse transform, the P x W filtered projections.
	StageFiltered Stage = "filtered"

	// StageLaminogram is the W x W back-projection of the filtered projections.
	StageLaminogram Stage = "laminogram"

	// StageCrop is the crop to the inscribed square and the 8-bit rescale.
	StageCrop Stage = "crop"
)

// stagesPerChannel counts the progress steps of one channel.
const stagesPerChannel = 6

// ProgressCallback is a function that reports progress during reconstruction
type ProgressCallback func(completed, total int, message string)

// StageHook observes intermediate matrices as channels move through the
// pipeline. Calls are serialized; data must not be retained after the call
// returns unless copied.
type StageHook func(channel string, stage Stage, data *mat.Dense)

// StageError reports the channel and pipeline step that failed.
type StageError struct {
	Channel string
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
