package models

import "errors"

var (
	// ErrInvalidGeometry reports a sinogram or image whose dimensions make
	// the angular step or the crop size undefined (P <= 0 or W <= 0).
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrShapeMismatch reports channels (or operands) that do not share the
	// same shape.
	ErrShapeMismatch = errors.New("shape mismatch")
)
