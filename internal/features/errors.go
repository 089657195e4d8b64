package features

import "errors"

// Sentinel error kinds shared by the feature, forecasting and evaluation
// packages. Callers match them with errors.Is.
var (
	// ErrConfiguration reports invalid window sizes, column mismatches or
	// mismatched sequence lengths.
	ErrConfiguration = errors.New("configuration error")

	// ErrState reports use of a scaler that has not been fitted.
	ErrState = errors.New("state error")
)
