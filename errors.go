package guet

import "errors"

// ErrInvalidConfig is returned when a configuration file cannot be
// parsed or fails engine-level validation.
var ErrInvalidConfig = errors.New("guet: invalid configuration")

// ErrInvalidInput is returned for malformed target fields, most
// commonly the URL.
var ErrInvalidInput = errors.New("guet: invalid input")

// ErrNoTargets is returned by Validate when a configuration contains
// no usable target entry. A running engine never treats this as fatal;
// it reports and waits for a corrected reload.
var ErrNoTargets = errors.New("guet: configuration has no valid targets")
