package config

import "errors"

// ErrInvalidConfig is wrapped by Validate to report a bad environment value.
var ErrInvalidConfig = errors.New(ErrorInvalidConfig)

// ErrorInvalidConfig is the stable identifier ErrInvalidConfig wraps,
// matchable independent of the wrapped message text.
const ErrorInvalidConfig = "ERROR_INVALID_CONFIG"
