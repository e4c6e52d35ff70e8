package models

import "errors"

// ErrInputValidation marks malformed or missing graph/persona input files.
// It is fatal at the boundary that needs them and is never retried.
var ErrInputValidation = errors.New("input validation error")
