// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a mapping invariant would be violated, e.g. a
// project already linked to a different space. Surfaced to the caller;
// never resolved automatically.
var ErrConflict = errors.New("conflict: mapping already exists")

// ErrNotLinked indicates a project has no space mapping, so nothing can
// be sent on its behalf.
var ErrNotLinked = errors.New("project not linked to a space")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")
