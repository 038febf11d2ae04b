// Package storage holds the errors shared by the snapshot and roster backends.
package storage

import "errors"

// ErrArtworkNotFound is returned when a snapshot is written for an artwork that does not exist.
var ErrArtworkNotFound = errors.New("artwork not found")
