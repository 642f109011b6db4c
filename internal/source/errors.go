package source

import "errors"

var (
	ErrIgnoreFile = errors.New("invalid ignore file")
	ErrArchive    = errors.New("archive failed")
	ErrMetadata   = errors.New("reading repository metadata failed")
)
