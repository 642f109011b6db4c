package artifact

import "errors"

var (
	ErrArtifactMismatch = errors.New("artifact set mismatch")
	ErrInvalidSet       = errors.New("invalid artifact set")
	ErrStaging          = errors.New("staging failed")
	ErrPublish          = errors.New("publish failed")
	ErrInspect          = errors.New("inspect failed")
)
