package recipe

import "errors"

var (
	ErrInvalidRecipe = errors.New("invalid recipe")
	ErrInvalidCopy   = errors.New("invalid copy")
)
