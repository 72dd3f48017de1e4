package types

import "errors"

var (
	// ErrUnsupportedFileType is returned by loaders for unknown extensions.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrCollectionAlreadyExists is returned by CreateCollection when the
	// name is taken. Rebuilding requires an explicit DeleteCollection first.
	ErrCollectionAlreadyExists = errors.New("collection already exists")

	// ErrProviderUnavailable wraps embedding and generation failures.
	ErrProviderUnavailable = errors.New("provider unavailable")

	ErrUnsupportedMetric = errors.New("unsupported distance metric")
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
