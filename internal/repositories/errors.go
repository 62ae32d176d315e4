package repositories

import "errors"

var (
	// ErrInvalidDocument indicates a stored catalog document could not be normalised.
	ErrInvalidDocument = errors.New("catalog repository: invalid document")
	// ErrUnsupportedKind indicates a lookup for an entity kind the repository does not store.
	ErrUnsupportedKind = errors.New("catalog repository: unsupported entity kind")
)

// AsRepositoryError extracts a RepositoryError from err's chain.
func AsRepositoryError(err error) (RepositoryError, bool) {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
