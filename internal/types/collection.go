package types

import (
	"fmt"
	"regexp"

	"github.com/xhad/hrrag/internal/models"
)

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// ValidateCollection checks a collection name and metric before a backend
// turns them into table or collection identifiers.
func ValidateCollection(name string, metric models.DistanceMetric) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	if metric != "" && metric != models.DistanceCosine {
		return fmt.Errorf("%w: %q", ErrUnsupportedMetric, metric)
	}
	return nil
}
