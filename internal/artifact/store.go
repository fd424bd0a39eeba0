// Package artifact stores the rendered bytes of completed report jobs.
package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuongbtq/order-reports/internal/domain"
)

// Store keeps artifact bytes addressed by key.
// Get returns domain.ErrArtifactNotFound for unknown keys; Delete of an
// unknown key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key returns the storage key for a job's artifact, e.g. "csv/<job id>.csv"
func Key(jobID string, format domain.Format) string {
	ext := format.Extension()
	return fmt.Sprintf("%s/%s.%s", ext, jobID, ext)
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("artifact key cannot be empty")
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	return nil
}
