package preference

import "context"

type Repo interface {
	// Get returns the stored row or ErrNotFound from the repository layer;
	// callers fall back to Default.
	Get(ctx context.Context, userID int64) (*Preferences, error)
}
