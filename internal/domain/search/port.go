package search

import "context"

type Repo interface {
	ListActive(ctx context.Context) ([]*SavedSearch, error)
	GetByID(ctx context.Context, id int64) (*SavedSearch, error)
}
