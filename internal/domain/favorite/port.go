package favorite

import "context"

type Repo interface {
	ListUserIDsByListing(ctx context.Context, listingID int64) ([]int64, error)
}
