package posts

import (
	"context"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/paging"
)

// DefaultVoteRetryLimit bounds optimistic retries of a vote update.
const DefaultVoteRetryLimit = 8

// NearbyPost is a feed result annotated with its distance in the plan unit.
type NearbyPost struct {
	Post     Post
	Distance float64
}

// Store persists posts. Implementations report missing posts with ErrNotFound
// and ownership mismatches with ErrForbidden; any other error is an I/O failure.
type Store interface {
	Insert(ctx context.Context, post Post) error
	Get(ctx context.Context, postID PostID) (Post, error)
	Delete(ctx context.Context, postID PostID, requester UserID) error
	DeleteByOwner(ctx context.Context, owner UserID) (int64, error)
	ListByOwner(ctx context.Context, owner UserID, window paging.Window) ([]Post, error)
	Nearby(ctx context.Context, plan feed.Plan) ([]NearbyPost, error)
	// UpdateVotes loads the post, applies mutate and writes it back only if no
	// other writer changed it in between, retrying on conflict.
	UpdateVotes(ctx context.Context, postID PostID, mutate func(*Post)) (Post, error)
}

func candidateOf(result NearbyPost) feed.Candidate {
	return feed.Candidate{
		ID:        result.Post.ID.String(),
		Score:     result.Post.Score(),
		Distance:  result.Distance,
		CreatedAt: result.Post.CreatedAt,
	}
}
