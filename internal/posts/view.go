package posts

import (
	"encoding/base64"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
)

// PostView is the externally visible rendering of a post.
type PostView struct {
	ID           string      `json:"id"`
	Lat          float64     `json:"lat"`
	Lon          float64     `json:"lon"`
	Content      string      `json:"content"`
	Score        int         `json:"score"`
	Owned        *bool       `json:"owned,omitempty"`
	VoteStatus   *VoteStatus `json:"vote_status,omitempty"`
	Distance     *float64    `json:"distance,omitempty"`
	DistanceUnit string      `json:"distance_unit,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ViewExtras are viewer-independent fields merged into a view.
type ViewExtras struct {
	Distance     *float64
	DistanceUnit string
}

// DistanceExtras annotates a view with a feed distance.
func DistanceExtras(distance float64, unit feed.Unit) ViewExtras {
	return ViewExtras{Distance: &distance, DistanceUnit: unit.String()}
}

// Project renders a post for a viewer. An empty viewer omits the
// viewer-specific owned and vote_status fields.
func Project(post Post, viewer UserID, extras ViewExtras) PostView {
	view := PostView{
		ID:           post.ID.String(),
		Lat:          post.Location.Lat,
		Lon:          post.Location.Lon,
		Content:      base64.StdEncoding.EncodeToString(post.Content),
		Score:        post.Score(),
		Distance:     extras.Distance,
		DistanceUnit: extras.DistanceUnit,
		CreatedAt:    post.CreatedAt,
		UpdatedAt:    post.UpdatedAt,
	}
	if viewer != "" {
		owned := post.BelongsTo(viewer)
		status := post.VoteStatus(viewer)
		view.Owned = &owned
		view.VoteStatus = &status
	}
	return view
}

// ProjectNearby renders feed results with their distance annotations.
func ProjectNearby(results []NearbyPost, viewer UserID, unit feed.Unit) []PostView {
	views := make([]PostView, 0, len(results))
	for _, result := range results {
		views = append(views, Project(result.Post, viewer, DistanceExtras(result.Distance, unit)))
	}
	return views
}

// ProjectAll renders posts without extras.
func ProjectAll(posts []Post, viewer UserID) []PostView {
	views := make([]PostView, 0, len(posts))
	for _, post := range posts {
		views = append(views, Project(post, viewer, ViewExtras{}))
	}
	return views
}

// VoteView is the response to a vote request.
type VoteView struct {
	VoteStatus VoteStatus `json:"vote_status"`
	Score      int        `json:"score"`
}

// ProjectVote renders the voter's standing after a vote.
func ProjectVote(post Post, voter UserID) VoteView {
	return VoteView{VoteStatus: post.VoteStatus(voter), Score: post.Score()}
}
