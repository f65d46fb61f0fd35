package posts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPostID indicates that a post identifier is empty or exceeds storage bounds.
	ErrInvalidPostID = errors.New("posts: invalid post id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("posts: invalid user id")
	// ErrInvalidLocation indicates coordinates outside the valid latitude/longitude range.
	ErrInvalidLocation = errors.New("posts: invalid location")
)

// PostID represents a validated post identifier.
type PostID string

// NewPostID validates raw input and returns a PostID.
func NewPostID(rawInput string) (PostID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPostID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPostID, maxIdentifierLength)
	}
	return PostID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PostID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Location is a geographic point stored longitude first, the order used by
// GeoJSON and the proximity index. It never leaves the store boundary as a pair.
type Location struct {
	Lon float64
	Lat float64
}

// NewLocation validates latitude and longitude given in their conventional order.
func NewLocation(lat, lon float64) (Location, error) {
	coordinate := feed.Coordinate{Lat: lat, Lon: lon}
	if err := coordinate.Validate(); err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return Location{Lon: lon, Lat: lat}, nil
}

// Coordinate converts the stored point into a named coordinate.
func (l Location) Coordinate() feed.Coordinate {
	return feed.Coordinate{Lat: l.Lat, Lon: l.Lon}
}

// Post is a geotagged drawing with its vote ledger.
type Post struct {
	ID        PostID
	OwnerID   UserID
	Location  Location
	Content   []byte
	CreatedAt time.Time
	UpdatedAt time.Time

	votes   VoteLedger
	score   int
	version int64
}

// newPost builds a fresh post with an empty ledger.
func newPost(id PostID, owner UserID, location Location, content []byte, now time.Time) Post {
	post := Post{
		ID:        id,
		OwnerID:   owner,
		Location:  location,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
		version:   1,
	}
	post.recomputeScore()
	return post
}

// restorePost rebuilds a post loaded from storage. The score is always derived
// from the ledger rather than trusted from the stored column.
func restorePost(post Post, ledger VoteLedger, version int64) Post {
	post.votes = ledger.clone()
	post.version = version
	post.recomputeScore()
	return post
}

// Score returns the net of upvotes and downvotes.
func (p Post) Score() int {
	return p.score
}

// Version returns the optimistic concurrency counter.
func (p Post) Version() int64 {
	return p.version
}

// Ledger returns a copy of the vote ledger.
func (p Post) Ledger() VoteLedger {
	return p.votes.clone()
}

// BelongsTo reports whether the user owns the post.
func (p Post) BelongsTo(userID UserID) bool {
	return userID != "" && userID == p.OwnerID
}
