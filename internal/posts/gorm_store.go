package posts

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/paging"
	"gorm.io/gorm"
)

const (
	columnPostID    = "post_id"
	columnOwnerID   = "owner_id"
	columnVersion   = "version"
	queryPostID     = columnPostID + " = ?"
	queryPostOwner  = columnPostID + " = ? AND " + columnOwnerID + " = ?"
	queryPostVer    = columnPostID + " = ? AND " + columnVersion + " = ?"
	queryOwnerID    = columnOwnerID + " = ?"
	orderUpdatedAt  = "updated_at_ms DESC"
	orderPostIDDesc = columnPostID + " DESC"
)

var errMissingDatabase = errors.New("database handle is required")

// VoterList stores a voter set as a JSON array column.
type VoterList []string

// Value implements driver.Valuer.
func (v VoterList) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]string(v))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (v *VoterList) Scan(source any) error {
	var data []byte
	switch value := source.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		data = []byte(value)
	case []byte:
		data = value
	default:
		return fmt.Errorf("posts: cannot scan %T into VoterList", source)
	}
	if len(data) == 0 {
		*v = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(v))
}

// PostRecord is the relational row backing a post.
type PostRecord struct {
	PostID          string    `gorm:"column:post_id;primaryKey;size:190;not null"`
	OwnerID         string    `gorm:"column:owner_id;size:190;not null;index:idx_posts_owner_updated,priority:1"`
	Latitude        float64   `gorm:"column:lat;not null;index:idx_posts_location,priority:1"`
	Longitude       float64   `gorm:"column:lon;not null;index:idx_posts_location,priority:2"`
	Content         []byte    `gorm:"column:content;not null"`
	Positive        VoterList `gorm:"column:vote_positive;type:text;not null"`
	Negative        VoterList `gorm:"column:vote_negative;type:text;not null"`
	Score           int       `gorm:"column:score;not null;default:0"`
	Version         int64     `gorm:"column:version;not null;default:1"`
	CreatedAtMillis int64     `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64     `gorm:"column:updated_at_ms;not null;index:idx_posts_owner_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (PostRecord) TableName() string {
	return "posts"
}

func recordFromPost(post Post) PostRecord {
	return PostRecord{
		PostID:          post.ID.String(),
		OwnerID:         post.OwnerID.String(),
		Latitude:        post.Location.Lat,
		Longitude:       post.Location.Lon,
		Content:         post.Content,
		Positive:        voterListOf(post.votes.Positive),
		Negative:        voterListOf(post.votes.Negative),
		Score:           post.Score(),
		Version:         post.version,
		CreatedAtMillis: post.CreatedAt.UnixMilli(),
		UpdatedAtMillis: post.UpdatedAt.UnixMilli(),
	}
}

func (r PostRecord) toPost() Post {
	post := Post{
		ID:        PostID(r.PostID),
		OwnerID:   UserID(r.OwnerID),
		Location:  Location{Lon: r.Longitude, Lat: r.Latitude},
		Content:   r.Content,
		CreatedAt: time.UnixMilli(r.CreatedAtMillis).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAtMillis).UTC(),
	}
	return restorePost(post, VoteLedger{
		Positive: userIDsOf(r.Positive),
		Negative: userIDsOf(r.Negative),
	}, r.Version)
}

func voterListOf(voters []UserID) VoterList {
	list := make(VoterList, 0, len(voters))
	for _, voter := range voters {
		list = append(list, voter.String())
	}
	return list
}

func userIDsOf(list VoterList) []UserID {
	voters := make([]UserID, 0, len(list))
	for _, voter := range list {
		voters = append(voters, UserID(voter))
	}
	return voters
}

// GormStoreConfig describes the dependencies of the relational post store.
type GormStoreConfig struct {
	Database       *gorm.DB
	VoteRetryLimit int
}

// GormStore keeps posts in a relational database. Proximity queries prefilter on
// the indexed latitude/longitude bounding box and rank the survivors in process.
type GormStore struct {
	db         *gorm.DB
	retryLimit int
}

// NewGormStore constructs the relational store.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	retryLimit := cfg.VoteRetryLimit
	if retryLimit <= 0 {
		retryLimit = DefaultVoteRetryLimit
	}
	return &GormStore{db: cfg.Database, retryLimit: retryLimit}, nil
}

func (s *GormStore) Insert(ctx context.Context, post Post) error {
	record := recordFromPost(post)
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *GormStore) Get(ctx context.Context, postID PostID) (Post, error) {
	var record PostRecord
	err := s.db.WithContext(ctx).Where(queryPostID, postID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return record.toPost(), nil
}

func (s *GormStore) Delete(ctx context.Context, postID PostID, requester UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record PostRecord
		err := tx.Select(columnPostID, columnOwnerID).Where(queryPostID, postID.String()).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if record.OwnerID != requester.String() {
			return ErrForbidden
		}
		result := tx.Where(queryPostOwner, postID.String(), requester.String()).Delete(&PostRecord{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) DeleteByOwner(ctx context.Context, owner UserID) (int64, error) {
	result := s.db.WithContext(ctx).Where(queryOwnerID, owner.String()).Delete(&PostRecord{})
	return result.RowsAffected, result.Error
}

func (s *GormStore) ListByOwner(ctx context.Context, owner UserID, window paging.Window) ([]Post, error) {
	query := s.db.WithContext(ctx).
		Where(queryOwnerID, owner.String()).
		Order(orderUpdatedAt).
		Order(orderPostIDDesc)
	if window.Paged() {
		query = query.Offset(window.Offset()).Limit(window.Limit())
	}
	var records []PostRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(records))
	for _, record := range records {
		posts = append(posts, record.toPost())
	}
	return posts, nil
}

func (s *GormStore) Nearby(ctx context.Context, plan feed.Plan) ([]NearbyPost, error) {
	bounds := plan.SearchBounds()
	query := s.db.WithContext(ctx).Where("lat BETWEEN ? AND ?", bounds.MinLat, bounds.MaxLat)
	switch {
	case bounds.AllLongitudes:
	case bounds.WrapsAntimeridian:
		query = query.Where("(lon >= ? OR lon <= ?)", bounds.MinLon, bounds.MaxLon)
	default:
		query = query.Where("lon BETWEEN ? AND ?", bounds.MinLon, bounds.MaxLon)
	}

	var records []PostRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	results := make([]NearbyPost, 0, len(records))
	for _, record := range records {
		post := record.toPost()
		meters := feed.DistanceMeters(plan.Origin, post.Location.Coordinate())
		if meters > plan.RadiusMeters {
			continue
		}
		results = append(results, NearbyPost{Post: post, Distance: plan.ReportedDistance(meters)})
	}
	feed.Rank(results, plan.Sort, candidateOf)
	return paging.Slice(results, plan.Window), nil
}

func (s *GormStore) UpdateVotes(ctx context.Context, postID PostID, mutate func(*Post)) (Post, error) {
	for attempt := 0; attempt < s.retryLimit; attempt++ {
		current, err := s.Get(ctx, postID)
		if err != nil {
			return Post{}, err
		}
		updated := current
		mutate(&updated)
		record := recordFromPost(updated)

		result := s.db.WithContext(ctx).
			Model(&PostRecord{}).
			Where(queryPostVer, postID.String(), current.version).
			Updates(map[string]any{
				"vote_positive": record.Positive,
				"vote_negative": record.Negative,
				"score":         record.Score,
				columnVersion:   current.version + 1,
				"updated_at_ms": record.UpdatedAtMillis,
			})
		if result.Error != nil {
			return Post{}, result.Error
		}
		if result.RowsAffected == 1 {
			updated.version = current.version + 1
			return updated, nil
		}
	}
	return Post{}, ErrVoteConflict
}
