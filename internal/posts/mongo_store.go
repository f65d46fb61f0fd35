package posts

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/paging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCollectionPosts = "posts"
	mongoFieldID         = "_id"
	mongoFieldOwner      = "user_id"
	mongoFieldLocation   = "location"
	mongoFieldVote       = "vote"
	mongoFieldScore      = "score"
	mongoFieldVersion    = "__v"
	mongoFieldCreatedAt  = "createdAt"
	mongoFieldUpdatedAt  = "updatedAt"
	mongoFieldDistance   = "distance"
	geoJSONPoint         = "Point"
)

var errMissingMongoDatabase = errors.New("mongo database handle is required")

type mongoPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type mongoLedger struct {
	Positive []string `bson:"positive"`
	Negative []string `bson:"negative"`
}

type mongoPost struct {
	ID        string      `bson:"_id"`
	OwnerID   string      `bson:"user_id"`
	Location  mongoPoint  `bson:"location"`
	Content   []byte      `bson:"content"`
	Vote      mongoLedger `bson:"vote"`
	Score     int         `bson:"score"`
	Version   int64       `bson:"__v"`
	CreatedAt time.Time   `bson:"createdAt"`
	UpdatedAt time.Time   `bson:"updatedAt"`
	Distance  float64     `bson:"distance,omitempty"`
}

func documentFromPost(post Post) mongoPost {
	record := recordFromPost(post)
	return mongoPost{
		ID:      record.PostID,
		OwnerID: record.OwnerID,
		Location: mongoPoint{
			Type:        geoJSONPoint,
			Coordinates: []float64{post.Location.Lon, post.Location.Lat},
		},
		Content:   record.Content,
		Vote:      mongoLedger{Positive: record.Positive, Negative: record.Negative},
		Score:     record.Score,
		Version:   record.Version,
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	}
}

func (d mongoPost) toPost() Post {
	location := Location{}
	if len(d.Location.Coordinates) == 2 {
		location = Location{Lon: d.Location.Coordinates[0], Lat: d.Location.Coordinates[1]}
	}
	post := Post{
		ID:        PostID(d.ID),
		OwnerID:   UserID(d.OwnerID),
		Location:  location,
		Content:   d.Content,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	return restorePost(post, VoteLedger{
		Positive: userIDsOf(d.Vote.Positive),
		Negative: userIDsOf(d.Vote.Negative),
	}, d.Version)
}

// MongoStoreConfig describes the dependencies of the document post store.
type MongoStoreConfig struct {
	Database       *mongo.Database
	VoteRetryLimit int
}

// MongoStore keeps posts as GeoJSON documents and runs proximity queries with
// $geoNear on a 2dsphere index.
type MongoStore struct {
	collection *mongo.Collection
	retryLimit int
}

// NewMongoStore constructs the document store.
func NewMongoStore(cfg MongoStoreConfig) (*MongoStore, error) {
	if cfg.Database == nil {
		return nil, errMissingMongoDatabase
	}
	retryLimit := cfg.VoteRetryLimit
	if retryLimit <= 0 {
		retryLimit = DefaultVoteRetryLimit
	}
	return &MongoStore{
		collection: cfg.Database.Collection(mongoCollectionPosts),
		retryLimit: retryLimit,
	}, nil
}

// EnsureIndexes creates the proximity and owner listing indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: mongoFieldLocation, Value: "2dsphere"}}},
		{Keys: bson.D{{Key: mongoFieldOwner, Value: 1}, {Key: mongoFieldUpdatedAt, Value: -1}}},
	})
	return err
}

func (s *MongoStore) Insert(ctx context.Context, post Post) error {
	_, err := s.collection.InsertOne(ctx, documentFromPost(post))
	return err
}

func (s *MongoStore) Get(ctx context.Context, postID PostID) (Post, error) {
	var document mongoPost
	err := s.collection.FindOne(ctx, bson.D{{Key: mongoFieldID, Value: postID.String()}}).Decode(&document)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return document.toPost(), nil
}

func (s *MongoStore) Delete(ctx context.Context, postID PostID, requester UserID) error {
	result, err := s.collection.DeleteOne(ctx, bson.D{
		{Key: mongoFieldID, Value: postID.String()},
		{Key: mongoFieldOwner, Value: requester.String()},
	})
	if err != nil {
		return err
	}
	if result.DeletedCount == 1 {
		return nil
	}
	count, err := s.collection.CountDocuments(ctx, bson.D{{Key: mongoFieldID, Value: postID.String()}})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrForbidden
}

func (s *MongoStore) DeleteByOwner(ctx context.Context, owner UserID) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.D{{Key: mongoFieldOwner, Value: owner.String()}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (s *MongoStore) ListByOwner(ctx context.Context, owner UserID, window paging.Window) ([]Post, error) {
	findOptions := options.Find().SetSort(bson.D{
		{Key: mongoFieldUpdatedAt, Value: -1},
		{Key: mongoFieldID, Value: -1},
	})
	if window.Paged() {
		findOptions = findOptions.SetSkip(int64(window.Offset())).SetLimit(int64(window.Limit()))
	}
	cursor, err := s.collection.Find(ctx, bson.D{{Key: mongoFieldOwner, Value: owner.String()}}, findOptions)
	if err != nil {
		return nil, err
	}
	var documents []mongoPost
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(documents))
	for _, document := range documents {
		posts = append(posts, document.toPost())
	}
	return posts, nil
}

func (s *MongoStore) Nearby(ctx context.Context, plan feed.Plan) ([]NearbyPost, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.D{
			{Key: "near", Value: mongoPoint{
				Type:        geoJSONPoint,
				Coordinates: []float64{plan.Origin.Lon, plan.Origin.Lat},
			}},
			{Key: "distanceField", Value: mongoFieldDistance},
			{Key: "distanceMultiplier", Value: plan.DistanceMultiplier()},
			{Key: "spherical", Value: true},
			{Key: "maxDistance", Value: plan.RadiusMeters},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: mongoFieldDistance, Value: bson.D{{Key: "$round", Value: bson.A{"$" + mongoFieldDistance, 1}}}},
		}}},
		{{Key: "$sort", Value: mongoSort(plan.Sort)}},
	}
	if plan.Window.Paged() {
		pipeline = append(pipeline,
			bson.D{{Key: "$skip", Value: int64(plan.Window.Offset())}},
			bson.D{{Key: "$limit", Value: int64(plan.Window.Limit())}},
		)
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var documents []mongoPost
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}
	results := make([]NearbyPost, 0, len(documents))
	for _, document := range documents {
		results = append(results, NearbyPost{Post: document.toPost(), Distance: document.Distance})
	}
	return results, nil
}

func mongoSort(mode feed.SortMode) bson.D {
	var keys bson.D
	switch mode {
	case feed.SortPopular:
		keys = append(keys, bson.E{Key: mongoFieldScore, Value: -1})
	case feed.SortProximity:
		keys = append(keys, bson.E{Key: mongoFieldDistance, Value: 1})
	}
	return append(keys,
		bson.E{Key: mongoFieldCreatedAt, Value: -1},
		bson.E{Key: mongoFieldID, Value: -1},
	)
}

func (s *MongoStore) UpdateVotes(ctx context.Context, postID PostID, mutate func(*Post)) (Post, error) {
	for attempt := 0; attempt < s.retryLimit; attempt++ {
		current, err := s.Get(ctx, postID)
		if err != nil {
			return Post{}, err
		}
		updated := current
		mutate(&updated)
		document := documentFromPost(updated)

		result, err := s.collection.UpdateOne(ctx,
			bson.D{
				{Key: mongoFieldID, Value: postID.String()},
				{Key: mongoFieldVersion, Value: current.version},
			},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: mongoFieldVote, Value: document.Vote},
					{Key: mongoFieldScore, Value: document.Score},
					{Key: mongoFieldUpdatedAt, Value: document.UpdatedAt},
				}},
				{Key: "$inc", Value: bson.D{{Key: mongoFieldVersion, Value: 1}}},
			},
		)
		if err != nil {
			return Post{}, err
		}
		if result.MatchedCount == 1 {
			updated.version = current.version + 1
			return updated, nil
		}
	}
	return Post{}, ErrVoteConflict
}
