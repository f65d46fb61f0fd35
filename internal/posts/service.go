package posts

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/paging"
	"go.uber.org/zap"
)

const (
	// DefaultStoreTimeout bounds every store call made by the service.
	DefaultStoreTimeout = 5 * time.Second
	// DefaultMaxContentBytes caps decoded drawing payloads.
	DefaultMaxContentBytes = 1 << 20
)

var (
	errMissingStore      = errors.New("post store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyContent      = errors.New("content is required")
	errContentTooLarge   = errors.New("content exceeds size limit")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew      = "posts.service.new"
	opCreatePost      = "posts.create"
	opGetPost         = "posts.get"
	opDeletePost      = "posts.delete"
	opListOwnPosts    = "posts.list_own"
	opFeed            = "posts.feed"
	opVote            = "posts.vote"
	opDeleteOwnerData = "posts.delete_owner_posts"
)

const (
	reasonMissingStore   = "missing_store"
	reasonInvalidOwner   = "invalid_owner"
	reasonInvalidVoter   = "invalid_voter"
	reasonInvalidPostID  = "invalid_post_id"
	reasonInvalidLoc     = "invalid_location"
	reasonInvalidContent = "invalid_content"
	reasonInvalidQuery   = "invalid_query"
	reasonInvalidAction  = "invalid_action"
	reasonIDGeneration   = "id_generation_failed"
	reasonInsertFailed   = "insert_failed"
	reasonQueryFailed    = "query_failed"
	reasonDeleteFailed   = "delete_failed"
	reasonUpdateFailed   = "update_failed"
	reasonVoteConflict   = "vote_conflict"
	reasonNotFound       = "not_found"
	reasonNotOwner       = "not_owner"
)

// ServiceConfig describes the dependencies required by the post service.
type ServiceConfig struct {
	Store           Store
	Clock           func() time.Time
	IDProvider      IDProvider
	Logger          *zap.Logger
	StoreTimeout    time.Duration
	MaxContentBytes int
}

// Service implements post creation, retrieval, deletion, voting and the feed.
type Service struct {
	store           Store
	clock           func() time.Time
	idProvider      IDProvider
	logger          *zap.Logger
	storeTimeout    time.Duration
	maxContentBytes int
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, ErrStorage, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrStorage, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	maxContentBytes := cfg.MaxContentBytes
	if maxContentBytes <= 0 {
		maxContentBytes = DefaultMaxContentBytes
	}

	return &Service{
		store:           cfg.Store,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		storeTimeout:    storeTimeout,
		maxContentBytes: maxContentBytes,
	}, nil
}

// CreateRequest carries the inputs of a new post.
type CreateRequest struct {
	OwnerID string
	Lat     float64
	Lon     float64
	Content []byte
}

// CreatePost validates and persists a new post with an empty ledger.
func (s *Service) CreatePost(ctx context.Context, request CreateRequest) (Post, error) {
	if s.store == nil {
		return Post{}, s.fail(opCreatePost, reasonMissingStore, ErrStorage, errMissingStore)
	}
	owner, err := NewUserID(request.OwnerID)
	if err != nil {
		return Post{}, newServiceError(opCreatePost, reasonInvalidOwner, ErrUnauthenticated, err)
	}
	location, err := NewLocation(request.Lat, request.Lon)
	if err != nil {
		return Post{}, newServiceError(opCreatePost, reasonInvalidLoc, ErrValidation, err)
	}
	if len(request.Content) == 0 {
		return Post{}, newServiceError(opCreatePost, reasonInvalidContent, ErrValidation, errEmptyContent)
	}
	if len(request.Content) > s.maxContentBytes {
		return Post{}, newServiceError(opCreatePost, reasonInvalidContent, ErrValidation, errContentTooLarge)
	}

	rawID, err := s.idProvider.NewID()
	if err != nil {
		return Post{}, s.fail(opCreatePost, reasonIDGeneration, ErrStorage, err)
	}
	postID, err := NewPostID(rawID)
	if err != nil {
		return Post{}, s.fail(opCreatePost, reasonIDGeneration, ErrStorage, err)
	}

	post := newPost(postID, owner, location, append([]byte(nil), request.Content...), s.now())

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.Insert(storeCtx, post); err != nil {
		return Post{}, s.fail(opCreatePost, reasonInsertFailed, ErrStorage, err,
			zap.String("post_id", postID.String()),
			zap.String("owner_id", owner.String()))
	}
	return post, nil
}

// GetPost returns a post by id.
func (s *Service) GetPost(ctx context.Context, rawPostID string) (Post, error) {
	if s.store == nil {
		return Post{}, s.fail(opGetPost, reasonMissingStore, ErrStorage, errMissingStore)
	}
	postID, err := NewPostID(rawPostID)
	if err != nil {
		return Post{}, newServiceError(opGetPost, reasonInvalidPostID, ErrNotFound, err)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	post, err := s.store.Get(storeCtx, postID)
	if err != nil {
		return Post{}, s.storeFailure(opGetPost, reasonQueryFailed, err, zap.String("post_id", postID.String()))
	}
	return post, nil
}

// DeletePost removes a post on behalf of its owner.
func (s *Service) DeletePost(ctx context.Context, rawPostID, rawRequesterID string) error {
	if s.store == nil {
		return s.fail(opDeletePost, reasonMissingStore, ErrStorage, errMissingStore)
	}
	requester, err := NewUserID(rawRequesterID)
	if err != nil {
		return newServiceError(opDeletePost, reasonInvalidOwner, ErrUnauthenticated, err)
	}
	postID, err := NewPostID(rawPostID)
	if err != nil {
		return newServiceError(opDeletePost, reasonInvalidPostID, ErrNotFound, err)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.Delete(storeCtx, postID, requester); err != nil {
		return s.storeFailure(opDeletePost, reasonDeleteFailed, err,
			zap.String("post_id", postID.String()),
			zap.String("requester_id", requester.String()))
	}
	return nil
}

// ListOwnPosts returns the owner's posts, most recently updated first.
func (s *Service) ListOwnPosts(ctx context.Context, rawOwnerID string, window paging.Window) ([]Post, error) {
	if s.store == nil {
		return nil, s.fail(opListOwnPosts, reasonMissingStore, ErrStorage, errMissingStore)
	}
	owner, err := NewUserID(rawOwnerID)
	if err != nil {
		return nil, newServiceError(opListOwnPosts, reasonInvalidOwner, ErrUnauthenticated, err)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	posts, err := s.store.ListByOwner(storeCtx, owner, window)
	if err != nil {
		return nil, s.fail(opListOwnPosts, reasonQueryFailed, ErrStorage, err, zap.String("owner_id", owner.String()))
	}
	return posts, nil
}

// DeleteOwnerPosts removes every post owned by the user.
func (s *Service) DeleteOwnerPosts(ctx context.Context, rawOwnerID string) (int64, error) {
	if s.store == nil {
		return 0, s.fail(opDeleteOwnerData, reasonMissingStore, ErrStorage, errMissingStore)
	}
	owner, err := NewUserID(rawOwnerID)
	if err != nil {
		return 0, newServiceError(opDeleteOwnerData, reasonInvalidOwner, ErrUnauthenticated, err)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	deleted, err := s.store.DeleteByOwner(storeCtx, owner)
	if err != nil {
		return 0, s.fail(opDeleteOwnerData, reasonDeleteFailed, ErrStorage, err, zap.String("owner_id", owner.String()))
	}
	return deleted, nil
}

// Feed plans and runs a proximity query. The returned plan carries the unit
// used for the distance annotations.
func (s *Service) Feed(ctx context.Context, request feed.Request) ([]NearbyPost, feed.Plan, error) {
	plan, err := feed.NewPlan(request)
	if err != nil {
		return nil, feed.Plan{}, newServiceError(opFeed, reasonInvalidQuery, ErrValidation, err)
	}
	if s.store == nil {
		return nil, feed.Plan{}, s.fail(opFeed, reasonMissingStore, ErrStorage, errMissingStore)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	results, err := s.store.Nearby(storeCtx, plan)
	if err != nil {
		return nil, feed.Plan{}, s.fail(opFeed, reasonQueryFailed, ErrStorage, err,
			zap.Float64("lat", plan.Origin.Lat),
			zap.Float64("lon", plan.Origin.Lon),
			zap.Float64("radius_m", plan.RadiusMeters))
	}
	return results, plan, nil
}

// Vote applies a vote action for the voter and returns the stored post.
func (s *Service) Vote(ctx context.Context, rawPostID, rawVoterID string, action VoteAction) (Post, error) {
	if s.store == nil {
		return Post{}, s.fail(opVote, reasonMissingStore, ErrStorage, errMissingStore)
	}
	voter, err := NewUserID(rawVoterID)
	if err != nil {
		return Post{}, newServiceError(opVote, reasonInvalidVoter, ErrUnauthenticated, err)
	}
	postID, err := NewPostID(rawPostID)
	if err != nil {
		return Post{}, newServiceError(opVote, reasonInvalidPostID, ErrNotFound, err)
	}
	switch action {
	case VoteActionUp, VoteActionDown, VoteActionClear:
	default:
		return Post{}, newServiceError(opVote, reasonInvalidAction, ErrValidation, nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	post, err := s.store.UpdateVotes(storeCtx, postID, func(post *Post) {
		post.ApplyVote(action, voter)
		post.UpdatedAt = s.now()
	})
	if errors.Is(err, ErrVoteConflict) {
		return Post{}, s.fail(opVote, reasonVoteConflict, ErrStorage, err, zap.String("post_id", postID.String()))
	}
	if err != nil {
		return Post{}, s.storeFailure(opVote, reasonUpdateFailed, err,
			zap.String("post_id", postID.String()),
			zap.String("voter_id", voter.String()))
	}
	return post, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeFailure classifies store errors into not-found, forbidden or storage kinds.
func (s *Service) storeFailure(operation, reason string, err error, fields ...zap.Field) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(operation, reasonNotFound, ErrNotFound, err)
	case errors.Is(err, ErrForbidden):
		return newServiceError(operation, reasonNotOwner, ErrForbidden, err)
	default:
		return s.fail(operation, reason, ErrStorage, err, fields...)
	}
}

func (s *Service) fail(operation, reason string, kind, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, kind, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("posts service error", attrs...)
}
