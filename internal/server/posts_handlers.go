package server

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/paging"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/posts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createPostRequest struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Content string   `json:"content"`
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	viewerID := c.GetString(viewerIDContextKey)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var request createPostRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Lat == nil || request.Lon == nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Code: "posts.create.invalid_request"})
		return
	}
	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(request.Content))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Code: "posts.create.invalid_content"})
		return
	}

	post, err := h.postsService.CreatePost(c.Request.Context(), posts.CreateRequest{
		OwnerID: viewerID,
		Lat:     *request.Lat,
		Lon:     *request.Lon,
		Content: content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, posts.Project(post, posts.UserID(viewerID), posts.ViewExtras{}))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, err := h.postsService.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	viewerID := posts.UserID(c.GetString(viewerIDContextKey))
	c.JSON(http.StatusOK, posts.Project(post, viewerID, posts.ViewExtras{}))
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	viewerID := c.GetString(viewerIDContextKey)
	postID := c.Param("id")
	if err := h.postsService.DeletePost(c.Request.Context(), postID, viewerID); err != nil {
		h.respondError(c, err)
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    viewerID,
		EventType: RealtimeEventPostDeleted,
		PostID:    postID,
		Timestamp: time.Now().UTC(),
	})
	c.Status(http.StatusOK)
}

func (h *httpHandler) handleVote(action posts.VoteAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		viewerID := c.GetString(viewerIDContextKey)
		post, err := h.postsService.Vote(c.Request.Context(), c.Param("id"), viewerID, action)
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.realtime.Publish(RealtimeMessage{
			UserID:    post.OwnerID.String(),
			EventType: RealtimeEventPostVoted,
			PostID:    post.ID.String(),
			Score:     post.Score(),
			Timestamp: post.UpdatedAt,
		})
		c.JSON(http.StatusOK, posts.ProjectVote(post, posts.UserID(viewerID)))
	}
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lon")), 64)
	radius, radiusErr := strconv.ParseFloat(strings.TrimSpace(c.Query("radius")), 64)
	if latErr != nil || lonErr != nil || radiusErr != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Code: "posts.feed.invalid_query"})
		return
	}

	results, plan, err := h.postsService.Feed(c.Request.Context(), feed.Request{
		Origin: feed.Coordinate{Lat: lat, Lon: lon},
		Radius: radius,
		Unit:   c.Query("unit"),
		SortBy: c.Query("sort_by"),
		Window: windowFromQuery(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	viewerID := posts.UserID(c.GetString(viewerIDContextKey))
	c.JSON(http.StatusOK, posts.ProjectNearby(results, viewerID, plan.Unit))
}

func (h *httpHandler) handleListOwnPosts(c *gin.Context) {
	viewerID := c.GetString(viewerIDContextKey)
	owned, err := h.postsService.ListOwnPosts(c.Request.Context(), viewerID, windowFromQuery(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts.ProjectAll(owned, posts.UserID(viewerID)))
}

// handleEvents streams post-voted and post-deleted events for the viewer's
// posts, with periodic heartbeats to keep proxies from closing the stream.
func (h *httpHandler) handleEvents(c *gin.Context) {
	viewerID := c.GetString(viewerIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, viewerID)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeatPeriod)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("event stream opened", zap.String("user_id", viewerID))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message.payload())
			return true
		case now := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp_ms": now.UnixMilli()})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("user_id", viewerID))
}

func windowFromQuery(c *gin.Context) paging.Window {
	rawPage, pageSupplied := c.GetQuery("page")
	rawLimit, limitSupplied := c.GetQuery("limit")
	return paging.Parse(rawPage, pageSupplied, rawLimit, limitSupplied)
}
