package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/events"
	"github.com/emilythestrangee/memories/backend/internal/metrics"
	"github.com/emilythestrangee/memories/backend/internal/middleware"
	"github.com/emilythestrangee/memories/backend/internal/models"
	"github.com/emilythestrangee/memories/backend/internal/store"
)

type PostHandler struct {
	posts          store.PostStore
	publisher      events.Publisher
	publishTimeout time.Duration
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
}

func NewPostHandler(posts store.PostStore, publisher events.Publisher, publishTimeout time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *PostHandler {
	return &PostHandler{posts: posts, publisher: publisher, publishTimeout: publishTimeout, metrics: m, log: log}
}

// GetPosts returns one page of the newest-first feed.
func (h *PostHandler) GetPosts(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}

	result, err := h.posts.ListPage(c.Request.Context(), page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetPostsBySearch matches the title against searchQuery or the tags
// against the comma separated tags parameter.
func (h *PostHandler) GetPostsBySearch(c *gin.Context) {
	q := models.SearchQuery{
		Text: c.Query("searchQuery"),
		Tags: models.SplitTags(c.Query("tags")),
	}

	posts, err := h.posts.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.SearchResult{Data: posts})
}

// GetPost returns a single post by ID
func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// CreatePost creates a new post owned by the caller.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var input models.PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, h.log, apperrors.Conflict(bindingMessage(err), err))
		return
	}

	principal := middleware.PrincipalID(c)
	post := models.Post{
		Title:   input.Title,
		Message: input.Message,
		Tags:    input.Tags,
		Image:   input.Image,
		Creator: principal,
		Name:    middleware.PrincipalName(c),
	}

	if err := h.posts.Create(c.Request.Context(), &post); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.committed(c, events.PostCreated, post.ID, principal, &post)
	c.JSON(http.StatusCreated, post)
}

// UpdatePost changes the fields present in the body of a post the caller
// owns. Omitted fields keep their values.
func (h *PostHandler) UpdatePost(c *gin.Context) {
	var patch models.PostPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, h.log, apperrors.Validation(bindingMessage(err)))
		return
	}

	principal := middleware.PrincipalID(c)
	post, err := h.posts.Update(c.Request.Context(), c.Param("id"), principal, patch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.committed(c, events.PostUpdated, post.ID, principal, post)
	c.JSON(http.StatusOK, post)
}

// DeletePost removes a post the caller owns. Deleting a post that is
// already gone succeeds.
func (h *PostHandler) DeletePost(c *gin.Context) {
	id := c.Param("id")
	principal := middleware.PrincipalID(c)

	if err := h.posts.Delete(c.Request.Context(), id, principal); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.committed(c, events.PostDeleted, id, principal, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully."})
}

// LikePost toggles the caller's like. Anonymous callers get a normal 200
// payload carrying the Unauthenticated message and nothing is changed.
func (h *PostHandler) LikePost(c *gin.Context) {
	principal := middleware.PrincipalID(c)
	if principal == "" {
		c.JSON(http.StatusOK, gin.H{"message": apperrors.ErrUnauthenticated.Message})
		return
	}

	post, err := h.posts.ToggleLike(c.Request.Context(), c.Param("id"), principal)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.metrics.LikeToggled(post.LikedBy(principal))
	h.committed(c, events.PostLiked, post.ID, principal, post)
	c.JSON(http.StatusOK, post)
}

// committed records a successful mutation. The mutation is already stored,
// so publishing gets at most publishTimeout and its failure is only logged.
func (h *PostHandler) committed(c *gin.Context, typ events.Type, id, principal string, post *models.Post) {
	h.metrics.PostWritten(string(typ))

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.publishTimeout)
	defer cancel()
	err := h.publisher.Publish(ctx, events.Event{
		Type:      typ,
		PostID:    id,
		Principal: principal,
		At:        time.Now().UTC(),
		Post:      post,
	})
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"event":   typ,
			"post_id": id,
		}).Warn("Failed to publish post event")
	}
}
