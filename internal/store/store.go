// Package store persists posts and users.
//
// Every mutation of a post is a single id-scoped operation against the
// backing store. In particular ToggleLike flips one principal's membership
// in the like set in place; it never writes back a copy of the whole post,
// so concurrent toggles from different principals cannot overwrite each
// other.
package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/models"
)

type PostStore interface {
	// ListPage returns page (1-indexed, clamped to 1) of the newest-first
	// feed together with the total number of pages.
	ListPage(ctx context.Context, page int) (models.PageResult, error)
	// Search returns every post whose title contains the query text
	// case-insensitively or whose tags intersect the query tags.
	Search(ctx context.Context, q models.SearchQuery) ([]models.Post, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	// Create assigns ID and CreatedAt and inserts the post.
	Create(ctx context.Context, post *models.Post) error
	// Update applies the fields present in patch to the post owned by
	// principal. An empty patch returns the post unchanged.
	Update(ctx context.Context, id, principal string, patch models.PostPatch) (*models.Post, error)
	// Delete removes the post owned by principal. Deleting an absent id is
	// not an error.
	Delete(ctx context.Context, id, principal string) error
	ToggleLike(ctx context.Context, id, principal string) (*models.Post, error)
	Ping(ctx context.Context) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	// UpsertGoogleUser finds the user by Google subject or email, linking the
	// subject when the account already exists, or creates it.
	UpsertGoogleUser(ctx context.Context, user *models.User) (*models.User, error)
}

// Store bundles both stores behind one value.
type Store interface {
	PostStore
	UserStore
}

// parsePostID validates id and returns its canonical form. Malformed ids
// are reported as not found.
func parsePostID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", postNotFound(id)
	}
	return u.String(), nil
}

func postNotFound(id string) error {
	return apperrors.NotFound("No post with id: " + id)
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// patchColumns maps the fields present in patch to their column values.
func patchColumns(patch models.PostPatch) map[string]any {
	cols := make(map[string]any, 4)
	if patch.Title != nil {
		cols["title"] = *patch.Title
	}
	if patch.Message != nil {
		cols["message"] = *patch.Message
	}
	if patch.Tags != nil {
		cols["tags"] = pq.StringArray(cleanTags(*patch.Tags))
	}
	if patch.Image != nil {
		cols["image"] = *patch.Image
	}
	return cols
}

// cleanTags trims tags and drops empties, always returning a non-nil slice.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
