// Package feed holds the client-side view of the post feed.
//
// State only changes by applying a Delta through Reduce. Reduce is pure: it
// never mutates its input and returns a new State.
package feed

import (
	"github.com/emilythestrangee/memories/backend/internal/models"
)

// Mode is the active view of the feed.
type Mode int

const (
	// Paged shows one newest-first page of the whole collection.
	Paged Mode = iota
	// Searched shows every match of Query, unpaginated.
	Searched
)

func (m Mode) String() string {
	switch m {
	case Paged:
		return "paged"
	case Searched:
		return "searched"
	default:
		return "unknown"
	}
}

type State struct {
	Posts         []models.Post
	CurrentPage   int
	NumberOfPages int
	IsLoading     bool
	Mode          Mode
	Query         models.SearchQuery
}

// Delta is an immutable description of one state change. The set of
// deltas is closed; see the types below.
type Delta interface {
	delta()
}

type (
	LoadingStarted struct{}
	LoadingEnded   struct{}

	PageFetched struct {
		Posts      []models.Post
		Page       int
		TotalPages int
	}

	// SearchFetched replaces the posts only; search results are not
	// paginated so the page fields are left alone.
	SearchFetched struct {
		Posts []models.Post
		Query models.SearchQuery
	}

	PostCreated struct{ Post models.Post }
	PostUpdated struct{ Post models.Post }
	PostLiked   struct{ Post models.Post }
	PostDeleted struct{ ID string }
)

func (LoadingStarted) delta() {}
func (LoadingEnded) delta()   {}
func (PageFetched) delta()    {}
func (SearchFetched) delta()  {}
func (PostCreated) delta()    {}
func (PostUpdated) delta()    {}
func (PostLiked) delta()      {}
func (PostDeleted) delta()    {}

// Reduce applies d to s. Updates and deletes of ids not on screen are
// no-ops, so replaying a delta is harmless. A nil delta returns s.
func Reduce(s State, d Delta) State {
	switch d := d.(type) {
	case LoadingStarted:
		s.IsLoading = true
	case LoadingEnded:
		s.IsLoading = false
	case PageFetched:
		s.Posts = clonePosts(d.Posts)
		s.CurrentPage = d.Page
		s.NumberOfPages = d.TotalPages
		s.Mode = Paged
		s.Query = models.SearchQuery{}
	case SearchFetched:
		s.Posts = clonePosts(d.Posts)
		s.Mode = Searched
		s.Query = models.SearchQuery{Text: d.Query.Text, Tags: append([]string(nil), d.Query.Tags...)}
	case PostCreated:
		posts := make([]models.Post, 0, len(s.Posts)+1)
		posts = append(posts, s.Posts...)
		s.Posts = append(posts, d.Post.Clone())
	case PostUpdated:
		s.Posts = replace(s.Posts, d.Post)
	case PostLiked:
		s.Posts = replace(s.Posts, d.Post)
	case PostDeleted:
		s.Posts = remove(s.Posts, d.ID)
	}
	return s
}

func replace(posts []models.Post, p models.Post) []models.Post {
	for i := range posts {
		if posts[i].ID == p.ID {
			out := make([]models.Post, len(posts))
			copy(out, posts)
			out[i] = p.Clone()
			return out
		}
	}
	return posts
}

func remove(posts []models.Post, id string) []models.Post {
	for i := range posts {
		if posts[i].ID == id {
			out := make([]models.Post, 0, len(posts)-1)
			out = append(out, posts[:i]...)
			return append(out, posts[i+1:]...)
		}
	}
	return posts
}

func clonePosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i := range posts {
		out[i] = posts[i].Clone()
	}
	return out
}
