package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/auth"
	"github.com/emilythestrangee/memories/backend/internal/feed"
	"github.com/emilythestrangee/memories/backend/internal/handlers"
	"github.com/emilythestrangee/memories/backend/internal/logging"
	"github.com/emilythestrangee/memories/backend/internal/metrics"
	"github.com/emilythestrangee/memories/backend/internal/models"
	"github.com/emilythestrangee/memories/backend/internal/server"
	"github.com/emilythestrangee/memories/backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// profileBox stands in for the client's persistent storage.
type profileBox struct {
	mu      sync.Mutex
	profile *models.AuthResponse
	saves   int
}

func (b *profileBox) load() (*models.AuthResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profile, nil
}

func (b *profileBox) save(p *models.AuthResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profile = p
	b.saves++
	return nil
}

type env struct {
	api   *httptest.Server
	store *store.Memory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemory()
	tokens := auth.NewTokens("gateway-secret", time.Hour)
	m := metrics.New()
	log := logging.Discard()
	h := handlers.NewHandler(handlers.Deps{Store: st, Tokens: tokens, Metrics: m, Logger: log})
	srv := server.New(server.Options{Store: st, Tokens: tokens, Handler: h, Metrics: m, Logger: log})

	api := httptest.NewServer(srv.RegisterRoutes())
	t.Cleanup(api.Close)
	return &env{api: api, store: st}
}

func (e *env) client(t *testing.T, box *profileBox) (*Gateway, *feed.Store) {
	t.Helper()
	session, err := NewSession(box.load, box.save)
	require.NoError(t, err)
	fs := feed.NewStore()
	g, err := New(e.api.URL, e.api.Client(), session, fs, logging.Discard())
	require.NoError(t, err)
	return g, fs
}

func (e *env) signedIn(t *testing.T, email string) (*Gateway, *feed.Store) {
	t.Helper()
	g, fs := e.client(t, &profileBox{})
	_, err := g.SignUp(context.Background(), models.SignUpRequest{
		FirstName: "Test", LastName: "User", Email: email, Password: "secret1", ConfirmPassword: "secret1",
	})
	require.NoError(t, err)
	return g, fs
}

func titles(posts []models.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.Title
	}
	return out
}

func TestListPageProducesPageDelta(t *testing.T) {
	e := newEnv(t)
	g, fs := e.signedIn(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := g.Mutate(ctx, models.PostInput{Title: fmt.Sprintf("post %d", i)}, "")
		require.NoError(t, err)
	}

	require.NoError(t, g.ListPage(ctx, 2))
	snap := fs.Snapshot()
	assert.Equal(t, 2, snap.CurrentPage)
	assert.Equal(t, 2, snap.NumberOfPages)
	assert.Len(t, snap.Posts, 1)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, feed.Paged, snap.Mode)

	require.NoError(t, g.ListPage(ctx, 1))
	first := fs.Snapshot()
	require.NoError(t, g.ListPage(ctx, 1))
	assert.Equal(t, first, fs.Snapshot(), "repeated listPage is idempotent")
}

func TestSearchModes(t *testing.T) {
	e := newEnv(t)
	g, fs := e.signedIn(t, "ada@example.com")
	ctx := context.Background()

	_, err := g.Mutate(ctx, models.PostInput{Title: "Cat nap"}, "")
	require.NoError(t, err)
	_, err = g.Mutate(ctx, models.PostInput{Title: "Beach", Tags: []string{"travel"}}, "")
	require.NoError(t, err)

	require.NoError(t, g.ListPage(ctx, 1))
	require.NoError(t, g.Search(ctx, models.SearchQuery{Tags: []string{"travel"}}))
	snap := fs.Snapshot()
	assert.Equal(t, feed.Searched, snap.Mode)
	assert.Equal(t, []string{"Beach"}, titles(snap.Posts))
	assert.Equal(t, 1, snap.NumberOfPages, "search leaves paging untouched")

	require.NoError(t, g.Search(ctx, models.SearchQuery{Text: "CAT"}))
	assert.Equal(t, []string{"Cat nap"}, titles(fs.Snapshot().Posts))

	require.NoError(t, g.Search(ctx, models.SearchQuery{Text: "  "}))
	snap = fs.Snapshot()
	assert.Equal(t, feed.Paged, snap.Mode, "clearing the search re-enters paged mode")
	assert.Equal(t, 1, snap.CurrentPage)
	assert.Len(t, snap.Posts, 2)
}

func TestMutateLikeDelete(t *testing.T) {
	e := newEnv(t)
	g, fs := e.signedIn(t, "ada@example.com")
	ctx := context.Background()

	created, err := g.Mutate(ctx, models.PostInput{Title: "draft"}, "")
	require.NoError(t, err)
	assert.Equal(t, g.Session().User().ID, created.Creator)
	assert.Equal(t, "Test User", created.Name)

	updated, err := g.Mutate(ctx, models.PostInput{Title: "final"}, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Title)
	assert.Equal(t, []string{"final"}, titles(fs.Snapshot().Posts))

	liked, err := g.Like(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, liked.LikedBy(created.Creator))
	assert.True(t, fs.Snapshot().Posts[0].LikedBy(created.Creator))

	fetched, err := g.GetPost(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, liked.Likes, fetched.Likes)

	require.NoError(t, g.Delete(ctx, created.ID))
	assert.Empty(t, fs.Snapshot().Posts)

	// Deleting again, or a malformed id, is still treated as deleted.
	require.NoError(t, g.Delete(ctx, created.ID))
	require.NoError(t, g.Delete(ctx, "not-an-id"))
}

func TestFailuresLeaveFeedUntouched(t *testing.T) {
	e := newEnv(t)
	owner, _ := e.signedIn(t, "ada@example.com")
	ctx := context.Background()
	post, err := owner.Mutate(ctx, models.PostInput{Title: "mine"}, "")
	require.NoError(t, err)

	anon, fs := e.client(t, &profileBox{})
	require.NoError(t, anon.ListPage(ctx, 1))
	before := fs.Snapshot()

	_, err = anon.Like(ctx, post.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	_, err = anon.Mutate(ctx, models.PostInput{Title: "nope"}, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	other, ofs := e.signedIn(t, "bob@example.com")
	require.NoError(t, other.ListPage(ctx, 1))
	_, err = other.Mutate(ctx, models.PostInput{Title: "hijack"}, post.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Equal(t, []string{"mine"}, titles(ofs.Snapshot().Posts))

	_, err = anon.Mutate(ctx, models.PostInput{Title: "x"}, "bad-id")
	assert.Error(t, err)

	_, err = owner.Mutate(ctx, models.PostInput{Title: "x"}, "bad-id")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, before, fs.Snapshot())
}

func TestTransportFailureIsTransient(t *testing.T) {
	e := newEnv(t)
	g, fs := e.client(t, &profileBox{})
	e.api.Close()

	err := g.ListPage(context.Background(), 1)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	snap := fs.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.Empty(t, snap.Posts)
}

func TestServerErrorIsTransient(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer api.Close()

	g, err := New(api.URL, api.Client(), nil, feed.NewStore(), logging.Discard())
	require.NoError(t, err)
	err = g.Search(context.Background(), models.SearchQuery{Text: "x"})
	assert.ErrorIs(t, err, apperrors.ErrTransient)
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	box := &profileBox{}
	g, _ := e.client(t, box)
	ctx := context.Background()

	_, err := g.SignUp(ctx, models.SignUpRequest{
		FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "secret1", ConfirmPassword: "secret1",
	})
	require.NoError(t, err)
	require.NotNil(t, box.profile)
	assert.NotEmpty(t, g.Session().Token())

	// A second client restores the saved profile through the load hook.
	restored, _ := e.client(t, box)
	assert.Equal(t, g.Session().User().ID, restored.Session().User().ID)
	_, err = restored.Mutate(ctx, models.PostInput{Title: "from restored"}, "")
	require.NoError(t, err)

	require.NoError(t, g.SignOut())
	assert.Nil(t, box.profile)
	assert.Empty(t, g.Session().Token())
	assert.Nil(t, g.Session().User())

	user, err := g.SignIn(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L", user.Name)

	_, err = g.SignIn(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSessionDropsExpiredToken(t *testing.T) {
	expired, err := auth.NewTokens("s", -time.Minute).Issue(&models.User{ID: "u1"})
	require.NoError(t, err)

	box := &profileBox{profile: &models.AuthResponse{Result: models.User{ID: "u1"}, Token: expired}}
	s, err := NewSession(box.load, box.save)
	require.NoError(t, err)
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
	assert.Nil(t, box.profile)
	assert.Equal(t, 1, box.saves)
}

func TestLikeReplyDecoding(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"anonymous notice", `{"message":"Unauthenticated"}`, apperrors.ErrUnauthenticated},
		{"post with empty body", `{"_id":"p1","title":"t","message":"","likes":["u1"],"tags":[]}`, nil},
		{"post whose body reads like a notice", `{"_id":"p1","title":"t","message":"Unauthenticated","likes":[],"tags":[]}`, nil},
		{"not json", `<html>`, apperrors.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer api.Close()

			fs := feed.NewStore()
			fs.Dispatch(feed.PostCreated{Post: models.Post{ID: "p1", Title: "t"}})
			g, err := New(api.URL, api.Client(), nil, fs, logging.Discard())
			require.NoError(t, err)

			post, err := g.Like(context.Background(), "p1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, fs.Snapshot().Posts[0].Likes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "p1", post.ID)
			assert.Equal(t, post.Likes, fs.Snapshot().Posts[0].Likes)
		})
	}
}
