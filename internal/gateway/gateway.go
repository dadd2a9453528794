// Package gateway turns feed commands into REST calls against the API and
// feeds the responses into a feed.Store as deltas.
//
// Every command produces exactly one delta on success and none on failure.
// Failures are logged and returned; the feed keeps its previous state.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/feed"
	"github.com/emilythestrangee/memories/backend/internal/models"
)

type Gateway struct {
	base    *url.URL
	client  *http.Client
	session *Session
	feed    *feed.Store
	log     logrus.FieldLogger
}

// New returns a gateway for the API at baseURL. A nil client gets a traced
// client with a 15s timeout.
func New(baseURL string, client *http.Client, session *Session, store *feed.Store, log logrus.FieldLogger) (*Gateway, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		}
	}
	if session == nil {
		session = &Session{now: time.Now}
	}
	return &Gateway{base: base, client: client, session: session, feed: store, log: log}, nil
}

func (g *Gateway) Session() *Session {
	return g.session
}

// ListPage loads page (1-indexed) of the newest-first feed.
func (g *Gateway) ListPage(ctx context.Context, page int) error {
	t := g.feed.Begin()

	var res models.PageResult
	err := g.do(ctx, http.MethodGet, "/posts", url.Values{"page": {strconv.Itoa(page)}}, nil, &res)
	if err != nil {
		g.feed.Complete(t, nil)
		return g.fail("listPage", err, logrus.Fields{"page": page})
	}

	g.feed.Complete(t, feed.PageFetched{Posts: res.Data, Page: res.CurrentPage, TotalPages: res.NumberOfPages})
	return nil
}

// Search loads every post matching q. An empty query leaves search mode and
// reloads page 1.
func (g *Gateway) Search(ctx context.Context, q models.SearchQuery) error {
	if q.IsEmpty() {
		return g.ListPage(ctx, 1)
	}
	t := g.feed.Begin()

	params := url.Values{
		"searchQuery": {strings.TrimSpace(q.Text)},
		"tags":        {strings.Join(q.Tags, ",")},
	}
	var res models.SearchResult
	if err := g.do(ctx, http.MethodGet, "/posts/search", params, nil, &res); err != nil {
		g.feed.Complete(t, nil)
		return g.fail("search", err, logrus.Fields{"query": q.Text, "tags": q.Tags})
	}

	g.feed.Complete(t, feed.SearchFetched{Posts: res.Data, Query: q})
	return nil
}

// GetPost fetches a single post. It does not touch the feed.
func (g *Gateway) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := g.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), nil, nil, &post); err != nil {
		return nil, g.fail("getPost", err, logrus.Fields{"post_id": id})
	}
	return &post, nil
}

// Mutate creates a post when id is empty and updates post id otherwise.
func (g *Gateway) Mutate(ctx context.Context, in models.PostInput, id string) (*models.Post, error) {
	var post models.Post
	if id == "" {
		if err := g.do(ctx, http.MethodPost, "/posts", nil, in, &post); err != nil {
			return nil, g.fail("createPost", err, nil)
		}
		g.feed.Dispatch(feed.PostCreated{Post: post})
		return &post, nil
	}

	if err := g.do(ctx, http.MethodPatch, "/posts/"+url.PathEscape(id), nil, in, &post); err != nil {
		return nil, g.fail("updatePost", err, logrus.Fields{"post_id": id})
	}
	g.feed.Dispatch(feed.PostUpdated{Post: post})
	return &post, nil
}

// Like toggles the signed-in user's like on post id.
func (g *Gateway) Like(ctx context.Context, id string) (*models.Post, error) {
	var raw json.RawMessage
	if err := g.do(ctx, http.MethodPatch, "/posts/"+url.PathEscape(id)+"/likePost", nil, nil, &raw); err != nil {
		return nil, g.fail("likePost", err, logrus.Fields{"post_id": id})
	}
	post, err := decodeLike(raw)
	if err != nil {
		return nil, g.fail("likePost", err, logrus.Fields{"post_id": id})
	}
	g.feed.Dispatch(feed.PostLiked{Post: *post})
	return post, nil
}

// decodeLike reads a like reply. Anonymous likes are answered with 200
// {"message": "..."} and no post, which is told apart from a post by the
// absence of its "_id" key.
func decodeLike(raw json.RawMessage) (*models.Post, error) {
	var notice struct {
		ID      *string `json:"_id"`
		Message string  `json:"message"`
	}
	if err := json.Unmarshal(raw, &notice); err != nil {
		return nil, apperrors.Transient("Malformed response", err)
	}
	if notice.ID == nil {
		return nil, apperrors.Unauthenticated(notice.Message)
	}

	var post models.Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, apperrors.Transient("Malformed response", err)
	}
	return &post, nil
}

// Delete removes post id. A post that is already gone counts as deleted.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	err := g.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(id), nil, nil, nil)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return g.fail("deletePost", err, logrus.Fields{"post_id": id})
	}
	g.feed.Dispatch(feed.PostDeleted{ID: id})
	return nil
}

// SignIn exchanges credentials for a session.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	return g.authenticate(ctx, "/user/signin", models.SignInRequest{Email: email, Password: password})
}

// SignUp registers a new account and signs it in.
func (g *Gateway) SignUp(ctx context.Context, req models.SignUpRequest) (*models.User, error) {
	return g.authenticate(ctx, "/user/signup", req)
}

// GoogleSignIn signs in with a Google ID token.
func (g *Gateway) GoogleSignIn(ctx context.Context, idToken string) (*models.User, error) {
	return g.authenticate(ctx, "/user/google", models.GoogleSignInRequest{Token: idToken})
}

// SignOut clears the session.
func (g *Gateway) SignOut() error {
	return g.session.Clear()
}

func (g *Gateway) authenticate(ctx context.Context, path string, body any) (*models.User, error) {
	var res models.AuthResponse
	if err := g.do(ctx, http.MethodPost, path, nil, body, &res); err != nil {
		return nil, g.fail("auth", err, logrus.Fields{"path": path})
	}
	if err := g.session.set(&res); err != nil {
		return nil, g.fail("auth", fmt.Errorf("save session: %w", err), nil)
	}
	user := res.Result
	return &user, nil
}

func (g *Gateway) fail(op string, err error, fields logrus.Fields) error {
	g.log.WithError(err).WithField("op", op).WithFields(fields).Warn("Command failed")
	return err
}

// do sends one JSON request and decodes a 2xx response into out. Transport
// failures are Transient; error statuses map through apperrors.FromStatus.
func (g *Gateway) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *g.base
	u.Path = g.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := g.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.Transient("Network error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Message == "" {
			payload.Message = http.StatusText(resp.StatusCode)
		}
		return apperrors.FromStatus(resp.StatusCode, payload.Message)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Transient("Malformed response", err)
	}
	return nil
}
