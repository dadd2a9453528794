package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/models"
)

// Memory is an in-process Store. Posts are kept in insertion order, which
// is the natural order returned by Search.
type Memory struct {
	mu    sync.RWMutex
	posts []models.Post
	users map[string]models.User
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) indexOf(id string) int {
	for i := range m.posts {
		if m.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) ListPage(_ context.Context, page int) (models.PageResult, error) {
	page = clampPage(page)

	m.mu.RLock()
	sorted := make([]models.Post, len(m.posts))
	for i := range m.posts {
		sorted[i] = m.posts[i].Clone()
	}
	m.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	start := (page - 1) * models.PageSize
	data := []models.Post{}
	if start < len(sorted) {
		end := min(start+models.PageSize, len(sorted))
		data = sorted[start:end]
	}

	return models.PageResult{
		Data:          data,
		CurrentPage:   page,
		NumberOfPages: models.NumberOfPages(int64(len(sorted))),
	}, nil
}

func (m *Memory) Search(_ context.Context, q models.SearchQuery) ([]models.Post, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	wanted := make(map[string]struct{})
	for _, t := range cleanTags(q.Tags) {
		wanted[t] = struct{}{}
	}

	out := []models.Post{}
	if text == "" && len(wanted) == 0 {
		return out, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.posts {
		if matches(p, text, wanted) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func matches(p models.Post, text string, tags map[string]struct{}) bool {
	if text != "" && strings.Contains(strings.ToLower(p.Title), text) {
		return true
	}
	for _, t := range p.Tags {
		if _, ok := tags[t]; ok {
			return true
		}
	}
	return false
}

func (m *Memory) Get(_ context.Context, id string) (*models.Post, error) {
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(key)
	if i < 0 {
		return nil, postNotFound(id)
	}
	p := m.posts[i].Clone()
	return &p, nil
}

func (m *Memory) Create(_ context.Context, post *models.Post) error {
	post.ID = uuid.NewString()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = m.now()
	}
	post.Tags = cleanTags(post.Tags)
	if post.Likes == nil {
		post.Likes = pq.StringArray{}
	}

	m.mu.Lock()
	m.posts = append(m.posts, post.Clone())
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, id, principal string, patch models.PostPatch) (*models.Post, error) {
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(key)
	if i < 0 {
		return nil, postNotFound(id)
	}
	p := &m.posts[i]
	if p.Creator != principal {
		return nil, apperrors.Forbidden("You can only modify your own posts")
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Message != nil {
		p.Message = *patch.Message
	}
	if patch.Tags != nil {
		p.Tags = cleanTags(*patch.Tags)
	}
	if patch.Image != nil {
		p.Image = *patch.Image
	}

	out := p.Clone()
	return &out, nil
}

func (m *Memory) Delete(_ context.Context, id, principal string) error {
	key, err := parsePostID(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(key)
	if i < 0 {
		return nil
	}
	if m.posts[i].Creator != principal {
		return apperrors.Forbidden("You can only modify your own posts")
	}
	m.posts = append(m.posts[:i], m.posts[i+1:]...)
	return nil
}

func (m *Memory) ToggleLike(_ context.Context, id, principal string) (*models.Post, error) {
	if principal == "" {
		return nil, apperrors.ErrUnauthenticated
	}
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(key)
	if i < 0 {
		return nil, postNotFound(id)
	}

	p := &m.posts[i]
	likes := make(pq.StringArray, 0, len(p.Likes)+1)
	found := false
	for _, l := range p.Likes {
		if l == principal {
			found = true
			continue
		}
		likes = append(likes, l)
	}
	if !found {
		likes = append(likes, principal)
	}
	p.Likes = likes

	out := p.Clone()
	return &out, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperrors.Conflict("duplicate key value violates unique constraint \"idx_users_email\"", nil)
		}
	}
	user.ID = uuid.NewString()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperrors.NotFound("User doesn't exist.")
}

func (m *Memory) UserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("User doesn't exist.")
	}
	return &u, nil
}

func (m *Memory) UpsertGoogleUser(_ context.Context, user *models.User) (*models.User, error) {
	if user.GoogleID == "" {
		return nil, apperrors.Validation("missing google subject")
	}
	email := normalizeEmail(user.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.GoogleID == user.GoogleID || u.Email == email {
			if u.GoogleID == "" {
				u.GoogleID = user.GoogleID
				m.users[id] = u
			}
			return &u, nil
		}
	}

	user.ID = uuid.NewString()
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	m.users[user.ID] = *user
	return user, nil
}
