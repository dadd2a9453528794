package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/models"
)

// Postgres keeps posts and users in Postgres through GORM.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) ListPage(ctx context.Context, page int) (models.PageResult, error) {
	page = clampPage(page)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Count(&total).Error; err != nil {
		return models.PageResult{}, fmt.Errorf("count posts: %w", err)
	}

	posts := []models.Post{}
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(models.PageSize).
		Offset((page - 1) * models.PageSize).
		Find(&posts).Error
	if err != nil {
		return models.PageResult{}, fmt.Errorf("list posts: %w", err)
	}

	return models.PageResult{
		Data:          posts,
		CurrentPage:   page,
		NumberOfPages: models.NumberOfPages(total),
	}, nil
}

func (s *Postgres) Search(ctx context.Context, q models.SearchQuery) ([]models.Post, error) {
	text := strings.TrimSpace(q.Text)
	tags := cleanTags(q.Tags)
	posts := []models.Post{}

	tx := s.db.WithContext(ctx).Model(&models.Post{})
	switch {
	case text != "" && len(tags) > 0:
		tx = tx.Where("title ILIKE ? OR tags && ?", likePattern(text), pq.StringArray(tags))
	case text != "":
		tx = tx.Where("title ILIKE ?", likePattern(text))
	case len(tags) > 0:
		tx = tx.Where("tags && ?", pq.StringArray(tags))
	default:
		return posts, nil
	}

	if err := tx.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return posts, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*models.Post, error) {
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, postNotFound(id)
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &post, nil
}

func (s *Postgres) Create(ctx context.Context, post *models.Post) error {
	post.ID = uuid.NewString()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.Tags = cleanTags(post.Tags)
	if post.Likes == nil {
		post.Likes = pq.StringArray{}
	}

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return translate("create post", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, id, principal string, patch models.PostPatch) (*models.Post, error) {
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	if patch.IsEmpty() {
		post, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if post.Creator != principal {
			return nil, apperrors.Forbidden("You can only modify your own posts")
		}
		return post, nil
	}

	var post models.Post
	res := s.db.WithContext(ctx).
		Model(&post).
		Clauses(clause.Returning{}).
		Where("id = ? AND creator = ?", key, principal).
		Updates(patchColumns(patch))
	if res.Error != nil {
		return nil, translate("update post", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.missOrForbidden(ctx, id)
	}
	return &post, nil
}

func (s *Postgres) Delete(ctx context.Context, id, principal string) error {
	key, err := parsePostID(id)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Where("id = ? AND creator = ?", key, principal).Delete(&models.Post{})
	if res.Error != nil {
		return fmt.Errorf("delete post: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	err = s.missOrForbidden(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// toggleLikeSQL flips membership of one principal in a single statement.
// The row lock taken by UPDATE serialises concurrent toggles on the same
// post, and each one re-evaluates ANY(likes) against the committed row.
const toggleLikeSQL = `
UPDATE posts
SET likes = CASE
	WHEN CAST(@principal AS text) = ANY(likes) THEN array_remove(likes, CAST(@principal AS text))
	ELSE array_append(likes, CAST(@principal AS text))
END
WHERE id = @id
RETURNING *`

func (s *Postgres) ToggleLike(ctx context.Context, id, principal string) (*models.Post, error) {
	if principal == "" {
		return nil, apperrors.ErrUnauthenticated
	}
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	var post models.Post
	res := s.db.WithContext(ctx).Raw(toggleLikeSQL, map[string]any{
		"principal": principal,
		"id":        key,
	}).Scan(&post)
	if res.Error != nil {
		return nil, fmt.Errorf("toggle like: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, postNotFound(id)
	}
	return &post, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// missOrForbidden explains why an owner-scoped statement touched no row.
func (s *Postgres) missOrForbidden(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return apperrors.Forbidden("You can only modify your own posts")
}

func (s *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.NewString()
	user.Email = normalizeEmail(user.Email)
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translate("create user", err)
	}
	return nil
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("User doesn't exist.")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("User doesn't exist.")
	}
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("User doesn't exist.")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *Postgres) UpsertGoogleUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.GoogleID == "" {
		return nil, apperrors.Validation("missing google subject")
	}
	var out *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("google_id = ? OR email = ?", user.GoogleID, normalizeEmail(user.Email)).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user.ID = uuid.NewString()
			user.Email = normalizeEmail(user.Email)
			if err := tx.Create(user).Error; err != nil {
				return translate("create user", err)
			}
			out = user
			return nil
		case err != nil:
			return fmt.Errorf("find user: %w", err)
		}

		if existing.GoogleID == "" {
			existing.GoogleID = user.GoogleID
			if err := tx.Model(&existing).Update("google_id", user.GoogleID).Error; err != nil {
				return fmt.Errorf("link google account: %w", err)
			}
		}
		out = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// translate maps integrity violations to Conflict.
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return apperrors.Conflict(pgErr.Message, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Conflict("duplicate record", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// likePattern builds an ILIKE pattern matching text anywhere, with LIKE
// metacharacters in text taken literally.
func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(text) + "%"
}
