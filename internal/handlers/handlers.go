package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/sirupsen/logrus"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/auth"
	"github.com/emilythestrangee/memories/backend/internal/events"
	"github.com/emilythestrangee/memories/backend/internal/metrics"
	"github.com/emilythestrangee/memories/backend/internal/store"
)

// GoogleVerifier resolves a Google ID token to an identity.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*auth.GoogleIdentity, error)
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Store     store.Store
	Tokens    *auth.Tokens
	Google    GoogleVerifier
	Publisher events.Publisher

	// PublishTimeout bounds each event hand-off; zero means two seconds.
	PublishTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
}

// Handler combines all handler types
type Handler struct {
	Auth *AuthHandler
	Post *PostHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(d Deps) *Handler {
	registerValidators()
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.PublishTimeout <= 0 {
		d.PublishTimeout = 2 * time.Second
	}
	return &Handler{
		Auth: NewAuthHandler(d.Store, d.Tokens, d.Google, d.Logger),
		Post: NewPostHandler(d.Store, d.Publisher, d.PublishTimeout, d.Metrics, d.Logger),
	}
}

var validatorsOnce sync.Once

// registerValidators adds the custom rules used in binding tags to gin's
// validator.
func registerValidators() {
	validatorsOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
				panic(fmt.Sprintf("register notblank validator: %v", err))
			}
		}
	})
}

// respondError writes err as {"message": ...} with its mapped status.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := apperrors.StatusOf(err)
	if status >= 500 {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.JSON(status, gin.H{"message": apperrors.MessageOf(err)})
}

// bindingMessage turns a binding failure into a short client message.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}
