package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"-"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Audience      string `json:"aud"`
}

// tokeninfo reports email_verified as the string "true" or as a bool
// depending on the token type.
type tokenInfo struct {
	GoogleIdentity
	RawVerified json.RawMessage `json:"email_verified"`
}

// ErrInvalidGoogleToken is returned for tokens Google rejects or that lack
// a verified email.
var ErrInvalidGoogleToken = errors.New("invalid google token")

// GoogleVerifier checks ID tokens against Google's tokeninfo endpoint.
type GoogleVerifier struct {
	endpoint string
	client   *http.Client
}

func NewGoogleVerifier(endpoint string, client *http.Client) *GoogleVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleVerifier{endpoint: endpoint, client: client}
}

// Verify returns the identity carried by idToken.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	u, err := url.Parse(v.endpoint)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo url: %w", err)
	}
	q := u.Query()
	q.Set("id_token", idToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidGoogleToken
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	info.EmailVerified = parseVerified(info.RawVerified)

	if info.Sub == "" || info.Email == "" || !info.EmailVerified {
		return nil, ErrInvalidGoogleToken
	}
	identity := info.GoogleIdentity
	return &identity, nil
}

func parseVerified(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		ok, _ := strconv.ParseBool(s)
		return ok
	}
	return false
}
