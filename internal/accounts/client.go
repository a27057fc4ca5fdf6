package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

var ErrUserNotFound = apperror.New(http.StatusNotFound, "user not found")

// InnopolisSSO is the university SSO profile attached to an Accounts user.
type InnopolisSSO struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsStaff   bool   `json:"is_staff"`
	IsStudent bool   `json:"is_student"`
	IsCollege bool   `json:"is_college"`
}

// User is an Accounts user profile. InnopolisSSO is nil for accounts that
// never linked the university SSO; those cannot book anything.
type User struct {
	ID           string        `json:"id"`
	InnopolisSSO *InnopolisSSO `json:"innopolis_sso"`
}

// Email returns the university email, or "" without a linked SSO profile.
func (u *User) Email() string {
	if u.InnopolisSSO == nil {
		return ""
	}
	return u.InnopolisSSO.Email
}

// Directory resolves user ids to profiles.
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

type ClientConfig struct {
	BaseURL string
	// ServiceToken authenticates this service to the Accounts API.
	ServiceToken string
	Timeout      time.Duration
}

// Client is the HTTP client for the Accounts API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.ServiceToken,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	endpoint := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build accounts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Wrap(err, http.StatusBadGateway, "accounts service is unavailable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		c.log.Warn("accounts request failed",
			zap.String("user_id", id), zap.Int("status", resp.StatusCode))
		return nil, apperror.New(http.StatusBadGateway, "accounts service is unavailable")
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apperror.Wrap(err, http.StatusBadGateway, "accounts service returned a malformed response")
	}
	return &user, nil
}
