// Package accounts integrates with the InNoHassle Accounts service: it
// validates the access tokens Accounts issues and resolves user profiles.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
)

var ErrInvalidToken = apperror.New(http.StatusUnauthorized, "invalid or expired token")

// Claims are the token claims issued by Accounts. Subject is the user id.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator checks an access token and yields the user id it belongs to.
type TokenValidator interface {
	Validate(tokenString string) (userID string, err error)
}

// Validator validates tokens against the Accounts JWKS endpoint. Keys are
// cached and refreshed in the background.
type Validator struct {
	keyFunc jwt.Keyfunc
}

// NewValidator registers the JWKS URL in a refreshing cache and fetches the
// keys once to fail fast on connectivity problems. Extra register options are
// for tests.
func NewValidator(ctx context.Context, jwksURL string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	cache := jwk.NewCache(ctx)

	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch initial jwks: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &Validator{keyFunc: keyFunc}, nil
}

func (v *Validator) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
