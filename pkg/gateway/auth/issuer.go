// Package auth issues and verifies the gateway's access tokens.
//
// Tokens are HS256 JWTs carrying the caller's (role, username) pair. They are
// self-contained: the gateway keeps no session store and no revocation list.
// Tokens issued at login live for the login TTL (15 minutes by default);
// tokens issued by refresh live for the refresh TTL (25 minutes by default).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
)

// Token is a signed access token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer signs and verifies access tokens with a single process-wide key.
type Issuer struct {
	key        []byte
	issuer     string
	loginTTL   time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer constructs an issuer from configuration.
func NewIssuer(cfg gatewayconfig.AuthConfig, opts ...IssuerOption) (*Issuer, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("jwt signing key not configured")
	}
	if cfg.LoginTTL.AsDuration() <= 0 || cfg.RefreshTTL.AsDuration() <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	i := &Issuer{
		key:        []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		loginTTL:   cfg.LoginTTL.AsDuration(),
		refreshTTL: cfg.RefreshTTL.AsDuration(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// IssueLogin signs id with the login lifetime.
func (i *Issuer) IssueLogin(id identity.Identity) (Token, error) {
	return i.sign(id, i.loginTTL)
}

// Refresh re-signs an already verified identity with the refresh lifetime.
// It never contacts a backend.
func (i *Issuer) Refresh(id identity.Identity) (Token, error) {
	return i.sign(id, i.refreshTTL)
}

func (i *Issuer) sign(id identity.Identity, ttl time.Duration) (Token, error) {
	if !id.Role.Valid() {
		return Token{}, fmt.Errorf("cannot sign token for unknown role %q", id.Role)
	}
	if id.Username == "" {
		return Token{}, errors.New("cannot sign token without a username")
	}

	now := i.now()
	expires := now.Add(ttl)
	claims := tokenClaims{
		Identity: [2]string{string(id.Role), id.Username},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, expiry and shape of tokenString and returns the
// identity it carries. Any failure is a hard rejection.
func (i *Issuer) Verify(tokenString string) (identity.Identity, time.Time, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		options = append(options, jwt.WithIssuer(i.issuer))
	}

	claims := &tokenClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (interface{}, error) {
		return i.key, nil
	})
	if err != nil {
		detail := "Invalid or expired token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			detail = "Token has expired"
		}
		return identity.Identity{}, time.Time{}, &problem.Error{Kind: problem.KindAuth, Summary: "Authentication required", Detail: detail, Err: err}
	}
	if !token.Valid {
		return identity.Identity{}, time.Time{}, errTokenInvalid
	}

	id, err := claims.identity()
	if err != nil {
		return identity.Identity{}, time.Time{}, &problem.Error{Kind: problem.KindAuth, Summary: "Authentication required", Detail: "Malformed token identity", Err: err}
	}

	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return id, expires, nil
}

type tokenClaims struct {
	Identity [2]string `json:"identity"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) identity() (identity.Identity, error) {
	role, err := identity.ParseRole(c.Identity[0])
	if err != nil {
		return identity.Identity{}, err
	}
	username := c.Identity[1]
	if username == "" {
		return identity.Identity{}, errors.New("empty username")
	}
	if c.Subject != "" && c.Subject != username {
		return identity.Identity{}, errors.New("subject does not match identity")
	}
	return identity.Identity{Role: role, Username: username}, nil
}
