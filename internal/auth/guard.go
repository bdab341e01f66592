package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Claims is the JWT payload contract shared by both token types. Access
// tokens carry key_version and a permissions snapshot taken at issuance;
// refresh tokens carry neither.
type Claims struct {
	TokenType   string   `json:"type"`
	KeyVersion  *int64   `json:"key_version,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair bundles freshly minted access and refresh tokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionGuard issues HS256 token pairs and validates them against the
// user's live key_version. A token whose embedded version no longer matches
// is logically revoked even when its signature and expiry are still valid.
type SessionGuard struct {
	users     UserRepository
	evaluator Evaluator
	secret    []byte

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// GuardOption configures SessionGuard behavior.
type GuardOption func(*SessionGuard)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) GuardOption {
	return func(g *SessionGuard) { g.issuer = strings.TrimSpace(issuer) }
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) GuardOption {
	return func(g *SessionGuard) {
		if ttl > 0 {
			g.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) GuardOption {
	return func(g *SessionGuard) {
		if ttl > 0 {
			g.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) GuardOption {
	return func(g *SessionGuard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewSessionGuard constructs a SessionGuard.
func NewSessionGuard(users UserRepository, evaluator Evaluator, secret []byte, opts ...GuardOption) (*SessionGuard, error) {
	if users == nil {
		return nil, errors.New("auth: user repository is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	g := &SessionGuard{
		users:      users,
		evaluator:  evaluator,
		secret:     secret,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// IssueTokenPair mints an access/refresh pair for the user. The access
// token embeds the user's current key_version and the permission names
// derived from its roles at this moment; neither is re-derived until the
// consumer explicitly re-validates.
func (g *SessionGuard) IssueTokenPair(u *User) (TokenPair, error) {
	if u == nil {
		return TokenPair{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := g.now().UTC()
	accessExp := now.Add(g.accessTTL)
	refreshExp := now.Add(g.refreshTTL)

	version := u.KeyVersion()
	access, err := g.sign(Claims{
		TokenType:        TokenTypeAccess,
		KeyVersion:       &version,
		Permissions:      g.evaluator.PermissionNames(u.Roles()),
		RegisteredClaims: g.registered(u.ID, now, accessExp),
	})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := g.sign(Claims{
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: g.registered(u.ID, now, refreshExp),
	})
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ValidateAccess verifies signature and expiry, loads the user and compares
// key_version. The three failure modes stay distinct: ErrTokenExpired is
// recoverable via refresh, ErrTokenInvalid is hard, ErrTokenVersionMismatch
// requires a full re-login because refresh does not re-validate
// key_version.
func (g *SessionGuard) ValidateAccess(ctx context.Context, token string) (Principal, error) {
	claims, err := g.parse(token)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenType != TokenTypeAccess {
		return Principal{}, fmt.Errorf("%w: not an access token", ErrTokenInvalid)
	}
	if claims.KeyVersion == nil {
		return Principal{}, fmt.Errorf("%w: access token missing key_version", ErrTokenInvalid)
	}
	user, err := g.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	if err := user.EnsureActive(); err != nil {
		return Principal{}, err
	}
	if *claims.KeyVersion != user.KeyVersion() {
		return Principal{}, fmt.Errorf("%w: token has %d, current is %d",
			ErrTokenVersionMismatch, *claims.KeyVersion, user.KeyVersion())
	}
	return Principal{User: user, TokenPermissions: claims.Permissions}, nil
}

// ValidateRefresh verifies a refresh token by signature and expiry only;
// key_version is deliberately not checked for this token type. The live
// account status is still enforced so that a suspended user cannot mint
// fresh access tokens.
func (g *SessionGuard) ValidateRefresh(ctx context.Context, token string) (*User, error) {
	claims, err := g.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrTokenInvalid)
	}
	user, err := g.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if err := user.EnsureActive(); err != nil {
		return nil, err
	}
	return user, nil
}

// Refresh exchanges a valid refresh token for a new pair minted at the
// user's current key_version.
func (g *SessionGuard) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	user, err := g.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := g.IssueTokenPair(user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

func (g *SessionGuard) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    g.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
}

func (g *SessionGuard) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (g *SessionGuard) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
