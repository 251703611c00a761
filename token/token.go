package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeAccess marks access tokens
	TypeAccess = "access"

	// TypeRefresh marks refresh tokens
	TypeRefresh = "refresh"

	// DefaultAccessTTL is the access token lifetime
	DefaultAccessTTL = 15 * time.Minute

	// DefaultRefreshTTL is the refresh token lifetime
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// DefaultIssuer is used when Config.Issuer is empty
	DefaultIssuer = "adminguard"

	// MinSecretLength is the minimum HMAC secret size in bytes
	MinSecretLength = 32
)

var (
	// ErrExpired is returned for a well-formed token past its expiry
	ErrExpired = errors.New("token expired")

	// ErrSignatureInvalid is returned when the signature does not verify
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrMalformed covers everything else: bad encoding, wrong algorithm,
	// wrong issuer or audience, wrong token type, missing claims
	ErrMalformed = errors.New("token malformed")
)

// User is the identity embedded in an access token
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AccessClaims are the claims of an access token
type AccessClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) tokenType() string { return c.Type }

// User returns the identity carried by the claims
func (c *AccessClaims) User() User {
	return User{ID: c.UserID, Email: c.Email, Role: c.Role}
}

// RefreshClaims are the claims of a refresh token
type RefreshClaims struct {
	UserID   string `json:"userId"`
	FamilyID string `json:"familyId"`
	TokenID  string `json:"tokenId"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *RefreshClaims) tokenType() string { return c.Type }

type typedClaims interface {
	jwt.Claims
	tokenType() string
}

var errWrongType = errors.New("unexpected token type")

// Config configures a Codec
type Config struct {
	// AccessSecret signs access tokens
	AccessSecret []byte

	// RefreshSecret signs refresh tokens and must differ from AccessSecret
	RefreshSecret []byte

	// Algorithm is one of HS256, HS384, HS512. Default: HS256
	Algorithm string

	Issuer   string
	Audience string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway tolerates clock skew when validating exp/iat
	Leeway time.Duration

	// Clock overrides time.Now, mainly for tests
	Clock func() time.Time
}

// Codec signs and verifies access and refresh tokens. It holds no mutable
// state and is safe for concurrent use.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	method        jwt.SigningMethod
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	leeway        time.Duration
	now           func() time.Time
}

// NewCodec validates the configuration and builds a Codec
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < MinSecretLength {
		return nil, fmt.Errorf("access secret must be at least %d bytes", MinSecretLength)
	}
	if len(cfg.RefreshSecret) < MinSecretLength {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", MinSecretLength)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}

	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		method:        method,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		leeway:        cfg.Leeway,
		now:           cfg.Clock,
	}
	if c.issuer == "" {
		c.issuer = DefaultIssuer
	}
	if c.accessTTL <= 0 {
		c.accessTTL = DefaultAccessTTL
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = DefaultRefreshTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}

// AccessTTL returns the configured access token lifetime
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now().UTC().Truncate(time.Second)
	rc := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if c.audience != "" {
		rc.Audience = jwt.ClaimStrings{c.audience}
	}
	return rc
}

// SignAccess issues an access token for the user
func (c *Codec) SignAccess(u User) (string, *AccessClaims, error) {
	if u.ID == "" {
		return "", nil, errors.New("user id is required")
	}
	claims := &AccessClaims{
		UserID:           u.ID,
		Email:            u.Email,
		Role:             u.Role,
		Type:             TypeAccess,
		RegisteredClaims: c.registered(u.ID, c.accessTTL),
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// SignRefresh issues a refresh token in the given family. An empty
// familyID starts a new family.
func (c *Codec) SignRefresh(userID, familyID string) (string, *RefreshClaims, error) {
	if userID == "" {
		return "", nil, errors.New("user id is required")
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}
	claims := &RefreshClaims{
		UserID:           userID,
		FamilyID:         familyID,
		TokenID:          uuid.NewString(),
		Type:             TypeRefresh,
		RegisteredClaims: c.registered(userID, c.refreshTTL),
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, claims, nil
}

// VerifyAccess parses and validates an access token
func (c *Codec) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenString, claims, TypeAccess, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.UserID == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token
func (c *Codec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenString, claims, TypeRefresh, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.UserID == "" || claims.FamilyID == "" ||
		claims.TokenID == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// parse rejects a token of the other kind before its signature is checked,
// so a refresh token sent as an access token reports ErrMalformed.
func (c *Codec) parse(tokenString string, claims typedClaims, want string, secret []byte) error {
	if tokenString == "" {
		return ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if tc, ok := t.Claims.(typedClaims); ok && tc.tokenType() != want {
			return nil, errWrongType
		}
		return secret, nil
	}, opts...)
	return classify(err)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
