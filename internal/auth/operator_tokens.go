package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultOperatorIssuer   = "botdesk"
	defaultOperatorTokenTTL = 12 * time.Hour
	bearerPrefix            = "Bearer "
)

var (
	ErrMissingSigningSecret = errors.New("operator tokens: signing secret required")
	ErrMissingOperatorName  = errors.New("operator tokens: operator name required")
	ErrInvalidRole          = errors.New("operator tokens: role must be owner or admin")
	// ErrUnauthorized wraps every reason a presented operator credential is rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired accompanies ErrUnauthorized when a well formed token has expired.
	ErrTokenExpired = errors.New("operator tokens: token expired")
)

// Role is the privilege level of a panel operator.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// ParseRole accepts owner or admin in any case.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// Operator is an authenticated panel user allowed to run campaigns and moderate users.
type Operator struct {
	Name string
	Role Role
}

// OperatorClaims is the JWT payload of an operator token.
type OperatorClaims struct {
	OperatorName string `json:"operator_name"`
	OperatorRole Role   `json:"operator_role"`
	jwt.RegisteredClaims
}

// OperatorTokensConfig describes how operator tokens are signed and validated.
type OperatorTokensConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// OperatorTokens issues and validates HS256 operator tokens.
type OperatorTokens struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

func NewOperatorTokens(cfg OperatorTokensConfig) (*OperatorTokens, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultOperatorIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultOperatorTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OperatorTokens{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue signs a token for the operator and returns it with its expiry.
func (t *OperatorTokens) Issue(operator Operator) (string, time.Time, error) {
	name := strings.TrimSpace(operator.Name)
	if name == "" {
		return "", time.Time{}, ErrMissingOperatorName
	}
	role, err := ParseRole(string(operator.Role))
	if err != nil {
		return "", time.Time{}, err
	}

	now := t.clock().UTC()
	expiresAt := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		OperatorName: name,
		OperatorRole: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(t.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Authorize validates a raw token and returns the operator it names.
func (t *OperatorTokens) Authorize(tokenString string) (Operator, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Operator{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(parsedToken *jwt.Token) (interface{}, error) {
			if parsedToken.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm %s", parsedToken.Method.Alg())
			}
			return t.signingSecret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Operator{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrTokenExpired)
		}
		return Operator{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if parsed == nil || !parsed.Valid {
		return Operator{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	name := strings.TrimSpace(claims.OperatorName)
	if name == "" || claims.Subject != name {
		return Operator{}, fmt.Errorf("%w: operator name missing", ErrUnauthorized)
	}
	role, err := ParseRole(string(claims.OperatorRole))
	if err != nil {
		return Operator{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return Operator{Name: name, Role: role}, nil
}

// AuthorizeRequest reads a bearer token from the Authorization header.
func (t *OperatorTokens) AuthorizeRequest(r *http.Request) (Operator, error) {
	if r == nil {
		return Operator{}, fmt.Errorf("%w: missing request", ErrUnauthorized)
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, bearerPrefix) {
		return Operator{}, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return t.Authorize(strings.TrimPrefix(header, bearerPrefix))
}
