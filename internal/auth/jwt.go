package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/imrishuroy/orderflow/internal/domain"
)

// Claims is the access token payload. The caller is the subject; tokens
// minted elsewhere may carry it in "id" instead.
type Claims struct {
	UserID string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 bearer tokens signed with a shared secret.
type JWTProvider struct {
	secret  []byte
	nowFunc func() time.Time
}

func NewJWTProvider(secret string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTProvider{secret: []byte(secret), nowFunc: time.Now}, nil
}

func (p *JWTProvider) Identify(r *http.Request) (Identity, error) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthenticated)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowFunc),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if strings.TrimSpace(userID) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Role: role}, nil
}

// Issue signs an access token for userID valid for ttl.
func (p *JWTProvider) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	now := p.nowFunc()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
