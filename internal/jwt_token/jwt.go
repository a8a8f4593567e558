package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
)

// Claims are the access-token claims issued by the identity provider.
// The subject is the user id; role and email are informational.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens signed with the provider's shared secret.
type Verifier struct {
	signingKey []byte
	audience   string
	leeway     time.Duration
}

func NewVerifier(signingKey string, audience string) *Verifier {
	return &Verifier{
		signingKey: []byte(signingKey),
		audience:   audience,
		leeway:     30 * time.Second,
	}
}

// Issue signs a token for userID. Used by local tooling and tests; production
// tokens come from the identity provider.
func (v *Verifier) Issue(userID uuid.UUID, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = []string{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
}

func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// UserID validates the token and returns its subject as a typed user id.
// Satisfies the auth middleware's validator interface.
func (v *Verifier) UserID(tokenString string) (id.UserID, error) {
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return id.UserID{}, err
	}
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	return userID, nil
}
