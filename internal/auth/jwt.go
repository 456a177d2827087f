// Package auth binds connection identities to signed tokens issued by the
// marketplace identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoKeys is returned when a manager is built without any signing key.
var ErrNoKeys = errors.New("auth: no signing keys configured")

// JWTManager signs and validates tokens. Several keys may be held at once so
// tokens issued under a rotated key keep verifying until they expire.
type JWTManager struct {
	keys      map[string][]byte // kid -> HMAC secret
	activeKid string            // kid used for new tokens; "" means the single-secret mode
	duration  time.Duration     // token lifetime
}

// Claims is the JWT payload: the marketplace user id plus the chat identity.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"` // normalized chat identity
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager using one shared secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string][]byte{"": []byte(secretKey)},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies with whichever key the token's kid header names. An empty or
// unknown activeKid falls back to the lexically first kid.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{keys: make(map[string][]byte, len(keys)), duration: duration}
	first := ""
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
		if first == "" || kid < first {
			first = kid
		}
	}
	if _, ok := keys[activeKid]; ok {
		m.activeKid = activeKid
	} else {
		m.activeKid = first
	}
	return m
}

// GenerateToken issues a signed token for a user. The email is normalized so
// the claim matches the identity the presence registry stores.
func (m *JWTManager) GenerateToken(userID, email string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, ErrNoKeys
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		UserID: userID,
		Email:  normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// only HMAC; rejects alg=none and asymmetric confusion
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims.Email = normalize.Email(claims.Email)
	if claims.Email == "" {
		return nil, errors.New("token carries no email")
	}
	return claims, nil
}
