package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swarmgate/backend/internal/models"
)

// ErrInvalidCredential covers unknown, revoked, expired or malformed credentials.
var ErrInvalidCredential = errors.New("invalid credential")

const tokenIssuer = "swarmgate"

// KeyStore resolves hashed API keys.
type KeyStore interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

type Service interface {
	// Authenticate resolves a raw API key to its owner.
	Authenticate(ctx context.Context, rawKey string) (uuid.UUID, error)
	// IssueToken exchanges a raw API key for a short-lived session token.
	IssueToken(ctx context.Context, rawKey string) (string, time.Time, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

type service struct {
	keys   KeyStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(keys KeyStore, secret string, ttl time.Duration) Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &service{keys: keys, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	KeyID string `json:"kid,omitempty"`
}

// HashKey is the lookup form of an API key stored in api_keys.key_hash.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *service) lookup(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if rawKey == "" {
		return nil, ErrInvalidCredential
	}
	k, err := s.keys.FindByKeyHash(ctx, HashKey(rawKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !k.IsActive {
		return nil, ErrInvalidCredential
	}
	return k, nil
}

func (s *service) Authenticate(ctx context.Context, rawKey string) (uuid.UUID, error) {
	k, err := s.lookup(ctx, rawKey)
	if err != nil {
		return uuid.Nil, err
	}
	return k.UserID, nil
}

func (s *service) IssueToken(ctx context.Context, rawKey string) (string, time.Time, error) {
	k, err := s.lookup(ctx, rawKey)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	exp := now.Add(s.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   k.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		KeyID: k.ID.String(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, ErrInvalidCredential
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrInvalidCredential
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidCredential
	}
	return id, nil
}
