package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/logger"
	"github.com/oakbuilders/bid-finder/internal/models"
)

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
)

var (
	ErrUserExists   = errors.New("reviewer already exists")
	ErrInvalidCreds = errors.New("invalid credentials")
	ErrInvalidInput = errors.New("invalid email or password")

	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv(log *zap.Logger) ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Warn("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}

	return jwtSecretRuntime, nil
}

// Service manages reviewer accounts and the tokens that authorize status
// changes and edits.
type Service struct {
	reviewers db.Reviewers
	secret    []byte
	log       *zap.Logger
	now       func() time.Time
}

// NewService signs tokens with JWT_SECRET, or an ephemeral secret when unset.
func NewService(reviewers db.Reviewers, log *zap.Logger) (*Service, error) {
	log = logger.WithFields(log)
	secret, err := jwtSecretFromEnv(log)
	if err != nil {
		return nil, err
	}
	return NewServiceWithSecret(reviewers, secret, log), nil
}

func NewServiceWithSecret(reviewers db.Reviewers, secret []byte, log *zap.Logger) *Service {
	return &Service{
		reviewers: reviewers,
		secret:    secret,
		log:       logger.WithFields(log),
		now:       time.Now,
	}
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	// hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	reviewer := models.Reviewer{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.reviewers.CreateReviewer(ctx, reviewer); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	token, err := s.generateToken(reviewer.ID)
	if err != nil {
		return nil, err
	}

	reviewer.PasswordHash = ""
	s.log.Info("reviewer created", zap.String("reviewer_id", reviewer.ID.String()))
	return &AuthResponse{Token: token, Reviewer: reviewer}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, ErrInvalidCreds
	}

	reviewer, err := s.reviewers.ReviewerByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(reviewer.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := s.generateToken(reviewer.ID)
	if err != nil {
		return nil, err
	}

	// Clear hash before returning
	reviewer.PasswordHash = ""
	return &AuthResponse{Token: token, Reviewer: reviewer}, nil
}

func (s *Service) generateToken(reviewerID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": reviewerID.String(),
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a signed token and returns the reviewer id it carries.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid or expired token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token subject: %w", err)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid reviewer id in token: %w", err)
	}
	return id, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidInput
	}
	return strings.ToLower(addr.Address), nil
}
