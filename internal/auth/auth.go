// Package auth registers doctors, verifies passwords and issues the typed
// sessions that gate the API.
package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	ErrInvalidCredentials = errors.NewStd("invalid email or password")
	ErrEmailTaken         = errors.NewStd("email is already registered")
	ErrSessionInvalid     = errors.NewStd("session is invalid or expired")
	ErrRateLimited        = errors.NewStd("too many login attempts")
)

// DoctorStore is the part of the datastore used by the service.
type DoctorStore interface {
	InsertDoctor(ctx context.Context, doctor *datastore.Doctor) error
	GetDoctor(ctx context.Context, id string) (*datastore.Doctor, error)
	GetDoctorByEmail(ctx context.Context, email string) (*datastore.Doctor, error)
}

// Session is the authenticated doctor plus the token that proves it.
type Session struct {
	Token     string            `json:"token"`
	Doctor    *datastore.Doctor `json:"doctor"`
	ExpiresAt time.Time         `json:"expires_at"`

	tokenID string
}

// Config configures the service.
type Config struct {
	Secret         []byte
	SessionTTL     time.Duration
	BcryptCost     int
	LoginPerMinute int
}

// Service implements registration, login, logout and token checks.
type Service struct {
	store       DoctorStore
	tokens      *tokenIssuer
	revocations RevocationStore
	limiter     *loginLimiter
	cost        int
	log         logger.Logger
	now         func() time.Time
}

// NewService creates the service. revocations may be nil for an in-memory store.
func NewService(cfg Config, store DoctorStore, revocations RevocationStore, log logger.Logger) (*Service, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.Newf("auth secret must be at least 16 bytes").
			Component("auth").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("auth")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if revocations == nil {
		revocations = NewMemoryRevocations()
	}

	s := &Service{
		store:       store,
		revocations: revocations,
		limiter:     newLoginLimiter(cfg.LoginPerMinute),
		cost:        cfg.BcryptCost,
		log:         log,
		now:         time.Now,
	}
	s.tokens = &tokenIssuer{secret: cfg.Secret, ttl: cfg.SessionTTL, now: func() time.Time { return s.now() }}
	return s, nil
}

// Register creates a doctor whose identity is a fresh uuid.
func (s *Service) Register(ctx context.Context, fullName, email, password string) (*datastore.Doctor, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, authValidation("full name is required", "full_name")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, authValidation("email address is invalid", "email")
	}
	if len(password) < MinPasswordLength {
		return nil, authValidation(fmt.Sprintf("password must be at least %d characters", MinPasswordLength), "password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategorySystem).
			Context("operation", "hash_password").
			Build()
	}

	doctor := &datastore.Doctor{
		ID:           uuid.NewString(),
		FullName:     fullName,
		Email:        addr.Address,
		PasswordHash: string(hash),
	}
	if err := s.store.InsertDoctor(ctx, doctor); err != nil {
		if errors.IsCategory(err, errors.CategoryConflict) {
			return nil, errors.New(fmt.Errorf("%w: %w", ErrEmailTaken, err)).
				Component("auth").
				Category(errors.CategoryConflict).
				Context("operation", "register").
				Build()
		}
		return nil, err
	}

	s.log.Info("doctor registered", logger.String("doctor_id", doctor.ID))
	return doctor, nil
}

// Login verifies the password and issues a session. Unknown email and wrong
// password give the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !s.limiter.Allow(email) {
		s.log.Warn("login rate limited", logger.String("email", email))
		return nil, errors.New(ErrRateLimited).
			Component("auth").
			Category(errors.CategoryLimit).
			Context("operation", "login").
			Build()
	}

	doctor, err := s.store.GetDoctorByEmail(ctx, email)
	if err != nil {
		if errors.IsNotFound(err) {
			// Keep timing equal to the known-email path.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, invalidCredentials()
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(doctor.PasswordHash), []byte(password)); err != nil {
		return nil, invalidCredentials()
	}

	token, claims, err := s.tokens.issue(doctor)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategorySystem).
			Context("operation", "sign_token").
			Build()
	}

	s.log.Info("doctor logged in", logger.String("doctor_id", doctor.ID))
	return &Session{
		Token:     token,
		Doctor:    doctor,
		ExpiresAt: claims.ExpiresAt.Time,
		tokenID:   claims.ID,
	}, nil
}

// Authenticate resolves a token into a session. Expired, revoked or
// tampered tokens and deleted doctors yield ErrSessionInvalid.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	claims, err := s.tokens.parse(token)
	if err != nil {
		return nil, sessionInvalid(err)
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategorySystem).
			Context("operation", "check_revocation").
			Build()
	}
	if revoked {
		return nil, sessionInvalid(fmt.Errorf("token revoked"))
	}

	doctor, err := s.store.GetDoctor(ctx, claims.Subject)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, sessionInvalid(err)
		}
		return nil, err
	}

	return &Session{
		Token:     token,
		Doctor:    doctor,
		ExpiresAt: claims.ExpiresAt.Time,
		tokenID:   claims.ID,
	}, nil
}

// Logout revokes the token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.parse(token)
	if err != nil {
		return sessionInvalid(err)
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return errors.New(err).
			Component("auth").
			Category(errors.CategorySystem).
			Context("operation", "revoke").
			Build()
	}
	s.log.Info("doctor logged out", logger.String("doctor_id", claims.Subject))
	return nil
}

// Close releases the revocation store.
func (s *Service) Close() error {
	return s.revocations.Close()
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dermascan-dummy-password"), bcrypt.MinCost)

func invalidCredentials() error {
	return errors.New(ErrInvalidCredentials).
		Component("auth").
		Category(errors.CategoryAuth).
		Context("operation", "login").
		Build()
}

func sessionInvalid(cause error) error {
	return errors.New(fmt.Errorf("%w: %w", ErrSessionInvalid, cause)).
		Component("auth").
		Category(errors.CategoryAuth).
		Context("operation", "authenticate").
		Build()
}

func authValidation(message, field string) error {
	return errors.Newf("%s", message).
		Component("auth").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}
