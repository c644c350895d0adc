package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

type fakeDoctors struct {
	mu      sync.Mutex
	byID    map[string]*datastore.Doctor
	byEmail map[string]*datastore.Doctor
}

func newFakeDoctors() *fakeDoctors {
	return &fakeDoctors{byID: map[string]*datastore.Doctor{}, byEmail: map[string]*datastore.Doctor{}}
}

func notFound() error {
	return errors.New(gorm.ErrRecordNotFound).Category(errors.CategoryNotFound).Build()
}

func (f *fakeDoctors) InsertDoctor(_ context.Context, d *datastore.Doctor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := strings.ToLower(d.Email)
	if _, ok := f.byEmail[email]; ok {
		return errors.Newf("duplicate entry").Category(errors.CategoryConflict).Build()
	}
	d.Email = email
	f.byID[d.ID] = d
	f.byEmail[email] = d
	return nil
}

func (f *fakeDoctors) GetDoctor(_ context.Context, id string) (*datastore.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.byID[id]; ok {
		return d, nil
	}
	return nil, notFound()
}

func (f *fakeDoctors) GetDoctorByEmail(_ context.Context, email string) (*datastore.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.byEmail[strings.ToLower(email)]; ok {
		return d, nil
	}
	return nil, notFound()
}

func newTestService(t *testing.T, revocations RevocationStore, perMinute int) (*Service, *fakeDoctors) {
	t.Helper()
	store := newFakeDoctors()
	svc, err := NewService(Config{
		Secret:         []byte("0123456789abcdef0123456789abcdef"),
		SessionTTL:     time.Hour,
		BcryptCost:     bcrypt.MinCost,
		LoginPerMinute: perMinute,
	}, store, revocations, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	doctor, err := svc.Register(ctx, " dr. Rina ", "Rina@Clinic.test", "secret123")
	require.NoError(t, err)
	assert.Len(t, doctor.ID, 36)
	assert.Equal(t, "dr. Rina", doctor.FullName)
	assert.NotEqual(t, "secret123", doctor.PasswordHash)

	session, err := svc.Login(ctx, "rina@clinic.test", "secret123")
	require.NoError(t, err)
	assert.Equal(t, doctor.ID, session.Doctor.ID)
	assert.NotEmpty(t, session.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	resolved, err := svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, doctor.ID, resolved.Doctor.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	tests := []struct{ name, fullName, email, password string }{
		{"missing name", "", "a@b.test", "secret123"},
		{"bad email", "dr. A", "not-an-email", "secret123"},
		{"short password", "dr. A", "a@b.test", "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.fullName, tt.email, tt.password)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dr. A", "a@b.test", "secret123")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "dr. B", "A@B.test", "secret456")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	ctx := context.Background()
	_, err := svc.Register(ctx, "dr. A", "a@b.test", "secret123")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@b.test", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@b.test", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuth))
}

func TestLoginRateLimited(t *testing.T) {
	svc, _ := newTestService(t, nil, 2)
	ctx := context.Background()

	for range 2 {
		_, err := svc.Login(ctx, "a@b.test", "x")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Login(ctx, "A@B.test", "x")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Login(ctx, "other@b.test", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "limits are per email")
}

func TestAuthenticateRejects(t *testing.T) {
	svc, store := newTestService(t, nil, 0)
	ctx := context.Background()
	doctor, err := svc.Register(ctx, "dr. A", "a@b.test", "secret123")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "a@b.test", "secret123")
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "")
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("tampered signature", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, session.Token+"x")
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewService(Config{Secret: []byte("fedcba9876543210fedcba9876543210")},
			store, nil, logger.NewNopLogger())
		require.NoError(t, err)
		_, err = other.Authenticate(ctx, session.Token)
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { svc.now = time.Now }()
		_, err := svc.Authenticate(ctx, session.Token)
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("deleted doctor", func(t *testing.T) {
		store.mu.Lock()
		delete(store.byID, doctor.ID)
		store.mu.Unlock()
		_, err := svc.Authenticate(ctx, session.Token)
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})
}

func TestLogoutRevokesInMemory(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)
	assertLogoutRevokes(t, svc)
}

func TestLogoutRevokesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc, _ := newTestService(t, NewRedisRevocations(client), 0)

	token := assertLogoutRevokes(t, svc)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], redisRevocationPrefix))
	assert.Greater(t, mr.TTL(keys[0]), 50*time.Minute)
	assert.NotEmpty(t, token)
}

func assertLogoutRevokes(t *testing.T, svc *Service) string {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Register(ctx, "dr. A", "a@b.test", "secret123")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "a@b.test", "secret123")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, session.Token))
	_, err = svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	fresh, err := svc.Login(ctx, "a@b.test", "secret123")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, fresh.Token)
	assert.NoError(t, err, "a new login is unaffected")
	return session.Token
}

func TestRedisRevocationsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc, _ := newTestService(t, NewRedisRevocations(client), 0)
	ctx := context.Background()
	_, err := svc.Register(ctx, "dr. A", "a@b.test", "secret123")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "a@b.test", "secret123")
	require.NoError(t, err)

	mr.Close()
	_, err = svc.Authenticate(ctx, session.Token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionInvalid)
	assert.True(t, errors.IsCategory(err, errors.CategorySystem))
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{Secret: []byte("short")}, newFakeDoctors(), nil, logger.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestCookieSessions(t *testing.T) {
	cookies := NewCookieSessions([]byte("0123456789abcdef0123456789abcdef"), false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	require.NoError(t, cookies.Save(rec, req, "tok-123", time.Now().Add(time.Hour)))

	res := rec.Result()
	defer res.Body.Close()
	require.Len(t, res.Cookies(), 1)
	cookie := res.Cookies()[0]
	assert.Equal(t, cookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)

	next := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil)
	next.AddCookie(cookie)
	assert.Equal(t, "tok-123", cookies.Token(next))

	assert.Empty(t, cookies.Token(httptest.NewRequest(http.MethodGet, "/", nil)))

	tampered := httptest.NewRequest(http.MethodGet, "/", nil)
	tampered.AddCookie(&http.Cookie{Name: cookieName, Value: cookie.Value + "x"})
	assert.Empty(t, cookies.Token(tampered))

	clearRec := httptest.NewRecorder()
	require.NoError(t, cookies.Clear(clearRec, next))
	cleared := clearRec.Result()
	defer cleared.Body.Close()
	require.Len(t, cleared.Cookies(), 1)
	assert.Negative(t, cleared.Cookies()[0].MaxAge)
}
