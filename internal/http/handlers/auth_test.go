package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/solace-be/internal/auth"
	"github.com/hongminglow/solace-be/internal/config"
	"github.com/hongminglow/solace-be/internal/http/respond"
	"github.com/hongminglow/solace-be/internal/logging"
	"github.com/hongminglow/solace-be/internal/mail"
	"github.com/hongminglow/solace-be/internal/models/dto"
	"github.com/hongminglow/solace-be/internal/storage/memory"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	err   error
	block bool
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.block {
		<-ctx.Done()
		return errors.Join(mail.ErrDeliveryFailed, ctx.Err())
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) messages() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mux    *http.ServeMux
	store  *memory.Store
	hasher *auth.Hasher
	mailer *fakeMailer
	clock  *testClock
	cfg    *config.Config
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		Env:           "development",
		FrontendURL:   "http://localhost:3000",
		CORSOrigins:   []string{"*"},
		ResetTokenTTL: time.Hour,
		Mail:          config.MailConfig{Timeout: time.Second},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	hasher, err := auth.NewHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)
	store := memory.New()
	clock := &testClock{now: time.Now().UTC()}
	resets := auth.NewResetTokens(store, hasher, cfg.ResetTokenTTL, auth.WithClock(clock.Now))
	mailer := &fakeMailer{}

	mux := http.NewServeMux()
	NewAuthHandler(store, hasher, resets, mailer, cfg, logging.Discard()).Register(mux)
	NewHealthHandler(time.Now(), store, logging.Discard()).Register(mux)
	mux.HandleFunc("/", NotFound)

	return &fixture{mux: mux, store: store, hasher: hasher, mailer: mailer, clock: clock, cfg: cfg}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signup(t *testing.T, username, email, password string) dto.UserView {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/signup", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[dto.AuthResponse](t, rec).User
}

var tokenInLink = regexp.MustCompile(`/reset-password/([0-9a-f]+)`)

// requestReset runs forgot-password and returns the token from the email.
func (f *fixture) requestReset(t *testing.T, email string) string {
	t.Helper()
	before := len(f.mailer.messages())
	rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msgs := f.mailer.messages()
	require.Len(t, msgs, before+1)
	m := tokenInLink.FindStringSubmatch(msgs[len(msgs)-1].body)
	require.Len(t, m, 2, "reset link missing from email body")
	return m[1]
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code, message string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeAs[respond.ErrorBody](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, code, body.Code)
	if message != "" {
		assert.Equal(t, message, body.Error)
	}
}

func TestSignup(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/signup", map[string]string{
		"username": "ana", "email": "Ana@Example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter22")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "password")

	resp := decodeAs[dto.AuthResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "User created successfully", resp.Message)
	assert.NotEmpty(t, resp.User.ID)
	assert.Equal(t, "ana", resp.User.Username)
	assert.Equal(t, "ana@example.com", resp.User.Email)

	stored, err := f.store.FindByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", stored.PasswordHash)
	ok, err := f.hasher.Verify(context.Background(), "hunter22", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		body any
		msg  string
	}{
		{"missing username", map[string]string{"email": "a@example.com", "password": "hunter22"}, "All fields are required"},
		{"missing email", map[string]string{"username": "ana", "password": "hunter22"}, "All fields are required"},
		{"missing password", map[string]string{"username": "ana", "email": "a@example.com"}, "All fields are required"},
		{"blank username", map[string]string{"username": "   ", "email": "a@example.com", "password": "hunter22"}, "All fields are required"},
		{"short username", map[string]string{"username": "an", "email": "a@example.com", "password": "hunter22"}, ""},
		{"bad email", map[string]string{"username": "ana", "email": "not-an-email", "password": "hunter22"}, ""},
		{"short password", map[string]string{"username": "ana", "email": "a@example.com", "password": "short"}, ""},
		{"malformed json", `{"username":`, "Invalid JSON payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/signup", tc.body)
			assertError(t, rec, http.StatusBadRequest, "validation_error", tc.msg)
		})
	}

	_, err := f.store.FindByEmail(context.Background(), "a@example.com")
	assert.Error(t, err, "no user may be created by a rejected signup")
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/signup", map[string]string{
		"username": "other", "email": "ANA@example.com", "password": "different1",
	})
	assertError(t, rec, http.StatusConflict, "duplicate_email", "Email already in use")
}

func TestSignupConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)
	const workers = 8

	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := f.do(t, http.MethodPost, "/api/signup", map[string]string{
				"username": "racer", "email": "race@example.com", "password": "hunter22",
			})
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	var created, conflicts int
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	user := f.signup(t, "ana", "ana@example.com", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/login", map[string]string{"email": " ANA@example.com ", "password": "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[dto.AuthResponse](t, rec)
	assert.Equal(t, "Login successful", resp.Message)
	assert.Equal(t, user, resp.User)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")

	wrong := f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ana@example.com", "password": "hunter23"})
	unknown := f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "bob@example.com", "password": "hunter22"})

	assertError(t, wrong, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
	assertError(t, unknown, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestSignupThenLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/signup", map[string]string{
		"username": "ann123", "email": "ann@example.com", "password": "Secret1!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[dto.AuthResponse](t, rec)
	require.NotEmpty(t, created.User.ID)
	assert.Equal(t, "ann123", created.User.Username)
	assert.Equal(t, "ann@example.com", created.User.Email)

	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ann@example.com", "password": "Secret1!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loggedIn := decodeAs[dto.AuthResponse](t, rec)
	assert.True(t, loggedIn.Success)
	assert.Equal(t, created.User.ID, loggedIn.User.ID)

	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ann@example.com", "password": "Secret2!"})
	assertError(t, rec, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)
	for _, body := range []map[string]string{
		{"email": "ana@example.com"},
		{"password": "hunter22"},
		{},
	} {
		rec := f.do(t, http.MethodPost, "/api/login", body)
		assertError(t, rec, http.StatusBadRequest, "validation_error", "Email and password are required")
	}
}

func TestForgotPasswordSendsLink(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")
	issuedAt := f.clock.Now()

	rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "Ana@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[dto.MessageResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Password reset email sent", resp.Message)

	msgs := f.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ana@example.com", msgs[0].to)
	assert.Equal(t, mail.ResetSubject, msgs[0].subject)
	assert.Contains(t, msgs[0].body, "http://localhost:3000/reset-password/")

	token := tokenInLink.FindStringSubmatch(msgs[0].body)[1]
	assert.GreaterOrEqual(t, len(token), 40, "at least 20 bytes of entropy")

	stored, err := f.store.FindByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.ResetToken)
	require.NotNil(t, stored.ResetTokenExpiry)
	assert.Equal(t, auth.DigestResetToken(token), *stored.ResetToken)
	assert.NotEqual(t, token, *stored.ResetToken)
	assert.WithinDuration(t, issuedAt.Add(time.Hour), *stored.ResetTokenExpiry, time.Second)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "bob@example.com"})
	assertError(t, rec, http.StatusNotFound, "not_found", "No user found with this email")
	assert.Empty(t, f.mailer.messages())

	stored, err := f.store.FindByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetToken)
}

func TestForgotPasswordRequiresEmail(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "  "})
	assertError(t, rec, http.StatusBadRequest, "validation_error", "Email is required")
}

func TestForgotPasswordLinkOrigin(t *testing.T) {
	allowed := func(cfg *config.Config) {
		cfg.CORSOrigins = []string{"https://app.solace.test"}
	}

	t.Run("configured origin is used", func(t *testing.T) {
		f := newFixture(t, allowed)
		f.signup(t, "ana", "ana@example.com", "hunter22")
		rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ana@example.com"},
			"Origin", "https://app.solace.test")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, f.mailer.messages()[0].body, "https://app.solace.test/reset-password/")
	})

	t.Run("unknown origin falls back to frontend url", func(t *testing.T) {
		f := newFixture(t, allowed)
		f.signup(t, "ana", "ana@example.com", "hunter22")
		rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ana@example.com"},
			"Origin", "https://evil.test")
		require.Equal(t, http.StatusOK, rec.Code)
		body := f.mailer.messages()[0].body
		assert.Contains(t, body, "http://localhost:3000/reset-password/")
		assert.NotContains(t, body, "evil.test")
	})

	t.Run("wildcard cors never trusts origin", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "ana", "ana@example.com", "hunter22")
		rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ana@example.com"},
			"Origin", "https://evil.test")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, f.mailer.messages()[0].body, "http://localhost:3000/reset-password/")
	})
}

func TestForgotPasswordDeliveryFailure(t *testing.T) {
	t.Run("development exposes details", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "ana", "ana@example.com", "hunter22")
		f.mailer.err = errors.Join(mail.ErrDeliveryFailed, errors.New("550 mailbox unavailable"))

		rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ana@example.com"})
		assertError(t, rec, http.StatusInternalServerError, "delivery_failed", "Failed to send password reset email")
		assert.Contains(t, decodeAs[respond.ErrorBody](t, rec).Details, "550 mailbox unavailable")
	})

	t.Run("production hides details", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) { cfg.Env = "production" })
		f.signup(t, "ana", "ana@example.com", "hunter22")
		f.mailer.err = errors.Join(mail.ErrDeliveryFailed, errors.New("550 mailbox unavailable"))

		rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ana@example.com"})
		assertError(t, rec, http.StatusInternalServerError, "delivery_failed", "")
		assert.NotContains(t, rec.Body.String(), "mailbox")
		assert.NotContains(t, rec.Body.String(), "details")
	})
}

func TestForgotPasswordSendIsBounded(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Mail.Timeout = 50 * time.Millisecond })
	f.signup(t, "ana", "ana@example.com", "hunter22")
	f.mailer.block = true

	start := time.Now()
	rec := f.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ana@example.com"})
	assertError(t, rec, http.StatusInternalServerError, "delivery_failed", "")
	assert.Less(t, time.Since(start), time.Second)
}

func TestResetPasswordFlow(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")
	token := f.requestReset(t, "ana@example.com")

	rec := f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "brandnew1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[dto.MessageResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Password reset successful", resp.Message)

	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ana@example.com", "password": "brandnew1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ana@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stored, err := f.store.FindByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetToken)
	assert.Nil(t, stored.ResetTokenExpiry)

	// Single use.
	rec = f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "another12"})
	assertError(t, rec, http.StatusBadRequest, "invalid_or_expired", "Invalid or expired reset token")
}

func TestResetPasswordReissueInvalidatesOldToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")
	first := f.requestReset(t, "ana@example.com")
	second := f.requestReset(t, "ana@example.com")
	require.NotEqual(t, first, second)

	rec := f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": first, "newPassword": "brandnew1"})
	assertError(t, rec, http.StatusBadRequest, "invalid_or_expired", "")

	rec = f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": second, "newPassword": "brandnew1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetPasswordExpired(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")
	token := f.requestReset(t, "ana@example.com")

	f.clock.Advance(time.Hour + time.Second)
	rec := f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "brandnew1"})
	assertError(t, rec, http.StatusBadRequest, "invalid_or_expired", "Invalid or expired reset token")

	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ana@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusOK, rec.Code, "password must be unchanged")
}

func TestResetPasswordValidation(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")
	token := f.requestReset(t, "ana@example.com")

	rec := f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token})
	assertError(t, rec, http.StatusBadRequest, "validation_error", "Token and new password are required")

	rec = f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"newPassword": "brandnew1"})
	assertError(t, rec, http.StatusBadRequest, "validation_error", "Token and new password are required")

	rec = f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "short"})
	assertError(t, rec, http.StatusBadRequest, "validation_error", "")

	// A rejected password does not burn the token.
	rec = f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "brandnew1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetPasswordUnknownToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/reset-password", map[string]string{
		"token": strings.Repeat("0", 64), "newPassword": "brandnew1",
	})
	assertError(t, rec, http.StatusBadRequest, "invalid_or_expired", "Invalid or expired reset token")
}

func TestResetPasswordConcurrentConsume(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana", "ana@example.com", "hunter22")
	token := f.requestReset(t, "ana@example.com")

	const workers = 6
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := f.do(t, http.MethodPost, "/api/reset-password", map[string]string{"token": token, "newPassword": "brandnew1"})
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	var ok int
	for _, code := range codes {
		if code == http.StatusOK {
			ok++
		} else {
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/signup", "/api/login", "/api/forgot-password", "/api/reset-password"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assertError(t, rec, http.StatusMethodNotAllowed, "method_not_allowed", "")
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/nope", nil)
	assertError(t, rec, http.StatusNotFound, "not_found", "Route not found")
}
