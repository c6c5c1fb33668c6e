package echo_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	echoapi "go.pilab.hu/socialcore/api/echo"
	"go.pilab.hu/socialcore/domain"
	"go.pilab.hu/socialcore/dto"
	serrors "go.pilab.hu/socialcore/errors"
	"go.pilab.hu/socialcore/posts"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) State() domain.SessionState {
	return m.Called().Get(0).(domain.SessionState)
}

func (m *MockSessionService) SignUp(ctx context.Context, email, password, name, username string) error {
	return m.Called(ctx, email, password, name, username).Error(0)
}

func (m *MockSessionService) SignIn(ctx context.Context, email, password string) error {
	return m.Called(ctx, email, password).Error(0)
}

func (m *MockSessionService) SignInWithGoogle(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSessionService) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSessionService) ResetPassword(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockSessionService) RefreshProfile(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockResetConfirmer struct {
	mock.Mock
}

func (m *MockResetConfirmer) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

type MockPostCreator struct {
	mock.Mock
}

func (m *MockPostCreator) Create(ctx context.Context, uid, caption string, media []posts.MediaInput) (*domain.Post, error) {
	args := m.Called(ctx, uid, caption, media)
	p, _ := args.Get(0).(*domain.Post)
	return p, args.Error(1)
}

var signedIn = domain.SessionState{
	Identity: &domain.Identity{UID: "u1", Email: "ann@x.io"},
	Profile:  &domain.Profile{UID: "u1", Username: "ann", PostsCount: 2},
}

func setup(t *testing.T, opts *echoapi.SessionAPIOptions) *echo.Echo {
	t.Helper()
	e := echo.New()
	echoapi.NewSessionAPI(opts).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorBody {
	t.Helper()
	var body struct {
		Error dto.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestStateHandler(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("State").Return(signedIn)
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions})

	rec := do(e, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u1", got.Identity.UID)
	assert.Equal(t, int64(2), got.Profile.PostsCount)
	assert.False(t, got.Loading)
}

func TestSignUpHandler(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("SignUp", mock.Anything, "ann@x.io", "secret1", "Ann", "ann").Return(nil)
	sessions.On("State").Return(signedIn)
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions})

	rec := do(e, http.MethodPost, "/session/signup",
		`{"email":"ann@x.io","password":"secret1","name":"Ann","username":"ann"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	sessions.AssertExpectations(t)
}

func TestSignUpHandler_EmailInUse(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("SignUp", mock.Anything, "ann@x.io", "secret1", "", "").
		Return(serrors.NewAuthError(serrors.EmailAlreadyInUse, "email already registered", nil))
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions})

	rec := do(e, http.MethodPost, "/session/signup", `{"email":"ann@x.io","password":"secret1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "auth", body.Kind)
	assert.Equal(t, "email-already-in-use", body.Code)
}

func TestSignInHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad credential", serrors.NewAuthError(serrors.InvalidCredential, "wrong", nil), http.StatusUnauthorized, "invalid-credential"},
		{"network", serrors.NewAuthError(serrors.Network, "offline", nil), http.StatusServiceUnavailable, "network"},
		{"store", serrors.NewStoreError(serrors.PermissionDenied, "denied", nil), http.StatusForbidden, "permission-denied"},
		{"untagged", assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &MockSessionService{}
			sessions.On("SignIn", mock.Anything, "a@x.io", "pw").Return(tt.err)
			e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions})

			rec := do(e, http.MethodPost, "/session/signin", `{"email":"a@x.io","password":"pw"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestSignInHandler_BadBody(t *testing.T) {
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: &MockSessionService{}})
	rec := do(e, http.MethodPost, "/session/signin", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad-request", decodeError(t, rec).Code)
}

func TestGoogleAndLogout(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("SignInWithGoogle", mock.Anything).Return(nil)
	sessions.On("Logout", mock.Anything).Return(nil)
	sessions.On("State").Return(domain.SessionState{})
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions})

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/session/google", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/session/logout", "").Code)
	sessions.AssertExpectations(t)
}

func TestPasswordResetHandlers(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("ResetPassword", mock.Anything, "a@x.io").Return(nil)
	resets := &MockResetConfirmer{}
	resets.On("ConfirmPasswordReset", mock.Anything, "tok", "new-secret").Return(nil)
	resets.On("ConfirmPasswordReset", mock.Anything, "stale", "new-secret").
		Return(serrors.NewAuthError(serrors.InvalidResetToken, "expired", nil))
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions, Resets: resets})

	assert.Equal(t, http.StatusAccepted, do(e, http.MethodPost, "/session/password-reset", `{"email":"a@x.io"}`).Code)
	assert.Equal(t, http.StatusNoContent,
		do(e, http.MethodPost, "/session/password-reset/confirm", `{"token":"tok","newPassword":"new-secret"}`).Code)

	rec := do(e, http.MethodPost, "/session/password-reset/confirm", `{"token":"stale","newPassword":"new-secret"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid-reset-token", decodeError(t, rec).Code)
}

func TestConfirmReset_NotRegisteredWithoutConfirmer(t *testing.T) {
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: &MockSessionService{}})
	rec := do(e, http.MethodPost, "/session/password-reset/confirm", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartPost(t *testing.T, caption string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("caption", caption))
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="media"; filename="`+name+`"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/posts", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestCreatePostHandler(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("State").Return(signedIn)
	sessions.On("RefreshProfile", mock.Anything).Return(nil)
	creator := &MockPostCreator{}
	creator.On("Create", mock.Anything, "u1", "hello", mock.MatchedBy(func(in []posts.MediaInput) bool {
		return len(in) == 1 && in[0].ContentType == "image/png"
	})).Return(&domain.Post{ID: "p1", UserID: "u1", Caption: "hello"}, nil)
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions, Posts: creator})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, multipartPost(t, "hello", map[string]string{"a.png": "png-bytes"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var post domain.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &post))
	assert.Equal(t, "p1", post.ID)
	creator.AssertExpectations(t)
	sessions.AssertCalled(t, "RefreshProfile", mock.Anything)
}

func TestCreatePostHandler_SignedOut(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("State").Return(domain.SessionState{})
	creator := &MockPostCreator{}
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions, Posts: creator})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, multipartPost(t, "hello", map[string]string{"a.png": "x"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	creator.AssertNotCalled(t, "Create")
}

func TestCreatePostHandler_NoMedia(t *testing.T) {
	sessions := &MockSessionService{}
	sessions.On("State").Return(signedIn)
	creator := &MockPostCreator{}
	creator.On("Create", mock.Anything, "u1", "hello", mock.Anything).Return(nil, posts.ErrNoMedia)
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: sessions, Posts: creator})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, multipartPost(t, "hello", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	sessions.AssertNotCalled(t, "RefreshProfile", mock.Anything)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "socialcore_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	e := setup(t, &echoapi.SessionAPIOptions{Sessions: &MockSessionService{}, Gatherer: reg})
	rec := do(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "socialcore_test_total 1")
}

func TestHealthHandler(t *testing.T) {
	e := setup(t, &echoapi.SessionAPIOptions{Sessions: &MockSessionService{}})
	assert.Equal(t, http.StatusNoContent, do(e, http.MethodGet, "/healthz", "").Code)
}
