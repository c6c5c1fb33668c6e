//nolint:varnamelen
package echo

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/socialcore/domain"
	"go.pilab.hu/socialcore/dto"
	serrors "go.pilab.hu/socialcore/errors"
	"go.pilab.hu/socialcore/media"
	"go.pilab.hu/socialcore/posts"
)

const defaultMaxUploadBytes = 64 << 20

// SessionService is the part of the session manager exposed over HTTP.
type SessionService interface {
	State() domain.SessionState
	SignUp(ctx context.Context, email, password, name, username string) error
	SignIn(ctx context.Context, email, password string) error
	SignInWithGoogle(ctx context.Context) error
	Logout(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	RefreshProfile(ctx context.Context) error
}

// ResetConfirmer completes a password reset started by SessionService.ResetPassword.
type ResetConfirmer interface {
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// PostCreator creates posts on behalf of the signed-in user.
type PostCreator interface {
	Create(ctx context.Context, uid, caption string, media []posts.MediaInput) (*domain.Post, error)
}

// SessionAPIOptions holds the dependencies of SessionAPI. Only Sessions is required.
type SessionAPIOptions struct {
	Sessions       SessionService
	Resets         ResetConfirmer
	Posts          PostCreator
	Gatherer       prometheus.Gatherer
	MaxUploadBytes int64
}

// SessionAPI serves the session state and its operations as JSON.
type SessionAPI struct {
	sessions       SessionService
	resets         ResetConfirmer
	posts          PostCreator
	gatherer       prometheus.Gatherer
	maxUploadBytes int64
}

// NewSessionAPI initializes the session API.
func NewSessionAPI(opts *SessionAPIOptions) *SessionAPI {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &SessionAPI{
		sessions:       opts.Sessions,
		resets:         opts.Resets,
		posts:          opts.Posts,
		gatherer:       opts.Gatherer,
		maxUploadBytes: maxUpload,
	}
}

// RegisterRoutes registers the session routes.
func (sa *SessionAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", sa.HealthHandler)

	g := e.Group("/session")
	g.GET("", sa.StateHandler)
	g.POST("/signup", sa.SignUpHandler)
	g.POST("/signin", sa.SignInHandler)
	g.POST("/google", sa.GoogleHandler)
	g.POST("/logout", sa.LogoutHandler)
	g.POST("/password-reset", sa.ResetPasswordHandler)
	g.POST("/profile/refresh", sa.RefreshProfileHandler)

	if sa.resets != nil {
		g.POST("/password-reset/confirm", sa.ConfirmResetHandler)
	}
	if sa.posts != nil {
		e.POST("/posts", sa.CreatePostHandler)
	}
	if sa.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(sa.gatherer, promhttp.HandlerOpts{})))
	}
}

func (sa *SessionAPI) HealthHandler(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// StateHandler returns the current session state.
func (sa *SessionAPI) StateHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, sa.sessions.State())
}

// SignUpHandler creates an account with its profile and returns the new state.
func (sa *SessionAPI) SignUpHandler(c echo.Context) error {
	var req dto.SignUpRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := sa.sessions.SignUp(c.Request().Context(), req.Email, req.Password, req.Name, req.Username); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sa.sessions.State())
}

// SignInHandler signs in with email and password.
func (sa *SessionAPI) SignInHandler(c echo.Context) error {
	var req dto.SignInRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := sa.sessions.SignIn(c.Request().Context(), req.Email, req.Password); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sa.sessions.State())
}

// GoogleHandler runs the federated Google sign-in and blocks until it completes.
func (sa *SessionAPI) GoogleHandler(c echo.Context) error {
	if err := sa.sessions.SignInWithGoogle(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sa.sessions.State())
}

func (sa *SessionAPI) LogoutHandler(c echo.Context) error {
	if err := sa.sessions.Logout(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sa.sessions.State())
}

// ResetPasswordHandler always answers 202 on success, whether or not a
// message was actually sent.
func (sa *SessionAPI) ResetPasswordHandler(c echo.Context) error {
	var req dto.PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := sa.sessions.ResetPassword(c.Request().Context(), req.Email); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (sa *SessionAPI) ConfirmResetHandler(c echo.Context) error {
	var req dto.ConfirmPasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := sa.resets.ConfirmPasswordReset(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RefreshProfileHandler re-reads the signed-in user's profile.
func (sa *SessionAPI) RefreshProfileHandler(c echo.Context) error {
	if err := sa.sessions.RefreshProfile(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sa.sessions.State())
}

// CreatePostHandler accepts a multipart form with a "caption" field and one
// or more "media" files, and creates the post as the signed-in user.
func (sa *SessionAPI) CreatePostHandler(c echo.Context) error {
	state := sa.sessions.State()
	if state.Identity == nil {
		return c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: dto.ErrorBody{
			Code:    "unauthenticated",
			Message: "sign in to create posts",
		}})
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, sa.maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "invalid multipart form")
	}
	defer func() { _ = form.RemoveAll() }()

	inputs, closeAll, err := openMedia(form.File["media"])
	defer closeAll()
	if err != nil {
		return badRequest(c, "unreadable media file")
	}

	post, err := sa.posts.Create(req.Context(), state.Identity.UID, c.FormValue("caption"), inputs)
	if err != nil {
		return writeError(c, err)
	}

	if err := sa.sessions.RefreshProfile(req.Context()); err != nil {
		log.Warn().Err(err).Str("uid", state.Identity.UID).Msg("Failed to refresh profile after post")
	}
	return c.JSON(http.StatusCreated, post)
}

func openMedia(files []*multipart.FileHeader) ([]posts.MediaInput, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	inputs := make([]posts.MediaInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		inputs = append(inputs, posts.MediaInput{Body: f, ContentType: fh.Header.Get("Content-Type")})
	}
	return inputs, closeAll, nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: dto.ErrorBody{Code: "bad-request", Message: msg}})
}

func writeError(c echo.Context, err error) error {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.JSON(status, dto.ErrorResponse{Error: body})
}

func classify(err error) (int, dto.ErrorBody) {
	var tagged *serrors.Error
	if errors.As(err, &tagged) {
		return statusForCode(tagged.Code), dto.ErrorBody{
			Kind:    string(tagged.Kind),
			Code:    string(tagged.Code),
			Message: tagged.Message,
		}
	}

	switch {
	case errors.Is(err, posts.ErrNoMedia), errors.Is(err, posts.ErrCaptionTooLong), errors.Is(err, media.ErrEmptyMedia):
		return http.StatusBadRequest, dto.ErrorBody{Code: "bad-request", Message: err.Error()}
	case errors.Is(err, media.ErrMediaTooLarge):
		return http.StatusRequestEntityTooLarge, dto.ErrorBody{Code: "too-large", Message: err.Error()}
	case errors.Is(err, posts.ErrProfileNotFound):
		return http.StatusConflict, dto.ErrorBody{Code: "profile-missing", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, dto.ErrorBody{Code: "timeout", Message: "request did not complete in time"}
	}
	return http.StatusInternalServerError, dto.ErrorBody{Code: "internal", Message: "internal server error"}
}

func statusForCode(code serrors.Code) int {
	switch code {
	case serrors.InvalidCredential:
		return http.StatusUnauthorized
	case serrors.InvalidEmail, serrors.WeakPassword, serrors.InvalidResetToken:
		return http.StatusBadRequest
	case serrors.EmailAlreadyInUse, serrors.AlreadyExists:
		return http.StatusConflict
	case serrors.UserNotFound, serrors.NotFound:
		return http.StatusNotFound
	case serrors.OperationNotAllowed, serrors.PermissionDenied:
		return http.StatusForbidden
	case serrors.FederationFailed:
		return http.StatusBadGateway
	case serrors.Network, serrors.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
