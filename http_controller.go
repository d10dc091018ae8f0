package auth

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// SocialAuthenticator is the contract the controller uses for social
// logins; the oauth package provides the implementation.
type SocialAuthenticator interface {
	LoginBearer(ctx context.Context, provider, authorizationHeader string) (*User, bool, error)
}

// GetRouterSession builds a SessionObject from the claims the JWT
// middleware stashed in the router context.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	claims, ok := GetRouterClaims(c, key)
	if !ok {
		return nil, ErrTokenMissing
	}
	return sessionFromAuthClaims(claims)
}

// RegisterAuthRoutes mounts the full authentication surface on the
// given router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login.post")
	app.Get(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login.get")

	app.Post(controller.Routes.OAuth, controller.OAuthLogin).
		SetName("auth.oauth.post")

	app.Get(controller.Routes.Logout, controller.Logout).
		SetName("auth.logout.get")

	app.Post(controller.Routes.Refresh, controller.RefreshToken).
		SetName("auth.refresh.post")
	app.Get(controller.Routes.Refresh, controller.RefreshShow).
		SetName("auth.refresh.get")

	app.Get(fmt.Sprintf("%s/:token", controller.Routes.ConfirmEmail), controller.ConfirmEmail).
		SetName("auth.confirm-email.get")

	app.Post(controller.Routes.PasswordForgot, controller.PasswordForgot).
		SetName("auth.pwd-forgot.post")
	app.Post(controller.Routes.PasswordReset, controller.PasswordReset).
		SetName("auth.pwd-reset.post")

	app.Post(controller.Routes.Register, controller.Register).
		SetName("auth.register.post")
}

type AuthControllerRoutes struct {
	Login          string
	OAuth          string
	Logout         string
	Refresh        string
	ConfirmEmail   string
	PasswordForgot string
	PasswordReset  string
	Register       string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Auther       *RouteAuthenticator
	Tokens       TokenService
	Mail         *MailService
	Config       Config
	Activity     ActivitySink
	Social       SocialAuthenticator
	Routes       *AuthControllerRoutes
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:   defLogger{},
		Activity: noopActivitySink{},
		Routes: &AuthControllerRoutes{
			Login:          "/login",
			OAuth:          "/oauth/:provider",
			Logout:         "/logout",
			Refresh:        "/token/refresh",
			ConfirmEmail:   "/confirm/email",
			PasswordForgot: "/password/forgot",
			PasswordReset:  "/password/reset",
			Register:       "/register",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in auth controller...")
	}

	if c.Config == nil {
		panic("Missing Config in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.jsonError
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession will return the remember-me flag
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// LoginPost accepts credentials in the JSON body or as a Basic
// Authorization header and installs the session cookies on success.
func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	// Basic-auth clients send no body at all.
	_ = ctx.Bind(payload)

	if payload.Identifier == "" {
		if username, password, ok := ParseBasicAuth(ctx.Header(router.HeaderAuthorization)); ok {
			payload.Identifier = username
			payload.Password = password
		}
	}

	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("login attempt: %s", payload.Identifier)
	}

	identity, err := a.Auther.Login(ctx, payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	user, err := a.Repo.Users().GetByPublicID(ctx.Context(), identity.ID())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"login":   true,
		"message": MsgLoginSuccessful,
		"user":    SerializeUser(user),
	})
}

// OAuthLogin resolves a provider profile carried as a bearer payload
// and starts a session for the matched or newly created account.
func (a *AuthController) OAuthLogin(ctx router.Context) error {
	if a.Social == nil {
		return a.ErrorHandler(ctx, ErrUnsupportedProvider)
	}

	provider := ctx.Param("provider")

	user, isNew, err := a.Social.LoginBearer(ctx.Context(), provider, ctx.Header(router.HeaderAuthorization))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := a.Auther.IssueSession(ctx, NewIdentityFromUser(user)); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"login":    true,
		"message":  MsgLoginSuccessful,
		"new_user": isNew,
		"user":     SerializeUser(user),
	})
}

// Logout clears the session cookies.
func (a *AuthController) Logout(ctx router.Context) error {
	a.Auther.Logout(ctx)

	_ = a.Activity.Record(ctx.Context(), ActivityEvent{
		EventType: ActivityEventLogout,
	})

	return ctx.JSON(router.StatusOK, map[string]any{
		"logout": true,
	})
}

// RefreshToken rotates the access cookie off the refresh cookie.
func (a *AuthController) RefreshToken(ctx router.Context) error {
	if err := a.Auther.Refresh(ctx); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"refresh": true,
	})
}

// RefreshShow returns the CSRF tag bound to the refresh cookie so a
// reloaded frontend can call the refresh endpoint again.
func (a *AuthController) RefreshShow(ctx router.Context) error {
	raw := ctx.Cookies(CookieRefreshToken)
	if raw == "" {
		return a.ErrorHandler(ctx, ErrTokenMissing)
	}

	claims, err := a.Tokens.ValidateRefresh(raw)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"csrf": claims.CSRF(),
	})
}

// ConfirmEmail activates the account named by the confirmation link
// and logs it in.
func (a *AuthController) ConfirmEmail(ctx router.Context) error {
	var user *User

	handler := NewConfirmEmailHandler(a.Repo, a.Tokens).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	err := handler.Execute(ctx.Context(), ConfirmEmailMessage{
		Token: ctx.Param("token"),
		OnResponse: func(u *User) {
			user = u
		},
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := a.Auther.IssueSession(ctx, NewIdentityFromUser(user)); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"confirmed": true,
		"user":      SerializeUser(user),
	})
}

// PasswordForgotPayload carries the account lookup key.
type PasswordForgotPayload struct {
	Identifier string `form:"identifier" json:"identifier"`
}

// Validate will run validation rules
func (r PasswordForgotPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			validation.Length(1, 100),
		),
	)
}

// PasswordForgot starts the reset flow. The response is the same
// whether or not the account exists.
func (a *AuthController) PasswordForgot(ctx router.Context) error {
	payload := new(PasswordForgotPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	var res *InitializePasswordResetResponse

	handler := NewInitializePasswordResetHandler(a.Repo, a.Tokens, a.Mail, a.Config).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	err := handler.Execute(ctx.Context(), InitializePasswordResetMessage{
		Identifier: payload.Identifier,
		OnResponse: func(r *InitializePasswordResetResponse) {
			res = r
		},
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": res.Success,
		"message": res.Message,
	})
}

// PasswordResetPayload carries the reset token plus the new secret.
type PasswordResetPayload struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r PasswordResetPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// PasswordReset finishes the flow started by PasswordForgot.
func (a *AuthController) PasswordReset(ctx router.Context) error {
	payload := new(PasswordResetPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	handler := NewFinalizePasswordResetHandler(a.Repo, a.Tokens).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	err := handler.Execute(ctx.Context(), FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.Password,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"reset": true,
	})
}

// RegisterPayload is the signup body.
type RegisterPayload struct {
	Name            string `form:"name" json:"name"`
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	Picture         string `form:"picture" json:"picture"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Username, validation.Length(3, 64)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// Register creates the account and sends the confirmation email.
func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("register: %s", print.MaybePrettyJSON(map[string]string{
			"email":    payload.Email,
			"username": payload.Username,
		}))
	}

	var user *User

	handler := NewRegisterUserHandler(a.Repo, a.Tokens, a.Mail, a.Config).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	err := handler.Execute(ctx.Context(), RegisterUserMessage{
		Name:     payload.Name,
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		Picture:  payload.Picture,
		OnResponse: func(u *User) {
			user = u
		},
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, map[string]any{
		"registered": true,
		"user":       SerializeUser(user),
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field to message map for JSON responses.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	out["payload"] = err.Error()
	return out
}

func (a *AuthController) validationError(ctx router.Context, err error) error {
	return ctx.JSON(router.StatusBadRequest, map[string]any{
		"error":      "validation failed",
		"validation": FormatValidationErrorToMap(err),
	})
}

func (a *AuthController) jsonError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected error occurred").
			WithCode(goerrors.CodeInternal)
	}

	a.Logger.Error("request error on %s: %s (%s)", ctx.Path(), richErr.Message, richErr.TextCode)

	return ctx.JSON(HTTPStatus(richErr), map[string]any{
		"error": richErr.Message,
		"code":  richErr.TextCode,
	})
}
