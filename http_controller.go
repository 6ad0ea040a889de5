package session

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// AuthControllerRoutes are the mounted endpoint paths
type AuthControllerRoutes struct {
	Register       string
	Login          string
	Refresh        string
	Logout         string
	Me             string
	ChangePassword string
}

// AuthController exposes the token lifecycle over JSON endpoints
type AuthController struct {
	Debug      bool
	Logger     Logger
	Auther     *Auther
	Routes     *AuthControllerRoutes
	ContextKey string
}

// AuthControllerOption customizes the controller
type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger overrides the logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerAuther sets the authenticator
func WithControllerAuther(auther *Auther) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

// WithControllerDebug enables payload dumps
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

// NewAuthController builds a controller with default routes
func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		ContextKey: "user",
		Routes: &AuthControllerRoutes{
			Register:       "/auth/register",
			Login:          "/auth/login",
			Refresh:        "/auth/refresh",
			Logout:         "/auth/logout",
			Me:             "/auth/me",
			ChangePassword: "/auth/change-password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the public endpoints. Protected endpoints (me,
// change-password) are mounted separately behind the bearer gate via
// RegisterProtectedRoutes.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController) {
	app.Post(controller.Routes.Register, controller.RegisterPost)
	app.Post(controller.Routes.Login, controller.LoginPost)
	app.Post(controller.Routes.Refresh, controller.RefreshPost)
	app.Post(controller.Routes.Logout, controller.LogoutPost)
}

// RegisterProtectedRoutes mounts the endpoints that require a verified bearer
// token; gate is the bearer middleware built over this controller's validator.
func RegisterProtectedRoutes(app fiber.Router, controller *AuthController, gate fiber.Handler) {
	app.Get(controller.Routes.Me, gate, controller.MeGet)
	app.Post(controller.Routes.ChangePassword, gate, controller.ChangePasswordPost)
}

// RegisterRequest is the registration payload
type RegisterRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	BuildingName  string `json:"buildingName"`
	BuildingOwner string `json:"buildingOwner"`
}

// GetName returns the display name
func (r RegisterRequest) GetName() string { return r.Name }

// GetEmail returns the email
func (r RegisterRequest) GetEmail() string { return r.Email }

// GetPassword returns the password
func (r RegisterRequest) GetPassword() string { return r.Password }

// GetProfileFields returns optional profile attributes
func (r RegisterRequest) GetProfileFields() map[string]string {
	return map[string]string{
		"buildingName":  r.BuildingName,
		"buildingOwner": r.BuildingOwner,
	}
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, 100)),
	)
}

// LoginRequest is the login payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest carries the opaque refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// ChangePasswordRequest carries the current and replacement passwords
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, 100)),
	)
}

type tokenPairResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int        `json:"expiresIn"`
	User         PublicUser `json:"user"`
}

type userResponse struct {
	User PublicUser `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterPost handles POST /auth/register
func (a *AuthController) RegisterPost(ctx *fiber.Ctx) error {
	payload := new(RegisterRequest)

	if err := ctx.BodyParser(payload); err != nil {
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, "invalid request body")
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, err.Error())
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	pair, err := a.Auther.Register(ctx.UserContext(), payload)
	if err != nil {
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(newTokenPairResponse(pair))
}

// LoginPost handles POST /auth/login
func (a *AuthController) LoginPost(ctx *fiber.Ctx) error {
	payload := new(LoginRequest)

	if err := ctx.BodyParser(payload); err != nil {
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, "invalid request body")
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, err.Error())
	}

	pair, err := a.Auther.Login(ctx.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(newTokenPairResponse(pair))
}

// RefreshPost handles POST /auth/refresh
func (a *AuthController) RefreshPost(ctx *fiber.Ctx) error {
	payload := new(RefreshRequest)

	if err := ctx.BodyParser(payload); err != nil {
		return a.respondError(ctx, fiber.StatusUnauthorized, "invalid refresh token")
	}

	pair, err := a.Auther.Refresh(ctx.UserContext(), payload.RefreshToken)
	if err != nil {
		// Reuse detection has already revoked the user's tokens by the
		// time we get here; the response stays an opaque 401 either way.
		if IsReuseDetected(err) {
			a.Logger.Warn("refresh token reuse detected")
		}
		return a.respondError(ctx, fiber.StatusUnauthorized, "invalid or expired refresh token")
	}

	return ctx.JSON(newTokenPairResponse(pair))
}

// LogoutPost handles POST /auth/logout. Always answers 204: logout is best
// effort and the client does not act on its outcome.
func (a *AuthController) LogoutPost(ctx *fiber.Ctx) error {
	payload := new(RefreshRequest)

	if err := ctx.BodyParser(payload); err == nil && payload.RefreshToken != "" {
		if err := a.Auther.Logout(ctx.UserContext(), payload.RefreshToken); err != nil {
			a.Logger.Warn("logout revoke failed: %s", err)
		}
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// MeGet handles GET /auth/me behind the bearer gate
func (a *AuthController) MeGet(ctx *fiber.Ctx) error {
	claims, ok := ctx.Locals(a.ContextKey).(AuthClaims)
	if !ok {
		return a.respondError(ctx, fiber.StatusUnauthorized, "missing token")
	}

	user, err := a.Auther.UserFromClaims(ctx.UserContext(), claims)
	if err != nil {
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(userResponse{User: user.AsPublic()})
}

// ChangePasswordPost handles POST /auth/change-password behind the bearer gate
func (a *AuthController) ChangePasswordPost(ctx *fiber.Ctx) error {
	claims, ok := ctx.Locals(a.ContextKey).(AuthClaims)
	if !ok {
		return a.respondError(ctx, fiber.StatusUnauthorized, "missing token")
	}

	payload := new(ChangePasswordRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, "invalid request body")
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, err.Error())
	}

	userID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return a.respondError(ctx, fiber.StatusUnauthorized, "invalid or expired token")
	}

	if err := a.Auther.ChangePassword(ctx.UserContext(), userID, payload.CurrentPassword, payload.NewPassword); err != nil {
		return a.respondAuthError(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusOK)
}

func (a *AuthController) respondError(ctx *fiber.Ctx, status int, msg string) error {
	return ctx.Status(status).JSON(errorResponse{Error: msg})
}

// respondAuthError maps domain errors to HTTP statuses. Token and credential
// problems collapse into one opaque 401 body; the specific kind only reaches
// the logger.
func (a *AuthController) respondAuthError(ctx *fiber.Ctx, err error) error {
	switch {
	case IsDuplicateAccount(err):
		return a.respondError(ctx, fiber.StatusConflict, "an account with this email already exists")
	case IsWeakCredential(err):
		return a.respondError(ctx, fiber.StatusUnprocessableEntity, "password does not meet the minimum requirements")
	case IsUnauthorized(err):
		a.Logger.Info("auth request rejected: %s", failureText(err))
		return a.respondError(ctx, fiber.StatusUnauthorized, "invalid credentials or token")
	default:
		a.Logger.Error("auth request failed: %s", err)
		return a.respondError(ctx, fiber.StatusInternalServerError, "server error")
	}
}

func failureText(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return "unknown"
}

func newTokenPairResponse(pair *TokenPair) tokenPairResponse {
	res := tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}
	if pair.User != nil {
		res.User = pair.User.AsPublic()
	}
	return res
}
