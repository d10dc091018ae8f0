package auth

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig is the explicit runtime configuration. Everything comes
// from the environment (with an optional .env file in development);
// no package level globals.
type AppConfig struct {
	SigningKey    string   `envconfig:"SECRET_KEY" required:"true"`
	SigningMethod string   `envconfig:"SIGNING_METHOD" default:"HS256"`
	Issuer        string   `envconfig:"TOKEN_ISSUER" default:"bracket-api"`
	Audience      []string `envconfig:"TOKEN_AUDIENCE" default:"bracket-web"`

	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"1800s"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	ResetTokenTTL   time.Duration `envconfig:"RESET_TOKEN_TTL" default:"500s"`
	ConfirmTokenTTL time.Duration `envconfig:"CONFIRM_TOKEN_TTL" default:"24h"`

	TokenLookup string `envconfig:"TOKEN_LOOKUP" default:"cookie:access_token_cookie,header:Authorization"`
	AuthScheme  string `envconfig:"AUTH_SCHEME" default:"Bearer"`
	ContextKey  string `envconfig:"CONTEXT_KEY" default:"user"`

	// BaseURL is the public origin used to build links embedded in
	// emails; it must end with a slash.
	BaseURL      string `envconfig:"BASE_URL" default:"http://localhost:3000/"`
	CookieSecure bool   `envconfig:"COOKIE_SECURE" default:"false"`

	RejectedRouteKey     string `envconfig:"REJECTED_ROUTE_KEY" default:"rejected_route"`
	RejectedRouteDefault string `envconfig:"REJECTED_ROUTE_DEFAULT" default:"/login"`

	DatabaseDSN string `envconfig:"DATABASE_DSN" default:"file::memory:?cache=shared"`
	Testing     bool   `envconfig:"TESTING" default:"false"`

	Mail MailConfig `envconfig:"MAIL"`
}

// MailConfig holds delivery settings. When Server is empty the app
// runs with the no-op mailer and logs composed messages instead.
type MailConfig struct {
	Server      string `envconfig:"SERVER"`
	Port        int    `envconfig:"PORT" default:"587"`
	Username    string `envconfig:"USERNAME"`
	Password    string `envconfig:"PASSWORD"`
	Sender      string `envconfig:"SENDER" default:"no-reply@pydino.example"`
	AppName     string `envconfig:"APP_NAME" default:"PyDino"`
	TemplateDir string `envconfig:"TEMPLATE_DIR" default:"./templates/mail"`
}

// LoadConfig reads the environment, after loading a .env file when
// one is present. Missing .env is not an error.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := envconfig.Process("bracket", cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid configuration")
	}
	return cfg, nil
}

var _ Config = (*AppConfig)(nil)

func (c *AppConfig) GetSigningKey() string              { return c.SigningKey }
func (c *AppConfig) GetSigningMethod() string           { return c.SigningMethod }
func (c *AppConfig) GetIssuer() string                  { return c.Issuer }
func (c *AppConfig) GetAudience() []string              { return c.Audience }
func (c *AppConfig) GetAccessTokenTTL() time.Duration   { return c.AccessTokenTTL }
func (c *AppConfig) GetRefreshTokenTTL() time.Duration  { return c.RefreshTokenTTL }
func (c *AppConfig) GetResetTokenTTL() time.Duration    { return c.ResetTokenTTL }
func (c *AppConfig) GetConfirmTokenTTL() time.Duration  { return c.ConfirmTokenTTL }
func (c *AppConfig) GetTokenLookup() string             { return c.TokenLookup }
func (c *AppConfig) GetAuthScheme() string              { return c.AuthScheme }
func (c *AppConfig) GetContextKey() string              { return c.ContextKey }
func (c *AppConfig) GetBaseURL() string                 { return c.BaseURL }
func (c *AppConfig) GetCookieSecure() bool              { return c.CookieSecure }
func (c *AppConfig) GetRejectedRouteKey() string        { return c.RejectedRouteKey }
func (c *AppConfig) GetRejectedRouteDefault() string    { return c.RejectedRouteDefault }
