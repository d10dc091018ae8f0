package csrf

import (
	"time"

	"github.com/goliatone/go-router"
)

// TokenHandler returns a handler that mints a fresh token for clients
// that bootstrap from JSON instead of a rendered form, e.g. a SPA
// fetching a token before posting the login form.
func TokenHandler(key []byte, config ...Config) router.HandlerFunc {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.SecureKey = key
	cfg = configDefault(cfg)

	return func(ctx router.Context) error {
		token, err := Mint(key, time.Now())
		if err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		return ctx.JSON(router.StatusOK, map[string]any{
			"token":  token,
			"field":  cfg.FormFieldName,
			"header": cfg.HeaderName,
		})
	}
}
