package csrf

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestMintVerifyRoundTrip(t *testing.T) {
	now := time.Now()

	token, err := Mint(testKey, now)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.NoError(t, Verify(testKey, token, now, DefaultExpiration))

	t.Run("tokens are unique per mint", func(t *testing.T) {
		other, err := Mint(testKey, now)
		require.NoError(t, err)
		assert.NotEqual(t, token, other)
	})

	t.Run("empty key refused", func(t *testing.T) {
		_, err := Mint(nil, now)
		assert.ErrorIs(t, err, ErrSecureKeyMissing)
	})
}

func TestVerifyRejects(t *testing.T) {
	now := time.Now()
	token, err := Mint(testKey, now)
	require.NoError(t, err)

	t.Run("empty token", func(t *testing.T) {
		assert.ErrorIs(t, Verify(testKey, "", now, 0), ErrTokenMissing)
	})

	t.Run("wrong key", func(t *testing.T) {
		assert.ErrorIs(t, Verify([]byte("another-key-entirely-32-bytes!!!"), token, now, 0), ErrTokenMismatch)
	})

	t.Run("tampered payload", func(t *testing.T) {
		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		raw[0] ^= 0xff
		forged := base64.RawURLEncoding.EncodeToString(raw)

		assert.ErrorIs(t, Verify(testKey, forged, now, 0), ErrTokenMismatch)
	})

	t.Run("not base64", func(t *testing.T) {
		assert.ErrorIs(t, Verify(testKey, "!!not base64!!", now, 0), ErrTokenMismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		assert.ErrorIs(t, Verify(testKey, token[:10], now, 0), ErrTokenMismatch)
	})

	t.Run("expired", func(t *testing.T) {
		stale, err := Mint(testKey, now.Add(-3*time.Hour))
		require.NoError(t, err)

		assert.ErrorIs(t, Verify(testKey, stale, now, DefaultExpiration), ErrTokenExpired)
	})

	t.Run("zero max age disables expiry", func(t *testing.T) {
		stale, err := Mint(testKey, now.Add(-48*time.Hour))
		require.NoError(t, err)

		assert.NoError(t, Verify(testKey, stale, now, 0))
	})
}

func TestConfigDefault(t *testing.T) {
	cfg := configDefault(Config{SecureKey: testKey})

	assert.Equal(t, DefaultContextKey, cfg.ContextKey)
	assert.Equal(t, DefaultFormFieldName, cfg.FormFieldName)
	assert.Equal(t, DefaultHeaderName, cfg.HeaderName)
	assert.Equal(t, "form:_token,header:X-CSRF-Token", cfg.TokenLookup)
	assert.Equal(t, []string{"GET", "HEAD", "OPTIONS", "TRACE"}, cfg.SafeMethods)
	assert.Equal(t, DefaultExpiration, cfg.Expiration)
	assert.NotNil(t, cfg.SuccessHandler)
	assert.NotNil(t, cfg.ErrorHandler)

	t.Run("missing key panics", func(t *testing.T) {
		assert.Panics(t, func() {
			configDefault()
		})
	})
}

func TestMiddleware(t *testing.T) {
	mw := New(Config{SecureKey: testKey})
	handler := mw(func(ctx router.Context) error {
		return ctx.Next()
	})

	t.Run("safe method passes and mints a token", func(t *testing.T) {
		ctx := newCtx("GET")
		require.NoError(t, handler(ctx))
		assert.True(t, ctx.nextCalled)

		token, _ := ctx.locals[DefaultContextKey].(string)
		require.NotEmpty(t, token)
		assert.NoError(t, Verify(testKey, token, time.Now(), DefaultExpiration))
	})

	t.Run("mutation without a token is refused", func(t *testing.T) {
		ctx := newCtx("POST")
		require.NoError(t, handler(ctx))
		assert.False(t, ctx.nextCalled)
		assert.Equal(t, router.StatusBadRequest, ctx.status)
	})

	t.Run("mutation with a minted header token passes", func(t *testing.T) {
		token, err := Mint(testKey, time.Now())
		require.NoError(t, err)

		ctx := newCtx("POST")
		ctx.headers[DefaultHeaderName] = token

		require.NoError(t, handler(ctx))
		assert.True(t, ctx.nextCalled)
	})

	t.Run("mutation with a form token passes", func(t *testing.T) {
		token, err := Mint(testKey, time.Now())
		require.NoError(t, err)

		ctx := newCtx("POST")
		ctx.form = map[string]string{DefaultFormFieldName: token}

		require.NoError(t, handler(ctx))
		assert.True(t, ctx.nextCalled)
	})

	t.Run("forged token is refused", func(t *testing.T) {
		ctx := newCtx("POST")
		ctx.headers[DefaultHeaderName] = "AAAA"

		require.NoError(t, handler(ctx))
		assert.False(t, ctx.nextCalled)
		assert.Equal(t, router.StatusForbidden, ctx.status)
	})
}

func TestTokenHandler(t *testing.T) {
	handler := TokenHandler(testKey)

	ctx := newCtx("GET")
	require.NoError(t, handler(ctx))

	body, ok := ctx.jsonValue.(map[string]any)
	require.True(t, ok)

	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.NoError(t, Verify(testKey, token, time.Now(), DefaultExpiration))
	assert.Equal(t, DefaultFormFieldName, body["field"])
	assert.Equal(t, DefaultHeaderName, body["header"])
}

// ---------------------------------------------------------------------
// context stub
// ---------------------------------------------------------------------

type fakeCtx struct {
	ctx     context.Context
	method  string
	headers map[string]string
	query   map[string]string
	form    map[string]string
	locals  map[any]any

	status     int
	jsonValue  any
	nextCalled bool
}

func newCtx(method string) *fakeCtx {
	return &fakeCtx{
		ctx:     context.Background(),
		method:  method,
		headers: map[string]string{},
		query:   map[string]string{},
		locals:  map[any]any{},
	}
}

var _ router.Context = (*fakeCtx)(nil)

func (c *fakeCtx) Next() error {
	c.nextCalled = true
	return nil
}

func (c *fakeCtx) Context() context.Context       { return c.ctx }
func (c *fakeCtx) SetContext(ctx context.Context) { c.ctx = ctx }
func (c *fakeCtx) Path() string                   { return "/" }
func (c *fakeCtx) Method() string                 { return c.method }
func (c *fakeCtx) Body() []byte                   { return nil }
func (c *fakeCtx) OriginalURL() string            { return "/" }
func (c *fakeCtx) Referer() string                { return "" }
func (c *fakeCtx) OnNext(func() error)            {}
func (c *fakeCtx) Queries() map[string]string     { return c.query }
func (c *fakeCtx) CookieParser(any) error         { return nil }

func (c *fakeCtx) Status(code int) router.Context {
	c.status = code
	return c
}

func (c *fakeCtx) SendString(string) error { return nil }
func (c *fakeCtx) Send([]byte) error       { return nil }

func (c *fakeCtx) JSON(code int, val any) error {
	c.status = code
	c.jsonValue = val
	return nil
}

func (c *fakeCtx) NoContent(code int) error {
	c.status = code
	return nil
}

func (c *fakeCtx) Render(string, any, ...string) error                        { return nil }
func (c *fakeCtx) Redirect(string, ...int) error                              { return nil }
func (c *fakeCtx) RedirectToRoute(string, router.ViewContext, ...int) error   { return nil }
func (c *fakeCtx) RedirectBack(string, ...int) error                          { return nil }
func (c *fakeCtx) SetHeader(string, string) router.Context                    { return c }
func (c *fakeCtx) Header(key string) string                                   { return c.headers[key] }
func (c *fakeCtx) GetBool(_ string, def bool) bool                            { return def }
func (c *fakeCtx) GetInt(_ string, def int) int                               { return def }
func (c *fakeCtx) GetString(_ string, def string) string                      { return def }
func (c *fakeCtx) Set(key string, val any)                                    { c.locals[key] = val }
func (c *fakeCtx) Cookie(*router.Cookie)                                      {}
func (c *fakeCtx) ParamsInt(_ string, def int) int                            { return def }
func (c *fakeCtx) QueryInt(_ string, def int) int                             { return def }

func (c *fakeCtx) Get(key string, def any) any {
	if v, ok := c.locals[key]; ok {
		return v
	}
	return def
}

func (c *fakeCtx) Bind(i any) error {
	if c.form == nil {
		return nil
	}
	data, err := json.Marshal(c.form)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, i)
}

func (c *fakeCtx) BindJSON(i any) error  { return c.Bind(i) }
func (c *fakeCtx) BindXML(i any) error   { return c.Bind(i) }
func (c *fakeCtx) BindQuery(i any) error { return c.Bind(i) }

func (c *fakeCtx) Cookies(_ string, def ...string) string {
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func (c *fakeCtx) Param(_ string, def ...string) string {
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func (c *fakeCtx) Query(key string, def ...string) string {
	if v, ok := c.query[key]; ok {
		return v
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func (c *fakeCtx) QueryValues(key string) []string { return nil }

func (c *fakeCtx) LocalsMerge(key any, value map[string]any) map[string]any { return value }

func (c *fakeCtx) FormFile(key string) (*multipart.FileHeader, error) { return nil, nil }

func (c *fakeCtx) FormValue(key string, def ...string) string {
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func (c *fakeCtx) IP() string { return "" }

func (c *fakeCtx) SendStatus(code int) error { return nil }

func (c *fakeCtx) SendStream(r io.Reader) error { return nil }

func (c *fakeCtx) RouteName() string { return "" }

func (c *fakeCtx) RouteParams() map[string]string { return nil }

func (c *fakeCtx) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
	}
	return c.locals[key]
}
