package auth_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	auth "github.com/pydino/go-bracket-auth"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func testConfig() *auth.AppConfig {
	return &auth.AppConfig{
		SigningKey:           "test-signing-key-0123456789",
		SigningMethod:        "HS256",
		Issuer:               "bracket-api",
		Audience:             []string{"bracket-web"},
		AccessTokenTTL:       30 * time.Minute,
		RefreshTokenTTL:      720 * time.Hour,
		ResetTokenTTL:        500 * time.Second,
		ConfirmTokenTTL:      24 * time.Hour,
		TokenLookup:          "cookie:access_token_cookie,header:Authorization",
		AuthScheme:           "Bearer",
		ContextKey:           "user",
		BaseURL:              "http://localhost:3000/",
		RejectedRouteKey:     "rejected_route",
		RejectedRouteDefault: "/login",
	}
}

// MockLoginPayload implements auth.LoginPayload
type MockLoginPayload struct {
	Identifier      string
	Password        string
	ExtendedSession bool
}

func (m MockLoginPayload) GetIdentifier() string    { return m.Identifier }
func (m MockLoginPayload) GetPassword() string      { return m.Password }
func (m MockLoginPayload) GetExtendedSession() bool { return m.ExtendedSession }

// ---------------------------------------------------------------------
// In-memory repository manager
// ---------------------------------------------------------------------

type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*auth.User          // by public id
	roles  map[string][]string            // user public id -> role names
	oauth  map[string]*auth.OAuthAccount  // provider + "|" + provider uid
	known  map[string]*auth.Role          // role name -> role
}

func newMemStore() *memStore {
	return &memStore{
		users: map[string]*auth.User{},
		roles: map[string][]string{},
		oauth: map[string]*auth.OAuthAccount{},
		known: map[string]*auth.Role{
			auth.RoleAdmin:  {ID: 1, Name: auth.RoleAdmin, Label: "Administrator"},
			auth.RoleMember: {ID: 2, Name: auth.RoleMember, Label: "Member"},
			auth.RoleGuest:  {ID: 3, Name: auth.RoleGuest, Label: "Guest"},
		},
	}
}

func notFound(meta map[string]any) error {
	return repository.NewRecordNotFound().WithMetadata(meta)
}

func duplicate(meta map[string]any) error {
	return goerrors.New("record already exists", goerrors.CategoryConflict).
		WithTextCode(auth.TextCodeDuplicateRecord).
		WithMetadata(meta)
}

// attachRoles mirrors the relation load the real repository does.
func (s *memStore) attachRoles(user *auth.User) *auth.User {
	user.Roles = nil
	for _, name := range s.roles[user.PublicID] {
		if role, ok := s.known[name]; ok {
			user.Roles = append(user.Roles, role)
		} else {
			user.Roles = append(user.Roles, &auth.Role{Name: name})
		}
	}
	return user
}

type memUsers struct{ s *memStore }

func (m memUsers) GetByPublicID(_ context.Context, publicID string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u, ok := m.s.users[publicID]; ok {
		return m.s.attachRoles(u), nil
	}
	return nil, notFound(map[string]any{"public_id": publicID})
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return m.s.attachRoles(u), nil
		}
	}
	return nil, notFound(map[string]any{"email": email})
}

func (m memUsers) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Username == username {
			return m.s.attachRoles(u), nil
		}
	}
	return nil, notFound(map[string]any{"username": username})
}

func (m memUsers) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	return m.GetByIdentifierTx(ctx, nil, identifier)
}

func (m memUsers) GetByIdentifierTx(_ context.Context, _ bun.IDB, identifier string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u, ok := m.s.users[identifier]; ok {
		return m.s.attachRoles(u), nil
	}
	for _, u := range m.s.users {
		if u.Username == identifier {
			return m.s.attachRoles(u), nil
		}
	}
	for _, u := range m.s.users {
		if u.Email == identifier {
			return m.s.attachRoles(u), nil
		}
	}
	return nil, notFound(map[string]any{"identifier": identifier})
}

func (m memUsers) Create(ctx context.Context, record *auth.User) (*auth.User, error) {
	return m.CreateTx(ctx, nil, record)
}

func (m memUsers) CreateTx(_ context.Context, _ bun.IDB, record *auth.User) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, u := range m.s.users {
		if u.Email == record.Email || (record.Username != "" && u.Username == record.Username) {
			return nil, duplicate(map[string]any{"email": record.Email})
		}
	}

	if record.PublicID == "" {
		record.GeneratePublicID()
	}
	m.s.nextID++
	record.ID = m.s.nextID
	now := time.Now()
	record.CreatedAt = &now

	m.s.users[record.PublicID] = record
	return record, nil
}

func (m memUsers) SetPassword(ctx context.Context, publicID, hash, salt string) error {
	return m.SetPasswordTx(ctx, nil, publicID, hash, salt)
}

func (m memUsers) SetPasswordTx(_ context.Context, _ bun.IDB, publicID, hash, salt string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[publicID]
	if !ok {
		return notFound(map[string]any{"public_id": publicID})
	}
	now := time.Now()
	u.PasswordHash = hash
	u.PasswordSalt = salt
	u.TokensValidFrom = &now
	u.UpdatedAt = &now
	return nil
}

func (m memUsers) Confirm(ctx context.Context, publicID string, at time.Time) (*auth.User, error) {
	return m.ConfirmTx(ctx, nil, publicID, at)
}

func (m memUsers) ConfirmTx(_ context.Context, _ bun.IDB, publicID string, at time.Time) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[publicID]
	if !ok {
		return nil, notFound(map[string]any{"public_id": publicID})
	}
	u.ConfirmedAt = &at
	u.IsActive = true
	return m.s.attachRoles(u), nil
}

func (m memUsers) TrackAttemptedLogin(_ context.Context, user *auth.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	user.LoginAttempts++
	user.LoginAttemptAt = &now
	return nil
}

func (m memUsers) TrackSuccessfulLogin(_ context.Context, user *auth.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	user.LoginAttempts = 0
	user.LoggedInAt = &now
	return nil
}

func (m memUsers) TokensValidFrom(_ context.Context, publicID string) (*time.Time, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[publicID]
	if !ok {
		return nil, notFound(map[string]any{"public_id": publicID})
	}
	return u.TokensValidFrom, nil
}

type memRoles struct{ s *memStore }

func (m memRoles) GetByName(_ context.Context, name string) (*auth.Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if role, ok := m.s.known[name]; ok {
		return role, nil
	}
	return nil, notFound(map[string]any{"name": name})
}

func (m memRoles) Ensure(_ context.Context, _ bun.IDB, name, label string) (*auth.Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if role, ok := m.s.known[name]; ok {
		return role, nil
	}
	role := &auth.Role{Name: name, Label: label}
	m.s.known[name] = role
	return role, nil
}

func (m memRoles) Assign(_ context.Context, _ bun.IDB, userUID, roleName string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, n := range m.s.roles[userUID] {
		if n == roleName {
			return nil
		}
	}
	m.s.roles[userUID] = append(m.s.roles[userUID], roleName)
	return nil
}

func (m memRoles) Revoke(_ context.Context, _ bun.IDB, userUID, roleName string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	kept := m.s.roles[userUID][:0]
	for _, n := range m.s.roles[userUID] {
		if n != roleName {
			kept = append(kept, n)
		}
	}
	m.s.roles[userUID] = kept
	return nil
}

func (m memRoles) FindRoleNames(_ context.Context, publicID string) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]string(nil), m.s.roles[publicID]...), nil
}

type memOAuth struct{ s *memStore }

func oauthKey(provider, uid string) string { return provider + "|" + uid }

func (m memOAuth) FindByProviderUID(ctx context.Context, provider, providerUID string) (*auth.OAuthAccount, error) {
	return m.FindByProviderUIDTx(ctx, nil, provider, providerUID)
}

func (m memOAuth) FindByProviderUIDTx(_ context.Context, _ bun.IDB, provider, providerUID string) (*auth.OAuthAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if acct, ok := m.s.oauth[oauthKey(provider, providerUID)]; ok {
		return acct, nil
	}
	return nil, notFound(map[string]any{"provider": provider})
}

func (m memOAuth) Create(ctx context.Context, record *auth.OAuthAccount) (*auth.OAuthAccount, error) {
	return m.CreateTx(ctx, nil, record)
}

func (m memOAuth) CreateTx(_ context.Context, _ bun.IDB, record *auth.OAuthAccount) (*auth.OAuthAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := oauthKey(record.Provider, record.ProviderUID)
	if _, ok := m.s.oauth[key]; ok {
		return nil, duplicate(map[string]any{"provider": record.Provider})
	}
	m.s.oauth[key] = record
	return record, nil
}

func (m memOAuth) ListByUser(_ context.Context, userUID string) ([]*auth.OAuthAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*auth.OAuthAccount
	for _, acct := range m.s.oauth {
		if acct.UserUID == userUID {
			out = append(out, acct)
		}
	}
	return out, nil
}

type memRepo struct{ s *memStore }

func newMemRepo() *memRepo {
	return &memRepo{s: newMemStore()}
}

func (m *memRepo) Users() auth.Users                 { return memUsers{m.s} }
func (m *memRepo) Roles() auth.Roles                 { return memRoles{m.s} }
func (m *memRepo) OAuthAccounts() auth.OAuthAccounts { return memOAuth{m.s} }
func (m *memRepo) Validate() error                   { return nil }
func (m *memRepo) MustValidate()                     {}

func (m *memRepo) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return f(ctx, bun.Tx{})
	}
}

var _ auth.RepositoryManager = (*memRepo)(nil)

// seedUser creates an account with a properly salted credential.
func seedUser(t *testing.T, repo auth.RepositoryManager, email, username, password string, roles ...string) *auth.User {
	t.Helper()

	user := &auth.User{
		Name:     "Test User",
		Email:    email,
		Username: username,
		IsActive: true,
	}
	user.GeneratePublicID()

	if password != "" {
		salt, err := auth.NewSalt()
		require.NoError(t, err)
		hash, err := auth.HashPassword(password + salt)
		require.NoError(t, err)
		user.PasswordHash = hash
		user.PasswordSalt = salt
	}

	created, err := repo.Users().Create(context.Background(), user)
	require.NoError(t, err)

	for _, role := range roles {
		require.NoError(t, repo.Roles().Assign(context.Background(), nil, created.PublicID, role))
	}
	return created
}

// captureMailer records every send for assertions.
type captureMailer struct {
	mu   sync.Mutex
	Sent []capturedMail
	Fail error
}

type capturedMail struct {
	Recipient string
	Subject   string
	HTML      string
	Text      string
}

func (m *captureMailer) Send(_ context.Context, recipient, subject, htmlBody, textBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Sent = append(m.Sent, capturedMail{recipient, subject, htmlBody, textBody})
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// ---------------------------------------------------------------------
// FakeContext implements router.Context with recorded state instead of
// expectation plumbing.
// ---------------------------------------------------------------------

type FakeContext struct {
	Ctx         context.Context
	MethodValue string
	PathValue   string
	URLValue    string

	ReqHeaders map[string]string
	ReqCookies map[string]string
	ReqQuery   map[string]string
	ReqParams  map[string]string

	// BindPayload is copied into Bind targets through JSON.
	BindPayload any

	LocalVals  map[any]any
	RespHeader map[string]string
	SetCookies []*router.Cookie

	StatusCode   int
	JSONCode     int
	JSONValue    any
	SentBody     string
	RedirectedTo string
	NextCalled   bool
}

func NewFakeContext() *FakeContext {
	return &FakeContext{
		Ctx:         context.Background(),
		MethodValue: "GET",
		PathValue:   "/",
		ReqHeaders:  map[string]string{},
		ReqCookies:  map[string]string{},
		ReqQuery:    map[string]string{},
		ReqParams:   map[string]string{},
		LocalVals:   map[any]any{},
		RespHeader:  map[string]string{},
	}
}

var _ router.Context = (*FakeContext)(nil)

func (c *FakeContext) Next() error {
	c.NextCalled = true
	return nil
}

func (c *FakeContext) Context() context.Context        { return c.Ctx }
func (c *FakeContext) SetContext(ctx context.Context)  { c.Ctx = ctx }
func (c *FakeContext) Path() string                    { return c.PathValue }
func (c *FakeContext) Method() string                  { return c.MethodValue }
func (c *FakeContext) Body() []byte                    { return nil }
func (c *FakeContext) OriginalURL() string             { return c.URLValue }
func (c *FakeContext) Referer() string                 { return "" }
func (c *FakeContext) OnNext(callback func() error)    {}
func (c *FakeContext) Queries() map[string]string      { return c.ReqQuery }
func (c *FakeContext) CookieParser(i any) error        { return nil }

func (c *FakeContext) Status(code int) router.Context {
	c.StatusCode = code
	return c
}

func (c *FakeContext) SendString(s string) error {
	c.SentBody = s
	return nil
}

func (c *FakeContext) Send(b []byte) error {
	c.SentBody = string(b)
	return nil
}

func (c *FakeContext) JSON(code int, val any) error {
	c.JSONCode = code
	c.JSONValue = val
	return nil
}

func (c *FakeContext) NoContent(code int) error {
	c.StatusCode = code
	return nil
}

func (c *FakeContext) Render(name string, bind any, layout ...string) error {
	return nil
}

func (c *FakeContext) Redirect(path string, status ...int) error {
	c.RedirectedTo = path
	if len(status) > 0 {
		c.StatusCode = status[0]
	}
	return nil
}

func (c *FakeContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	c.RedirectedTo = name
	return nil
}

func (c *FakeContext) RedirectBack(fallback string, status ...int) error {
	c.RedirectedTo = fallback
	return nil
}

func (c *FakeContext) SetHeader(key, val string) router.Context {
	c.RespHeader[key] = val
	return c
}

func (c *FakeContext) Header(key string) string {
	return c.ReqHeaders[key]
}

func (c *FakeContext) Get(key string, defaultValue any) any {
	if v, ok := c.LocalVals[key]; ok {
		return v
	}
	return defaultValue
}

func (c *FakeContext) GetBool(key string, defaultValue bool) bool {
	if v, ok := c.LocalVals[key].(bool); ok {
		return v
	}
	return defaultValue
}

func (c *FakeContext) GetInt(key string, def int) int {
	if v, ok := c.LocalVals[key].(int); ok {
		return v
	}
	return def
}

func (c *FakeContext) GetString(key string, defaultValue string) string {
	if v, ok := c.LocalVals[key].(string); ok {
		return v
	}
	return defaultValue
}

func (c *FakeContext) Set(key string, val any) {
	c.LocalVals[key] = val
}

func (c *FakeContext) Bind(i any) error {
	if c.BindPayload == nil {
		return errors.New("no payload")
	}
	data, err := json.Marshal(c.BindPayload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, i)
}

func (c *FakeContext) BindJSON(i any) error  { return c.Bind(i) }
func (c *FakeContext) BindXML(i any) error   { return c.Bind(i) }
func (c *FakeContext) BindQuery(i any) error { return c.Bind(i) }

func (c *FakeContext) Cookie(cookie *router.Cookie) {
	c.SetCookies = append(c.SetCookies, cookie)
}

func (c *FakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := c.ReqCookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *FakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := c.ReqParams[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *FakeContext) ParamsInt(key string, defaultValue int) int {
	return defaultValue
}

func (c *FakeContext) Query(key string, defaultValue ...string) string {
	if v, ok := c.ReqQuery[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *FakeContext) QueryValues(key string) []string { return nil }

func (c *FakeContext) LocalsMerge(key any, value map[string]any) map[string]any { return value }

func (c *FakeContext) FormFile(key string) (*multipart.FileHeader, error) { return nil, nil }

func (c *FakeContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *FakeContext) IP() string { return "" }

func (c *FakeContext) SendStatus(code int) error {
	c.StatusCode = code
	return nil
}

func (c *FakeContext) SendStream(r io.Reader) error { return nil }

func (c *FakeContext) RouteName() string { return "" }

func (c *FakeContext) RouteParams() map[string]string { return c.ReqParams }

func (c *FakeContext) QueryInt(key string, defaultValue int) int {
	return defaultValue
}

func (c *FakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.LocalVals[key] = value[0]
		return value[0]
	}
	return c.LocalVals[key]
}

// cookieByName finds a recorded cookie for assertions.
func (c *FakeContext) cookieByName(name string) *router.Cookie {
	for i := len(c.SetCookies) - 1; i >= 0; i-- {
		if c.SetCookies[i].Name == name {
			return c.SetCookies[i]
		}
	}
	return nil
}
