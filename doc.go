// Package auth implements authentication and authorization for the
// bracket API: a PBKDF2 credential store, an HMAC JWT token service
// with access/refresh/single-purpose tokens, database backed roles,
// and the HTTP flows that tie them together (password login, OAuth
// login, refresh, email confirmation, password reset, logout).
//
// The package exposes small interfaces (Identity, TokenService,
// TokenValidator, Mailer) and returns concrete implementations wired
// through NewAuthenticator and NewHTTPAuthenticator. Sessions are
// stateless JWTs delivered both as bearer tokens and as cookies with
// double-submit CSRF tags.
package auth
