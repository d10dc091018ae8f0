package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced next to categorized errors so API clients can
// branch without string matching messages.
const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenMissing       = "TOKEN_MISSING"
	TextCodeTokenRevoked       = "TOKEN_REVOKED"
	TextCodeCSRFMismatch       = "CSRF_MISMATCH"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeDuplicateRecord    = "DUPLICATE_RECORD"
	TextCodeMailDelivery       = "MAIL_DELIVERY"
)

// Messages returned to clients. Login failures are deliberately
// indistinguishable between unknown account and wrong password.
const (
	MsgInvalidCredentials = "Sorry, your username or password was incorrect. Please try again."
	MsgResetTokenExpired  = "Reset token is expired. Please try again."
	MsgLoginSuccessful    = "Login successful!"
	MsgPasswordResetSent  = "If that account exists, a password reset email is on its way."
)

var (
	// ErrInvalidCredentials covers every verification miss: no such
	// user, wrong password, or a passwordless OAuth-only account.
	ErrInvalidCredentials = goerrors.New(
		MsgInvalidCredentials,
		goerrors.CategoryAuth,
	).WithTextCode(TextCodeInvalidCredentials).WithCode(goerrors.CodeUnauthorized)

	// ErrIdentityNotFound is internal; it never crosses the HTTP
	// boundary for login flows (it would leak account existence).
	ErrIdentityNotFound = goerrors.New(
		"identity not found",
		goerrors.CategoryNotFound,
	).WithTextCode("IDENTITY_NOT_FOUND").WithCode(goerrors.CodeNotFound)

	ErrTokenExpired = goerrors.New(
		"token is expired",
		goerrors.CategoryAuth,
	).WithTextCode(TextCodeTokenExpired).WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New(
		"token is malformed",
		goerrors.CategoryBadInput,
	).WithTextCode(TextCodeTokenMalformed).WithCode(goerrors.CodeBadRequest)

	ErrTokenMissing = goerrors.New(
		"missing or empty authentication token",
		goerrors.CategoryAuth,
	).WithTextCode(TextCodeTokenMissing).WithCode(goerrors.CodeUnauthorized)

	ErrTokenRevoked = goerrors.New(
		"token was issued before the account's revocation point",
		goerrors.CategoryAuth,
	).WithTextCode(TextCodeTokenRevoked).WithCode(goerrors.CodeUnauthorized)

	ErrCSRFMismatch = goerrors.New(
		"CSRF tag missing or does not match session",
		goerrors.CategoryAuthz,
	).WithTextCode(TextCodeCSRFMismatch)

	ErrForbidden = goerrors.New(
		"you do not have the roles required for this resource",
		goerrors.CategoryAuthz,
	).WithTextCode(TextCodeForbidden)

	ErrTooManyLoginAttempts = goerrors.New(
		"too many failed login attempts, account is cooling down",
		goerrors.CategoryRateLimit,
	).WithTextCode(TextCodeTooManyAttempts)

	ErrEmptyPassword = goerrors.New(
		"password cannot be empty",
		goerrors.CategoryValidation,
	).WithTextCode(TextCodeEmptyPassword).WithCode(goerrors.CodeBadRequest)

	ErrImmutableClaimMutation = goerrors.New(
		"claims decorator mutated an immutable claim",
		goerrors.CategoryInternal,
	).WithTextCode("IMMUTABLE_CLAIM_MUTATION").WithCode(goerrors.CodeInternal)

	ErrUnsupportedProvider = goerrors.New(
		"unsupported OAuth provider",
		goerrors.CategoryBadInput,
	).WithTextCode("UNSUPPORTED_PROVIDER").WithCode(goerrors.CodeBadRequest)
)

// IsTokenExpiredError reports whether err is the expired-token
// condition, by sentinel identity or by text code.
func IsTokenExpiredError(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// IsMalformedError reports whether err is a malformed-token condition.
func IsMalformedError(err error) bool {
	return hasTextCode(err, TextCodeTokenMalformed)
}

// IsInvalidCredentials reports whether err is a credential
// verification miss of any kind.
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

func hasTextCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == textCode
	}
	return false
}

// HTTPStatus maps the package's error taxonomy onto response codes.
// Unknown errors land on 500 so nothing internal leaks by default.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError
	}

	switch rich.TextCode {
	case TextCodeTokenMalformed:
		return http.StatusBadRequest
	case TextCodeCSRFMismatch, TextCodeForbidden:
		return http.StatusForbidden
	case TextCodeTooManyAttempts:
		return http.StatusTooManyRequests
	case TextCodeMailDelivery:
		return http.StatusBadGateway
	}

	switch rich.Category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryConflict:
		return http.StatusBadRequest
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
