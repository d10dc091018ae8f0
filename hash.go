package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/pbkdf2"
)

// Password hashing parameters. The encoded format is
// "pbkdf2:sha512:80000$<salt>$<hexdigest>" so hashes survive
// migrations from deployments that used the same scheme.
const (
	hashMethod     = "pbkdf2:sha512"
	hashIterations = 80000
	hashSaltLength = 20
	hashKeyLength  = sha512.Size

	// userSaltBytes sizes the per-account salt that gets appended to
	// the password before hashing, on top of the per-hash salt above.
	userSaltBytes = 24
)

const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var ErrMismatchedHashAndPassword = goerrors.New(
	"the credentials provided are invalid",
	goerrors.CategoryAuth,
).WithTextCode(TextCodeInvalidCredentials).WithCode(goerrors.CodeUnauthorized)

// NewSalt returns a fresh per-account salt, base64 encoded for
// storage next to the hash.
func NewSalt() (string, error) {
	buf := make([]byte, userSaltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate salt")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// HashPassword derives an encoded PBKDF2-HMAC-SHA512 hash with a
// random embedded salt. Callers append the account salt to password
// before calling; this function only sees the combined secret.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt, err := randomSaltString(hashSaltLength)
	if err != nil {
		return "", err
	}

	digest := pbkdf2.Key([]byte(password), []byte(salt), hashIterations, hashKeyLength, sha512.New)

	var b strings.Builder
	b.WriteString(hashMethod)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(hashIterations))
	b.WriteString("$")
	b.WriteString(salt)
	b.WriteString("$")
	b.WriteString(hex.EncodeToString(digest))
	return b.String(), nil
}

// ComparePasswordAndHash re-derives the digest from the encoded
// hash's own parameters and compares in constant time. A mismatch is
// ErrMismatchedHashAndPassword, never a raw parse error, so callers
// can treat every failure as a credential miss.
func ComparePasswordAndHash(password, encoded string) error {
	method, iterations, salt, want, err := parseEncodedHash(encoded)
	if err != nil {
		return err
	}
	if method != hashMethod {
		return goerrors.New("unsupported hash method: "+method, goerrors.CategoryInternal)
	}

	got := pbkdf2.Key([]byte(password), []byte(salt), iterations, len(want), sha512.New)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

func parseEncodedHash(encoded string) (method string, iterations int, salt string, digest []byte, err error) {
	parts := strings.SplitN(encoded, "$", 3)
	if len(parts) != 3 {
		return "", 0, "", nil, goerrors.New("malformed password hash", goerrors.CategoryInternal)
	}

	spec := parts[0]
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return "", 0, "", nil, goerrors.New("malformed password hash method", goerrors.CategoryInternal)
	}
	method = spec[:idx]
	iterations, err = strconv.Atoi(spec[idx+1:])
	if err != nil || iterations <= 0 {
		return "", 0, "", nil, goerrors.New("malformed password hash iterations", goerrors.CategoryInternal)
	}

	digest, err = hex.DecodeString(parts[2])
	if err != nil || len(digest) == 0 {
		return "", 0, "", nil, goerrors.New("malformed password hash digest", goerrors.CategoryInternal)
	}
	return method, iterations, parts[1], digest, nil
}

func randomSaltString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate hash salt")
	}
	for i, b := range buf {
		buf[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return string(buf), nil
}
