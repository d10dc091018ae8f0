package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token      string `json:"token"`
	Password   string `json:"password"`
	OnResponse func(user *User)
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

// FinalizePasswordResetHandler validates a password_reset scoped
// token and stores the new credential. The store bumps the
// tokens-valid-from watermark in the same write, which retires every
// session issued before the reset.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	tokens   TokenService
	activity ActivitySink
	logger   Logger
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, tokens TokenService) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Password == "" {
		return ErrEmptyPassword
	}

	claims, err := h.tokens.ValidateScoped(event.Token, TokenPurposePasswordReset)
	if err != nil {
		return scopedTokenError(err)
	}

	user := &User{}
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().GetByIdentifierTx(ctx, tx, claims.PublicID())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		salt, err := NewSalt()
		if err != nil {
			return err
		}

		hash, err := HashPassword(event.Password + salt)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		return h.repo.Users().SetPasswordTx(ctx, tx, user.PublicID, hash, salt)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	_ = h.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventPasswordResetComplete,
		UserID:     user.PublicID,
		OccurredAt: time.Now(),
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}
	return nil
}

// scopedTokenError converts verifier failures into the client facing
// shape these flows promise: an expired link is a 400 with a stable
// message, anything else stays a malformed-token error.
func scopedTokenError(err error) error {
	if !IsTokenExpiredError(err) {
		return err
	}

	clone := ErrTokenExpired.Clone()
	if clone == nil {
		return ErrTokenExpired
	}
	clone.Message = MsgResetTokenExpired
	clone.Category = goerrors.CategoryBadInput
	clone.Code = goerrors.CodeBadRequest
	return clone
}
