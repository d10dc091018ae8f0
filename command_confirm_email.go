package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ConfirmEmailMessage struct {
	Token      string `json:"token"`
	OnResponse func(user *User)
}

func (p ConfirmEmailMessage) Type() string { return "user.confirm_email" }

// ConfirmEmailHandler validates a confirm_email scoped token and
// activates the account. Confirming twice is harmless; the second
// pass just refreshes the timestamp.
type ConfirmEmailHandler struct {
	repo     RepositoryManager
	tokens   TokenService
	activity ActivitySink
	logger   Logger
}

func NewConfirmEmailHandler(repo RepositoryManager, tokens TokenService) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{
		repo:     repo,
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *ConfirmEmailHandler) WithLogger(logger Logger) *ConfirmEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmEmailHandler) WithActivitySink(sink ActivitySink) *ConfirmEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailHandler) execute(ctx context.Context, event ConfirmEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	claims, err := h.tokens.ValidateScoped(event.Token, TokenPurposeConfirmEmail)
	if err != nil {
		// An expired link must leave the account untouched.
		return scopedTokenError(err)
	}

	user := &User{}
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().ConfirmTx(ctx, tx, claims.PublicID(), time.Now())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm user")
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email")
	}

	_ = h.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventEmailConfirmed,
		UserID:     user.PublicID,
		OccurredAt: time.Now(),
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}
	return nil
}
