package auth

import (
	"context"
	"net/url"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
)

type InitializePasswordResetMessage struct {
	// Identifier is a username or an email; resolution tries the
	// username first, then the email.
	Identifier string `json:"identifier"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset.initialize" }

type InitializePasswordResetResponse struct {
	// Message is identical whether or not the account exists, so the
	// endpoint cannot be used to enumerate registered emails.
	Message string
	Success bool
}

// InitializePasswordResetHandler resolves the account and emails a
// reset link carrying a password_reset scoped token.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	tokens   TokenService
	mail     *MailService
	config   Config
	activity ActivitySink
	logger   Logger
}

func NewInitializePasswordResetHandler(repo RepositoryManager, tokens TokenService, mail *MailService, config Config) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		tokens:   tokens,
		mail:     mail,
		config:   config,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &InitializePasswordResetResponse{
		Message: MsgPasswordResetSent,
		Success: true,
	}

	user, err := h.repo.Users().GetByIdentifier(ctx, event.Identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Same response as the happy path; no email goes out.
			h.logger.Debug("password reset requested for unknown identifier")
			if event.OnResponse != nil {
				event.OnResponse(resp)
			}
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	token, err := h.tokens.IssueScopedToken(
		ctx,
		NewIdentityFromUser(user),
		TokenPurposePasswordReset,
		h.config.GetResetTokenTTL(),
	)
	if err != nil {
		return err
	}

	link := h.config.GetBaseURL() + "password/reset?token=" + url.QueryEscape(token)
	if err := h.mail.SendPasswordResetEmail(ctx, user.Email, user.Name, link); err != nil {
		return err
	}

	_ = h.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventPasswordResetRequest,
		UserID:     user.PublicID,
		OccurredAt: time.Now(),
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return nil
}
