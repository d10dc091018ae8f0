package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Picture  string `json:"picture"`
	Role     string `json:"role"`
	// UseHashid derives the public id from the email instead of
	// random, which keeps ids stable across environment rebuilds.
	UseHashid  bool
	OnResponse func(user *User)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler creates the account, grants the default role,
// and sends the confirmation email with a purpose-scoped token.
type RegisterUserHandler struct {
	repo     RepositoryManager
	tokens   TokenService
	mail     *MailService
	config   Config
	activity ActivitySink
	logger   Logger
}

func NewRegisterUserHandler(repo RepositoryManager, tokens TokenService, mail *MailService, config Config) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		tokens:   tokens,
		mail:     mail,
		config:   config,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
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

		user.PasswordHash = hash
		user.PasswordSalt = salt
		user.Email = event.Email
		user.Name = event.Name
		user.Picture = event.Picture
		user.Username = getUsername(event.Username, event.Email)
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.PublicID = id.String()
			}
		}

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return err
		}

		role := event.Role
		if role == "" {
			role = RoleMember
		}
		if err := h.repo.Roles().Assign(ctx, tx, user.PublicID, role); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to assign default role")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	if err := h.sendConfirmation(ctx, user); err != nil {
		// The account exists; a delivery hiccup should not undo it.
		h.logger.Error("confirmation email for %s failed: %v", user.PublicID, err)
	}

	_ = h.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventRegistration,
		UserID:     user.PublicID,
		OccurredAt: time.Now(),
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}
	return nil
}

func (h *RegisterUserHandler) sendConfirmation(ctx context.Context, user *User) error {
	if h.mail == nil || h.tokens == nil {
		return nil
	}

	token, err := h.tokens.IssueScopedToken(
		ctx,
		NewIdentityFromUser(user),
		TokenPurposeConfirmEmail,
		h.config.GetConfirmTokenTTL(),
	)
	if err != nil {
		return err
	}

	link := h.config.GetBaseURL() + "confirm/email/" + token
	return h.mail.SendConfirmEmail(ctx, user.Email, user.Name, link)
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
