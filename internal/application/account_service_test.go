package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/notify"
	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/persistence/memory"
	"github.com/example/room-tracker/internal/testfixtures"
)

func TestAccountRegistration(t *testing.T) {
	ctx := context.Background()
	h, _ := newHarness(t)

	_, err := h.Accounts.CreateEmailVerification(ctx, application.CreateVerificationParams{Email: "Ada@Example.com "})
	require.NoError(t, err)
	deliveries := h.Deliveries()
	require.Len(t, deliveries, 1)
	code := deliveries[0].Code
	assert.Equal(t, "ada@example.com", deliveries[0].Email)
	assert.True(t, deliveries[0].ExpiresAt.Equal(base.Add(application.DefaultVerificationTTL)))

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = h.Accounts.VerifyEmail(ctx, application.VerifyEmailParams{Email: "ada@example.com", Code: wrong})
	assert.ErrorIs(t, err, application.ErrVerificationFailed)

	signature, err := h.Accounts.VerifyEmail(ctx, application.VerifyEmailParams{Email: "ada@example.com", Code: code})
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	_, err = h.Accounts.RegisterUser(ctx, application.RegisterUserParams{
		Email: "ada@example.com", Username: "ada", Password: "correct horse", Signature: "forged",
	})
	assert.ErrorIs(t, err, application.ErrVerificationFailed)

	user, err := h.Accounts.RegisterUser(ctx, application.RegisterUserParams{
		Email: "ada@example.com", Username: "ada", Password: "correct horse", Signature: signature,
	})
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.NotContains(t, user.PasswordHash, "correct horse")

	_, err = h.Accounts.RegisterUser(ctx, application.RegisterUserParams{
		Email: "ada@example.com", Username: "ada", Password: "correct horse", Signature: signature,
	})
	assert.ErrorIs(t, err, application.ErrAlreadyExists)
	_, err = h.Accounts.CreateEmailVerification(ctx, application.CreateVerificationParams{Email: "ada@example.com"})
	assert.ErrorIs(t, err, application.ErrAlreadyExists)

	authenticated, err := h.Accounts.Authenticate(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authenticated.ID)
	_, err = h.Accounts.Authenticate(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, application.ErrInvalidCredentials)
	_, err = h.Accounts.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, application.ErrInvalidCredentials)
}

func TestBookingMessagesUseUsernames(t *testing.T) {
	ctx := context.Background()
	h, room := newHarness(t)

	user := testfixtures.NewUserFixture(testfixtures.WithUsername("grace"))
	require.NoError(t, user.Seed(ctx, h.Store))

	_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
		RoomID: room.Room.ID, AuthorID: user.ID, Start: at(13, 0), End: ptr(at(14, 0)),
	})
	require.NoError(t, err)

	history, err := h.History.History(ctx, room.EventRoom.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, `grace created busy room "Library"`, history[0].Name)
	require.NotNil(t, history[0].AuthorID)
	assert.Equal(t, user.ID, *history[0].AuthorID)
}

func TestVerificationExpires(t *testing.T) {
	ctx := context.Background()
	h, _ := newHarness(t)

	_, err := h.Accounts.CreateEmailVerification(ctx, application.CreateVerificationParams{Email: "ada@example.com"})
	require.NoError(t, err)
	code := h.Deliveries()[0].Code

	h.Clock.Advance(application.DefaultVerificationTTL + time.Second)
	_, err = h.Accounts.VerifyEmail(ctx, application.VerifyEmailParams{Email: "ada@example.com", Code: code})
	assert.ErrorIs(t, err, application.ErrVerificationFailed)
}

func TestVerificationValidation(t *testing.T) {
	ctx := context.Background()
	h, _ := newHarness(t)

	_, err := h.Accounts.CreateEmailVerification(ctx, application.CreateVerificationParams{Email: "not-an-email"})
	var vErr *application.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "must be a valid email address", vErr.FieldErrors["email"])

	_, err = h.Accounts.VerifyEmail(ctx, application.VerifyEmailParams{Email: "ada@example.com", Code: "12ab"})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "code")

	_, err = h.Accounts.RegisterUser(ctx, application.RegisterUserParams{Email: "ada@example.com", Username: "ada", Password: "short", Signature: "x"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "must be at least 8 characters", vErr.FieldErrors["password"])
}

func TestVerificationWithoutDeliveryIsAnIntegrityFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	command := notify.NewCommand[application.EmailVerificationCreated]("email_verification_created", nil)
	svc := application.NewAccountService(store, command, application.AccountOptions{
		CodeGenerator: func() (string, error) { return "123456", nil },
	}, testfixtures.NewIDGenerator("v").NextFunc(), testfixtures.NewClock(base).NowFunc(), nil)

	_, err := svc.CreateEmailVerification(ctx, application.CreateVerificationParams{Email: "ada@example.com"})
	var iErr *application.IntegrityError
	require.ErrorAs(t, err, &iErr)
	assert.ErrorIs(t, err, notify.ErrNoHandlers)
	assert.Equal(t, "integrity", application.ErrorKind(err))

	_, err = store.LatestVerification(ctx, "ada@example.com")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
