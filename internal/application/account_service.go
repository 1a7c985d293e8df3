package application

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/example/room-tracker/internal/notify"
	"github.com/example/room-tracker/internal/persistence"
)

// DefaultVerificationTTL is how long a verification code stays valid.
const DefaultVerificationTTL = 15 * time.Minute

// EmailVerificationCreated is the command payload that delivers a code.
type EmailVerificationCreated struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// AccountOptions tune the account flows.
type AccountOptions struct {
	VerificationTTL time.Duration
	// SigningKey seeds verification signatures.
	SigningKey     []byte
	PasswordParams Argon2idParams
	// CodeGenerator overrides the random six digit code source.
	CodeGenerator func() (string, error)
}

// AccountService registers users whose e-mail address was verified.
type AccountService struct {
	store         persistence.Store
	deliver       *notify.Command[EmailVerificationCreated]
	ttl           time.Duration
	signingKey    [32]byte
	params        Argon2idParams
	codeGenerator func() (string, error)
	idGenerator   func() string
	now           func() time.Time
	logger        *slog.Logger
}

// NewAccountService wires the account flows. deliver must have a handler by
// the time a verification is created.
func NewAccountService(store persistence.Store, deliver *notify.Command[EmailVerificationCreated], opts AccountOptions, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AccountService {
	if opts.VerificationTTL <= 0 {
		opts.VerificationTTL = DefaultVerificationTTL
	}
	if opts.PasswordParams == (Argon2idParams{}) {
		opts.PasswordParams = DefaultArgon2idParams
	}
	if opts.CodeGenerator == nil {
		opts.CodeGenerator = randomCode
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AccountService{
		store:         store,
		deliver:       deliver,
		ttl:           opts.VerificationTTL,
		signingKey:    blake3.Sum256(opts.SigningKey),
		params:        opts.PasswordParams,
		codeGenerator: opts.CodeGenerator,
		idGenerator:   idGenerator,
		now:           now,
		logger:        defaultLogger(logger),
	}
}

func (s *AccountService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AccountService", operation, attrs...)
}

// CreateEmailVerification issues a code for an address that has no account yet
// and hands it to the delivery command. Without a working delivery nothing is
// stored.
func (s *AccountService) CreateEmailVerification(ctx context.Context, params CreateVerificationParams) (verification persistence.EmailVerification, err error) {
	if s == nil {
		err = fmt.Errorf("AccountService is nil")
		return
	}

	params.Email = normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "CreateEmailVerification", "email", params.Email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create email verification", err)
			return
		}
		logger.With("verification_id", verification.ID).InfoContext(ctx, "email verification created")
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.ensureNoAccount(ctx, params.Email); err != nil {
			return err
		}
		code, err := s.codeGenerator()
		if err != nil {
			return fmt.Errorf("generate verification code: %w", err)
		}
		now := s.now()
		verification = persistence.EmailVerification{
			ID:        s.idGenerator(),
			Email:     params.Email,
			Code:      code,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		if err := s.store.CreateVerification(ctx, verification); err != nil {
			return mapRepoError(err)
		}
		if err := s.deliver.Execute(ctx, EmailVerificationCreated{Email: verification.Email, Code: code, ExpiresAt: verification.ExpiresAt}); err != nil {
			return &IntegrityError{Op: "CreateEmailVerification", Err: err}
		}
		return nil
	})
	if err != nil {
		verification = persistence.EmailVerification{}
	}
	return
}

// VerifyEmail checks the newest code issued for the address and returns the
// signature that authorizes RegisterUser.
func (s *AccountService) VerifyEmail(ctx context.Context, params VerifyEmailParams) (signature string, err error) {
	if s == nil {
		err = fmt.Errorf("AccountService is nil")
		return
	}

	params.Email = normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "VerifyEmail", "email", params.Email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to verify email", err)
			return
		}
		logger.InfoContext(ctx, "email verified")
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		verification, err := s.store.LatestVerification(ctx, params.Email)
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrVerificationFailed
		}
		if err != nil {
			return err
		}
		now := s.now()
		if verification.VerifiedAt != nil || now.After(verification.ExpiresAt) {
			return ErrVerificationFailed
		}
		if subtle.ConstantTimeCompare([]byte(verification.Code), []byte(params.Code)) != 1 {
			return ErrVerificationFailed
		}

		verification.VerifiedAt = &now
		verification.Signature = s.sign(verification)
		if err := s.store.UpdateVerification(ctx, verification); err != nil {
			return mapRepoError(err)
		}
		signature = verification.Signature
		return nil
	})
	if err != nil {
		signature = ""
	}
	return
}

// RegisterUser creates an account for a verified address.
func (s *AccountService) RegisterUser(ctx context.Context, params RegisterUserParams) (user persistence.User, err error) {
	if s == nil {
		err = fmt.Errorf("AccountService is nil")
		return
	}

	params.Email = normalizeEmail(params.Email)
	params.Username = strings.TrimSpace(params.Username)
	logger := s.loggerWith(ctx, "RegisterUser", "email", params.Email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to register user", err)
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "user registered")
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	hash, err := hashPassword(params.Password, s.params)
	if err != nil {
		return persistence.User{}, fmt.Errorf("hash password: %w", err)
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.ensureNoAccount(ctx, params.Email); err != nil {
			return err
		}
		verification, err := s.store.LatestVerification(ctx, params.Email)
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrVerificationFailed
		}
		if err != nil {
			return err
		}
		if verification.VerifiedAt == nil ||
			subtle.ConstantTimeCompare([]byte(verification.Signature), []byte(params.Signature)) != 1 {
			return ErrVerificationFailed
		}

		now := s.now()
		user = persistence.User{
			ID:           s.idGenerator(),
			Email:        params.Email,
			Username:     params.Username,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return mapRepoError(s.store.CreateUser(ctx, user))
	})
	if err != nil {
		user = persistence.User{}
	}
	return
}

// Authenticate checks a password against the stored hash.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (user persistence.User, err error) {
	if s == nil {
		err = fmt.Errorf("AccountService is nil")
		return
	}

	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, "Authenticate", "email", email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "authentication failed", err)
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "authentication succeeded")
	}()

	if email == "" || password == "" {
		err = ErrInvalidCredentials
		return
	}
	user, err = s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return persistence.User{}, err
	}
	if err = verifyPassword(user.PasswordHash, password); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

func (s *AccountService) ensureNoAccount(ctx context.Context, email string) error {
	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: account for %s", ErrAlreadyExists, email)
	case errors.Is(err, persistence.ErrNotFound):
		return nil
	}
	return err
}

// sign binds the signature to the address, the verification and its time.
func (s *AccountService) sign(v persistence.EmailVerification) string {
	h, err := blake3.NewKeyed(s.signingKey[:])
	if err != nil {
		panic("application: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write([]byte(v.Email))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(v.ID))
	_, _ = h.Write([]byte{0})
	if v.VerifiedAt != nil {
		_, _ = h.Write([]byte(v.VerifiedAt.UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
