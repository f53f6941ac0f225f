// Package auth provides identity for AlienChat: email/password accounts, the admin
// gate for sign-up, Google sign-in and bearer sessions. Everything is persisted in the
// application KV store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/AlienChat/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Provider names recorded on accounts.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Error variables for account operations.
var (
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password should be at least %d characters", MinPasswordLength)
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Account is a persisted identity.
type Account struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
}

// User is the identity carried by a session.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (a Account) user() User {
	return User{UID: a.UID, Email: a.Email, Name: a.Name}
}

// Accounts manages accounts keyed by normalized email.
type Accounts struct {
	mu   sync.Mutex
	kv   store.KV
	cost int
}

// NewAccounts creates an account manager over kv.
func NewAccounts(kv store.KV) *Accounts {
	return &Accounts{kv: kv, cost: bcrypt.DefaultCost}
}

func accountKey(email string) string {
	return "account_" + email
}

// NormalizeEmail validates an address and returns its lower-case bare form.
func NormalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// SignUp creates a password account.
func (a *Accounts) SignUp(ctx context.Context, email, password string) (User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		slog.Warn("Accounts.SignUp: invalid email")
		return User{}, err
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		slog.Warn("Accounts.SignUp: weak password", "email", normalized)
		return User{}, ErrWeakPassword
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok, err := a.load(ctx, normalized); err != nil {
		return User{}, err
	} else if ok {
		slog.Warn("Accounts.SignUp: email already registered", "email", normalized)
		return User{}, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	acct := Account{
		UID:          uuid.NewString(),
		Email:        normalized,
		PasswordHash: string(hash),
		Provider:     ProviderPassword,
		CreatedAt:    time.Now(),
	}
	if err := a.save(ctx, acct); err != nil {
		return User{}, err
	}
	slog.Info("Accounts.SignUp: account created", "email", normalized, "uid", acct.UID)
	return acct.user(), nil
}

// SignIn checks a password and returns the account's user.
func (a *Accounts) SignIn(ctx context.Context, email, password string) (User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	acct, ok, err := a.load(ctx, normalized)
	if err != nil {
		return User{}, err
	}
	if !ok || acct.PasswordHash == "" {
		slog.Warn("Accounts.SignIn: unknown account or no password", "email", normalized)
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		slog.Warn("Accounts.SignIn: password mismatch", "email", normalized)
		return User{}, ErrInvalidCredentials
	}
	slog.Info("Accounts.SignIn: signed in", "email", normalized, "uid", acct.UID)
	return acct.user(), nil
}

// LinkExternal returns the account for an email verified by an external provider,
// creating one without a password when none exists.
func (a *Accounts) LinkExternal(ctx context.Context, provider, email, name string) (User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	acct, ok, err := a.load(ctx, normalized)
	if err != nil {
		return User{}, err
	}
	if ok {
		if acct.Name == "" && name != "" {
			acct.Name = name
			if err := a.save(ctx, acct); err != nil {
				return User{}, err
			}
		}
		slog.Info("Accounts.LinkExternal: existing account", "email", normalized, "provider", provider)
		return acct.user(), nil
	}
	acct = Account{
		UID:       uuid.NewString(),
		Email:     normalized,
		Name:      name,
		Provider:  provider,
		CreatedAt: time.Now(),
	}
	if err := a.save(ctx, acct); err != nil {
		return User{}, err
	}
	slog.Info("Accounts.LinkExternal: account created", "email", normalized, "provider", provider, "uid", acct.UID)
	return acct.user(), nil
}

func (a *Accounts) load(ctx context.Context, email string) (Account, bool, error) {
	raw, ok, err := a.kv.Get(ctx, accountKey(email))
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to load account: %w", err)
	}
	if !ok {
		return Account{}, false, nil
	}
	var acct Account
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		return Account{}, false, fmt.Errorf("failed to decode account: %w", err)
	}
	return acct, true, nil
}

func (a *Accounts) save(ctx context.Context, acct Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	if err := a.kv.Set(ctx, accountKey(acct.Email), string(data)); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}
