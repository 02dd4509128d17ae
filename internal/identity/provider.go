// Package identity signs users up and in with email and password and issues
// the session tokens the HTTP API and live stream accept.
package identity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/repo"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// DefaultTokenTTL is how long a session token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// SignUpInput carries the registration form.
type SignUpInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	UserType    domain.UserType
}

// Session is an issued token.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider is the identity provider. It also remembers which user is signed
// in on this device.
type Provider struct {
	accounts repo.AccountRepo
	users    repo.UserRepo
	key      []byte
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *Session
	revoked map[string]time.Time // token id -> expiry
}

// NewProvider derives the signing key from secret with HKDF-SHA256.
func NewProvider(accounts repo.AccountRepo, users repo.UserRepo, secret string, ttl time.Duration, log *slog.Logger) (*Provider, error) {
	if secret == "" {
		return nil, errors.New("identity.NewProvider: secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("hitchsafe-session")), key); err != nil {
		return nil, fmt.Errorf("identity.NewProvider: derive key: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Provider{
		accounts: accounts,
		users:    users,
		key:      key,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		revoked:  make(map[string]time.Time),
	}, nil
}

// SignUp registers a new account and its user profile, then signs it in.
func (p *Provider) SignUp(ctx context.Context, in SignUpInput) (domain.User, Session, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return domain.User{}, Session{}, domain.NewAuthError(domain.AuthWeakPassword,
			fmt.Errorf("password must be at least %d characters", MinPasswordLength))
	}
	if !in.UserType.Valid() {
		return domain.User{}, Session{}, domain.NewAuthError(domain.AuthInvalidUserType,
			fmt.Errorf("unknown user type %q", in.UserType))
	}

	_, err = p.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.User{}, Session{}, domain.NewAuthError(domain.AuthEmailInUse, nil)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, Session{}, fmt.Errorf("identity.Provider.SignUp: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, Session{}, fmt.Errorf("identity.Provider.SignUp: hash password: %w", err)
	}

	now := p.now().UTC()
	user := domain.User{
		ID:          uuid.NewString(),
		Email:       email,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		UserType:    in.UserType,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if user, err = p.users.Create(ctx, user); err != nil {
		return domain.User{}, Session{}, fmt.Errorf("identity.Provider.SignUp: %w", err)
	}
	acct := repo.Account{Email: email, UserID: user.ID, PasswordHash: string(hash), CreatedAt: now}
	if err := p.accounts.Create(ctx, acct); err != nil {
		return domain.User{}, Session{}, fmt.Errorf("identity.Provider.SignUp: %w", err)
	}

	sess, err := p.issue(user.ID, email)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	p.log.InfoContext(ctx, "user signed up", "user_id", user.ID, "user_type", string(user.UserType))
	return user, sess, nil
}

// SignIn checks the password and issues a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (domain.User, Session, error) {
	email, err := validateEmail(email)
	if err != nil {
		return domain.User{}, Session{}, err
	}

	acct, err := p.accounts.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, Session{}, domain.NewAuthError(domain.AuthUserNotFound, nil)
	}
	if err != nil {
		return domain.User{}, Session{}, fmt.Errorf("identity.Provider.SignIn: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, Session{}, domain.NewAuthError(domain.AuthWrongPassword, nil)
	}

	user, err := p.users.GetByID(ctx, acct.UserID)
	if err != nil {
		return domain.User{}, Session{}, fmt.Errorf("identity.Provider.SignIn: %w", err)
	}

	sess, err := p.issue(user.ID, email)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	p.log.InfoContext(ctx, "user signed in", "user_id", user.ID)
	return user, sess, nil
}

// SignOut revokes the given session token. The device's current session is
// cleared only when it is that token; other users stay signed in.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	c, err := p.parse(token)
	if err != nil {
		return domain.NewAuthError(domain.AuthInvalidToken, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.revoked[c.ID]; ok {
		return domain.NewAuthError(domain.AuthNoCurrentUser, errors.New("already signed out"))
	}
	p.revoked[c.ID] = c.ExpiresAt.Time
	if p.current != nil && p.current.Token == token {
		p.current = nil
	}
	p.log.InfoContext(ctx, "user signed out", "user_id", c.Subject)
	return nil
}

// CurrentUserID returns the user signed in on this device.
func (p *Provider) CurrentUserID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return "", domain.NewAuthError(domain.AuthNoCurrentUser, nil)
	}
	if !p.current.ExpiresAt.After(p.now()) {
		p.current = nil
		return "", domain.NewAuthError(domain.AuthNoCurrentUser, errors.New("session expired"))
	}
	return p.current.UserID, nil
}

// Verify returns the user id a session token was issued to.
func (p *Provider) Verify(token string) (string, error) {
	c, err := p.parse(token)
	if err != nil {
		return "", domain.NewAuthError(domain.AuthInvalidToken, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.revoked[c.ID]; ok {
		return "", domain.NewAuthError(domain.AuthInvalidToken, errors.New("token revoked"))
	}
	return c.Subject, nil
}

func (p *Provider) issue(userID, email string) (Session, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.key)
	if err != nil {
		return Session{}, fmt.Errorf("identity.Provider.issue: %w", err)
	}

	sess := Session{Token: signed, UserID: userID, ExpiresAt: exp}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &sess
	for id, until := range p.revoked {
		if until.Before(now) {
			delete(p.revoked, id)
		}
	}
	return sess, nil
}

func (p *Provider) parse(token string) (*claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return nil, errors.New("invalid token structure")
	}
	return c, nil
}

func validateEmail(email string) (string, error) {
	email = repo.NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.NewAuthError(domain.AuthInvalidEmail, err)
	}
	return email, nil
}
