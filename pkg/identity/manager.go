// Package identity registers accounts with passkeys and authenticates them
// by passkey or password.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"quempaga/models"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Config controls relying party settings and the shared secrets.
type Config struct {
	RPDisplayName string
	// RPID fixes the relying party id. Empty derives it from the request host.
	RPID string
	// RPOrigins fixes the accepted origins. Empty accepts https://<request host>.
	RPOrigins []string
	// RegistrationPassword gates sign-up. Empty disables registration.
	RegistrationPassword string
	PasswordSalt         string
	BcryptCost           int
}

// Registration is the single in-flight sign-up a browser session holds.
type Registration struct {
	Email   string               `json:"email"`
	Handle  string               `json:"handle"`
	Session webauthn.SessionData `json:"session"`
}

// Manager owns users and their credentials.
type Manager struct {
	db               *gorm.DB
	cfg              Config
	registrationHash []byte
	newRelyingParty  func(*webauthn.Config) (RelyingParty, error)
	parser           ResponseParser
	newHandle        func() string
	clock            func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRelyingParty replaces the go-webauthn relying party constructor.
func WithRelyingParty(f func(*webauthn.Config) (RelyingParty, error)) Option {
	return func(m *Manager) { m.newRelyingParty = f }
}

// WithParser replaces the ceremony response parser.
func WithParser(p ResponseParser) Option {
	return func(m *Manager) { m.parser = p }
}

func New(db *gorm.DB, cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		db:              db,
		cfg:             cfg,
		newRelyingParty: newWebAuthn,
		parser:          defaultParser{},
		newHandle:       func() string { return uuid.NewString() },
		clock:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.RegistrationPassword != "" {
		hash, err := HashPassword(cfg.PasswordSalt, cfg.RegistrationPassword, cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("identity: hash registration password: %w", err)
		}
		m.registrationHash = hash
	}
	return m, nil
}

// RegistrationOpen reports whether a registration password is configured.
func (m *Manager) RegistrationOpen() bool {
	return len(m.registrationHash) > 0
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *Manager) relyingParty(host string) (RelyingParty, error) {
	h := requestHost(host)
	rpID := m.cfg.RPID
	if rpID == "" {
		rpID = hostname(h)
	}
	origins := m.cfg.RPOrigins
	if len(origins) == 0 {
		origins = []string{"https://" + h}
	}
	rp, err := m.newRelyingParty(&webauthn.Config{
		RPDisplayName: m.cfg.RPDisplayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: relying party for %q: %w", rpID, err)
	}
	return rp, nil
}

func (m *Manager) emailTaken(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, fmt.Errorf("identity: lookup email: %w", err)
	}
	return count > 0, nil
}

// BeginRegistration checks the shared password and the email, then issues a
// registration challenge scoped to host. The caller keeps the returned
// Registration in the browser session until FinishRegistration.
func (m *Manager) BeginRegistration(ctx context.Context, host, email, registrationPassword string) (*protocol.CredentialCreation, *Registration, error) {
	if !CheckPassword(m.cfg.PasswordSalt, m.registrationHash, registrationPassword) {
		return nil, nil, ErrUnauthorized
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil, ErrInvalidEmail
	}
	taken, err := m.emailTaken(ctx, m.db, email)
	if err != nil {
		return nil, nil, err
	}
	if taken {
		return nil, nil, ErrConflict
	}
	rp, err := m.relyingParty(host)
	if err != nil {
		return nil, nil, err
	}
	pending := &passkeyUser{handle: []byte(m.newHandle()), email: email}
	creation, session, err := rp.BeginRegistration(pending,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired))
	if err != nil {
		return nil, nil, fmt.Errorf("identity: begin registration: %w", err)
	}
	return creation, &Registration{Email: email, Handle: string(pending.handle), Session: *session}, nil
}

// FinishRegistration verifies the browser's attestation against reg and
// creates the active user with its first credential. Nothing is written when
// verification fails.
func (m *Manager) FinishRegistration(ctx context.Context, host string, reg *Registration, response []byte) (*models.User, error) {
	if reg == nil || reg.Handle == "" {
		return nil, ErrNoChallenge
	}
	parsed, err := m.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrVerification, err)
	}
	rp, err := m.relyingParty(host)
	if err != nil {
		return nil, err
	}
	pending := &passkeyUser{handle: []byte(reg.Handle), email: reg.Email}
	credential, err := rp.CreateCredential(pending, reg.Session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	var user models.User
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := m.emailTaken(ctx, tx, reg.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrConflict
		}
		role, err := defaultRole(tx)
		if err != nil {
			return err
		}
		user = models.User{Email: reg.Email, Active: true, FsUniquifier: reg.Handle, Roles: []models.Role{role}}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		cred := fromWebAuthn(user.ID, credential)
		if err := tx.Create(&cred).Error; err != nil {
			return err
		}
		user.Credentials = []models.Credential{cred}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || isUniqueConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("identity: create user: %w", err)
	}
	slog.InfoContext(ctx, "user registered", "email", user.Email, "user_id", user.ID)
	return &user, nil
}

// BeginLogin issues a discoverable passkey assertion challenge.
func (m *Manager) BeginLogin(ctx context.Context, host string) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	rp, err := m.relyingParty(host)
	if err != nil {
		return nil, nil, err
	}
	assertion, session, err := rp.BeginDiscoverableLogin()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: begin login: %w", err)
	}
	return assertion, session, nil
}

// FinishLogin validates a passkey assertion, stores the authenticator's new
// signature counter and returns the account it belongs to.
func (m *Manager) FinishLogin(ctx context.Context, host string, session *webauthn.SessionData, response []byte) (*models.User, error) {
	if session == nil {
		return nil, ErrNoChallenge
	}
	parsed, err := m.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrVerification, err)
	}
	rp, err := m.relyingParty(host)
	if err != nil {
		return nil, err
	}
	validated, credential, err := rp.ValidatePasskeyLogin(m.userHandler(ctx), *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	pu, ok := validated.(*passkeyUser)
	if !ok || pu.user == nil {
		return nil, fmt.Errorf("%w: unexpected user type %T", ErrVerification, validated)
	}
	if credential.Authenticator.CloneWarning {
		slog.WarnContext(ctx, "passkey clone warning", "user_id", pu.user.ID, "credential_id", encodeCredentialID(credential.ID))
		return nil, fmt.Errorf("%w: signature counter did not advance", ErrVerification)
	}
	if !pu.user.Active {
		return nil, ErrInvalidLogin
	}
	now := m.clock().UTC()
	res := m.db.WithContext(ctx).Model(&models.Credential{}).
		Where("credential_id = ? AND user_id = ?", encodeCredentialID(credential.ID), pu.user.ID).
		Updates(map[string]any{
			"sign_count":   credential.Authenticator.SignCount,
			"backup_state": credential.Flags.BackupState,
			"last_used_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("identity: update credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: credential not registered", ErrVerification)
	}
	return pu.user, nil
}

func (m *Manager) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		u, err := m.UserByHandle(ctx, string(userHandle))
		if err != nil {
			return nil, err
		}
		return newPasskeyUser(u), nil
	}
}

// Authenticate checks an email and password for the session login form.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var u models.User
	if err := m.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error; err != nil {
		// spend the same bcrypt time as a real account
		CheckPassword(m.cfg.PasswordSalt, m.missHash(), password)
		return nil, ErrInvalidLogin
	}
	if len(u.HashedPassword) == 0 {
		CheckPassword(m.cfg.PasswordSalt, m.missHash(), password)
		return nil, ErrInvalidLogin
	}
	if !CheckPassword(m.cfg.PasswordSalt, u.HashedPassword, password) || !u.Active {
		return nil, ErrInvalidLogin
	}
	return &u, nil
}

// missHash is a throwaway bcrypt hash at the configured cost, compared
// against when there is no real hash to check.
func (m *Manager) missHash() []byte {
	m.dummyOnce.Do(func() {
		hash, err := HashPassword(m.cfg.PasswordSalt, uuid.NewString(), m.cfg.BcryptCost)
		if err != nil {
			slog.Error("dummy password hash failed", "err", err)
			return
		}
		m.dummyHash = hash
	})
	return m.dummyHash
}

// UserByHandle loads an account and its credentials by fs_uniquifier.
func (m *Manager) UserByHandle(ctx context.Context, handle string) (*models.User, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, ErrNotFound
	}
	var u models.User
	err := m.db.WithContext(ctx).Preload("Credentials").Preload("Roles").
		Where("fs_uniquifier = ?", handle).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: load user: %w", err)
	}
	return &u, nil
}

// CreateUser provisions an active account outside the passkey flow. An empty
// password leaves the account passkey-only.
func (m *Manager) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	var hash []byte
	if password != "" {
		var err error
		if hash, err = HashPassword(m.cfg.PasswordSalt, password, m.cfg.BcryptCost); err != nil {
			return nil, fmt.Errorf("identity: hash password: %w", err)
		}
	}
	var user models.User
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := m.emailTaken(ctx, tx, email)
		if err != nil {
			return err
		}
		if taken {
			return ErrConflict
		}
		role, err := defaultRole(tx)
		if err != nil {
			return err
		}
		user = models.User{Email: email, Active: true, FsUniquifier: m.newHandle(), HashedPassword: hash, Roles: []models.Role{role}}
		return tx.Create(&user).Error
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || isUniqueConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("identity: create user: %w", err)
	}
	return &user, nil
}

// defaultRole ensures the regular user role exists (idempotent).
func defaultRole(tx *gorm.DB) (models.Role, error) {
	role := models.Role{Name: models.RoleUser, Description: "regular user"}
	if err := tx.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err != nil {
		return models.Role{}, fmt.Errorf("identity: ensure user role: %w", err)
	}
	return role, nil
}

// SetPassword replaces the login password of the account with email. An
// empty password makes the account passkey-only.
func (m *Manager) SetPassword(ctx context.Context, email, password string) error {
	var hash []byte
	if password != "" {
		var err error
		if hash, err = HashPassword(m.cfg.PasswordSalt, password, m.cfg.BcryptCost); err != nil {
			return fmt.Errorf("identity: hash password: %w", err)
		}
	}
	res := m.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", normalizeEmail(email)).
		Update("hashed_password", hash)
	if res.Error != nil {
		return fmt.Errorf("identity: update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
