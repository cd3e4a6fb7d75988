package identity

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quempaga/models"
	"quempaga/pkg/store"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testRegistrationPassword = "let-me-in"

type fakeRelyingParty struct {
	config        *webauthn.Config
	credential    *webauthn.Credential
	createErr     error
	validateErr   error
	loginHandle   []byte
	loginSignCnt  uint32
	cloneWarning  bool
	registeredFor webauthn.User
}

func (f *fakeRelyingParty) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	f.registeredFor = user
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "challenge-1", UserID: user.WebAuthnID()}, nil
}

func (f *fakeRelyingParty) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.credential != nil {
		return f.credential, nil
	}
	return &webauthn.Credential{ID: []byte("cred-1"), PublicKey: []byte("pk"), Authenticator: webauthn.Authenticator{SignCount: 1}}, nil
}

func (f *fakeRelyingParty) BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "login-challenge"}, nil
}

func (f *fakeRelyingParty) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	user, err := handler([]byte("cred-1"), f.loginHandle)
	if err != nil {
		return nil, nil, err
	}
	cred := user.WebAuthnCredentials()[0]
	cred.Authenticator.SignCount = f.loginSignCnt
	cred.Authenticator.CloneWarning = f.cloneWarning
	return user, &cred, nil
}

type fakeParser struct {
	err error
}

func (f fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	require.NoError(t, store.Setup(db, true))
	return db
}

func newTestManager(t *testing.T, rp *fakeRelyingParty) (*Manager, *gorm.DB) {
	t.Helper()
	db := openDB(t)
	m, err := New(db, Config{
		RPDisplayName:        "Test",
		RegistrationPassword: testRegistrationPassword,
		PasswordSalt:         "salt",
		BcryptCost:           bcrypt.MinCost,
	},
		WithRelyingParty(func(cfg *webauthn.Config) (RelyingParty, error) {
			rp.config = cfg
			return rp, nil
		}),
		WithParser(fakeParser{}),
	)
	require.NoError(t, err)
	m.newHandle = func() string { return "handle-1" }
	return m, db
}

func countUsers(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
	return n
}

func TestBeginRegistrationWrongPassword(t *testing.T) {
	m, db := newTestManager(t, &fakeRelyingParty{})
	for _, email := range []string{"alice@example.com", "", "not an email"} {
		_, _, err := m.BeginRegistration(context.Background(), "example.com", email, "wrong")
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Zero(t, countUsers(t, db))
}

func TestBeginRegistrationDisabledWithoutPassword(t *testing.T) {
	m, err := New(openDB(t), Config{RPDisplayName: "Test"})
	require.NoError(t, err)
	assert.False(t, m.RegistrationOpen())
	_, _, err = m.BeginRegistration(context.Background(), "example.com", "alice@example.com", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBeginRegistrationMissingEmail(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	_, _, err := m.BeginRegistration(context.Background(), "example.com", "  ", testRegistrationPassword)
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestBeginRegistrationScopesToHost(t *testing.T) {
	rp := &fakeRelyingParty{}
	m, _ := newTestManager(t, rp)

	creation, reg, err := m.BeginRegistration(context.Background(), "boia.example.com:5000, proxy.local", "Alice@Example.com ", testRegistrationPassword)
	require.NoError(t, err)
	require.NotNil(t, creation)
	assert.Equal(t, "alice@example.com", reg.Email)
	assert.Equal(t, "handle-1", reg.Handle)
	assert.Equal(t, "challenge-1", reg.Session.Challenge)

	assert.Equal(t, "boia.example.com", rp.config.RPID)
	assert.Equal(t, []string{"https://boia.example.com:5000"}, rp.config.RPOrigins)
	assert.Equal(t, []byte("handle-1"), rp.registeredFor.WebAuthnID())
}

func TestBeginRegistrationUsesConfiguredRelyingParty(t *testing.T) {
	rp := &fakeRelyingParty{}
	m, _ := newTestManager(t, rp)
	m.cfg.RPID = "boia.example.com"
	m.cfg.RPOrigins = []string{"https://boia.example.com"}

	_, _, err := m.BeginRegistration(context.Background(), "10.0.0.1:5000", "alice@example.com", testRegistrationPassword)
	require.NoError(t, err)
	assert.Equal(t, "boia.example.com", rp.config.RPID)
	assert.Equal(t, []string{"https://boia.example.com"}, rp.config.RPOrigins)
}

func TestBeginRegistrationWithRealRelyingParty(t *testing.T) {
	m, err := New(openDB(t), Config{RPDisplayName: "Test", RegistrationPassword: testRegistrationPassword, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	creation, reg, err := m.BeginRegistration(context.Background(), "localhost:5000", "alice@example.com", testRegistrationPassword)
	require.NoError(t, err)
	assert.Equal(t, "localhost", creation.Response.RelyingParty.ID)
	assert.NotEmpty(t, reg.Session.Challenge)

	payload, err := json.Marshal(reg)
	require.NoError(t, err)
	var decoded Registration
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, reg.Session.Challenge, decoded.Session.Challenge)
}

func register(t *testing.T, m *Manager, email string) *models.User {
	t.Helper()
	ctx := context.Background()
	_, reg, err := m.BeginRegistration(ctx, "example.com", email, testRegistrationPassword)
	require.NoError(t, err)
	u, err := m.FinishRegistration(ctx, "example.com", reg, []byte(`{}`))
	require.NoError(t, err)
	return u
}

func TestFinishRegistrationCreatesUserAndCredential(t *testing.T) {
	m, db := newTestManager(t, &fakeRelyingParty{})
	u := register(t, m, "alice@example.com")

	var stored models.User
	require.NoError(t, db.Preload("Roles").Preload("Credentials").First(&stored, u.ID).Error)
	assert.True(t, stored.Active)
	assert.Equal(t, "alice@example.com", stored.Email)
	assert.Equal(t, "handle-1", stored.FsUniquifier)
	assert.True(t, stored.HasRole(models.RoleUser))
	require.Len(t, stored.Credentials, 1)
	assert.Equal(t, encodeCredentialID([]byte("cred-1")), stored.Credentials[0].CredentialID)
	assert.Equal(t, []byte("pk"), stored.Credentials[0].PublicKey)
	assert.Equal(t, uint32(1), stored.Credentials[0].SignCount)
}

func TestFinishRegistrationVerificationFailure(t *testing.T) {
	m, db := newTestManager(t, &fakeRelyingParty{createErr: errors.New("bad signature")})
	_, reg, err := m.BeginRegistration(context.Background(), "example.com", "alice@example.com", testRegistrationPassword)
	require.NoError(t, err)

	_, err = m.FinishRegistration(context.Background(), "example.com", reg, []byte(`{}`))
	assert.ErrorIs(t, err, ErrVerification)
	assert.Zero(t, countUsers(t, db))
}

func TestFinishRegistrationParseFailure(t *testing.T) {
	m, db := newTestManager(t, &fakeRelyingParty{})
	m.parser = fakeParser{err: errors.New("garbage")}
	_, reg, err := m.BeginRegistration(context.Background(), "example.com", "alice@example.com", testRegistrationPassword)
	require.NoError(t, err)

	_, err = m.FinishRegistration(context.Background(), "example.com", reg, []byte(`nope`))
	assert.ErrorIs(t, err, ErrVerification)
	assert.Zero(t, countUsers(t, db))
}

func TestFinishRegistrationWithoutChallenge(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	_, err := m.FinishRegistration(context.Background(), "example.com", nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRegisterSameEmailTwice(t *testing.T) {
	rp := &fakeRelyingParty{}
	m, db := newTestManager(t, rp)
	ctx := context.Background()

	// Both sessions start before either finishes.
	_, first, err := m.BeginRegistration(ctx, "example.com", "alice@example.com", testRegistrationPassword)
	require.NoError(t, err)
	m.newHandle = func() string { return "handle-2" }
	_, second, err := m.BeginRegistration(ctx, "example.com", "alice@example.com", testRegistrationPassword)
	require.NoError(t, err)

	_, err = m.FinishRegistration(ctx, "example.com", first, []byte(`{}`))
	require.NoError(t, err)
	rp.credential = &webauthn.Credential{ID: []byte("cred-2"), PublicKey: []byte("pk2")}
	_, err = m.FinishRegistration(ctx, "example.com", second, []byte(`{}`))
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = m.BeginRegistration(ctx, "example.com", "alice@example.com", testRegistrationPassword)
	assert.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, int64(1), countUsers(t, db))
	var creds int64
	require.NoError(t, db.Model(&models.Credential{}).Count(&creds).Error)
	assert.Equal(t, int64(1), creds)
}

func TestFinishLoginUpdatesSignCount(t *testing.T) {
	rp := &fakeRelyingParty{}
	m, db := newTestManager(t, rp)
	u := register(t, m, "alice@example.com")
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return fixed }

	_, session, err := m.BeginLogin(context.Background(), "example.com")
	require.NoError(t, err)
	rp.loginHandle = []byte(u.FsUniquifier)
	rp.loginSignCnt = 7

	got, err := m.FinishLogin(context.Background(), "example.com", session, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	var cred models.Credential
	require.NoError(t, db.Where("user_id = ?", u.ID).First(&cred).Error)
	assert.Equal(t, uint32(7), cred.SignCount)
	require.NotNil(t, cred.LastUsedAt)
	assert.True(t, cred.LastUsedAt.Equal(fixed))
}

func TestFinishLoginCloneWarning(t *testing.T) {
	rp := &fakeRelyingParty{}
	m, db := newTestManager(t, rp)
	u := register(t, m, "alice@example.com")
	rp.loginHandle = []byte(u.FsUniquifier)
	rp.loginSignCnt = 9
	rp.cloneWarning = true

	_, err := m.FinishLogin(context.Background(), "example.com", &webauthn.SessionData{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrVerification)

	var cred models.Credential
	require.NoError(t, db.Where("user_id = ?", u.ID).First(&cred).Error)
	assert.Equal(t, uint32(1), cred.SignCount)
}

func TestFinishLoginInactiveUser(t *testing.T) {
	rp := &fakeRelyingParty{}
	m, db := newTestManager(t, rp)
	u := register(t, m, "alice@example.com")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", u.ID).Update("active", false).Error)
	rp.loginHandle = []byte(u.FsUniquifier)

	_, err := m.FinishLogin(context.Background(), "example.com", &webauthn.SessionData{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidLogin)
}

func TestFinishLoginUnknownHandle(t *testing.T) {
	rp := &fakeRelyingParty{loginHandle: []byte("nobody")}
	m, _ := newTestManager(t, rp)

	_, err := m.FinishLogin(context.Background(), "example.com", &webauthn.SessionData{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrVerification)
	_, err = m.FinishLogin(context.Background(), "example.com", nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	ctx := context.Background()

	u, err := m.CreateUser(ctx, "Bob@Example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", u.Email)

	_, err = m.CreateUser(ctx, "bob@example.com", "other")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := m.Authenticate(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = m.Authenticate(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	_, err = m.Authenticate(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidLogin)
}

func TestAuthenticateUnknownEmailStillHashes(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	require.Nil(t, m.dummyHash)

	_, err := m.Authenticate(context.Background(), "ghost@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	require.NotEmpty(t, m.dummyHash)
	cost, err := bcrypt.Cost(m.dummyHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
	assert.False(t, CheckPassword("salt", m.dummyHash, "hunter22"))
}

func TestAuthenticatePasskeyOnlyAccount(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	register(t, m, "alice@example.com")
	_, err := m.Authenticate(context.Background(), "alice@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidLogin)
}

func TestUserByHandle(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	u := register(t, m, "alice@example.com")

	got, err := m.UserByHandle(context.Background(), u.FsUniquifier)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Len(t, got.Credentials, 1)

	_, err = m.UserByHandle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.UserByHandle(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordHashUsesSalt(t *testing.T) {
	hash, err := HashPassword("salt-a", "secret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckPassword("salt-a", hash, "secret"))
	assert.False(t, CheckPassword("salt-b", hash, "secret"))
	assert.False(t, CheckPassword("salt-a", nil, "secret"))
}

func TestSetPassword(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelyingParty{})
	ctx := context.Background()
	register(t, m, "alice@example.com")

	require.NoError(t, m.SetPassword(ctx, "Alice@example.com", "n3w-pass"))
	_, err := m.Authenticate(ctx, "alice@example.com", "n3w-pass")
	require.NoError(t, err)

	require.NoError(t, m.SetPassword(ctx, "alice@example.com", ""))
	_, err = m.Authenticate(ctx, "alice@example.com", "n3w-pass")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	assert.ErrorIs(t, m.SetPassword(ctx, "nobody@example.com", "x"), ErrNotFound)
}
