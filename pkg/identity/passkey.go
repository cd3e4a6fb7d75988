package identity

import (
	"encoding/base64"
	"net"
	"strings"

	"quempaga/models"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// RelyingParty is the subset of *webauthn.WebAuthn the manager drives.
type RelyingParty interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

// ResponseParser decodes browser ceremony responses.
type ResponseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

func newWebAuthn(cfg *webauthn.Config) (RelyingParty, error) {
	return webauthn.New(cfg)
}

// passkeyUser adapts an account, existing or pending, to webauthn.User.
type passkeyUser struct {
	user        *models.User
	handle      []byte
	email       string
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return u.handle }
func (u *passkeyUser) WebAuthnName() string                       { return u.email }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.email }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func newPasskeyUser(u *models.User) *passkeyUser {
	creds := make([]webauthn.Credential, 0, len(u.Credentials))
	for _, c := range u.Credentials {
		if wc, ok := toWebAuthn(c); ok {
			creds = append(creds, wc)
		}
	}
	return &passkeyUser{user: u, handle: []byte(u.FsUniquifier), email: u.Email, credentials: creds}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func toWebAuthn(c models.Credential) (webauthn.Credential, bool) {
	id, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, false
	}
	return webauthn.Credential{
		ID:              id,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}, true
}

func fromWebAuthn(userID uint, c *webauthn.Credential) models.Credential {
	return models.Credential{
		UserID:          userID,
		CredentialID:    encodeCredentialID(c.ID),
		PublicKey:       c.PublicKey,
		SignCount:       c.Authenticator.SignCount,
		AttestationType: c.AttestationType,
		AAGUID:          c.Authenticator.AAGUID,
		BackupEligible:  c.Flags.BackupEligible,
		BackupState:     c.Flags.BackupState,
	}
}

// requestHost returns the first host of a possibly comma separated Host header.
func requestHost(host string) string {
	return strings.TrimSpace(strings.Split(host, ",")[0])
}

// hostname strips the port; WebAuthn RP ids never carry one.
func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(host, "[]")
}
