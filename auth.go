package main

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"strings"

	"quempaga/models"
	"quempaga/pkg/identity"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
)

const (
	sessionName            = "boia_session"
	sessionUserKey         = "uid"
	sessionRegistrationKey = "registration"
	sessionLoginKey        = "passkey_login"
	ctxUserKey             = "user"
	ctxAuthMethodKey       = "auth_method"
)

// Values stored under ctxAuthMethodKey.
const (
	authSession = "session"
	authBearer  = "bearer"
)

// newSessionStore signs and encrypts the session cookie with keys derived
// from SECRET_KEY.
func newSessionStore(cfg Config) sessions.Store {
	authKey := sha256.Sum256([]byte("auth:" + cfg.SecretKey))
	encKey := sha256.Sum256([]byte("enc:" + cfg.SecretKey))
	store := cookie.NewStore(authKey[:], encKey[:])
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// authGate resolves the current user from a bearer token or the session.
// When REQUIRE_LOGIN is on, anonymous API calls get 401 and pages redirect to /login.
func (s *server) authGate(api bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, method, ok := s.currentUser(c)
		if ok {
			c.Set(ctxUserKey, user)
			c.Set(ctxAuthMethodKey, method)
			c.Next()
			return
		}
		if !s.cfg.RequireLogin {
			c.Next()
			return
		}
		if api {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
	}
}

// currentUser also reports whether the user came from a bearer token or the session.
func (s *server) currentUser(c *gin.Context) (*models.User, string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if len(authHeader) < 8 || !strings.EqualFold(authHeader[:7], "Bearer ") {
			return nil, "", false
		}
		claims, err := s.tokens.Verify(authHeader[7:])
		if err != nil {
			return nil, "", false
		}
		user, ok := s.activeUser(c, claims.Subject)
		return user, authBearer, ok
	}
	session := sessions.Default(c)
	handle, _ := session.Get(sessionUserKey).(string)
	if handle == "" {
		return nil, "", false
	}
	user, ok := s.activeUser(c, handle)
	if !ok {
		session.Delete(sessionUserKey)
		_ = session.Save()
	}
	return user, authSession, ok
}

func (s *server) activeUser(c *gin.Context, handle string) (*models.User, bool) {
	user, err := s.identity.UserByHandle(c.Request.Context(), handle)
	if err != nil || !user.Active {
		return nil, false
	}
	return user, true
}

// getUserFromContext returns the user set by authGate, if any.
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

func login(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionUserKey, user.FsUniquifier)
	return session.Save()
}

func saveRegistration(c *gin.Context, reg *identity.Registration) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	session := sessions.Default(c)
	session.Set(sessionRegistrationKey, string(raw))
	return session.Save()
}

// takeRegistration removes the pending registration from the session and returns it.
func takeRegistration(c *gin.Context) (*identity.Registration, error) {
	session := sessions.Default(c)
	raw, _ := session.Get(sessionRegistrationKey).(string)
	if raw == "" {
		return nil, nil
	}
	session.Delete(sessionRegistrationKey)
	if err := session.Save(); err != nil {
		return nil, err
	}
	var reg identity.Registration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func saveLoginChallenge(c *gin.Context, data *webauthn.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	session := sessions.Default(c)
	session.Set(sessionLoginKey, string(raw))
	return session.Save()
}

func takeLoginChallenge(c *gin.Context) (*webauthn.SessionData, error) {
	session := sessions.Default(c)
	raw, _ := session.Get(sessionLoginKey).(string)
	if raw == "" {
		return nil, nil
	}
	session.Delete(sessionLoginKey)
	if err := session.Save(); err != nil {
		return nil, err
	}
	var data webauthn.SessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return &data, nil
}
