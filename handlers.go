package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"quempaga/models"
	"quempaga/pkg/authtoken"
	"quempaga/pkg/identity"
	"quempaga/pkg/ledger"
	"quempaga/pkg/views"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxAPILimit = 100

// server holds the request-scoped dependencies; the pooled *gorm.DB lives
// inside ledger and identity.
type server struct {
	cfg      Config
	ledger   *ledger.Ledger
	identity *identity.Manager
	tokens   *authtoken.Issuer
	views    *views.Renderer
	favicon  []byte
	now      func() time.Time
}

func newServer(cfg Config, db *gorm.DB, opts ...identity.Option) (*server, error) {
	idm, err := identity.New(db, identity.Config{
		RPDisplayName:        cfg.RPDisplayName,
		RPID:                 cfg.RPID,
		RPOrigins:            cfg.RPOrigins,
		RegistrationPassword: cfg.RegistrationPassword,
		PasswordSalt:         cfg.PasswordSalt,
	}, opts...)
	if err != nil {
		return nil, err
	}
	var renderer *views.Renderer
	if cfg.TemplateDir != "" {
		renderer, err = views.NewFromDir(cfg.TemplateDir)
	} else {
		renderer, err = views.New()
	}
	if err != nil {
		return nil, err
	}
	icon, err := views.Favicon(cfg.FaviconPath, views.FaviconSize)
	if err != nil {
		return nil, err
	}
	return &server{
		cfg:      cfg,
		ledger:   ledger.New(db),
		identity: idm,
		tokens:   authtoken.NewIssuer(cfg.SecretKey, cfg.TokenTTL),
		views:    renderer,
		favicon:  icon,
		now:      time.Now,
	}, nil
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.HTMLRender = s.views
	r.Use(sessions.Sessions(sessionName, newSessionStore(s.cfg)))

	r.GET("/favicon.png", s.faviconHandler)
	r.StaticFS("/static", http.FS(views.Static()))

	r.GET("/register", s.registerPageHandler)
	r.POST("/register", s.registerHandler)
	r.POST("/verify-registration", s.verifyRegistrationHandler)

	r.GET("/login", s.loginPageHandler)
	r.POST("/login", s.loginHandler)
	r.POST("/login/passkey/begin", s.passkeyLoginBeginHandler)
	r.POST("/login/passkey/finish", s.passkeyLoginFinishHandler)
	r.POST("/logout", s.logoutHandler)

	pages := r.Group("")
	pages.Use(s.authGate(false))
	pages.GET("/", s.indexHandler)
	pages.POST("/", s.createEntryHandler)

	api := r.Group("/api")
	api.Use(s.authGate(true))
	api.POST("/token", s.tokenHandler)
	api.GET("/entries", s.listEntriesHandler)
	api.POST("/entries", s.createEntryAPIHandler)
	api.GET("/entries/latest/:type", s.latestEntryHandler)
	api.GET("/report", s.reportHandler)
}

func (s *server) faviconHandler(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", s.favicon)
}

func (s *server) page(c *gin.Context) views.Page {
	p := views.Page{RegistrationOpen: s.identity.RegistrationOpen()}
	if user, ok := getUserFromContext(c); ok {
		p.Email = user.Email
	}
	return p
}

// --- registration ---

func (s *server) registerPageHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", s.page(c))
}

func (s *server) registerHandler(c *gin.Context) {
	creation, reg, err := s.identity.BeginRegistration(c.Request.Context(), c.Request.Host,
		c.PostForm("email"), c.PostForm("registration_password"))
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid registration password"})
		return
	case errors.Is(err, identity.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	case errors.Is(err, identity.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email required"})
		return
	case err != nil:
		slog.ErrorContext(c, "begin registration failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	if err := saveRegistration(c, reg); err != nil {
		slog.ErrorContext(c, "store registration session failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, creation)
}

func (s *server) verifyRegistrationHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	reg, err := takeRegistration(c)
	if err != nil || reg == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no registration in progress"})
		return
	}
	user, err := s.identity.FinishRegistration(c.Request.Context(), c.Request.Host, reg, body)
	switch {
	case errors.Is(err, identity.ErrConflict):
		// /verify-registration answers every failure with 400
		c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
		return
	case err != nil:
		slog.WarnContext(c, "registration verification failed", "email", reg.Email, "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration verification failed"})
		return
	}
	slog.InfoContext(c, "user created", "user_id", user.ID)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// --- login ---

func (s *server) loginPageHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", s.page(c))
}

func (s *server) loginHandler(c *gin.Context) {
	email := c.PostForm("email")
	user, err := s.identity.Authenticate(c.Request.Context(), email, c.PostForm("password"))
	if err != nil {
		p := s.page(c)
		p.Error = "Invalid credentials"
		p.LoginEmail = email
		c.HTML(http.StatusUnauthorized, "login.html", p)
		return
	}
	if err := login(c, user); err != nil {
		slog.ErrorContext(c, "save session failed", "err", err)
		c.String(http.StatusInternalServerError, "login failed")
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *server) passkeyLoginBeginHandler(c *gin.Context) {
	assertion, data, err := s.identity.BeginLogin(c.Request.Context(), c.Request.Host)
	if err != nil {
		slog.ErrorContext(c, "begin passkey login failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if err := saveLoginChallenge(c, data); err != nil {
		slog.ErrorContext(c, "store login session failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, assertion)
}

func (s *server) passkeyLoginFinishHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	data, err := takeLoginChallenge(c)
	if err != nil || data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no login in progress"})
		return
	}
	user, err := s.identity.FinishLogin(c.Request.Context(), c.Request.Host, data, body)
	switch {
	case errors.Is(err, identity.ErrInvalidLogin):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	case err != nil:
		slog.WarnContext(c, "passkey login failed", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "login verification failed"})
		return
	}
	if err := login(c, user); err != nil {
		slog.ErrorContext(c, "save session failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *server) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = session.Save()
	c.Redirect(http.StatusFound, "/login")
}

// --- ledger pages ---

type entryRequest struct {
	Date  string   `form:"date" json:"date" binding:"required"`
	Buyer string   `form:"buyer" json:"buyer" binding:"required"`
	Type  string   `form:"type" json:"type" binding:"required"`
	Value *float64 `form:"value" json:"value" binding:"required"`
}

func (s *server) indexPage(c *gin.Context) (views.Page, error) {
	ov, err := s.ledger.Overview(c.Request.Context())
	if err != nil {
		return views.Page{}, err
	}
	p := s.page(c)
	p.CurrentDate = s.now().Format(models.DateLayout)
	p.LastLunch = ov.LastLunch
	p.LastDinner = ov.LastDinner
	p.Entries = ov.Recent
	return p, nil
}

func (s *server) renderIndex(c *gin.Context, status int, errMsg string) {
	p, err := s.indexPage(c)
	if err != nil {
		slog.ErrorContext(c, "load ledger failed", "err", err)
		c.String(http.StatusInternalServerError, "query failed")
		return
	}
	p.Error = errMsg
	c.HTML(status, "index.html", p)
}

func (s *server) indexHandler(c *gin.Context) {
	s.renderIndex(c, http.StatusOK, "")
}

func (s *server) createEntryHandler(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBind(&req); err != nil {
		s.renderIndex(c, http.StatusBadRequest, "Preencha data, quem pagou, tipo e valor")
		return
	}
	if _, err := s.addEntry(c, req); err != nil {
		status, msg := entryError(err)
		if status == http.StatusInternalServerError {
			c.String(status, msg)
			return
		}
		s.renderIndex(c, status, msg)
		return
	}
	// Redirect to prevent form resubmission
	c.Redirect(http.StatusFound, "/")
}

func (s *server) addEntry(c *gin.Context, req entryRequest) (*models.Entry, error) {
	e, err := s.ledger.AddEntry(c.Request.Context(), req.Date, req.Buyer, req.Type, *req.Value)
	if err != nil {
		return nil, err
	}
	attrs := []any{"entry_id", e.ID, "type", e.Type, "date", e.Date}
	if user, ok := getUserFromContext(c); ok {
		attrs = append(attrs, "user_id", user.ID)
	}
	slog.InfoContext(c, "entry added", attrs...)
	return e, nil
}

func entryError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidDate):
		return http.StatusBadRequest, "invalid date, expected YYYY-MM-DD"
	case errors.Is(err, ledger.ErrInvalidValue):
		return http.StatusBadRequest, "invalid value, expected a finite number"
	case errors.Is(err, ledger.ErrMissingField):
		return http.StatusBadRequest, err.Error()
	default:
		slog.Error("add entry failed", "err", err)
		return http.StatusInternalServerError, "create failed"
	}
}

// --- JSON API ---

// tokenHandler only serves session logins; a bearer token cannot renew itself.
func (s *server) tokenHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok || c.GetString(ctxAuthMethodKey) != authSession {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session login required"})
		return
	}
	token, exp, err := s.tokens.Issue(user.FsUniquifier, user.Email)
	if err != nil {
		slog.ErrorContext(c, "issue token failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)})
}

func (s *server) listEntriesHandler(c *gin.Context) {
	limit := ledger.DefaultRecent
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAPILimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	items, err := s.ledger.Recent(c.Request.Context(), limit)
	if err != nil {
		slog.ErrorContext(c, "list entries failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) createEntryAPIHandler(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := s.addEntry(c, req)
	if err != nil {
		status, msg := entryError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *server) latestEntryHandler(c *gin.Context) {
	e, err := s.ledger.Latest(c.Request.Context(), c.Param("type"))
	if err != nil {
		slog.ErrorContext(c, "latest entry failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if e == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no entry"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// reportHandler totals a month per buyer; month defaults to the current one.
func (s *server) reportHandler(c *gin.Context) {
	month := c.DefaultQuery("month", s.now().Format("2006-01"))
	rep, err := s.ledger.MonthlyReport(c.Request.Context(), month, c.Query("list") == "1")
	if errors.Is(err, ledger.ErrInvalidDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
		return
	}
	if err != nil {
		slog.ErrorContext(c, "monthly report failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}
