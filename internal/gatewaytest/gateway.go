// Package gatewaytest provides an in-process fake of the UrbanDrive API
// gateway for package tests: real routes, real bearer verification, counted
// calls, and injectable failures.
package gatewaytest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jcuenca6779/urbandrive/internal/api"
)

// User is a seeded account.
type User struct {
	ID       int
	Name     string
	Email    string
	Password string
	Role     string
}

type claims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Gateway is a fake backend serving the client's wire contract.
type Gateway struct {
	secret string
	srv    *httptest.Server

	mu              sync.Mutex
	users           map[string]*User
	nextUserID      int
	nextReportID    int
	reports         []api.Report
	profiles        map[int]api.Profile
	calls           map[string]int
	forced          map[string]int
	blocked         map[string]chan struct{}
	lastAuth        string
	lastCorrelation string
}

// New starts a fake gateway; it is closed via t.Cleanup.
func New(t *testing.T) *Gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g := &Gateway{
		secret:       "gatewaytest-secret",
		users:        make(map[string]*User),
		nextUserID:   1,
		nextReportID: 1,
		profiles:     make(map[int]api.Profile),
		calls:        make(map[string]int),
		forced:       make(map[string]int),
		blocked:      make(map[string]chan struct{}),
	}

	g.srv = httptest.NewServer(g.router())
	t.Cleanup(g.srv.Close)
	return g
}

// URL is the gateway base URL.
func (g *Gateway) URL() string {
	return g.srv.URL
}

// AddUser seeds an account with an empty gamification profile.
func (g *Gateway) AddUser(name, email, password string) *User {
	g.mu.Lock()
	defer g.mu.Unlock()
	u := &User{ID: g.nextUserID, Name: name, Email: email, Password: password, Role: "conductor"}
	g.nextUserID++
	g.users[email] = u
	g.profiles[u.ID] = api.Profile{UserID: u.ID, Level: 1, Badges: []string{}}
	return u
}

// SetProfile replaces a user's gamification snapshot.
func (g *Gateway) SetProfile(p api.Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profiles[p.UserID] = p
}

// SeedReports replaces the stored report collection.
func (g *Gateway) SeedReports(rs ...api.Report) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports = append([]api.Report{}, rs...)
	for _, r := range rs {
		if r.ID >= g.nextReportID {
			g.nextReportID = r.ID + 1
		}
	}
}

// IssueToken mints a bearer token the gateway will accept.
func (g *Gateway) IssueToken(userID int, email string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(g.secret))
	if err != nil {
		panic(err)
	}
	return signed
}

// Calls returns how many times a route was hit, keyed "METHOD /full/path".
func (g *Gateway) Calls(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[route]
}

// TotalCalls returns the number of requests across all routes.
func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

// ForceStatus makes subsequent calls to a route fail with the given status.
func (g *Gateway) ForceStatus(route string, status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forced[route] = status
}

// ClearForced removes a forced failure.
func (g *Gateway) ClearForced(route string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.forced, route)
}

// Block stalls subsequent calls to a route until the returned release func is
// called.
func (g *Gateway) Block(route string) (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.blocked[route] = ch
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.blocked, route)
			g.mu.Unlock()
			close(ch)
		})
	}
}

// LastAuthHeader returns the Authorization header of the most recent request.
func (g *Gateway) LastAuthHeader() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAuth
}

// LastCorrelationID returns the X-Correlation-ID of the most recent request.
func (g *Gateway) LastCorrelationID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCorrelation
}

func (g *Gateway) router() *gin.Engine {
	router := gin.New()
	router.Use(g.recordAndIntercept())

	router.POST("/auth/login", g.login)
	router.POST("/auth/register", g.register)

	authed := router.Group("/")
	authed.Use(g.requireBearer())
	{
		authed.GET("/auth/me", g.me)
		authed.POST("/traffic/reportes", g.createReport)
		authed.GET("/traffic/reportes", g.listReports)
		authed.GET("/traffic/reportes/cercanos", g.nearbyReports)
		authed.POST("/traffic/reportes/:id/validar", g.validateReport)
		authed.GET("/gamification/profile/:id", g.profile)
		authed.GET("/gamification/leaderboard", g.leaderboard)
		authed.POST("/ai/clasificar-incidente", g.classify)
	}
	return router
}

// recordAndIntercept counts calls, captures headers, and applies forced
// failures and blocks. Runs after routing so FullPath is populated.
func (g *Gateway) recordAndIntercept() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.FullPath()

		g.mu.Lock()
		g.calls[key]++
		g.lastAuth = c.GetHeader("Authorization")
		g.lastCorrelation = c.GetHeader("X-Correlation-ID")
		forced := g.forced[key]
		blocked := g.blocked[key]
		g.mu.Unlock()

		if blocked != nil {
			<-blocked
		}
		if forced != 0 {
			c.AbortWithStatusJSON(forced, gin.H{"detail": "forced failure"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		parsed := &claims{}
		token, err := jwt.ParseWithClaims(tokenString, parsed, func(token *jwt.Token) (interface{}, error) {
			return []byte(g.secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}

		c.Set("user_id", parsed.UserID)
		c.Next()
	}
}

func (g *Gateway) login(c *gin.Context) {
	var body api.Credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}

	g.mu.Lock()
	u, ok := g.users[body.Email]
	g.mu.Unlock()
	if !ok || u.Password != body.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Email o contraseña incorrectos"})
		return
	}

	c.JSON(http.StatusOK, api.LoginResponse{
		AccessToken: g.IssueToken(u.ID, u.Email),
		TokenType:   "bearer",
		ExpiresIn:   3600,
		User:        identityOf(u),
	})
}

func (g *Gateway) register(c *gin.Context) {
	var body api.RegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}

	g.mu.Lock()
	if _, exists := g.users[body.Email]; exists {
		g.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"detail": "El email ya está registrado"})
		return
	}
	u := &User{ID: g.nextUserID, Name: body.Name, Email: body.Email, Password: body.Password, Role: body.Role}
	if u.Role == "" {
		u.Role = "conductor"
	}
	g.nextUserID++
	g.users[body.Email] = u
	g.profiles[u.ID] = api.Profile{UserID: u.ID, Level: 1, Badges: []string{}}
	g.mu.Unlock()

	c.JSON(http.StatusCreated, identityOf(u))
}

func (g *Gateway) me(c *gin.Context) {
	userID := c.GetInt("user_id")
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range g.users {
		if u.ID == userID {
			c.JSON(http.StatusOK, identityOf(u))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "user not found"})
}

func (g *Gateway) createReport(c *gin.Context) {
	var body api.CreateReportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}

	g.mu.Lock()
	report := api.Report{
		ID:           g.nextReportID,
		Location:     body.Location,
		IncidentType: body.IncidentType,
		Description:  body.Description,
		Severity:     severityFor(body.IncidentType),
		Status:       api.StatusPending,
		SubmitterID:  body.SubmitterID,
		CreatedAt:    time.Now().UTC(),
	}
	g.nextReportID++
	g.reports = append(g.reports, report)
	g.mu.Unlock()

	c.JSON(http.StatusCreated, report)
}

func (g *Gateway) listReports(c *gin.Context) {
	g.mu.Lock()
	out := append([]api.Report{}, g.reports...)
	g.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (g *Gateway) nearbyReports(c *gin.Context) {
	g.mu.Lock()
	features := make([]api.Feature, 0, len(g.reports))
	for i, r := range g.reports {
		features = append(features, api.Feature{
			Type: "Feature",
			Geometry: api.PointGeometry{
				Type:        "Point",
				Coordinates: []float64{-77.0428, -12.0464},
			},
			Properties: map[string]interface{}{
				"id":           r.ID,
				"severidad":    string(r.Severity),
				"estado":       r.Status,
				"distancia_km": float64(i) + 0.5,
			},
		})
	}
	g.mu.Unlock()
	c.JSON(http.StatusOK, api.FeatureCollection{Type: "FeatureCollection", Features: features})
}

func (g *Gateway) validateReport(c *gin.Context) {
	reportID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid report id"})
		return
	}
	var body api.ValidateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.reports {
		if g.reports[i].ID != reportID {
			continue
		}
		if g.reports[i].SubmitterID == body.UserID {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "No puedes validar tu propio reporte"})
			return
		}
		g.reports[i].Validations++
		verified := g.reports[i].Validations >= 3
		if verified {
			g.reports[i].Status = api.StatusVerified
		}
		c.JSON(http.StatusOK, api.ValidationResult{
			IncidentID:  reportID,
			UserID:      body.UserID,
			Validations: g.reports[i].Validations,
			Status:      g.reports[i].Status,
			Verified:    verified,
			Message:     fmt.Sprintf("Validación registrada. Total: %d/3", g.reports[i].Validations),
		})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("Reporte con ID %d no encontrado", reportID)})
}

func (g *Gateway) profile(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid user id"})
		return
	}
	g.mu.Lock()
	p, ok := g.profiles[userID]
	g.mu.Unlock()
	if !ok {
		p = api.Profile{UserID: userID, Level: 1, Badges: []string{}}
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) leaderboard(c *gin.Context) {
	g.mu.Lock()
	entries := make([]api.LeaderboardEntry, 0, len(g.profiles))
	for _, p := range g.profiles {
		entries = append(entries, api.LeaderboardEntry{UserID: p.UserID, XP: p.XP})
	}
	g.mu.Unlock()

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].XP > entries[i].XP {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	limit := len(entries)
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed < limit {
			limit = parsed
		}
	}
	entries = entries[:limit]
	for i := range entries {
		entries[i].Rank = i + 1
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func (g *Gateway) classify(c *gin.Context) {
	var body api.ClassifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}
	c.JSON(http.StatusOK, api.Classification{
		Severity:   severityFor(body.IncidentType),
		Confidence: 0.87,
	})
}

func severityFor(t api.IncidentType) api.Severity {
	switch t {
	case api.TypeSevereAccident:
		return api.SeverityHigh
	case api.TypeRoadHazard:
		return api.SeverityMedium
	default:
		return api.SeverityMedium
	}
}

func identityOf(u *User) api.Identity {
	return api.Identity{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}
