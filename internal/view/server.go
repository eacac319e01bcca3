package view

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcuenca6779/urbandrive/internal/api"
	"github.com/jcuenca6779/urbandrive/internal/gamification"
	"github.com/jcuenca6779/urbandrive/internal/notify"
	"github.com/jcuenca6779/urbandrive/internal/reports"
	"github.com/jcuenca6779/urbandrive/internal/session"
)

// View names the surface the rendering layer should show.
type View string

const (
	ViewLogin View = "login"
	ViewMap   View = "map"
)

// Server is the composition root: it assembles session, report, and
// gamification state into the view model the rendering surface polls, and
// owns navigation (including the forced return to the login view when the
// session expires).
type Server struct {
	sessions   *session.Manager
	controller *reports.Controller
	gateway    *api.Client
	hub        *notify.Hub
	router     *gin.Engine

	mu      sync.Mutex
	current View
}

// NewServer wires the composition root. It subscribes to session transitions:
// entering Authenticated switches to the map view and loads both snapshots,
// leaving it discards them and returns to the login view.
func NewServer(sessions *session.Manager, controller *reports.Controller, gateway *api.Client, hub *notify.Hub) *Server {
	s := &Server{
		sessions:   sessions,
		controller: controller,
		gateway:    gateway,
		hub:        hub,
		current:    ViewLogin,
	}

	sessions.OnChange(func(st session.State) {
		if st.Authenticated {
			s.navigate(ViewMap)
			go s.loadSnapshots()
			return
		}
		controller.Invalidate()
		s.navigate(ViewLogin)
	})

	s.router = s.setupRouter()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// CurrentView returns the view the rendering surface should show.
func (s *Server) CurrentView() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) navigate(v View) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}

// loadSnapshots performs the initial fetch after a session becomes
// authenticated. Failures surface as notifications on the next poll.
func (s *Server) loadSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
	defer cancel()

	if _, err := s.controller.RefreshReports(ctx); err != nil {
		log.Printf("view: initial reports load: %v", err)
	}
	if _, err := s.controller.RefreshProfile(ctx); err != nil {
		log.Printf("view: initial profile load: %v", err)
	}
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/state", s.getState)
	router.POST("/login", s.postLogin)
	router.POST("/register", s.postRegister)
	router.POST("/logout", s.postLogout)

	router.GET("/reports", s.getReports)
	router.POST("/reports", s.postReport)
	router.POST("/reports/refresh", s.postRefresh)
	router.GET("/reports/nearby", s.getNearby)
	router.POST("/reports/:id/validate", s.postValidate)
	router.POST("/reports/preview", s.postPreview)

	router.GET("/leaderboard", s.getLeaderboard)

	return router
}

type sessionView struct {
	Authenticated bool          `json:"authenticated"`
	Identity      *api.Identity `json:"identity,omitempty"`
}

type stateView struct {
	View          View                   `json:"view"`
	Session       sessionView            `json:"session"`
	Reports       []api.Report           `json:"reports"`
	Gamification  *gamification.Progress `json:"gamification,omitempty"`
	DraftOpen     bool                   `json:"draft_open"`
	Draft         reports.Draft          `json:"draft"`
	Notifications []notify.Notification  `json:"notifications"`
}

func (s *Server) getState(c *gin.Context) {
	st := s.sessions.Current()
	view := stateView{
		View:          s.CurrentView(),
		Session:       sessionView{Authenticated: st.Authenticated, Identity: st.Identity},
		Reports:       s.controller.Reports(),
		Notifications: s.hub.Drain(),
	}
	view.Draft, view.DraftOpen = s.controller.CurrentDraft()
	if profile := s.controller.Profile(); profile != nil {
		progress := gamification.Project(profile)
		view.Gamification = &progress
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) postLogin(c *gin.Context) {
	var body api.Credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := s.sessions.Login(c.Request.Context(), body.Email, body.Password); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

func (s *Server) postRegister(c *gin.Context) {
	var body api.RegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	identity, err := s.sessions.Register(c.Request.Context(), body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, identity)
}

func (s *Server) postLogout(c *gin.Context) {
	s.sessions.Logout()
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

func (s *Server) getReports(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reports": s.controller.Reports()})
}

func (s *Server) postReport(c *gin.Context) {
	var draft reports.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	created, err := s.controller.Submit(c.Request.Context(), draft)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) postRefresh(c *gin.Context) {
	if _, err := s.controller.RefreshReports(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := s.controller.RefreshProfile(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}

func (s *Server) getNearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	radius := 5.0
	if raw := c.Query("radio"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radio"})
			return
		}
		radius = parsed
	}
	collection, err := s.controller.Nearby(c.Request.Context(), lat, lng, radius)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (s *Server) postValidate(c *gin.Context) {
	reportID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report ID"})
		return
	}
	result, err := s.controller.Validate(c.Request.Context(), reportID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) postPreview(c *gin.Context) {
	var draft reports.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	classification, ok := s.controller.PreviewSeverity(c.Request.Context(), draft)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, classification)
}

func (s *Server) getLeaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	entries, err := s.gateway.Leaderboard(ctx, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// respondError maps workflow and gateway errors onto the local surface.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *reports.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "missing": verr.Missing})
		return
	}
	if errors.Is(err, reports.ErrSubmitInFlight) || errors.Is(err, reports.ErrValidationInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, reports.ErrNotAuthenticated) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "gateway unreachable"})
}
