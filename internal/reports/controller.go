package reports

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jcuenca6779/urbandrive/internal/api"
	"github.com/jcuenca6779/urbandrive/internal/gamification"
)

var (
	// ErrSubmitInFlight rejects a submit while another one is outstanding.
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	// ErrValidationInFlight rejects a social validation for a report that
	// already has one outstanding.
	ErrValidationInFlight = errors.New("a validation for this report is already in progress")
	// ErrNotAuthenticated rejects mutations without a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ValidationError is a local precondition failure; it never reaches the
// network.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Draft is in-progress form input for a new report. Transient: discarded on
// successful submit or explicit cancel, never persisted.
type Draft struct {
	Location     string           `json:"location"`
	IncidentType api.IncidentType `json:"incident_type"`
	Description  string           `json:"description"`
}

func (d Draft) validate() error {
	var missing []string
	if strings.TrimSpace(d.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(string(d.IncidentType)) == "" {
		missing = append(missing, "incident_type")
	}
	if strings.TrimSpace(d.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Backend is the slice of the gateway client the controller needs.
type Backend interface {
	CreateReport(ctx context.Context, req api.CreateReportRequest) (*api.Report, error)
	ListReports(ctx context.Context) ([]api.Report, error)
	NearbyReports(ctx context.Context, lat, lng, radiusKM float64) (*api.FeatureCollection, error)
	ValidateReport(ctx context.Context, reportID, userID int) (*api.ValidationResult, error)
	Profile(ctx context.Context, userID int) (*api.Profile, error)
	Classify(ctx context.Context, req api.ClassifyRequest) (*api.Classification, error)
}

// Sessions exposes the identity the controller stamps onto submissions.
type Sessions interface {
	Identity() (*api.Identity, bool)
}

// Notifier surfaces workflow outcomes to the user.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
}

// Controller drives the submit/refresh cycle for incident reports and holds
// the client's snapshots of the report collection and the gamification
// profile. Snapshots are replaced wholesale on refresh; the server is
// authoritative and nothing is merged locally.
type Controller struct {
	backend  Backend
	sessions Sessions
	notifier Notifier

	mu          sync.Mutex
	submitting  bool
	validating  map[int]bool
	draft       Draft
	surfaceOpen bool
	reports     []api.Report
	profile     *api.Profile
}

// NewController creates a controller with empty snapshots.
func NewController(backend Backend, sessions Sessions, notifier Notifier) *Controller {
	return &Controller{
		backend:    backend,
		sessions:   sessions,
		notifier:   notifier,
		validating: make(map[int]bool),
	}
}

// OpenSubmission opens the draft surface with a fresh draft.
func (c *Controller) OpenSubmission() {
	c.mu.Lock()
	c.surfaceOpen = true
	c.draft = Draft{}
	c.mu.Unlock()
}

// SetDraft stores the in-progress form input.
func (c *Controller) SetDraft(d Draft) {
	c.mu.Lock()
	c.draft = d
	c.mu.Unlock()
}

// CurrentDraft returns the in-progress form input and whether the surface is
// open.
func (c *Controller) CurrentDraft() (Draft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft, c.surfaceOpen
}

// CancelDraft discards the draft and closes the surface.
func (c *Controller) CancelDraft() {
	c.mu.Lock()
	c.draft = Draft{}
	c.surfaceOpen = false
	c.mu.Unlock()
}

// Submit validates and submits a draft. Preconditions fail locally with a
// ValidationError and no network traffic. On success the draft is cleared,
// the surface closed, and both the report collection and the profile are
// refreshed; on failure the draft stays intact and nothing is refreshed. The
// in-flight flag is released on every path.
func (c *Controller) Submit(ctx context.Context, d Draft) (*api.Report, error) {
	identity, ok := c.sessions.Identity()
	if !ok {
		c.notifier.Error("Reporte no enviado", "Debes iniciar sesión para reportar")
		return nil, ErrNotAuthenticated
	}

	if err := d.validate(); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		c.notifier.Error("Reporte incompleto", "Completa: "+strings.Join(verr.Missing, ", "))
		return nil, err
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	c.submitting = true
	c.draft = d
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	created, err := c.backend.CreateReport(ctx, api.CreateReportRequest{
		Location:     d.Location,
		IncidentType: d.IncidentType,
		Description:  d.Description,
		SubmitterID:  identity.ID,
	})
	if err != nil {
		// Draft stays intact so the user can retry
		c.notifier.Error("Reporte no enviado", failureMessage(err))
		return nil, err
	}

	c.mu.Lock()
	c.draft = Draft{}
	c.surfaceOpen = false
	c.mu.Unlock()

	c.notifier.Success("Reporte enviado",
		fmt.Sprintf("Incidente #%d registrado con severidad %s", created.ID, created.Severity))

	c.refreshAfterMutation(ctx, identity.ID)
	return created, nil
}

// RefreshReports fetches the full collection and replaces the snapshot.
func (c *Controller) RefreshReports(ctx context.Context) ([]api.Report, error) {
	fetched, err := c.backend.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.reports = fetched
	c.mu.Unlock()
	return fetched, nil
}

// RefreshProfile fetches the gamification snapshot for the current user and
// replaces it.
func (c *Controller) RefreshProfile(ctx context.Context) (*api.Profile, error) {
	identity, ok := c.sessions.Identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	fetched, err := c.backend.Profile(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.profile = fetched
	c.mu.Unlock()
	return fetched, nil
}

// Reports returns the current report snapshot.
func (c *Controller) Reports() []api.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// Profile returns the current gamification snapshot, nil before the first
// refresh.
func (c *Controller) Profile() *api.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Invalidate discards the cached snapshots. Called when the session ends.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	c.reports = nil
	c.profile = nil
	c.draft = Draft{}
	c.surfaceOpen = false
	c.mu.Unlock()
}

// Validate casts a social validation on another user's report. At most one
// validation per report may be in flight. Verification awards XP to the
// report's creator, and the caller's own snapshot may change too, so both
// slices are refreshed afterwards.
func (c *Controller) Validate(ctx context.Context, reportID int) (*api.ValidationResult, error) {
	identity, ok := c.sessions.Identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.validating[reportID] {
		c.mu.Unlock()
		return nil, ErrValidationInFlight
	}
	c.validating[reportID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.validating, reportID)
		c.mu.Unlock()
	}()

	result, err := c.backend.ValidateReport(ctx, reportID, identity.ID)
	if err != nil {
		c.notifier.Error("Validación fallida", failureMessage(err))
		return nil, err
	}

	message := result.Message
	if result.Verified {
		message = fmt.Sprintf("%s. El autor recibe +%d XP y +%d monedas",
			message, gamification.XPPerValidReport, gamification.CoinsPerValidReport)
	}
	c.notifier.Success("Validación registrada", message)
	c.refreshAfterMutation(ctx, identity.ID)
	return result, nil
}

// PreviewSeverity asks the AI service to estimate a draft's severity. The
// call is opportunistic: any failure yields (nil, false) and is only logged.
func (c *Controller) PreviewSeverity(ctx context.Context, d Draft) (*api.Classification, bool) {
	if strings.TrimSpace(d.Description) == "" {
		return nil, false
	}
	result, err := c.backend.Classify(ctx, api.ClassifyRequest{
		Description:  d.Description,
		IncidentType: d.IncidentType,
	})
	if err != nil {
		log.Printf("reports: severity preview unavailable: %v", err)
		return nil, false
	}
	return result, true
}

// Nearby fetches incidents around a point as GeoJSON. Display data only,
// never cached.
func (c *Controller) Nearby(ctx context.Context, lat, lng, radiusKM float64) (*api.FeatureCollection, error) {
	return c.backend.NearbyReports(ctx, lat, lng, radiusKM)
}

// refreshAfterMutation issues the reports refresh and the profile refresh
// together and waits for both. The refreshes are independent; a failure in
// one does not cancel the other, and each replaces only its own slice.
func (c *Controller) refreshAfterMutation(ctx context.Context, userID int) {
	var g errgroup.Group
	g.Go(func() error {
		_, err := c.RefreshReports(ctx)
		return err
	})
	g.Go(func() error {
		fetched, err := c.backend.Profile(ctx, userID)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.profile = fetched
		c.mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		c.notifier.Error("Actualización incompleta", failureMessage(err))
	}
}

func failureMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return "No se pudo contactar al servidor, intenta de nuevo"
}
