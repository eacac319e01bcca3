package api

import "time"

// IncidentType is the report category vocabulary shared with the gateway.
type IncidentType string

const (
	TypeSevereAccident IncidentType = "choque"
	TypeLightTraffic   IncidentType = "trafico_ligero"
	TypeRoadHazard     IncidentType = "peligro_via"
)

// Severity is assigned by the backend; unknown values are kept as-is for
// display rather than rejected.
type Severity string

const (
	SeverityLow      Severity = "baja"
	SeverityMedium   Severity = "media"
	SeverityHigh     Severity = "alta"
	SeverityCritical Severity = "critica"
)

// Report statuses as reported by the traffic service.
const (
	StatusPending   = "pendiente"
	StatusValidated = "validado"
	StatusVerified  = "verificado"
	StatusDiscarded = "descartado"
)

// Identity is the cached user record returned by the auth service.
type Identity struct {
	ID        int       `json:"id"`
	Name      string    `json:"nombre"`
	Email     string    `json:"email"`
	Role      string    `json:"rol"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Name     string `json:"nombre"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"rol"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	User        Identity `json:"user"`
}

// Report is an incident report as stored by the traffic service. The client
// never mutates one; derived fields (id, severity, status, timestamps) are
// server-owned.
type Report struct {
	ID           int          `json:"id"`
	Location     string       `json:"ubicacion"`
	IncidentType IncidentType `json:"tipo_incidente"`
	Description  string       `json:"descripcion"`
	Severity     Severity     `json:"severidad"`
	Status       string       `json:"estado"`
	SubmitterID  int          `json:"usuario_id"`
	Validations  int          `json:"validaciones_count"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CreateReportRequest is the submit body for POST /traffic/reportes.
type CreateReportRequest struct {
	Location     string       `json:"ubicacion"`
	IncidentType IncidentType `json:"tipo_incidente"`
	Description  string       `json:"descripcion"`
	SubmitterID  int          `json:"usuario_id"`
}

// ValidateRequest is the social-validation body.
type ValidateRequest struct {
	UserID int `json:"usuario_id"`
}

// ValidationResult is returned by POST /traffic/reportes/{id}/validar.
type ValidationResult struct {
	IncidentID  int    `json:"incidente_id"`
	UserID      int    `json:"usuario_id"`
	Validations int    `json:"validaciones_count"`
	Status      string `json:"estado"`
	Verified    bool   `json:"verificado"`
	Message     string `json:"mensaje"`
}

// Profile is the gamification snapshot for a user.
type Profile struct {
	UserID int      `json:"user_id"`
	XP     int      `json:"xp"`
	Coins  int      `json:"coins"`
	Level  int      `json:"level"`
	Badges []string `json:"badges"`
}

// LeaderboardEntry is one row of the XP ranking.
type LeaderboardEntry struct {
	Rank   int `json:"rank"`
	UserID int `json:"user_id"`
	XP     int `json:"xp"`
}

type leaderboardResponse struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// ClassifyRequest asks the AI service for a severity estimate.
type ClassifyRequest struct {
	Description  string       `json:"descripcion"`
	IncidentType IncidentType `json:"tipo_incidente,omitempty"`
}

// Classification is the AI service's severity estimate.
type Classification struct {
	Severity   Severity `json:"severidad"`
	Confidence float64  `json:"confianza"`
}

// PointGeometry is a GeoJSON point, coordinates are [lng, lat].
type PointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Feature is a GeoJSON feature wrapping one nearby incident.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   PointGeometry          `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is the GeoJSON payload of GET /traffic/reportes/cercanos.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
