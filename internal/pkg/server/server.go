package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/coordinator"
	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
	"github.com/anicoll/iotrix-integration/pkg/hasher"
)

var ErrUnknownSession = errors.New("unknown qr session")

const (
	defaultSessionTTL = 10 * time.Minute
	maxSessions       = 16
)

type devices interface {
	Devices() []coordinator.DeviceInfo
	Latest(deviceID string) (iotrix.Reading, bool)
	Refresh(ctx context.Context, deviceID string) (iotrix.Reading, error)
	SetToken(deviceID, token string) error
}

// history is the optional property store behind /devices/:id/history.
type history interface {
	GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error)
	GetLatestProperties(ctx context.Context, identifier string) (model.Properties, error)
}

type Config struct {
	Qr             iotrix.QrConfig
	SessionOptions []iotrix.SessionOption

	// Basic auth is enabled when AdminPasswordHash is set.
	AdminUsername     string
	AdminPasswordHash string

	SessionTTL time.Duration

	// History is nil when no database is configured.
	History history
}

// wizardSession is one QR login driven over HTTP. Each owns its connection
// resource, released on delete, expiry or shutdown.
type wizardSession struct {
	id      string
	qr      *iotrix.QrSession
	conn    *iotrix.Session
	created time.Time
}

type server struct {
	cfg      Config
	devices  devices
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*wizardSession
}

func New(cfg Config, d devices) *server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Qr.PollInterval <= 0 {
		cfg.Qr.PollInterval = iotrix.DefaultQrPollInterval
	}
	return &server{
		cfg:      cfg,
		devices:  d,
		logger:   zap.L(),
		sessions: make(map[string]*wizardSession),
	}
}

func (s *server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(LoggingMiddleware)

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("")
	if s.cfg.AdminPasswordHash != "" {
		api.Use(middleware.BasicAuth(func(username, password string, _ echo.Context) (bool, error) {
			return username == s.cfg.AdminUsername && hasher.PasswordCorrect(password, s.cfg.AdminPasswordHash), nil
		}))
	}

	api.GET("/devices", s.ListDevices)
	api.GET("/devices/:id/reading", s.GetReading)
	api.POST("/devices/:id/refresh", s.RefreshDevice)
	api.GET("/devices/:id/history", s.GetHistory)

	api.POST("/qr/sessions", s.CreateQrSession)
	api.GET("/qr/sessions/:sid/image", s.GetQrImage)
	api.GET("/qr/sessions/:sid/status", s.GetQrStatus)
	api.GET("/qr/sessions/:sid/ws", s.StreamQrStatus)
	api.POST("/qr/sessions/:sid/exchange", s.ExchangeQrCode)
	api.DELETE("/qr/sessions/:sid", s.DeleteQrSession)

	return e
}

func (s *server) HealthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "health_check: OK")
}

func (s *server) ListDevices(c echo.Context) error {
	return c.JSON(http.StatusOK, s.devices.Devices())
}

func (s *server) GetReading(c echo.Context) error {
	reading, ok := s.devices.Latest(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no reading for device")
	}
	return c.JSON(http.StatusOK, reading)
}

func (s *server) RefreshDevice(c echo.Context) error {
	reading, err := s.devices.Refresh(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reading)
}

// GetHistory returns stored values of one sensor when slug is given, or the
// newest value of every sensor otherwise.
func (s *server) GetHistory(c echo.Context) error {
	if s.cfg.History == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history requires a database")
	}
	identifier := model.NewDevice(c.Param("id")).Identifier()
	ctx := c.Request().Context()

	slug := c.QueryParam("slug")
	if slug == "" {
		props, err := s.cfg.History.GetLatestProperties(ctx, identifier)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, props.BySlug())
	}

	from, err := queryTime(c, "from")
	if err != nil {
		return err
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return err
	}
	props, err := s.cfg.History.GetProperties(ctx, identifier, slug, from, to)
	if err != nil {
		return err
	}
	if props == nil {
		props = model.Properties{}
	}
	return c.JSON(http.StatusOK, props)
}

func queryTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be RFC3339", name))
	}
	return &t, nil
}

// Close releases every wizard session.
func (s *server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ws := range s.sessions {
		ws.conn.Close()
		delete(s.sessions, id)
	}
	return nil
}

func (s *server) session(c echo.Context) (*wizardSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.sessions[c.Param("sid")]
	if !ok {
		return nil, ErrUnknownSession
	}
	return ws, nil
}

// sweep drops expired sessions. Callers hold s.mu.
func (s *server) sweep(now time.Time) {
	for id, ws := range s.sessions {
		if now.Sub(ws.created) > s.cfg.SessionTTL || ws.qr.State() == iotrix.QrStateTokenObtained {
			ws.conn.Close()
			delete(s.sessions, id)
		}
	}
}

func (s *server) errorHandler(err error, c echo.Context) {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		he = &echo.HTTPError{Code: statusFor(err), Message: err.Error()}
	}
	if he.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	if c.Response().Committed {
		return
	}
	msg := he.Message
	if m, ok := msg.(string); ok {
		msg = map[string]string{"error": m}
	}
	if err := c.JSON(he.Code, msg); err != nil {
		s.logger.Error("failed to write error response", zap.Error(err))
	}
}

func statusFor(err error) int {
	var apiErr *iotrix.APIError
	switch {
	case errors.Is(err, ErrUnknownSession), errors.Is(err, coordinator.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, iotrix.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, iotrix.ErrQrExpired), errors.Is(err, iotrix.ErrQrTimeout):
		return http.StatusGone
	case errors.Is(err, iotrix.ErrQrCode),
		errors.Is(err, iotrix.ErrAuth),
		errors.Is(err, iotrix.ErrAuthExpired),
		errors.Is(err, iotrix.ErrNetwork),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func newSessionID() (string, error) {
	id, err := hasher.GenerateToken(16)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}
