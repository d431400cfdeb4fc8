package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	QrCodeID  string `json:"qrcode_id"`
	ImageURL  string `json:"image_url,omitempty"`
	HasImage  bool   `json:"has_image"`
}

type exchangeRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
}

type exchangeResponse struct {
	DeviceID string `json:"device_id,omitempty"`
	Token    string `json:"token,omitempty"`
}

type wsEnvelope struct {
	Type  string           `json:"type"`
	Data  *iotrix.QrStatus `json:"data,omitempty"`
	Error string           `json:"error,omitempty"`
}

func (s *server) CreateQrSession(c echo.Context) error {
	id, err := newSessionID()
	if err != nil {
		return err
	}
	conn := iotrix.NewSession(s.cfg.SessionOptions...)
	qr := iotrix.NewQrSession(s.cfg.Qr, conn)

	code, err := qr.GenerateCode(c.Request().Context())
	if err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.sweep(time.Now())
	if len(s.sessions) >= maxSessions {
		s.mu.Unlock()
		conn.Close()
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many qr sessions")
	}
	s.sessions[id] = &wizardSession{id: id, qr: qr, conn: conn, created: time.Now()}
	s.mu.Unlock()

	s.logger.Info("qr session created", zap.String("session_id", id), zap.String("qrcode_id", code.ID))
	return c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: id,
		QrCodeID:  code.ID,
		ImageURL:  code.ImageURL,
		HasImage:  code.ImageData != "",
	})
}

func (s *server) GetQrImage(c echo.Context) error {
	ws, err := s.session(c)
	if err != nil {
		return err
	}
	img, err := ws.qr.Code().Image()
	if err != nil {
		return err
	}
	if len(img) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "qr code has no inline image")
	}
	return c.Blob(http.StatusOK, http.DetectContentType(img), img)
}

func (s *server) GetQrStatus(c echo.Context) error {
	ws, err := s.session(c)
	if err != nil {
		return err
	}
	status, err := ws.qr.PollStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (s *server) ExchangeQrCode(c echo.Context) error {
	ws, err := s.session(c)
	if err != nil {
		return err
	}
	var req exchangeRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return err
		}
	}

	token, err := ws.qr.ExchangeCode(c.Request().Context(), req.Code)
	if err != nil {
		return err
	}
	if req.DeviceID == "" {
		return c.JSON(http.StatusOK, exchangeResponse{Token: token})
	}
	if err := s.devices.SetToken(req.DeviceID, token); err != nil {
		return err
	}
	s.logger.Info("qr login token handed to device", zap.String("session_id", ws.id), zap.String("device_id", req.DeviceID))
	return c.JSON(http.StatusOK, exchangeResponse{DeviceID: req.DeviceID})
}

func (s *server) DeleteQrSession(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.sessions[c.Param("sid")]
	if !ok {
		return ErrUnknownSession
	}
	ws.conn.Close()
	delete(s.sessions, ws.id)
	return c.NoContent(http.StatusNoContent)
}

// StreamQrStatus polls the session every poll interval and pushes each
// status until the session reaches confirmed or a terminal state.
func (s *server) StreamQrStatus(c echo.Context) error {
	ws, err := s.session(c)
	if err != nil {
		return err
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.Qr.PollInterval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	ctx := c.Request().Context()
	for {
		status, err := ws.qr.PollStatus(ctx)
		env := wsEnvelope{Type: "status", Data: &status}
		if err != nil {
			env = wsEnvelope{Type: "error", Error: err.Error()}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if werr := conn.WriteJSON(env); werr != nil {
			s.logger.Info("ws write failed", zap.Error(werr))
			return nil
		}
		if err != nil || status.Expired || status.State == iotrix.QrStateConfirmed || status.State.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		}

	wait:
		for {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return nil
				}
			case <-ticker.C:
				break wait
			}
		}
	}
}
