package iotrix

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/clock"
)

const (
	DefaultQrTimeout      = 120 * time.Second
	DefaultQrPollInterval = 2 * time.Second
	defaultQrStatusParam  = "qrcodeId"
)

// QrState is the lifecycle state of one QR login attempt.
type QrState string

func (s QrState) String() string {
	return string(s)
}

const (
	QrStateCreated       QrState = "created"
	QrStateUnscanned     QrState = "unscanned"
	QrStateScanned       QrState = "scanned"
	QrStateConfirmed     QrState = "confirmed"
	QrStateTokenObtained QrState = "token_obtained"
	QrStateExpired       QrState = "expired"
	QrStateTimedOut      QrState = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s QrState) Terminal() bool {
	return s == QrStateTokenObtained || s == QrStateExpired || s == QrStateTimedOut
}

var qrStateNames = map[string]QrState{
	"":           QrStateUnscanned,
	"0":          QrStateUnscanned,
	"new":        QrStateUnscanned,
	"wait":       QrStateUnscanned,
	"waiting":    QrStateUnscanned,
	"unscanned":  QrStateUnscanned,
	"1":          QrStateScanned,
	"scan":       QrStateScanned,
	"scanned":    QrStateScanned,
	"2":          QrStateConfirmed,
	"success":    QrStateConfirmed,
	"authorized": QrStateConfirmed,
	"confirmed":  QrStateConfirmed,
	"3":          QrStateExpired,
	"timeout":    QrStateExpired,
	"invalid":    QrStateExpired,
	"expired":    QrStateExpired,
}

func mapQrState(raw string) (QrState, bool) {
	s, ok := qrStateNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return QrStateUnscanned, false
	}
	return s, true
}

// QrConfig holds the QR endpoints and polling parameters.
type QrConfig struct {
	GenerateURL  string
	StatusURL    string
	TokenURL     string
	StatusParam  string // query parameter carrying the code id, qrcodeId by default
	DeviceID     string
	PollInterval time.Duration
	Aliases      FieldAliases
}

// Configured reports whether all three QR endpoints are set.
func (c QrConfig) Configured() bool {
	return c.GenerateURL != "" && c.StatusURL != "" && c.TokenURL != ""
}

// QrCode is what a caller needs to render a scannable code. At least one of
// ImageData or ImageURL is normally present.
type QrCode struct {
	ID        string `json:"qrcode_id"`
	ImageData string `json:"image_data,omitempty"` // base64
	ImageURL  string `json:"image_url,omitempty"`
}

// Renderable reports whether the code can be shown to a user.
func (q QrCode) Renderable() bool {
	return q.ImageData != "" || q.ImageURL != ""
}

// Image decodes ImageData, tolerating a data URI prefix and missing padding.
func (q QrCode) Image() ([]byte, error) {
	data := strings.TrimSpace(q.ImageData)
	if data == "" {
		return nil, nil
	}
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+len(";base64,"):]
	}
	if pad := len(data) % 4; pad != 0 {
		data += strings.Repeat("=", 4-pad)
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		img, err = base64.URLEncoding.DecodeString(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", ErrQrCode, err)
	}
	return img, nil
}

// QrStatus is the result of one status poll.
type QrStatus struct {
	State    QrState `json:"status"`
	TempCode string  `json:"temp_code,omitempty"`
	Expired  bool    `json:"expired"`
}

// QrOption configures a QrSession.
type QrOption func(*QrSession)

// WithClock replaces the time source used for the deadline and poll sleeps.
func WithClock(c clock.Clock) QrOption {
	return func(q *QrSession) {
		q.clock = c
	}
}

// WithQrHeaders adds headers to every QR request.
func WithQrHeaders(h map[string]string) QrOption {
	return func(q *QrSession) {
		q.headers = h
	}
}

// WithQrCodeHandler is called each time a new code is generated.
func WithQrCodeHandler(f func(QrCode)) QrOption {
	return func(q *QrSession) {
		q.onCode = f
	}
}

// QrSession drives one QR login attempt: generate a code, poll until it is
// confirmed, then exchange the temporary code for a token. The steps can be
// called individually by a wizard or together through RunToCompletion.
type QrSession struct {
	cfg     QrConfig
	session *Session
	clock   clock.Clock
	logger  *zap.Logger
	headers map[string]string
	onCode  func(QrCode)

	mu       sync.Mutex
	code     QrCode
	state    QrState
	tempCode string
}

func NewQrSession(cfg QrConfig, session *Session, opts ...QrOption) *QrSession {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultQrPollInterval
	}
	if cfg.StatusParam == "" {
		cfg.StatusParam = defaultQrStatusParam
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultFieldAliases()
	}
	q := &QrSession{
		cfg:     cfg,
		session: session,
		clock:   clock.New(),
		logger:  zap.L(),
		state:   QrStateCreated,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *QrSession) State() QrState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Code returns the most recently generated code.
func (q *QrSession) Code() QrCode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.code
}

// TempCode returns the temporary code from the last confirmed poll.
func (q *QrSession) TempCode() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tempCode
}

func (q *QrSession) setState(s QrState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = s
}

func (q *QrSession) GenerateCode(ctx context.Context) (QrCode, error) {
	if q.cfg.GenerateURL == "" {
		return QrCode{}, fmt.Errorf("%w: %w: qr code url not configured", ErrQrCode, ErrConfiguration)
	}
	if s := q.State(); s.Terminal() {
		return QrCode{}, fmt.Errorf("%w: session is %s", ErrQrCode, s)
	}

	res, err := q.session.do(ctx, http.MethodGet, q.cfg.GenerateURL, q.headers, nil, "generate qr code")
	if err != nil {
		return QrCode{}, fmt.Errorf("%w: %w", ErrQrCode, err)
	}
	if res.StatusCode != http.StatusOK {
		return QrCode{}, fmt.Errorf("%w: generation failed with status %d", ErrQrCode, res.StatusCode)
	}

	code := QrCode{
		ID:        q.cfg.Aliases.String(res.Body, FieldQrID),
		ImageData: q.cfg.Aliases.String(res.Body, FieldQrImage),
		ImageURL:  q.cfg.Aliases.String(res.Body, FieldQrURL),
	}
	if code.ID == "" {
		return QrCode{}, fmt.Errorf("%w: qr code id not found in response", ErrQrCode)
	}
	if !code.Renderable() {
		q.logger.Warn("qr code has neither image data nor url", zap.String("qrcode_id", code.ID))
	}

	q.mu.Lock()
	q.code = code
	q.state = QrStateUnscanned
	q.tempCode = ""
	q.mu.Unlock()

	q.logger.Debug("generated qr code", zap.String("qrcode_id", code.ID), zap.String("image_url", code.ImageURL))
	if q.onCode != nil {
		q.onCode(code)
	}
	return code, nil
}

func (q *QrSession) PollStatus(ctx context.Context) (QrStatus, error) {
	q.mu.Lock()
	id, state := q.code.ID, q.state
	q.mu.Unlock()

	if id == "" || q.cfg.StatusURL == "" {
		return QrStatus{}, fmt.Errorf("%w: qr code id or status url missing", ErrQrCode)
	}
	switch state {
	case QrStateExpired:
		return QrStatus{State: state, Expired: true}, nil
	case QrStateTokenObtained, QrStateTimedOut:
		return QrStatus{}, fmt.Errorf("%w: session is %s", ErrQrCode, state)
	}

	u, err := url.Parse(q.cfg.StatusURL)
	if err != nil {
		return QrStatus{}, fmt.Errorf("%w: %w: %w", ErrQrCode, ErrConfiguration, err)
	}
	query := u.Query()
	query.Set(q.cfg.StatusParam, id)
	u.RawQuery = query.Encode()

	res, err := q.session.do(ctx, http.MethodGet, u.String(), q.headers, nil, "poll qr status")
	if err != nil {
		return QrStatus{}, fmt.Errorf("%w: %w", ErrQrCode, err)
	}
	if res.StatusCode != http.StatusOK {
		return QrStatus{}, fmt.Errorf("%w: status fetch failed with status %d", ErrQrCode, res.StatusCode)
	}

	raw := q.cfg.Aliases.String(res.Body, FieldQrStatus)
	mapped, known := mapQrState(raw)
	if !known {
		q.logger.Debug("unknown qr status, treating as unscanned", zap.String("status", raw))
	}
	status := QrStatus{
		State:    mapped,
		TempCode: q.cfg.Aliases.String(res.Body, FieldQrTempCode),
		Expired:  q.cfg.Aliases.Bool(res.Body, FieldQrExpired) || mapped == QrStateExpired,
	}
	if status.Expired {
		status.State = QrStateExpired
	}

	q.mu.Lock()
	q.state = status.State
	if status.State == QrStateConfirmed && status.TempCode != "" {
		q.tempCode = status.TempCode
	}
	q.mu.Unlock()
	return status, nil
}

// ExchangeCode trades a temporary code for a token. An empty tempCode falls
// back to the one captured by the last confirmed poll.
func (q *QrSession) ExchangeCode(ctx context.Context, tempCode string) (string, error) {
	switch s := q.State(); s {
	case QrStateExpired:
		return "", fmt.Errorf("%w, generate a new one", ErrQrExpired)
	case QrStateTimedOut:
		return "", ErrQrTimeout
	case QrStateTokenObtained:
		return "", fmt.Errorf("%w: session is %s", ErrQrCode, s)
	}
	if tempCode == "" {
		tempCode = q.TempCode()
	}
	if q.cfg.TokenURL == "" {
		return "", fmt.Errorf("%w: %w: token url not configured", ErrAuth, ErrConfiguration)
	}
	if tempCode == "" {
		return "", fmt.Errorf("%w: temporary code missing", ErrAuth)
	}

	payload := map[string]string{"code": tempCode, "deviceId": q.cfg.DeviceID}
	res, err := q.session.do(ctx, http.MethodPost, q.cfg.TokenURL, q.headers, payload, "exchange qr code")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange failed with status %d", ErrAuth, res.StatusCode)
	}
	token := q.cfg.Aliases.String(res.Body, FieldQrToken)
	if token == "" {
		return "", fmt.Errorf("%w: token not found in response", ErrAuth)
	}

	q.setState(QrStateTokenObtained)
	q.logger.Info("qr login exchanged code for token", zap.String("qrcode_id", q.Code().ID))
	return token, nil
}

// RunToCompletion generates a code and polls until it is confirmed, then
// exchanges it. It gives up with ErrQrExpired as soon as the issuer reports
// expiry and with ErrQrTimeout once timeout has elapsed.
func (q *QrSession) RunToCompletion(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultQrTimeout
	}
	deadline := q.clock.Now().Add(timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := q.GenerateCode(runCtx); err != nil {
		return "", q.classify(ctx, runCtx, timeout, err)
	}

	for q.clock.Now().Before(deadline) {
		status, err := q.PollStatus(runCtx)
		if err != nil {
			return "", q.classify(ctx, runCtx, timeout, err)
		}
		if status.Expired {
			return "", fmt.Errorf("%w, generate a new one", ErrQrExpired)
		}
		if status.State == QrStateConfirmed && status.TempCode != "" {
			token, err := q.ExchangeCode(runCtx, status.TempCode)
			if err != nil {
				return "", q.classify(ctx, runCtx, timeout, err)
			}
			return token, nil
		}
		if err := q.clock.Sleep(runCtx, q.cfg.PollInterval); err != nil {
			return "", q.classify(ctx, runCtx, timeout, err)
		}
	}

	q.setState(QrStateTimedOut)
	return "", fmt.Errorf("%w (>%s)", ErrQrTimeout, timeout)
}

// classify turns the run deadline firing into ErrQrTimeout while keeping
// cancellation by the caller distinguishable.
func (q *QrSession) classify(parent, run context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return err
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		q.setState(QrStateTimedOut)
		return fmt.Errorf("%w (>%s): %w", ErrQrTimeout, timeout, err)
	}
	return err
}
