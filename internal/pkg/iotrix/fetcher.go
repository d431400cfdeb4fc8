package iotrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/clock"
)

const dataPath = "/device/data"

// errTokenHandedOver cancels a running QR recovery once SetToken supplied a token.
var errTokenHandedOver = errors.New("token handed over")

// Config describes one device and how to authenticate against it.
type Config struct {
	APIURL         string
	DeviceID       string
	Credential     Credential
	AuthHeaderMode AuthHeaderMode
	UserAgent      string
	RequestTimeout time.Duration
	Transport      http.RoundTripper

	// Qr is used for recovery when no password login is configured.
	Qr        QrConfig
	QrTimeout time.Duration
	// OnQrCode is called with every code generated during a QR recovery so
	// the host can show it to the user.
	OnQrCode func(QrCode)

	Aliases FieldAliases
	Clock   clock.Clock
}

// Fetcher produces readings for a single device, recovering once from an
// expired credential by password login or QR login. Calls are serialized.
type Fetcher struct {
	cfg     Config
	session *Session
	clock   clock.Clock
	logger  *zap.Logger
	aliases FieldAliases

	// mu serializes Fetch and Reauth. credMu guards the fields below and is
	// never held across a request.
	mu       sync.Mutex
	credMu   sync.Mutex
	cred     Credential
	cancelQr context.CancelCauseFunc
}

func New(cfg Config) *Fetcher {
	if cfg.AuthHeaderMode == "" {
		cfg.AuthHeaderMode = AuthHeaderBearer
	}
	if cfg.QrTimeout <= 0 {
		cfg.QrTimeout = DefaultQrTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	aliases := DefaultFieldAliases().Merge(cfg.Aliases)
	cfg.Qr.Aliases = aliases
	if cfg.Qr.DeviceID == "" {
		cfg.Qr.DeviceID = cfg.DeviceID
	}

	opts := []SessionOption{WithUserAgent(cfg.UserAgent)}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.Transport != nil {
		opts = append(opts, WithTransport(cfg.Transport))
	}

	return &Fetcher{
		cfg:     cfg,
		session: NewSession(opts...),
		clock:   cfg.Clock,
		logger:  zap.L().With(zap.String("device_id", cfg.DeviceID)),
		aliases: aliases,
		cred:    cfg.Credential,
	}
}

func (f *Fetcher) DeviceID() string {
	return f.cfg.DeviceID
}

// Credential returns a copy of the current credential.
func (f *Fetcher) Credential() Credential {
	f.credMu.Lock()
	defer f.credMu.Unlock()
	return f.cred
}

// SetToken replaces the token, e.g. after a wizard completed a QR login. A
// QR recovery in progress stops and the pending fetch retries with token.
func (f *Fetcher) SetToken(token string) {
	f.credMu.Lock()
	f.cred.Token = token
	cancel := f.cancelQr
	f.credMu.Unlock()

	if cancel != nil {
		cancel(errTokenHandedOver)
	}
}

func (f *Fetcher) setToken(token string) {
	f.credMu.Lock()
	defer f.credMu.Unlock()
	f.cred.Token = token
}

// Close releases the connection resource. It is idempotent.
func (f *Fetcher) Close() error {
	return f.session.Close()
}

// Fetch returns a fresh reading or a typed error; it never returns cached data.
func (f *Fetcher) Fetch(ctx context.Context) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cred := f.Credential()
	if cred.Empty() {
		return Reading{}, fmt.Errorf("%w: no token, cookie or password login configured", ErrConfiguration)
	}
	if f.cfg.APIURL == "" || f.cfg.DeviceID == "" {
		return Reading{}, fmt.Errorf("%w: api url and device id are required", ErrConfiguration)
	}

	recovered := false
	if !cred.hasHeaderAuth() || (cred.hasPasswordLogin() && f.tokenExpired(cred)) {
		f.logger.Debug("logging in before fetch")
		if err := f.reauth(ctx); err != nil {
			return Reading{}, err
		}
		recovered = true
	}

	res, err := f.get(ctx)
	if err != nil {
		return Reading{}, err
	}

	if authRejected(res.StatusCode) {
		if recovered {
			return Reading{}, fmt.Errorf("%w: rejected with status %d after login", ErrAuthExpired, res.StatusCode)
		}
		f.logger.Info("credential rejected, attempting recovery", zap.Int("status_code", res.StatusCode))
		if err := f.recoverCredential(ctx); err != nil {
			return Reading{}, err
		}
		if res, err = f.get(ctx); err != nil {
			return Reading{}, err
		}
		if authRejected(res.StatusCode) {
			return Reading{}, fmt.Errorf("%w: rejected with status %d after recovery", ErrAuthExpired, res.StatusCode)
		}
	}

	if res.StatusCode != http.StatusOK {
		return Reading{}, &APIError{StatusCode: res.StatusCode, Endpoint: "device data"}
	}
	return parseReading(res.Body, f.aliases, f.cfg.DeviceID, f.clock.Now())
}

// Reauth performs a password login and stores the new token.
func (f *Fetcher) Reauth(ctx context.Context) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reauth(ctx); err != nil {
		return Credential{}, err
	}
	return f.Credential(), nil
}

func authRejected(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func (f *Fetcher) tokenExpired(cred Credential) bool {
	exp, ok := cred.ExpiresAt()
	return ok && !f.clock.Now().Before(exp)
}

func (f *Fetcher) get(ctx context.Context) (*response, error) {
	headers, err := f.Credential().headers(f.cfg.AuthHeaderMode)
	if err != nil {
		return nil, fmt.Errorf("%w: no token or cookie available", err)
	}

	u, err := url.Parse(strings.TrimSuffix(f.cfg.APIURL, "/") + dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	q := u.Query()
	q.Set("deviceId", f.cfg.DeviceID)
	q.Set("time", strconv.FormatInt(f.clock.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	return f.session.do(ctx, http.MethodGet, u.String(), headers, nil, "fetch device data")
}

// recoverCredential obtains a new token, preferring password login over QR login.
func (f *Fetcher) recoverCredential(ctx context.Context) error {
	switch {
	case f.Credential().hasPasswordLogin():
		return f.reauth(ctx)
	case f.cfg.Qr.Configured():
		return f.qrLogin(ctx)
	default:
		return fmt.Errorf("%w: no recovery path configured", ErrAuthExpired)
	}
}

func (f *Fetcher) reauth(ctx context.Context) error {
	cred := f.Credential()
	if !cred.hasPasswordLogin() {
		return fmt.Errorf("%w: username, password and login url are required", ErrConfiguration)
	}
	payload := map[string]any{
		"username":  cred.Username,
		"password":  cred.Password,
		"timestamp": f.clock.Now().UnixMilli(),
	}
	res, err := f.session.do(ctx, http.MethodPost, cred.LoginURL, nil, payload, "login")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login returned status %d", ErrAuth, res.StatusCode)
	}
	token := f.aliases.String(res.Body, FieldLoginToken)
	if token == "" {
		return fmt.Errorf("%w: token not found in login response", ErrAuth)
	}
	f.setToken(token)
	f.logger.Info("password login succeeded")
	return nil
}

func (f *Fetcher) qrLogin(ctx context.Context) error {
	opts := []QrOption{WithClock(f.clock)}
	if cookie := f.Credential().Cookie; cookie != "" {
		opts = append(opts, WithQrHeaders(map[string]string{"Cookie": cookie}))
	}
	if f.cfg.OnQrCode != nil {
		opts = append(opts, WithQrCodeHandler(f.cfg.OnQrCode))
	}
	qr := NewQrSession(f.cfg.Qr, f.session, opts...)

	qrCtx, cancel := context.WithCancelCause(ctx)
	f.credMu.Lock()
	f.cancelQr = cancel
	f.credMu.Unlock()
	defer func() {
		f.credMu.Lock()
		f.cancelQr = nil
		f.credMu.Unlock()
		cancel(nil)
	}()

	f.logger.Info("starting qr login", zap.Duration("timeout", f.cfg.QrTimeout))
	token, err := qr.RunToCompletion(qrCtx, f.cfg.QrTimeout)
	if errors.Is(context.Cause(qrCtx), errTokenHandedOver) {
		f.logger.Info("qr login superseded by a handed over token")
		return nil
	}
	if err != nil {
		return err
	}
	f.setToken(token)
	return nil
}
