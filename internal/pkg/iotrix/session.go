package iotrix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"
)

const maxBodySize = 1 << 20

// Session owns the HTTP connection resource shared by a Fetcher and its QR
// login sessions. It is opened on first use and released by Close; a request
// after Close opens a fresh one.
type Session struct {
	mu        sync.Mutex
	client    *http.Client
	transport http.RoundTripper
	userAgent string
	timeout   time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTransport overrides the round tripper used when the session opens.
func WithTransport(rt http.RoundTripper) SessionOption {
	return func(s *Session) {
		s.transport = rt
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) SessionOption {
	return func(s *Session) {
		s.userAgent = ua
	}
}

// WithRequestTimeout bounds every request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.timeout = d
	}
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{timeout: 10 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) acquire() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		rt := s.transport
		if rt == nil {
			rt = http.DefaultTransport.(*http.Transport).Clone()
		}
		s.client = &http.Client{Transport: rt}
	}
	return s.client
}

// IsOpen reports whether the connection resource is currently held.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Close releases idle connections. It is safe to call repeatedly and on a
// session that was never opened.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	s.client.CloseIdleConnections()
	s.client = nil
	return nil
}

type response struct {
	StatusCode int
	Body       []byte
}

// do issues one request with the per-request timeout applied through the
// context, so it holds even for transports without deadline support.
func (s *Session) do(ctx context.Context, method, url string, headers map[string]string, payload any, op string) (*response, error) {
	client := s.acquire()

	reqCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, networkErr(ctx, op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, networkErr(ctx, op, err)
	}
	return &response{StatusCode: res.StatusCode, Body: data}, nil
}
