package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/iotrix-integration/internal/pkg/config"
	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
)

func testConfig(t *testing.T, environ map[string]string) *config.Config {
	t.Helper()
	env := map[string]string{
		"IOTRIX_DEVICE_ID":      "dev-1",
		"SERVER_LISTEN_ADDRESS": "127.0.0.1:0",
	}
	for k, v := range environ {
		env[k] = v
	}
	cfg, err := config.LoadFrom(env)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRun_PublishesUntilCancelled(t *testing.T) {
	cfg := testConfig(t, nil)

	fetched := make(chan struct{}, 1)
	fetcher := &MockFetcher{FetchFunc: func(context.Context) (iotrix.Reading, error) {
		select {
		case fetched <- struct{}{}:
		default:
		}
		return iotrix.Reading{DeviceID: "dev-1", PVPower: 42, Status: iotrix.StatusValid, FetchedAt: time.Now()}, nil
	}}
	store := &MockStore{}
	mqtt := &MockMqtt{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, &services{Fetcher: fetcher, Store: store, Mqtt: mqtt}, zaptest.NewLogger(t))
	}()

	select {
	case <-fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("device was never fetched")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Equal(t, 1, fetcher.Closed())

	store.mu.Lock()
	assert.GreaterOrEqual(t, store.cleanups, 1)
	assert.Len(t, store.readings, 1)
	assert.Equal(t, []string{"dev-1"}, store.devices)
	assert.NotEmpty(t, store.properties)
	assert.True(t, store.closed)
	store.mu.Unlock()

	mqtt.mu.Lock()
	assert.Equal(t, []string{"dev-1"}, mqtt.devices)
	assert.NotEmpty(t, mqtt.properties)
	assert.True(t, mqtt.closed)
	mqtt.mu.Unlock()
}

func TestRun_WithoutOptionalSinks(t *testing.T) {
	cfg := testConfig(t, nil)
	fetcher := &MockFetcher{FetchFunc: func(context.Context) (iotrix.Reading, error) {
		return iotrix.Reading{}, iotrix.ErrAuthExpired
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := run(ctx, cfg, &services{Fetcher: fetcher}, zaptest.NewLogger(t))
	assert.NoError(t, err)
	assert.Equal(t, 1, fetcher.Closed())
}

func TestRun_CleanupError(t *testing.T) {
	cfg := testConfig(t, nil)
	store := &MockStore{CleanupFunc: func(context.Context) error { return errors.New("relation does not exist") }}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, cfg, &services{Fetcher: &MockFetcher{}, Store: store}, zaptest.NewLogger(t))
	assert.EqualError(t, err, "relation does not exist")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestQrLogin(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"qrcodeId":"q1","qrcodeBase64":%q}}`, base64.RawStdEncoding.EncodeToString(png))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		polls++
		if polls < 2 {
			w.Write([]byte(`{"data":{"status":"0"}}`))
			return
		}
		w.Write([]byte(`{"data":{"status":"2","code":"abc"}}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{"jwt":"the-token"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, map[string]string{
		"IOTRIX_QRCODE_API_URL":        srv.URL + "/generate",
		"IOTRIX_QRCODE_STATUS_API_URL": srv.URL + "/status",
		"IOTRIX_TOKEN_API_URL":         srv.URL + "/token",
		"IOTRIX_QR_POLL_INTERVAL":      "10ms",
	})
	imageOut := filepath.Join(t.TempDir(), "qr.png")

	var out bytes.Buffer
	require.NoError(t, qrLogin(context.Background(), cfg.IotrixCfg, imageOut, &out))
	assert.Equal(t, "the-token", strings.TrimSpace(out.String()))

	written, err := os.ReadFile(imageOut)
	require.NoError(t, err)
	assert.Equal(t, png, written)
}

func TestQrLogin_NotConfigured(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.IotrixCfg.QrTokenURL = ""
	err := qrLogin(context.Background(), cfg.IotrixCfg, "", &bytes.Buffer{})
	assert.ErrorIs(t, err, iotrix.ErrConfiguration)
}
