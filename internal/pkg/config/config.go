package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
)

const (
	MinUpdateInterval = 10 * time.Second
	MaxUpdateInterval = 300 * time.Second
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	IotrixCfg   *IotrixConfig   `envPrefix:"IOTRIX_"`
	ServerCfg   *ServerConfig   `envPrefix:"SERVER_"`
	DatabaseCfg *DatabaseConfig
	MqttCfg     *MqttConfig `envPrefix:"MQTT_"`
}

type IotrixConfig struct {
	APIURL   string `env:"API_URL" envDefault:"https://portal.iotrix.net/api"`
	DeviceID string `env:"DEVICE_ID"`

	Token    string `env:"TOKEN"`
	Cookie   string `env:"COOKIE"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	LoginURL string `env:"LOGIN_URL"`

	QrGenerateURL  string        `env:"QRCODE_API_URL" envDefault:"https://portal.iotrix.net/api/v1/qrcode/generate"`
	QrStatusURL    string        `env:"QRCODE_STATUS_API_URL" envDefault:"https://portal.iotrix.net/api/v1/qrcode/status"`
	QrTokenURL     string        `env:"TOKEN_API_URL" envDefault:"https://portal.iotrix.net/api/v1/token/refresh"`
	QrRecovery     bool          `env:"QR_RECOVERY" envDefault:"true"` // fall back to QR login when no password is configured
	QrTimeout      time.Duration `env:"QR_TIMEOUT" envDefault:"120s"`
	QrPollInterval time.Duration `env:"QR_POLL_INTERVAL" envDefault:"2s"`

	UpdateInterval time.Duration `env:"UPDATE_INTERVAL" envDefault:"60s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	UserAgent      string        `env:"USER_AGENT" envDefault:"Mozilla/5.0 (Mobile; Android 13; Pixel 7) AppleWebKit/537.36"`
	AuthHeaderMode string        `env:"AUTH_HEADER_MODE" envDefault:"bearer"`

	// FieldAliases overrides alias paths, e.g. "pv_power=data.pvPower|data.power;voltage=data.v".
	FieldAliases map[string]string `env:"FIELD_ALIASES" envSeparator:";" envKeyValSeparator:"="`
}

type ServerConfig struct {
	ListenAddress     string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0:8000"`
	AdminUsername     string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"` // bcrypt, empty disables auth
}

type DatabaseConfig struct {
	URL              string `env:"DATABASE_URL"`
	MigrationsFolder string `env:"MIGRATIONS_FOLDER" envDefault:"migrations"`
}

type MqttConfig struct {
	Host     string `env:"HOST"`
	Username string `env:"USER"`
	Password string `env:"PASS"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{
		IotrixCfg:   &IotrixConfig{},
		ServerCfg:   &ServerConfig{},
		DatabaseCfg: &DatabaseConfig{},
		MqttCfg:     &MqttConfig{},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", iotrix.ErrConfiguration, err)
	}
	return cfg, nil
}

var authHeaderModes = []string{
	string(iotrix.AuthHeaderBearer),
	string(iotrix.AuthHeaderRaw),
	string(iotrix.AuthHeaderBoth),
}

func (c *Config) Validate() error {
	if c.IotrixCfg == nil {
		return fmt.Errorf("%w: iotrix config missing", iotrix.ErrConfiguration)
	}
	return c.IotrixCfg.Validate()
}

func (c *IotrixConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: IOTRIX_DEVICE_ID is required", iotrix.ErrConfiguration)
	}
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid api url %q", iotrix.ErrConfiguration, c.APIURL)
	}
	if c.UpdateInterval < MinUpdateInterval || c.UpdateInterval > MaxUpdateInterval {
		return fmt.Errorf("%w: update interval %s outside %s..%s", iotrix.ErrConfiguration, c.UpdateInterval, MinUpdateInterval, MaxUpdateInterval)
	}
	if c.RequestTimeout <= 0 || c.QrTimeout <= 0 || c.QrPollInterval <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", iotrix.ErrConfiguration)
	}
	if !lo.Contains(authHeaderModes, c.AuthHeaderMode) {
		return fmt.Errorf("%w: auth header mode %q not one of %v", iotrix.ErrConfiguration, c.AuthHeaderMode, authHeaderModes)
	}
	login := []string{c.Username, c.Password, c.LoginURL}
	if lo.SomeBy(login, lo.IsNotEmpty[string]) && !lo.EveryBy(login, lo.IsNotEmpty[string]) {
		return fmt.Errorf("%w: username, password and login url must be set together", iotrix.ErrConfiguration)
	}
	return nil
}

// Fetcher converts the configuration into the settings of an iotrix.Fetcher.
func (c *IotrixConfig) Fetcher() iotrix.Config {
	cfg := iotrix.Config{
		APIURL:   c.APIURL,
		DeviceID: c.DeviceID,
		Credential: iotrix.Credential{
			Token:    c.Token,
			Cookie:   c.Cookie,
			Username: c.Username,
			Password: c.Password,
			LoginURL: c.LoginURL,
		},
		AuthHeaderMode: iotrix.AuthHeaderMode(c.AuthHeaderMode),
		UserAgent:      c.UserAgent,
		RequestTimeout: c.RequestTimeout,
		QrTimeout:      c.QrTimeout,
		Aliases:        iotrix.ParseFieldAliases(c.FieldAliases),
	}
	if c.QrRecovery {
		cfg.Qr = c.Qr()
	}
	return cfg
}

// Qr returns the QR login endpoints, also used by the setup wizard.
func (c *IotrixConfig) Qr() iotrix.QrConfig {
	return iotrix.QrConfig{
		GenerateURL:  c.QrGenerateURL,
		StatusURL:    c.QrStatusURL,
		TokenURL:     c.QrTokenURL,
		DeviceID:     c.DeviceID,
		PollInterval: c.QrPollInterval,
		Aliases:      iotrix.DefaultFieldAliases().Merge(iotrix.ParseFieldAliases(c.FieldAliases)),
	}
}
