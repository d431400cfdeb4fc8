package mqtt

import (
	"errors"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("mqtt operation timed out")

// Client is the part of paho_mqtt.Client used here.
type Client interface {
	Connect() paho_mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
	Disconnect(quiesce uint)
}

type service struct {
	client  Client
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	configured map[string]struct{}
}

func New(client Client) *service {
	return &service{
		client:     client,
		logger:     zap.L(),
		timeout:    5 * time.Second,
		configured: make(map[string]struct{}),
	}
}

// NewClient builds a paho client for host with auto reconnect.
func NewClient(host, username, password string) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(host).
		SetClientID("iotrix-integration").
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	return paho_mqtt.NewClient(opts)
}

func (s *service) Connect() error {
	return s.wait(s.client.Connect())
}

func (s *service) Close() error {
	s.client.Disconnect(250)
	return nil
}

func (s *service) wait(token paho_mqtt.Token) error {
	if !token.WaitTimeout(s.timeout) {
		return ErrTimeout
	}
	return token.Error()
}
