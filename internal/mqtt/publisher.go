package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/Zippland/Bubbles/internal/config"
	"github.com/Zippland/Bubbles/internal/events"
)

// StatsSource supplies the live values in the status document.
type StatsSource interface {
	Uptime() time.Duration
	Version() string
	DefaultModel() string
	ActiveSessions() int
}

// Status is the retained document on <prefix>/status.
type Status struct {
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
	DefaultModel   string `json:"default_model"`
	ActiveSessions int    `json:"active_sessions"`
	TokensIn       int64  `json:"tokens_in_today"`
	TokensOut      int64  `json:"tokens_out_today"`
	Requests       int64  `json:"model_calls_today"`
	LastRequest    string `json:"last_request"`

	CallsByModel map[string]int64 `json:"model_calls_by_model,omitempty"`
}

// sender is the publishing half of an autopaho connection.
type sender interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher owns the broker connection and relays bus events.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	usage      *modelUsage
	stats      StatsSource
	bus        *events.Bus
	logger     *slog.Logger

	mu          sync.Mutex
	conn        sender
	cm          *autopaho.ConnectionManager
	lastRequest time.Time
}

// New creates a Publisher but does not connect. stats may be nil.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		usage:      newModelUsage(nil),
		stats:      stats,
		bus:        bus,
		logger:     logger,
	}
}

// Start connects and relays events until ctx is cancelled. On every
// (re-)connect it publishes the birth message and a fresh status.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, "online")
			p.publishStatus(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.conn = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	go p.bus.Forward(ctx, 128, func(e events.Event) { p.HandleEvent(ctx, e) })
	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, "offline")
	return cm.Disconnect(ctx)
}

// HandleEvent updates counters from e and relays it to the broker.
func (p *Publisher) HandleEvent(ctx context.Context, e events.Event) {
	switch e.Kind {
	case events.KindLLMResponse:
		model, _ := e.Data["model"].(string)
		p.usage.record(model, intField(e.Data, "tokens_in"), intField(e.Data, "tokens_out"))
	case events.KindRequestComplete:
		p.mu.Lock()
		p.lastRequest = e.Timestamp
		p.mu.Unlock()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Debug("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	p.publish(ctx, p.eventTopic(e.Kind), payload, 0, false)
}

func (p *Publisher) clientID() string {
	if p.instanceID == "" {
		return p.cfg.TopicPrefix
	}
	return p.cfg.TopicPrefix + "-" + p.instanceID
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) statusTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

func (p *Publisher) eventTopic(kind string) string {
	return p.cfg.TopicPrefix + "/events/" + kind
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) bool {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return false
	}
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		p.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

func (p *Publisher) publishAvailability(ctx context.Context, status string) {
	if p.publish(ctx, p.availabilityTopic(), []byte(status), 1, true) {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// status assembles the current status document.
func (p *Publisher) status() Status {
	u := p.usage.snapshot()
	s := Status{
		TokensIn:     u.TokensIn,
		TokensOut:    u.TokensOut,
		Requests:     u.Calls,
		LastRequest:  "never",
		CallsByModel: u.ByModel,
	}
	if p.stats != nil {
		s.Version = p.stats.Version()
		s.Uptime = p.stats.Uptime().Truncate(time.Second).String()
		s.DefaultModel = p.stats.DefaultModel()
		s.ActiveSessions = p.stats.ActiveSessions()
	}
	p.mu.Lock()
	if !p.lastRequest.IsZero() {
		s.LastRequest = p.lastRequest.Format(time.RFC3339)
	}
	p.mu.Unlock()
	return s
}

func (p *Publisher) publishStatus(ctx context.Context) {
	payload, err := json.Marshal(p.status())
	if err != nil {
		p.logger.Error("mqtt marshal status", "error", err)
		return
	}
	p.publish(ctx, p.statusTopic(), payload, 0, true)
}

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStatus(ctx)
		}
	}
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
