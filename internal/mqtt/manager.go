package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/config"
	"github.com/motorlog/livelink/internal/ingest"
)

// State describes the manager's connection lifecycle.
type State string

const (
	StateStopped    State = "stopped"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

// Status is a point-in-time snapshot of the broker link.
type Status struct {
	State            State     `json:"state"`
	Broker           string    `json:"broker"`
	TopicFilter      string    `json:"topic_filter"`
	ConnectedSince   time.Time `json:"connected_since,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	MessagesReceived int64     `json:"messages_received"`
	Reconnects       int64     `json:"reconnects"`
}

type command int

const (
	cmdStart command = iota
	cmdStop
	cmdRestart
)

const (
	connectTimeout = 10 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	subscribeQoS   = 1
)

// Manager owns the broker connection exclusively: one long-lived actor
// goroutine connects, subscribes, and reconnects with capped exponential
// backoff, forever. Broker unavailability degrades ingestion to HTTP-only
// but never crashes the service. Start, Stop and Restart are message sends
// into the actor; Status reads a lock-protected snapshot.
type Manager struct {
	cfg      config.MQTTConfig
	pipeline *ingest.Pipeline
	logger   *zap.Logger

	cmds chan command
	lost chan error

	mu     sync.RWMutex
	status Status

	client paho.Client
}

// NewManager creates a new MQTT manager
func NewManager(cfg config.MQTTConfig, pipeline *ingest.Pipeline, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger,
		cmds:     make(chan command, 4),
		lost:     make(chan error, 4),
		status: Status{
			State:       StateStopped,
			Broker:      cfg.BrokerURL(),
			TopicFilter: cfg.TopicPrefix + "/#",
		},
	}
}

// Start asks the actor to bring the connection up.
func (m *Manager) Start() { m.cmds <- cmdStart }

// Stop asks the actor to take the connection down.
func (m *Manager) Stop() { m.cmds <- cmdStop }

// Restart tears the connection down and brings it back up with a fresh
// backoff schedule.
func (m *Manager) Restart() { m.cmds <- cmdRestart }

// Status returns a copy of the current connection snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(mutate func(*Status)) {
	m.mu.Lock()
	mutate(&m.status)
	m.mu.Unlock()
}

// Run is the actor loop. It owns all connection state; nothing else touches
// the paho client.
func (m *Manager) Run(ctx context.Context) {
	running := m.cfg.Enabled
	backoff := initialBackoff
	var retry <-chan time.Time

	attempt := func() {
		if m.connect() {
			backoff = initialBackoff
			retry = nil
			return
		}
		m.logger.Warn("broker connect failed, retrying",
			zap.String("broker", m.cfg.BrokerURL()),
			zap.Duration("backoff", backoff))
		retry = time.After(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if running {
		attempt()
	}

	for {
		select {
		case cmd := <-m.cmds:
			switch cmd {
			case cmdStart:
				if !running {
					running = true
					backoff = initialBackoff
					attempt()
				}
			case cmdStop:
				running = false
				retry = nil
				m.disconnect()
			case cmdRestart:
				m.disconnect()
				running = true
				backoff = initialBackoff
				attempt()
			}

		case err := <-m.lost:
			if !running {
				continue
			}
			m.logger.Warn("broker connection lost", zap.Error(err))
			m.setStatus(func(s *Status) {
				s.State = StateConnecting
				s.LastError = err.Error()
				s.ConnectedSince = time.Time{}
				s.Reconnects++
			})
			backoff = initialBackoff
			retry = time.After(backoff)

		case <-retry:
			retry = nil
			if running {
				attempt()
			}

		case <-ctx.Done():
			m.disconnect()
			return
		}
	}
}

// connect dials the broker and subscribes. Returns false on any failure so
// the caller schedules a retry.
func (m *Manager) connect() bool {
	m.setStatus(func(s *Status) { s.State = StateConnecting })

	opts := paho.NewClientOptions().
		AddBroker(m.cfg.BrokerURL()).
		SetClientID(m.cfg.ClientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetAutoReconnect(false).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			select {
			case m.lost <- err:
			default:
			}
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		err := token.Error()
		m.setStatus(func(s *Status) {
			if err != nil {
				s.LastError = err.Error()
			} else {
				s.LastError = "connect timeout"
			}
		})
		client.Disconnect(0)
		return false
	}

	filter := m.cfg.TopicPrefix + "/#"
	subToken := client.Subscribe(filter, subscribeQoS, m.handleMessage)
	if !subToken.WaitTimeout(connectTimeout) || subToken.Error() != nil {
		err := subToken.Error()
		m.setStatus(func(s *Status) {
			if err != nil {
				s.LastError = err.Error()
			} else {
				s.LastError = "subscribe timeout"
			}
		})
		client.Disconnect(250)
		return false
	}

	m.client = client
	m.setStatus(func(s *Status) {
		s.State = StateConnected
		s.LastError = ""
		s.ConnectedSince = time.Now()
	})
	m.logger.Info("subscribed to broker",
		zap.String("broker", m.cfg.BrokerURL()),
		zap.String("filter", filter))
	return true
}

func (m *Manager) disconnect() {
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
	m.setStatus(func(s *Status) {
		s.State = StateStopped
		s.ConnectedSince = time.Time{}
	})
}

// handleMessage funnels one broker message into the shared ingestion
// pipeline. The broker delivers at least once, so a redelivered message is
// harmless (keyed overwrite downstream). There is no caller to answer here:
// a failed write is logged and the message dropped; the device's own retry
// may redeliver it.
func (m *Manager) handleMessage(_ paho.Client, msg paho.Message) {
	m.setStatus(func(s *Status) { s.MessagesReceived++ })

	deviceID, parameterKey, err := ParseTopic(m.cfg.TopicPrefix, msg.Topic())
	if err != nil {
		m.logger.Warn("dropping message with unparseable topic",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	items, err := ParsePayload(parameterKey, msg.Payload())
	if err != nil {
		m.logger.Warn("dropping message with malformed payload",
			zap.String("topic", msg.Topic()),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return
	}

	_, err = m.pipeline.IngestBatch(context.Background(), ingest.Batch{
		DeviceID:   deviceID,
		Items:      items,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		m.logger.Error("dropping message after storage failure",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}
