package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTConfig describes the broker bridge.
type MQTTConfig struct {
	Enabled     bool
	BrokerURL   string
	Port        int
	Username    string
	Password    string
	TLS         bool
	TopicPrefix string
	Region      string
	ClientID    string
	QoS         byte
	Keepalive   time.Duration
	SendTimeout time.Duration
}

func (c *MQTTConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 1883
		if c.TLS {
			c.Port = 8883
		}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "msh"
	}
	if c.Region == "" {
		c.Region = "EU_868"
	}
	if c.ClientID == "" {
		c.ClientID = "skymesh"
	}
	if c.QoS > 1 {
		c.QoS = 1
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 60 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// MQTTInterface publishes alerts to a broker, one topic per channel.
type MQTTInterface struct {
	cfg    MQTTConfig
	log    *logrus.Entry
	client mqtt.Client
}

// NewMQTTInterface builds the interface; Connect dials the broker.
func NewMQTTInterface(cfg MQTTConfig, log *logrus.Logger) *MQTTInterface {
	cfg.applyDefaults()
	return &MQTTInterface{
		cfg: cfg,
		log: log.WithField("interface", "mqtt"),
	}
}

func (m *MQTTInterface) Name() string { return "mqtt" }

func (m *MQTTInterface) Connect(ctx context.Context) error {
	if m.client != nil && m.client.IsConnectionOpen() {
		return nil
	}
	scheme := "tcp"
	if m.cfg.TLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, m.cfg.BrokerURL, m.cfg.Port)).
		SetClientID(m.cfg.ClientID).
		SetKeepAlive(m.cfg.Keepalive).
		SetAutoReconnect(false).
		SetConnectTimeout(10 * time.Second)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username).SetPassword(m.cfg.Password)
	}
	if m.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("connect to %s: timeout", m.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", m.cfg.BrokerURL, err)
	}
	m.client = client
	m.log.WithField("broker", m.cfg.BrokerURL).Info("mqtt broker connected")
	return nil
}

// Topic returns the publish topic for a channel.
func (m *MQTTInterface) Topic(channel string) string {
	return fmt.Sprintf("%s/%s/c/%s/%s", m.cfg.TopicPrefix, m.cfg.Region, channel, m.cfg.ClientID)
}

func (m *MQTTInterface) Send(ctx context.Context, msg *Outbound) error {
	if m.client == nil || !m.client.IsConnectionOpen() {
		return fmt.Errorf("broker not connected")
	}
	token := m.client.Publish(m.Topic(msg.Channel), m.cfg.QoS, false, msg.Content)
	if !token.WaitTimeout(m.cfg.SendTimeout) {
		return fmt.Errorf("publish: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Probe reconnects when the session dropped.
func (m *MQTTInterface) Probe(ctx context.Context) error {
	if m.client != nil && m.client.IsConnectionOpen() {
		return nil
	}
	return m.Connect(ctx)
}

func (m *MQTTInterface) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
	return nil
}
