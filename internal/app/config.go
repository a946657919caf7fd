package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"skymesh/internal/alert"
	"skymesh/internal/source"
	"skymesh/internal/tracker"
	"skymesh/internal/watchlist"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	LogLevel string
	LogDir   string
	UseUTC   bool

	HTTPEnabled    bool
	HTTPListen     string
	ControlEnabled bool
	ControlListen  string

	SourceBuffer   int
	DecodeWorkers  int
	ExpireInterval time.Duration
	ShutdownGrace  time.Duration

	Sources    []source.Config
	Tracker    tracker.Config
	Watchlist  []watchlist.Entry
	Dispatcher alert.Config
}

// yamlConfig is the on-disk schema. Durations are plain numbers of seconds
// so config files stay portable.
type yamlConfig struct {
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`
	UseUTC   *bool  `yaml:"use_utc"`

	HTTP struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
	} `yaml:"http"`
	Control struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
	} `yaml:"control"`

	SourceBuffer  int `yaml:"source_buffer"`
	DecodeWorkers int `yaml:"decode_workers"`

	Sources []struct {
		Name                string  `yaml:"name"`
		Type                string  `yaml:"type"`
		Host                string  `yaml:"host"`
		Port                int     `yaml:"port"`
		URL                 string  `yaml:"url"`
		Path                string  `yaml:"path"`
		PollIntervalSec     float64 `yaml:"poll_interval_sec"`
		ReadIdleTimeoutSec  float64 `yaml:"read_idle_timeout_sec"`
		BackoffInitialSec   float64 `yaml:"reconnect_backoff_initial_sec"`
		BackoffMaxSec       float64 `yaml:"reconnect_backoff_max_sec"`
		ReplayRealtime      bool    `yaml:"replay_realtime"`
		ReplayLoop          bool    `yaml:"replay_loop"`
		ReplayFrameDelayMs  float64 `yaml:"replay_frame_delay_ms"`
	} `yaml:"sources"`

	CPR struct {
		ReferenceLat        *float64 `yaml:"reference_lat"`
		ReferenceLon        *float64 `yaml:"reference_lon"`
		GlobalWindowSec     float64  `yaml:"global_cpr_window_sec"`
		SurfaceWindowSec    float64  `yaml:"surface_cpr_window_sec"`
		LocalRangeNM        float64  `yaml:"local_cpr_range_nm"`
		PositionTimeoutSec  float64  `yaml:"position_timeout_sec"`
	} `yaml:"cpr"`

	Tracker struct {
		AircraftTimeoutSec float64 `yaml:"aircraft_timeout_sec"`
		MaxAircraft        int     `yaml:"max_aircraft"`
		ExpireIntervalSec  float64 `yaml:"expire_interval_sec"`
	} `yaml:"tracker"`

	Watchlist struct {
		Entries       []watchlistEntry `yaml:"entries"`
		AlertThrottle struct {
			MinIntervalSec  float64 `yaml:"min_interval_sec"`
			MaxAlertsPerHr  int     `yaml:"max_alerts_per_hour"`
		} `yaml:"alert_throttle"`
	} `yaml:"watchlist"`

	Dispatcher struct {
		Channels []struct {
			Name            string `yaml:"name"`
			ChannelNumber   int    `yaml:"channel_number"`
			PSK             string `yaml:"psk"`
			UplinkEnabled   *bool  `yaml:"uplink_enabled"`
			DownlinkEnabled bool   `yaml:"downlink_enabled"`
			Template        string `yaml:"template"`
			PositionFormat  string `yaml:"position_format"`
		} `yaml:"channels"`
		DefaultChannel         string  `yaml:"default_channel"`
		Encrypt                bool    `yaml:"encrypt"`
		MaxMessageLength       int     `yaml:"max_message_length"`
		MaxAttempts            int     `yaml:"max_attempts"`
		MessageTTLSec          float64 `yaml:"message_ttl_sec"`
		Routing                string  `yaml:"routing"`
		FailoverTimeoutSec     float64 `yaml:"failover_timeout_sec"`
		HealthCheckIntervalSec float64 `yaml:"health_check_interval_sec"`

		Serial struct {
			Enabled bool   `yaml:"enabled"`
			Device  string `yaml:"device"`
			Baud    int    `yaml:"baud"`
		} `yaml:"serial"`

		MQTT struct {
			Enabled      bool    `yaml:"enabled"`
			BrokerURL    string  `yaml:"broker_url"`
			Port         int     `yaml:"port"`
			Username     string  `yaml:"username"`
			Password     string  `yaml:"password"`
			TLS          bool    `yaml:"tls"`
			TopicPrefix  string  `yaml:"topic_prefix"`
			Region       string  `yaml:"region"`
			ClientID     string  `yaml:"client_id"`
			QoS          int     `yaml:"qos"`
			KeepaliveSec float64 `yaml:"keepalive_sec"`
		} `yaml:"mqtt"`
	} `yaml:"dispatcher"`
}

type watchlistEntry struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Load reads and resolves a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return resolve(&yc)
}

func resolve(yc *yamlConfig) (*Config, error) {
	cfg := &Config{
		LogLevel:       yc.LogLevel,
		LogDir:         yc.LogDir,
		UseUTC:         yc.UseUTC == nil || *yc.UseUTC,
		HTTPEnabled:    yc.HTTP.Enabled,
		HTTPListen:     yc.HTTP.Listen,
		ControlEnabled: yc.Control.Enabled,
		ControlListen:  yc.Control.Listen,
		SourceBuffer:   yc.SourceBuffer,
		DecodeWorkers:  yc.DecodeWorkers,
		ExpireInterval: seconds(yc.Tracker.ExpireIntervalSec),
		ShutdownGrace:  5 * time.Second,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.HTTPListen == "" {
		cfg.HTTPListen = ":8080"
	}
	if cfg.ControlListen == "" {
		cfg.ControlListen = ":7878"
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = 2
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = 10 * time.Second
	}

	for _, s := range yc.Sources {
		cfg.Sources = append(cfg.Sources, source.Config{
			Name:             s.Name,
			Type:             s.Type,
			Host:             s.Host,
			Port:             s.Port,
			URL:              s.URL,
			Path:             s.Path,
			PollInterval:     seconds(s.PollIntervalSec),
			ReadIdleTimeout:  seconds(s.ReadIdleTimeoutSec),
			BackoffInitial:   seconds(s.BackoffInitialSec),
			BackoffMax:       seconds(s.BackoffMaxSec),
			ReplayRealtime:   s.ReplayRealtime,
			ReplayLoop:       s.ReplayLoop,
			ReplayFrameDelay: time.Duration(s.ReplayFrameDelayMs * float64(time.Millisecond)),
		})
	}

	cfg.Tracker = tracker.Config{
		AircraftTimeout:  seconds(yc.Tracker.AircraftTimeoutSec),
		MaxAircraft:      yc.Tracker.MaxAircraft,
		PositionTimeout:  seconds(yc.CPR.PositionTimeoutSec),
		GlobalCPRWindow:  seconds(yc.CPR.GlobalWindowSec),
		SurfaceCPRWindow: seconds(yc.CPR.SurfaceWindowSec),
		LocalCPRRangeNM:  yc.CPR.LocalRangeNM,
		ReferenceLat:     yc.CPR.ReferenceLat,
		ReferenceLon:     yc.CPR.ReferenceLon,
	}

	for _, e := range yc.Watchlist.Entries {
		cfg.Watchlist = append(cfg.Watchlist, watchlist.Entry(e))
	}
	// Compile now so a bad pattern is a startup error, not a runtime one.
	if _, err := watchlist.Compile(cfg.Watchlist); err != nil {
		return nil, err
	}

	d := &yc.Dispatcher
	cfg.Dispatcher = alert.Config{
		DefaultChannel:   d.DefaultChannel,
		Encrypt:          d.Encrypt,
		MaxMessageLength: d.MaxMessageLength,
		Throttle: alert.ThrottleConfig{
			MinInterval: seconds(yc.Watchlist.AlertThrottle.MinIntervalSec),
			MaxPerHour:  yc.Watchlist.AlertThrottle.MaxAlertsPerHr,
		},
		Queue: alert.QueueConfig{
			MaxAttempts: d.MaxAttempts,
			MessageTTL:  seconds(d.MessageTTLSec),
		},
		Routing: alert.RouterConfig{
			Policy:              d.Routing,
			FailoverTimeout:     seconds(d.FailoverTimeoutSec),
			HealthCheckInterval: seconds(d.HealthCheckIntervalSec),
		},
		Serial: alert.SerialConfig{
			Enabled: d.Serial.Enabled,
			Device:  d.Serial.Device,
			Baud:    d.Serial.Baud,
		},
		MQTT: alert.MQTTConfig{
			Enabled:     d.MQTT.Enabled,
			BrokerURL:   d.MQTT.BrokerURL,
			Port:        d.MQTT.Port,
			Username:    d.MQTT.Username,
			Password:    d.MQTT.Password,
			TLS:         d.MQTT.TLS,
			TopicPrefix: d.MQTT.TopicPrefix,
			Region:      d.MQTT.Region,
			ClientID:    d.MQTT.ClientID,
			QoS:         byte(d.MQTT.QoS),
			Keepalive:   seconds(d.MQTT.KeepaliveSec),
		},
	}
	for _, ch := range d.Channels {
		cfg.Dispatcher.Channels = append(cfg.Dispatcher.Channels, alert.ChannelConfig{
			Name:            ch.Name,
			Number:          ch.ChannelNumber,
			PSK:             ch.PSK,
			UplinkEnabled:   ch.UplinkEnabled == nil || *ch.UplinkEnabled,
			DownlinkEnabled: ch.DownlinkEnabled,
			Template:        ch.Template,
			PositionFormat:  ch.PositionFormat,
		})
	}

	if d.Serial.Enabled && d.Serial.Device == "" {
		return nil, fmt.Errorf("serial interface enabled without a device")
	}
	if d.MQTT.Enabled && d.MQTT.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt interface enabled without a broker url")
	}
	return cfg, nil
}
