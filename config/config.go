// Package config defines the engine's configuration surface, spec.md
// §6, loadable from the environment via envconfig so a host process can
// tune it without a recompile.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"reliant/channel"
)

// EngineConfig mirrors spec.md §6's configuration options. Durations are
// expressed as Go durations; envconfig accepts values like "30s" or
// "500ms" directly.
type EngineConfig struct {
	ReceiveWindowSize uint16        `envconfig:"RECEIVE_WINDOW_SIZE" default:"512"`
	SendBufferSize    int           `envconfig:"SEND_BUFFER_SIZE" default:"1024"`
	SendBufferExpire  time.Duration `envconfig:"SEND_BUFFER_EXPIRE" default:"5s"`
	FragmentExpire    time.Duration `envconfig:"FRAGMENT_EXPIRE" default:"5s"`
	MaxResendCount    int           `envconfig:"MAX_RESEND_COUNT" default:"0"`
	NackRedundancy    int           `envconfig:"NACK_REDUNDANCY" default:"2"`
	MTUPayloadBytes   int           `envconfig:"MTU_PAYLOAD_BYTES" default:"1200"`
	IdleConnTimeout   time.Duration `envconfig:"IDLE_CONN_TIMEOUT" default:"10s"`
	TickInterval      time.Duration `envconfig:"TICK_INTERVAL" default:"10ms"`
	ListenAddr        string        `envconfig:"LISTEN_ADDR" default:":9000"`
	MetricsNamespace  string        `envconfig:"METRICS_NAMESPACE" default:"reliant"`
}

// Load reads an EngineConfig from environment variables prefixed with
// prefix (e.g. "RELIANT" turns RECEIVE_WINDOW_SIZE into
// RELIANT_RECEIVE_WINDOW_SIZE), applying the struct tag defaults for
// anything unset.
func Load(prefix string) (EngineConfig, error) {
	var cfg EngineConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// ChannelConfig converts the engine-wide defaults into a per-channel
// config block. Every channel receives the same values; there is no
// per-channel override.
func (c EngineConfig) ChannelConfig(now func() time.Time) channel.Config {
	return channel.Config{
		ReceiveWindowSize: c.ReceiveWindowSize,
		SendBufferSize:    c.SendBufferSize,
		SendBufferExpire:  c.SendBufferExpire,
		FragmentExpire:    c.FragmentExpire,
		MaxResendCount:    c.MaxResendCount,
		NackRedundancy:    c.NackRedundancy,
		MTUPayloadBytes:   c.MTUPayloadBytes,
		Now:               now,
	}
}
