package notifier_config

import (
	"time"

	"github.com/openlistings/alertd/internal/mailer"
	"github.com/openlistings/alertd/internal/match"
	"github.com/openlistings/alertd/internal/obs"
	"github.com/openlistings/alertd/internal/push"
	kafkax "github.com/openlistings/alertd/internal/repository/kafka"
	pginfra "github.com/openlistings/alertd/internal/repository/postgres"
	redisx "github.com/openlistings/alertd/internal/repository/redis"
)

type KafkaIn struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	FromBeginning bool     `mapstructure:"from_beginning"`
}

func (k KafkaIn) AsConsumerConfig() *kafkax.ConsumerConfig {
	return &kafkax.ConsumerConfig{
		Brokers:       k.Brokers,
		GroupID:       k.GroupID,
		Topic:         k.Topic,
		FromBeginning: k.FromBeginning,
	}
}

type KafkaOut struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Retry struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Quiet is the window applied when a user enabled quiet hours without
// picking times.
type Quiet struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	App    string `mapstructure:"app"`
	Env    string `mapstructure:"env"`
	Ver    string `mapstructure:"ver"`
}

func (l Log) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{Level: l.Level, Pretty: l.Pretty, App: l.App, Env: l.Env, Ver: l.Ver}
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (o OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      o.Enable,
		Endpoint:    o.OTLPEndpoint,
		ServiceName: o.ServiceName,
		SampleRatio: o.SampleRatio,
	}
}

type Config struct {
	DB     pginfra.Config   `mapstructure:"db"`
	Redis  redisx.Config    `mapstructure:"redis"`
	Rate   redisx.RateConfig `mapstructure:"rate"`
	In     KafkaIn          `mapstructure:"kafka_in"`
	Out    KafkaOut         `mapstructure:"kafka_out"`
	Push   push.Config      `mapstructure:"push"`
	SMTP   mailer.Config    `mapstructure:"smtp"`
	Match  match.Weights    `mapstructure:"match"`
	Retry  Retry            `mapstructure:"retry"`
	Quiet  Quiet            `mapstructure:"quiet"`
	Server Server           `mapstructure:"server"`
	Log    Log              `mapstructure:"log"`
	OTEL   OTEL             `mapstructure:"otel"`
}
