package sweeper_config

import (
	"time"

	"github.com/openlistings/alertd/internal/obs"
	"github.com/openlistings/alertd/internal/push"
	pginfra "github.com/openlistings/alertd/internal/repository/postgres"
	redisx "github.com/openlistings/alertd/internal/repository/redis"
	"github.com/openlistings/alertd/internal/services/sweeper"
)

type KafkaOut struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Lease struct {
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Retry struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
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
	DB     pginfra.Config    `mapstructure:"db"`
	Redis  redisx.Config     `mapstructure:"redis"`
	Rate   redisx.RateConfig `mapstructure:"rate"`
	Out    KafkaOut          `mapstructure:"kafka_out"`
	Push   push.Config       `mapstructure:"push"`
	Sweep  sweeper.Config    `mapstructure:"sweep"`
	Retry  Retry             `mapstructure:"retry"`
	Lease  Lease             `mapstructure:"lease"`
	Server Server            `mapstructure:"server"`
	Log    Log               `mapstructure:"log"`
	OTEL   OTEL              `mapstructure:"otel"`
}
