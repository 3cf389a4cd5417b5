// Package config loads process configuration for the bridge daemon from a yaml file and BRIDGE_* environment
// variables, and validates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g. BRIDGE_TRANSPORT_KIND=nats.
const EnvPrefix = "BRIDGE"

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Demo      DemoConfig      `mapstructure:"demo"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type TransportConfig struct {
	// Kind selects the request/response substrate.
	Kind  string `mapstructure:"kind"  validate:"oneof=inmemory nats"`
	Codec string `mapstructure:"codec" validate:"oneof=json msgpack"`
	// Broadcaster optionally moves On broadcasts to a broker. Empty keeps the substrate.
	Broadcaster string `mapstructure:"broadcaster" validate:"omitempty,oneof=rabbitmq kafka"`

	NATS     NATSConfig     `mapstructure:"nats"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"            validate:"omitempty,url"`
	Name          string        `mapstructure:"name"`
	Prefix        string        `mapstructure:"prefix"         validate:"omitempty,excludesall=:*>"`
	ConnTimeout   time.Duration `mapstructure:"conn_timeout"   validate:"gte=0"`
	MaxReconnects int           `mapstructure:"max_reconnects" validate:"gte=-1"`
}

type RabbitMQConfig struct {
	URL              string        `mapstructure:"url"               validate:"omitempty,url"`
	EventsExchange   string        `mapstructure:"events_exchange"`
	CommandsExchange string        `mapstructure:"commands_exchange"`
	ConnTimeout      time.Duration `mapstructure:"conn_timeout"      validate:"gte=0"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"   validate:"dive,hostname_port"`
	ClientID string   `mapstructure:"client_id"`
	Prefix   string   `mapstructure:"prefix"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port|startswith=:"`
}

type DemoConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
}

// Default returns the configuration used when no file or environment override is given.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		Transport: TransportConfig{
			Kind:     "inmemory",
			Codec:    "json",
			NATS:     NATSConfig{Prefix: "bridge", ConnTimeout: 5 * time.Second, MaxReconnects: -1},
			RabbitMQ: RabbitMQConfig{ConnTimeout: 5 * time.Second},
		},
		Demo:      DemoConfig{TickInterval: time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("transport.kind", d.Transport.Kind)
	v.SetDefault("transport.codec", d.Transport.Codec)
	v.SetDefault("transport.broadcaster", "")
	v.SetDefault("transport.nats.url", "")
	v.SetDefault("transport.nats.name", "")
	v.SetDefault("transport.nats.prefix", d.Transport.NATS.Prefix)
	v.SetDefault("transport.nats.conn_timeout", d.Transport.NATS.ConnTimeout)
	v.SetDefault("transport.nats.max_reconnects", d.Transport.NATS.MaxReconnects)
	v.SetDefault("transport.rabbitmq.url", "")
	v.SetDefault("transport.rabbitmq.events_exchange", "")
	v.SetDefault("transport.rabbitmq.commands_exchange", "")
	v.SetDefault("transport.rabbitmq.conn_timeout", d.Transport.RabbitMQ.ConnTimeout)
	v.SetDefault("transport.kafka.brokers", []string{})
	v.SetDefault("transport.kafka.client_id", "")
	v.SetDefault("transport.kafka.prefix", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("demo.tick_interval", d.Demo.TickInterval)
}

// Load reads path (skipped when empty), applies BRIDGE_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config read %s: %w", path, errors.Join(berr.ErrInvalidConfig, err))
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config decode: %w", errors.Join(berr.ErrInvalidConfig, err))
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(transportRules, TransportConfig{})

	return v
}

// transportRules requires the connection settings of the selected substrate and broadcaster.
func transportRules(sl validator.StructLevel) {
	t, _ := sl.Current().Interface().(TransportConfig)

	if t.Kind == "nats" && t.NATS.URL == "" {
		sl.ReportError(t.NATS.URL, "NATS.URL", "URL", "required_for_kind", t.Kind)
	}

	switch t.Broadcaster {
	case "rabbitmq":
		if t.RabbitMQ.URL == "" {
			sl.ReportError(t.RabbitMQ.URL, "RabbitMQ.URL", "URL", "required_for_broadcaster", t.Broadcaster)
		}
	case "kafka":
		if len(t.Kafka.Brokers) == 0 {
			sl.ReportError(t.Kafka.Brokers, "Kafka.Brokers", "Brokers", "required_for_broadcaster", t.Broadcaster)
		}
	}
}

// Validate checks field constraints and the transport cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validate: %w", errors.Join(berr.ErrInvalidConfig, err))
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: %s %s", fe.Namespace(), fe.Tag(), fe.Param()))
		}

		return fmt.Errorf("%w: %s", berr.ErrInvalidConfig, strings.Join(msgs, "; "))
	}

	return nil
}
