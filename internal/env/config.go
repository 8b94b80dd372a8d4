package env

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Host string `env:"KVCHECK_HOST,default=localhost" mapstructure:"host"`
	Port int    `env:"KVCHECK_PORT,default=10011" mapstructure:"port"`

	KeyLength   int   `env:"KVCHECK_KEY_LENGTH,default=20" mapstructure:"keyLength"`
	ValueLength int   `env:"KVCHECK_VALUE_LENGTH,default=1024" mapstructure:"valueLength"`
	Iterations  int   `env:"KVCHECK_ITERATIONS,default=10000" mapstructure:"iterations"`
	Seed        int64 `env:"KVCHECK_SEED" mapstructure:"seed"`

	DialTimeout  time.Duration `env:"KVCHECK_DIAL_TIMEOUT,default=5s" mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `env:"KVCHECK_READ_TIMEOUT" mapstructure:"readTimeout"`
	WriteTimeout time.Duration `env:"KVCHECK_WRITE_TIMEOUT" mapstructure:"writeTimeout"`

	Framing     string        `env:"KVCHECK_FRAMING,default=length" mapstructure:"framing"`
	DrainWindow time.Duration `env:"KVCHECK_DRAIN_WINDOW,default=5ms" mapstructure:"drainWindow"`
	SplitWrite  bool          `env:"KVCHECK_SPLIT_WRITE" mapstructure:"splitWrite"`
	SplitDelay  time.Duration `env:"KVCHECK_SPLIT_DELAY,default=100us" mapstructure:"splitDelay"`

	MaxBytes  int    `env:"KVCHECK_MAX_BYTES,default=128000000" mapstructure:"maxBytes"`
	Snapshot  string `env:"KVCHECK_SNAPSHOT" mapstructure:"snapshot"`
	DebugHTTP bool   `env:"KVCHECK_DEBUG_HTTP" mapstructure:"debugHTTP"`

	LogLevel string `env:"KVCHECK_LOG_LEVEL,default=info" mapstructure:"logLevel"`
}

// LoadConfig reads .env.local if present, then the environment, then the
// optional profile file. Values in the profile win over the environment.
func LoadConfig(ctx context.Context, profile string) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	if profile != "" {
		if err := loadProfile(profile, &config); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

// loadProfile overlays the keys present in a YAML, TOML or JSON file onto
// config. Keys absent from the file keep their current value.
func loadProfile(path string, config *Config) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("Failed to read profile %s: %w", path, err)
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("Failed to decode profile %s: %w", path, err)
	}

	return nil
}

// Addr returns the host:port of the server under test.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
