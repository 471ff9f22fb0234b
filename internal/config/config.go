package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvAppEnv             = "APP_ENV"
	EnvMode               = "NETSYNC_MODE"
	EnvListenAddress      = "NETSYNC_LISTEN_ADDRESS"
	EnvEndpoint           = "NETSYNC_ENDPOINT"
	EnvServerUrl          = "NETSYNC_SERVER_URL"
	EnvClientName         = "NETSYNC_CLIENT_NAME"
	EnvSendRate           = "NETSYNC_SEND_RATE"
	EnvObjectCount        = "NETSYNC_OBJECT_COUNT"
	EnvPositionPrecision  = "NETSYNC_POSITION_PRECISION"
	EnvIdleTimeout        = "NETSYNC_IDLE_TIMEOUT"
	EnvMaxConnections     = "NETSYNC_MAX_CONNECTIONS"
	EnvSnapshotBufferSize = "NETSYNC_SNAPSHOT_BUFFER_LIMIT"
)

type InvalidValue struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidValue) Error() string {
	return fmt.Sprintf("Invalid value '%s' for %s: %s", e.Value, e.Key, e.Reason)
}

type Config struct {
	AppEnv string
	// "server" or "client"
	Mode string

	ListenAddress string
	Endpoint      string
	ServerUrl     string
	ClientName    string

	SendRate           int
	ObjectCount        int
	PositionPrecision  float64
	IdleTimeout        time.Duration
	MaxConnections     int
	SnapshotBufferSize int
}

func Default() Config {
	return Config{
		AppEnv:             "development",
		Mode:               "server",
		ListenAddress:      ":3000",
		Endpoint:           "/ws",
		ServerUrl:          "ws://localhost:3000/ws",
		ClientName:         "netsync-client",
		SendRate:           30,
		ObjectCount:        8,
		PositionPrecision:  0.01,
		IdleTimeout:        30 * time.Second,
		MaxConnections:     1024,
		SnapshotBufferSize: 32,
	}
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads the given .env files (".env" when none are given) and then the
// process environment, which wins over the files. Missing files are not an
// error.
func Load(paths ...string) (Config, error) {
	fileValues, err := godotenv.Read(paths...)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading .env: %w", err)
		}
		fileValues = map[string]string{}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, has := os.LookupEnv(key); has {
			return v, true
		}
		v, has := fileValues[key]
		return v, has
	})
}

// FromLookup builds a config from defaults overridden by lookup.
func FromLookup(lookup func(key string) (string, bool)) (Config, error) {
	c := Default()

	str := func(key string, dst *string) {
		if v, has := lookup(key); has && v != "" {
			*dst = v
		}
	}

	positiveInt := func(key string, dst *int) error {
		v, has := lookup(key)
		if !has || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &InvalidValue{Key: key, Value: v, Reason: err.Error()}
		}
		if n <= 0 {
			return &InvalidValue{Key: key, Value: v, Reason: "must be > 0"}
		}
		*dst = n
		return nil
	}

	str(EnvAppEnv, &c.AppEnv)
	str(EnvMode, &c.Mode)
	str(EnvListenAddress, &c.ListenAddress)
	str(EnvEndpoint, &c.Endpoint)
	str(EnvServerUrl, &c.ServerUrl)
	str(EnvClientName, &c.ClientName)

	if c.Mode != "server" && c.Mode != "client" {
		return Config{}, &InvalidValue{Key: EnvMode, Value: c.Mode, Reason: "must be 'server' or 'client'"}
	}

	for key, dst := range map[string]*int{
		EnvSendRate:           &c.SendRate,
		EnvObjectCount:        &c.ObjectCount,
		EnvMaxConnections:     &c.MaxConnections,
		EnvSnapshotBufferSize: &c.SnapshotBufferSize,
	} {
		if err := positiveInt(key, dst); err != nil {
			return Config{}, err
		}
	}

	if v, has := lookup(EnvPositionPrecision); has && v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, &InvalidValue{Key: EnvPositionPrecision, Value: v, Reason: err.Error()}
		}
		if !(p > 0) {
			return Config{}, &InvalidValue{Key: EnvPositionPrecision, Value: v, Reason: "must be > 0"}
		}
		c.PositionPrecision = p
	}

	if v, has := lookup(EnvIdleTimeout); has && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, &InvalidValue{Key: EnvIdleTimeout, Value: v, Reason: err.Error()}
		}
		c.IdleTimeout = d
	}

	return c, nil
}
