// Package config loads the client configuration from a TOML file with
// sensible defaults for every field. A missing file is not an error.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath  = "parlor.toml"
	DefaultAPIBase     = "http://127.0.0.1:8080/api"
	DefaultGatewayURL  = "ws://127.0.0.1:8080/ws"
	DefaultPreviewAddr = "127.0.0.1:0"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Preview PreviewConfig `toml:"preview"`
	Auth    AuthConfig    `toml:"auth"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json pretty"`
}

type ServerConfig struct {
	// APIBase is the HTTP API origin, used for uploads and as the
	// fallback retrieval base.
	APIBase string `toml:"api_base" validate:"required,url"`
	// GatewayURL is the realtime websocket endpoint.
	GatewayURL string `toml:"gateway_url" validate:"required,url"`
}

type StorageConfig struct {
	// Origin is the persistent-storage origin for retrieval URLs. Empty
	// falls back to the API uploads path.
	Origin string `toml:"origin" validate:"omitempty,url"`
}

type PreviewConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	// JWTSecret guards the loopback preview routes when set.
	JWTSecret string `toml:"jwt_secret"`
}

// Load reads the config at path, applying defaults first. A missing file
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			APIBase:    DefaultAPIBase,
			GatewayURL: DefaultGatewayURL,
		},
		Preview: PreviewConfig{
			Addr: DefaultPreviewAddr,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}
