package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServeEnv is the environment consumed by `bl serve`.
type ServeEnv struct {
	Addr              string `env:"BURNLINE_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath          string `env:"BURNLINE_BASE_PATH" envDefault:"/v0"`
	JWTSecret         string `env:"BURNLINE_JWT_SECRET"`
	AllowActorHeader  bool   `env:"BURNLINE_ALLOW_ACTOR_HEADER" envDefault:"false"`
	ShutdownTimeoutMS int    `env:"BURNLINE_SHUTDOWN_TIMEOUT_MS" envDefault:"5000"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServeEnv parses ServeEnv and checks that bearer auth can work.
func LoadServeEnv() (ServeEnv, error) {
	var se ServeEnv
	if err := ParseEnv(&se); err != nil {
		return ServeEnv{}, err
	}
	if se.JWTSecret == "" && !se.AllowActorHeader {
		return ServeEnv{}, fmt.Errorf("BURNLINE_JWT_SECRET is required for bearer auth")
	}
	return se, nil
}
