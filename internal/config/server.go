package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Server holds the HTTP API settings, read from the environment.
type Server struct {
	Addr     string `env:"N1SIM_ADDR" envDefault:":8080"`
	DBPath   string `env:"N1SIM_DB" envDefault:"n1sim.db"`
	LogLevel string `env:"N1SIM_LOG_LEVEL" envDefault:"info"`
}

func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
