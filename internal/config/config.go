package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Bind string `yaml:"bind"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"http"`
	Auth struct {
		JWTPublicKeys []string `yaml:"jwt_public_keys"` // PEM certificate paths; empty disables auth
		Issuer        string   `yaml:"issuer"`
		Audience      string   `yaml:"audience"`
	} `yaml:"auth"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	Upstream struct {
		URL      string `yaml:"url"` // ws(s)://host/path streaming {"source", "payload"} frames
		Insecure bool   `yaml:"insecure"`
		Fake     bool   `yaml:"fake"`
		Source   string `yaml:"source"`
	} `yaml:"upstream"`
	Dispenser struct {
		Stock int `yaml:"stock"`
	} `yaml:"dispenser"`
	Subscribers []Subscriber `yaml:"subscribers"`
}

type Subscriber struct {
	ID          string `yaml:"id"`
	Connected   bool   `yaml:"connected"`
	Sink        string `yaml:"sink"` // log | stdout | discard
	BufferLimit int    `yaml:"buffer_limit"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	c.Dispenser.Stock = -1
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Dispenser.Stock < 0 {
		c.Dispenser.Stock = 1
	}
	if c.Upstream.Source == "" {
		c.Upstream.Source = "upstream"
	}

	seen := make(map[string]bool)
	for i, s := range c.Subscribers {
		if s.ID == "" {
			return nil, fmt.Errorf("subscribers[%d]: missing id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("subscribers[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return &c, nil
}
