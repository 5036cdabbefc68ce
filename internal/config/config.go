// Package config loads process settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/aegraph/internal/entity"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	// Env is "production" or anything else; outside production service
	// hosts are rewritten to localhost.
	Env       string            `yaml:"env"`
	Gateway   Gateway           `yaml:"gateway"`
	Services  map[string]string `yaml:"services"` // service name -> host:port
	Store     Store             `yaml:"store"`
	Transport Transport         `yaml:"transport"`
	Subgraph  Subgraph          `yaml:"subgraph"`
	OTel      OTel              `yaml:"otel"`
	Log       Log               `yaml:"log"`
	Metrics   Metrics           `yaml:"metrics"`
}

type Gateway struct {
	Addr            string        `yaml:"addr"`
	Timeout         time.Duration `yaml:"timeout"`
	Pretty          bool          `yaml:"pretty"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	MetadataHeaders []string      `yaml:"metadataHeaders"`
	GraphiQL        bool          `yaml:"graphiql"`
	Introspection   bool          `yaml:"introspection"`
	MaxBatch        int           `yaml:"maxBatch"`
	Concurrency     int           `yaml:"concurrency"`
}

type Store struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"databaseUrl"`
}

type Transport struct {
	MaxConnsPerEndpoint int           `yaml:"maxConnsPerEndpoint"`
	RPCTimeout          time.Duration `yaml:"rpcTimeout"`
}

type Subgraph struct {
	// Port overrides the port of the served kind's address.
	Port     int `yaml:"port"`
	MaxBatch int `yaml:"maxBatch"`
}

type OTel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used when neither file nor environment set
// a value.
func Default() Config {
	return Config{
		Gateway: Gateway{
			Addr:          ":4000",
			Timeout:       10 * time.Second,
			GraphiQL:      true,
			Introspection: true,
		},
		Services: map[string]string{
			entity.User.Service():     "users:4001",
			entity.Post.Service():     "posts:4002",
			entity.Comment.Service():  "comments:4003",
			entity.Category.Service(): "categories:4004",
		},
		Store:     Store{Driver: DriverMemory},
		Transport: Transport{MaxConnsPerEndpoint: 2, RPCTimeout: 3 * time.Second},
		OTel:      OTel{Service: "aegraph"},
		Log:       Log{Level: "info", Format: "text"},
	}
}

// Load reads path, when not empty, over the defaults and then applies the
// environment.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var serviceEnv = map[string]string{
	"USERS_SERVICE_ADDR":      entity.User.Service(),
	"POSTS_SERVICE_ADDR":      entity.Post.Service(),
	"COMMENTS_SERVICE_ADDR":   entity.Comment.Service(),
	"CATEGORIES_SERVICE_ADDR": entity.Category.Service(),
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AEGRAPH_ENV"); ok {
		c.Env = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Subgraph.Port = port
		c.Gateway.Addr = ":" + v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Store.DatabaseURL = v
		c.Store.Driver = DriverPostgres
	}
	for env, svc := range serviceEnv {
		if v, ok := lookup(env); ok && v != "" {
			if c.Services == nil {
				c.Services = map[string]string{}
			}
			c.Services[svc] = v
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.OTel.Endpoint = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c Config) Production() bool { return c.Env == "production" }

// ServiceAddr returns the address of service. Outside production the host
// is replaced with localhost so a compose file's names work from the host.
func (c Config) ServiceAddr(service string) (string, error) {
	addr, ok := c.Services[service]
	if !ok || addr == "" {
		return "", fmt.Errorf("no address for service %q", service)
	}
	if c.Production() {
		return addr, nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("service %s address %q: %w", service, addr, err)
	}
	return net.JoinHostPort("localhost", port), nil
}

// Listen returns the listen address of the subgraph serving kind.
func (c Config) Listen(kind entity.Kind) (string, error) {
	if c.Subgraph.Port > 0 {
		return ":" + strconv.Itoa(c.Subgraph.Port), nil
	}
	addr, ok := c.Services[kind.Service()]
	if !ok {
		return "", fmt.Errorf("no address for service %q", kind.Service())
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("service %s address %q: %w", kind.Service(), addr, err)
	}
	return ":" + port, nil
}

// Directory maps every service to its address.
func (c Config) Directory() (map[string][]string, error) {
	out := make(map[string][]string, len(entity.Kinds))
	for _, k := range entity.Kinds {
		addr, err := c.ServiceAddr(k.Service())
		if err != nil {
			return nil, err
		}
		out[k.Service()] = []string{addr}
	}
	return out, nil
}

func (c Config) Validate() error {
	var problems []error
	for _, k := range entity.Kinds {
		addr, ok := c.Services[k.Service()]
		if !ok || addr == "" {
			problems = append(problems, fmt.Errorf("services.%s: missing address", k.Service()))
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			problems = append(problems, fmt.Errorf("services.%s: %w", k.Service(), err))
		}
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			problems = append(problems, errors.New("store.databaseUrl: required by the postgres driver"))
		}
	default:
		problems = append(problems, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Transport.MaxConnsPerEndpoint < 0 {
		problems = append(problems, errors.New("transport.maxConnsPerEndpoint: must not be negative"))
	}
	if c.Gateway.MaxBatch < 0 || c.Subgraph.MaxBatch < 0 {
		problems = append(problems, errors.New("maxBatch: must not be negative"))
	}
	return errors.Join(problems...)
}
