package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	yaml "gopkg.in/yaml.v2"

	"github.com/lovoo/projector"
)

// Storage backends of the keyed entity store.
const (
	backendLevelDB = "leveldb"
	backendRedis   = "redis"
	backendMemory  = "memory"
)

// Config is the configuration file of the projector service.
type Config struct {
	Name  string `yaml:"name"`
	Debug bool   `yaml:"debug"`

	Kafka struct {
		Brokers    []string `yaml:"brokers"`
		Topic      string   `yaml:"topic"`
		Partitions []uint32 `yaml:"partitions"`
		// Records is a file with one JSON record per line. It replaces Kafka,
		// e.g. to rebuild a projection from an export.
		Records string `yaml:"records"`
	} `yaml:"kafka"`

	Storage struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		Redis     string `yaml:"redis"`
		Namespace string `yaml:"namespace"`
	} `yaml:"storage"`

	Index struct {
		// SQLite is the database file of the index store. Documents are kept
		// in memory if it is empty.
		SQLite string `yaml:"sqlite"`
	} `yaml:"index"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Projector projector.Config `yaml:"projector"`
}

func defaultConfig() *Config {
	conf := new(Config)
	conf.Name = "projector"
	conf.Kafka.Topic = "records"
	conf.Storage.Backend = backendLevelDB
	conf.Storage.Path = projector.DefaultStoragePath("")
	conf.HTTP.Addr = ":9095"
	conf.Projector = projector.DefaultConfig()
	return conf
}

func readConfig(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	conf := defaultConfig()
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", filename, err)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return conf, nil
}

func (c *Config) validate() error {
	var errs *multierror.Error
	if c.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("name must not be empty"))
	}
	if c.Kafka.Records == "" {
		if len(c.Kafka.Brokers) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("kafka.brokers must not be empty"))
		}
		if c.Kafka.Topic == "" {
			errs = multierror.Append(errs, fmt.Errorf("kafka.topic must not be empty"))
		}
	}
	if c.Kafka.Records != "" && len(c.Kafka.Partitions) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("kafka.partitions must be set when reading records from a file"))
	}

	switch c.Storage.Backend {
	case backendLevelDB:
		if c.Storage.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("storage.path must not be empty"))
		}
	case backendRedis:
		if c.Storage.Redis == "" || c.Storage.Namespace == "" {
			errs = multierror.Append(errs, fmt.Errorf("storage.redis and storage.namespace must not be empty"))
		}
	case backendMemory:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if err := c.Projector.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
