package projector

import (
	"path/filepath"

	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/rules"
	"github.com/lovoo/projector/storage"
)

const (
	defaultBaseStoragePath = "/tmp/projector"
	defaultName            = "projector"
)

// DefaultStoragePath returns the default path of the leveldb storages of
// projector name.
func DefaultStoragePath(name string) string {
	return filepath.Join(defaultBaseStoragePath, name)
}

// Option configures a projector or a driver.
type Option func(*options)

type options struct {
	log          logger.Logger
	name         string
	registry     *rules.Registry
	checkpointer Checkpointer

	builders struct {
		storage storage.Builder
		backoff BackoffBuilder
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithName sets the name of the projector. It names the partition storages.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithRegistry replaces the default rules.
func WithRegistry(reg *rules.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithCheckpointer replaces the default checkpointer, which keeps the
// position in the storage of each partition.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *options) {
		o.checkpointer = c
	}
}

// WithStorageBuilder defines the builder of the partition storages. It is
// only used by projectors.
func WithStorageBuilder(sb storage.Builder) Option {
	return func(o *options) {
		o.builders.storage = sb
	}
}

// WithBackoffBuilder replaces the default backoff.
func WithBackoffBuilder(bb BackoffBuilder) Option {
	return func(o *options) {
		o.builders.backoff = bb
	}
}

func newOptions(cfg Config, opts ...Option) *options {
	o := new(options)
	for _, opt := range opts {
		opt(o)
	}

	if o.log == nil {
		o.log = logger.Default()
	}
	if o.name == "" {
		o.name = defaultName
	}
	if o.registry == nil {
		o.registry = rules.Default()
	}
	if o.builders.storage == nil {
		o.builders.storage = storage.DefaultBuilder(DefaultStoragePath(o.name))
	}
	if o.builders.backoff == nil {
		step, max := cfg.BackoffStep, cfg.BackoffMax
		o.builders.backoff = func() (Backoff, error) {
			return NewSimpleBackoff(step, max), nil
		}
	}
	return o
}
