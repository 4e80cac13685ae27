// Command projector projects the records of a log into a keyed entity store
// and an index store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	redis "gopkg.in/redis.v5"

	"github.com/lovoo/projector"
	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/index/sqlite"
	"github.com/lovoo/projector/kafka"
	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/memlog"
	"github.com/lovoo/projector/multierr"
	"github.com/lovoo/projector/storage"
	redisstorage "github.com/lovoo/projector/storage/redis"
	"github.com/lovoo/projector/web/monitor"
	"github.com/lovoo/projector/web/query"
)

var (
	filename = flag.String("config", "config.yaml", "path to config file")
)

func main() {
	flag.Parse()

	conf, err := readConfig(*filename)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		waiter := make(chan os.Signal, 1)
		signal.Notify(waiter, syscall.SIGINT, syscall.SIGTERM)
		<-waiter
		log.Printf("received signal, shutting down")
		cancel()
	}()

	if err := run(ctx, conf); err != nil {
		log.Fatal(err)
	}
}

// closers closes resources in reverse order.
type closers []io.Closer

func (c closers) Close() error {
	errs := new(multierr.Errors)
	for i := len(c) - 1; i >= 0; i-- {
		errs.Collect(c[i].Close())
	}
	return errs.ErrorOrNil()
}

func run(ctx context.Context, conf *Config) (rerr error) {
	logger.Debug(conf.Debug)
	l := logger.Default()
	if conf.Debug {
		logger.SetSaramaLogger(l.Prefix("Sarama"))
	}

	var toClose closers
	defer func() {
		errs := new(multierr.Errors).Collect(rerr)
		errs.Collect(toClose.Close())
		rerr = errs.ErrorOrNil()
	}()

	source, partitions, err := openSource(conf, l, &toClose)
	if err != nil {
		return err
	}
	idx, err := openIndex(conf, &toClose)
	if err != nil {
		return err
	}
	builder, err := storageBuilder(conf, &toClose)
	if err != nil {
		return err
	}

	p, err := projector.New(partitions, source, idx, conf.Projector,
		projector.WithName(conf.Name),
		projector.WithLogger(l),
		projector.WithStorageBuilder(builder),
	)
	if err != nil {
		return fmt.Errorf("error creating projector: %w", err)
	}

	root := mux.NewRouter()
	monitorServer := monitor.NewServer("/monitor", root, monitor.WithLogger(l))
	monitorServer.AttachProjector(conf.Name, p)
	query.NewServer("/query", root, p, query.WithLogger(l))

	errg, ctx := multierr.NewErrGroup(ctx)
	server := &http.Server{Addr: conf.HTTP.Addr, Handler: root}
	errg.Go(func() error {
		l.Printf("serving query and monitor at %s", conf.HTTP.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	errg.Go(func() error {
		// wait for outer context to be finished
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	errg.Go(func() error {
		return p.Run(ctx)
	})

	return errg.Wait().ErrorOrNil()
}

// openSource returns the record source and the partitions to project.
func openSource(conf *Config, l logger.Logger, toClose *closers) (projector.Source, []uint32, error) {
	if conf.Kafka.Records != "" {
		f, err := os.Open(conf.Kafka.Records)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()

		records := memlog.New()
		if err := records.Load(f); err != nil {
			return nil, nil, fmt.Errorf("error loading records from %s: %w", conf.Kafka.Records, err)
		}
		records.Seal()
		return records, conf.Kafka.Partitions, nil
	}

	source, err := kafka.NewSource(conf.Kafka.Brokers, conf.Kafka.Topic, kafka.DefaultConfig(), kafka.WithLogger(l))
	if err != nil {
		return nil, nil, err
	}
	*toClose = append(*toClose, source)

	partitions := conf.Kafka.Partitions
	if len(partitions) == 0 {
		partitions, err = source.Partitions()
		if err != nil {
			return nil, nil, err
		}
	}
	return source, partitions, nil
}

func openIndex(conf *Config, toClose *closers) (index.Store, error) {
	if conf.Index.SQLite == "" {
		return index.NewMemory(), nil
	}
	store, err := sqlite.Open(conf.Index.SQLite)
	if err != nil {
		return nil, err
	}
	*toClose = append(*toClose, store)
	return store, nil
}

func storageBuilder(conf *Config, toClose *closers) (storage.Builder, error) {
	switch conf.Storage.Backend {
	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: conf.Storage.Redis,
		})
		*toClose = append(*toClose, client)
		return redisstorage.RedisBuilder(client, conf.Storage.Namespace), nil
	case backendMemory:
		return storage.MemoryBuilder(), nil
	case backendLevelDB:
		return storage.DefaultBuilder(conf.Storage.Path), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", conf.Storage.Backend)
}
