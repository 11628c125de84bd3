// Package logger wires the global zerolog logger: rotated file output,
// optional pretty console, optional Axiom forwarding.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/local/imagecleaner/internal/config"
)

const serviceName = "imagecleaner"

var (
	global  zerolog.Logger
	shipper *axiomShipper
)

// Init sets up the global logger from config. Axiom failures are reported to
// stderr and logging continues without forwarding.
func Init(lc config.LoggingConfig, ac config.AxiomConfig) error {
	var writers []io.Writer

	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   lc.Compress,
		})
	}

	if lc.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}

	if ac.Send && ac.APIKey != "" {
		s, err := newAxiomShipper(ac)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			shipper = s
			writers = append(writers, s)
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	global = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	log.Logger = global
	return nil
}

// Close flushes any buffered external loggers.
func Close() {
	if shipper != nil {
		shipper.Close()
	}
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

// axiomShipper batches zerolog JSON lines and ingests them into Axiom.
// Debug lines are not forwarded.
type axiomShipper struct {
	client  *axiom.Client
	dataset string
	ch      chan axiom.Event
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	ctx     context.Context
}

func newAxiomShipper(ac config.AxiomConfig) (*axiomShipper, error) {
	opts := []axiom.Option{axiom.SetToken(ac.APIKey)}
	if ac.OrgID != "" {
		opts = append(opts, axiom.SetOrganizationID(ac.OrgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &axiomShipper{
		client:  c,
		dataset: ac.Dataset,
		ch:      make(chan axiom.Event, 1000),
		ctx:     ctx,
		cancel:  cancel,
	}
	every := ac.FlushInterval
	if every <= 0 {
		every = 10 * time.Second
	}
	s.wg.Add(1)
	go s.loop(every)
	return s, nil
}

func (s *axiomShipper) Write(p []byte) (int, error) {
	var ev map[string]interface{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]interface{}{"message": string(p), "level": "info"}
	}
	if lvl, ok := ev["level"].(string); ok && lvl == "debug" {
		return len(p), nil
	}
	ev["service"] = serviceName
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	select {
	case s.ch <- axiom.Event(ev):
	default:
		// drop on full buffer
	}
	return len(p), nil
}

func (s *axiomShipper) loop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	batch := make([]axiom.Event, 0, 200)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, _ = s.client.IngestEvents(ctx, s.dataset, batch)
		cancel()
		batch = batch[:0]
	}
	for {
		select {
		case <-s.ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case ev := <-s.ch:
			batch = append(batch, ev)
			if len(batch) >= 200 {
				flush()
			}
		}
	}
}

func (s *axiomShipper) Close() {
	s.cancel()
	s.wg.Wait()
}
