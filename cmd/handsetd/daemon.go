package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeaphone/handset/config"
	"github.com/yeaphone/handset/display"
	"github.com/yeaphone/handset/input"
	"github.com/yeaphone/handset/mainloop"
	"github.com/yeaphone/handset/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const shutdownTimeout = 5 * time.Second

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// run starts the loop and its collaborators and blocks until ctx is done or
// the loop stops. Cancellation of ctx is a clean exit.
func run(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := newLogger(logOutput, level)

	loop, err := mainloop.New(append(cfg.LoopOptions(), mainloop.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer func() { _ = loop.Close() }()

	if cfg.Display.Enabled {
		disp := display.New(loop, display.DirSink{Dir: cfg.Display.ControlDir},
			append(cfg.DisplayOptions(), display.WithLogger(logger))...)
		defer func() {
			// once terminated the loop no longer carries display updates, they
			// are written directly
			_ = loop.Close()
			disp.HideAll()
		}()
		disp.LEDOff()
		disp.ShowDate()
		if cfg.Display.Text != "" {
			disp.SetText(cfg.Display.Text)
		}
		if cfg.Display.Ringtone != "" {
			tone, err := display.ReadRingtone(cfg.Display.Ringtone)
			if err == nil {
				err = disp.Ringtone(tone, byte(cfg.Display.RingtoneVolume))
			}
			if err != nil {
				return err
			}
		}
	}

	keys := &keypad{logger: logger, loop: loop}
	if cfg.Input.Enabled {
		fd, err := unix.Open(cfg.Input.Device, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Input.Device, err)
		}
		defer unix.Close(fd)
		if cfg.Input.Grab {
			if err := input.Grab(fd); err != nil {
				return fmt.Errorf("grab %s: %w", cfg.Input.Device, err)
			}
		}
		reader, err := input.NewReader(loop, fd, keys, append(cfg.InputOptions(), input.WithLogger(logger))...)
		if err != nil {
			return err
		}
		defer reader.Close()
	}

	var srv *http.Server
	var ln net.Listener
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics.NewCollector(loop),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if ln, err = net.Listen("tcp", cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info().
			Str(`addr`, ln.Addr().String()).
			Log(`serving metrics`)
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		err := loop.Run(gctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			err = nil
		}
		if err == nil {
			err = keys.failure()
		}
		return err
	})

	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-serverCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info().Log(`handsetd started`)
	if err := g.Wait(); err != nil {
		logger.Err().Err(err).Log(`handsetd stopped`)
		return err
	}
	logger.Info().Log(`handsetd stopped`)
	return nil
}

// keypad logs key events. A device failure stops the loop and is returned
// from run.
type keypad struct {
	logger *logiface.Logger[logiface.Event]
	loop   *mainloop.Loop
	err    error
	mu     sync.Mutex
}

func (x *keypad) HandleKey(ev input.KeyEvent) {
	x.logger.Debug().
		Int(`code`, int(ev.Code)).
		Int(`value`, int(ev.Value)).
		Bool(`shift`, ev.Shift).
		Log(`key`)
}

func (x *keypad) HandleLongKey(code uint16) {
	x.logger.Debug().
		Int(`code`, int(code)).
		Log(`long key`)
}

func (x *keypad) HandleError(err error) {
	x.mu.Lock()
	x.err = fmt.Errorf("keypad: %w", err)
	x.mu.Unlock()
	x.loop.Shutdown()
}

func (x *keypad) failure() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}
