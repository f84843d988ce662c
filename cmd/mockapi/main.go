package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/diet-sync/internal/config"
	"github.com/jrsteele09/diet-sync/internal/mockapi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	appName     = "diet mock"
	maxRestarts = 3
)

var errPanicRecovered = errors.New("panic recovered")

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := supervise(run, maxRestarts, time.Second); err != nil {
		log.Fatal().Err(err).Msg("Error running mock backend")
	}
	log.Info().Msg("Mock backend stopped")
}

// supervise reruns run after a recovered panic, at most restarts times. Any
// other error is returned straight away.
func supervise(run func() error, restarts int, pause time.Duration) error {
	for attempt := 0; ; attempt++ {
		err := run()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errPanicRecovered) || attempt >= restarts {
			return err
		}
		log.Error().Err(err).Int("attempt", attempt+1).Msg("Restarting mock backend")
		time.Sleep(pause)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errPanicRecovered
		}
	}()

	c, err := config.Load(os.Getenv("DIETSYNC_CONFIG"))
	if err != nil {
		return err
	}
	if level, err := zerolog.ParseLevel(c.GetLogLevel()); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	displayAppname(appName)

	api := mockapi.New(mockapi.WithEnv(c.GetEnv()))
	client, dietitian, err := api.SeedDemo()
	if err != nil {
		return fmt.Errorf("seed demo accounts: %w", err)
	}
	log.Info().Str("client", client.String()).Str("dietitian", dietitian.String()).Msg("Seeded a@x.com and dietitian@x.com, password pw")

	server := &http.Server{Addr: c.GetMockAddr(), Handler: api}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(server) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Str("prefix", mockapi.APIPrefix).Msg("Mock backend listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
