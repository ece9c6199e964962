// noteflow-probe is a connectivity diagnostic for the NoteFlow backend: it
// checks the health endpoint, opens the realtime channel, and logs state
// transitions until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/NoteFlow-AI/client_core/client"
	"github.com/NoteFlow-AI/client_core/realtime"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		baseURL    = flag.String("base-url", "", "HTTP API root, e.g. https://api.noteflow.app")
		wsURL      = flag.String("ws-url", "", "realtime endpoint override")
		accessTok  = flag.String("access-token", os.Getenv("NOTEFLOW_ACCESS_TOKEN"), "access token")
		refreshTok = flag.String("refresh-token", os.Getenv("NOTEFLOW_REFRESH_TOKEN"), "refresh token")
		timeout    = flag.Duration("timeout", 10*time.Second, "health check timeout")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	c, err := client.New(client.Options{
		ConfigPath:  *configPath,
		BaseURL:     *baseURL,
		RealtimeURL: *wsURL,
		Realtime: realtime.Callbacks{
			OnStateChange: func(s realtime.State) {
				log.Info().Stringer("state", s).Msg("realtime state changed")
			},
			OnMessage: func(env realtime.Envelope) {
				log.Info().Str("type", env.Type).Int("bytes", len(env.Data)).Msg("message received")
			},
			OnError: func(err error) {
				log.Warn().Err(err).Msg("realtime error")
			},
			OnClose: func(code int, reason string) {
				log.Info().Int("code", code).Str("reason", reason).Msg("realtime closed")
			},
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "probe:", err)
		os.Exit(1)
	}

	if *accessTok != "" || *refreshTok != "" {
		if err := c.Store.SaveTokens(*accessTok, *refreshTok); err != nil {
			fmt.Fprintln(os.Stderr, "probe:", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	if err := c.Health(ctx); err != nil {
		log.Error().Err(err).Msg("health check failed")
	} else {
		log.Info().Msg("health check ok")
	}
	cancel()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(runCtx); err != nil {
		log.Error().Err(err).Msg("realtime connect skipped")
	} else {
		defer c.Close()
	}

	<-runCtx.Done()
	log.Info().Msg("shutting down")
}
