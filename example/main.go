package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"sync"
	"time"

	chatIO "github.com/ghuvrons/go.chat.io"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configFile := flag.String("config", "", "optional TOML config file")
	listen := flag.String("listen", ":3333", "demo server address")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "chat-example").Logger()
	log.Logger = logger

	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	cfg, err := chatIO.LoadConfig(files...)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	chatIO.RegisterMetrics()

	server := chatIO.NewServer(chatIO.Options{Logger: &logger})
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/", server)
	mux.Handle("/ws", server)
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		err := http.ListenAndServe(*listen, mux)
		logger.Fatal().Err(err).Msg("server stopped")
	}()

	store, err := sessionStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open session store")
	}

	client := chatIO.NewClient(cfg.ServerURL,
		chatIO.WithConfig(cfg),
		chatIO.WithSessionStore(store),
		chatIO.WithLogger(logger),
	)
	defer client.Disconnect()

	client.Events().OnTyping(func(isTyping bool) {
		logger.Info().Bool("typing", isTyping).Msg("typing")
	})

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	onError := func(err error) {
		logger.Error().Err(err).Msg("chat error")
		finish()
	}

	client.Handshake(func(sessionKey string) {
		logger.Info().Str("session", sessionKey).Stringer("strategy", client.Strategy()).Msg("handshake")

		client.Connect(func(in *chatIO.Inbound) {
			logger.Info().Str("text", in.Text).Msg("<")
		}, onError)

		client.SendTypingIndicator(true)
		client.SendMessage("hello there", func(in *chatIO.Inbound) {
			if in.IsPartial() {
				return
			}
			logger.Info().Str("text", in.Text).Msg("<")
			finish()
		}, onError)
	}, onError)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("no reply")
	}
}

func sessionStore(cfg chatIO.Config) (chatIO.SessionStore, error) {
	switch {
	case cfg.RedisURL != "":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, _, err := chatIO.OpenRedisSessionStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
		return store, err

	case cfg.SessionFile != "":
		return chatIO.NewFileSessionStore(cfg.SessionFile), nil
	}
	return chatIO.NewMemorySessionStore(), nil
}
