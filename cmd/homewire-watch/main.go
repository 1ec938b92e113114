// Copyright 2026 The HomeWire Authors
// SPDX-License-Identifier: Apache-2.0

// homewire-watch connects to a HomeWire hub and prints matching events
// as JSON lines, one per event, until interrupted. It is the
// operational smoke test for the event channel: it exercises connect,
// authenticate, subscribe, and the automatic reconnect path — unplug
// the hub and the watch resumes on its own.
//
// Usage:
//
//	homewire-watch --url ws://hub.local:8123/api/websocket --event-type state_changed
//	homewire-watch --config watch.yaml --entity light.kitchen
//
// The access token comes from --token, the config file, or the
// HOMEWIRE_TOKEN environment variable, in that order.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/homewire/homewire/channel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "homewire-watch: %v\n", err)
		os.Exit(1)
	}
}

// duration is a YAML-decodable time.Duration accepting the usual
// human-readable forms ("10s", "1m30s").
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig is the YAML config file schema. Flags override file
// values; the file overrides environment fallbacks.
type fileConfig struct {
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access_token"`

	HandshakeTimeout  duration `yaml:"handshake_timeout"`
	HeartbeatInterval duration `yaml:"heartbeat_interval"`

	Reconnect struct {
		BaseInterval duration `yaml:"base_interval"`
		MaxInterval  duration `yaml:"max_interval"`
		MaxAttempts  int      `yaml:"max_attempts"`
	} `yaml:"reconnect"`
}

func loadConfigFile(path string) (fileConfig, error) {
	var config fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

func run() error {
	var (
		configPath string
		url        string
		token      string
		eventType  string
		entity     string
		verbose    bool
	)

	flagSet := pflag.NewFlagSet("homewire-watch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file")
	flagSet.StringVar(&url, "url", "", "hub websocket URL (ws:// or wss://)")
	flagSet.StringVar(&token, "token", "", "access token (default: HOMEWIRE_TOKEN environment variable)")
	flagSet.StringVar(&eventType, "event-type", "state_changed", "event type to subscribe to")
	flagSet.StringVar(&entity, "entity", "", "only events for this entity id")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var file fileConfig
	if configPath != "" {
		loaded, err := loadConfigFile(configPath)
		if err != nil {
			return err
		}
		file = loaded
	}
	if url == "" {
		url = file.URL
	}
	if token == "" {
		token = file.AccessToken
	}
	if token == "" {
		token = os.Getenv("HOMEWIRE_TOKEN")
	}
	if url == "" {
		return fmt.Errorf("a hub URL is required (--url or config file)")
	}
	if token == "" {
		return fmt.Errorf("an access token is required (--token, config file, or HOMEWIRE_TOKEN)")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	session, err := channel.New(channel.Config{
		URL:               url,
		AccessToken:       token,
		HandshakeTimeout:  time.Duration(file.HandshakeTimeout),
		HeartbeatInterval: time.Duration(file.HeartbeatInterval),
		Reconnect: channel.ReconnectPolicy{
			BaseInterval: time.Duration(file.Reconnect.BaseInterval),
			MaxInterval:  time.Duration(file.Reconnect.MaxInterval),
			MaxAttempts:  file.Reconnect.MaxAttempts,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(); err != nil {
		return err
	}
	defer session.Stop()

	if err := session.WaitReady(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	logger.Info("connected", "url", url, "event_type", eventType)

	output := json.NewEncoder(os.Stdout)
	_, err = session.Subscribe(ctx, eventType, entity, func(event channel.Event) {
		line := struct {
			Time      time.Time       `json:"time"`
			EventType string          `json:"event_type"`
			EntityID  string          `json:"entity_id,omitempty"`
			Data      json.RawMessage `json:"data,omitempty"`
		}{time.Now(), event.Type, event.EntityID, event.Data}
		if err := output.Encode(line); err != nil {
			logger.Error("writing event", "error", err)
		}
	}, channel.SubscribeOptions{
		OnClose: func(err error) {
			logger.Error("subscription closed", "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", eventType, err)
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted, closing")
		return nil
	case <-session.Done():
		return session.Err()
	}
}
