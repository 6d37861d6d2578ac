// Command rivulet-bridge-nats forwards NATS subjects into Rivulet
// channels until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/rivulet-io/rivulet"
	"github.com/rivulet-io/rivulet/bridge/natsbridge"
	"github.com/rivulet-io/rivulet/internal/procconfig"
)

// parseMappings parses "subject1=channel1,subject2=channel2" into a map.
func parseMappings(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid mapping %q, want subject=channel", pair)
		}
		out[parts[0]] = parts[1]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no mappings provided")
	}
	return out, nil
}

func main() {
	bootstrap := procconfig.Config{LogLevel: "info", LogFormat: "json"}
	cfg, err := procconfig.Load(bootstrap.Logger())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	cfg.LogConfig(logger)

	natsURL := os.Getenv("RIVULET_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	mappingSpec := os.Getenv("RIVULET_NATS_SUBJECTS")
	if mappingSpec == "" {
		logger.Fatal().Msg("RIVULET_NATS_SUBJECTS is required, e.g. orders.created=orders,orders.paid=orders")
	}
	mappings, err := parseMappings(mappingSpec)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RIVULET_NATS_SUBJECTS")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rivulet.Connect(ctx, cfg.BackendURL, rivulet.WithClientID("rivulet-bridge-nats"), rivulet.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to backend")
	}
	defer client.Close()

	bridge, err := natsbridge.New(natsbridge.Config{
		URL:              natsURL,
		Subjects:         mappings,
		Logger:           logger,
		WriteLockTimeout: cfg.LockTimeout,
	}, client)
	if err != nil {
		logger.Fatal().Err(err).Msg("create nats bridge")
	}
	if err := bridge.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start nats bridge")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	bridge.Stop()
}
