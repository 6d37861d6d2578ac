// Command rivulet-bridge-kafka forwards Kafka (or Redpanda) topics into
// Rivulet channels until signalled to stop.
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
	"github.com/rivulet-io/rivulet/bridge/kafkabridge"
	"github.com/rivulet-io/rivulet/internal/procconfig"
)

func parseMappings(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid mapping %q, want topic=channel", pair)
		}
		out[parts[0]] = parts[1]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no mappings provided")
	}
	return out, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
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

	brokers := splitBrokers(os.Getenv("RIVULET_KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	group := os.Getenv("RIVULET_KAFKA_CONSUMER_GROUP")
	if group == "" {
		group = "rivulet-bridge"
	}
	mappingSpec := os.Getenv("RIVULET_KAFKA_TOPICS")
	if mappingSpec == "" {
		logger.Fatal().Msg("RIVULET_KAFKA_TOPICS is required, e.g. orders.created=orders,orders.paid=orders")
	}
	mappings, err := parseMappings(mappingSpec)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RIVULET_KAFKA_TOPICS")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rivulet.Connect(ctx, cfg.BackendURL, rivulet.WithClientID("rivulet-bridge-kafka"), rivulet.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to backend")
	}
	defer client.Close()

	bridge, err := kafkabridge.New(kafkabridge.Config{
		Brokers:          brokers,
		ConsumerGroup:    group,
		Topics:           mappings,
		Logger:           logger,
		WriteLockTimeout: cfg.LockTimeout,
	}, client)
	if err != nil {
		logger.Fatal().Err(err).Msg("create kafka bridge")
	}
	bridge.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	bridge.Stop()
}
