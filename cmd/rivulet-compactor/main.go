// Command rivulet-compactor runs Client.Compact on a fixed interval
// against a configured channel list, so deployments that want
// deterministic GC independent of read traffic don't have to build their
// own scheduler around the library.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/rivulet-io/rivulet"
	"github.com/rivulet-io/rivulet/internal/procconfig"
)

func splitChannels(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func main() {
	var (
		channels = flag.String("channels", "", "comma-separated channel ids to compact")
		interval = flag.Duration("interval", time.Minute, "how often to run a compaction pass")
		debug    = flag.Bool("debug", false, "enable debug logging (overrides RIVULET_LOG_LEVEL)")
	)
	flag.Parse()

	startupLog := log.New(os.Stdout, "[rivulet-compactor] ", log.LstdFlags)

	bootstrap := procconfig.Config{LogLevel: "info", LogFormat: "json"}
	cfg, err := procconfig.Load(bootstrap.Logger())
	if err != nil {
		startupLog.Fatalf("load config: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger := cfg.Logger()
	cfg.LogConfig(logger)

	chans := splitChannels(*channels)
	if len(chans) == 0 {
		logger.Fatal().Msg("-channels is required (comma-separated)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rivulet.Connect(ctx, cfg.BackendURL, rivulet.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect")
	}
	defer client.Close()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info().Strs("channels", chans).Dur("interval", *interval).Msg("compactor running")

	for {
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
			return
		case <-ticker.C:
			report, err := client.Compact(ctx, chans, cfg.LockTimeout)
			if err != nil {
				logger.Error().Err(err).Msg("compact pass failed")
				continue
			}
			var total int64
			for ch, n := range report {
				if n > 0 {
					logger.Debug().Str("channel", ch).Int64("removed", n).Msg("compacted")
				}
				total += n
			}
			logger.Info().Int64("removed_total", total).Msg("compaction pass complete")
		}
	}
}
