// Command rivulet-cli is a thin operator tool for poking at a Rivulet
// backend directly: subscribe, write, read, unsubscribe, and compact, one
// subcommand at a time. It exists for debugging and scripting, not as a
// long-running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/rivulet-io/rivulet"
	"github.com/rivulet-io/rivulet/internal/procconfig"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: rivulet-cli <command> [args]

commands:
  subscribe   <client-id> <channel> [earliest|current|latest]
  unsubscribe <client-id> <channel>
  write       <client-id> <channel> <data>
  read        <client-id> [limit]
  compact     <channel>
  subs        <client-id>`)
	os.Exit(2)
}

func parsePolicy(s string) rivulet.IndexPolicy {
	switch strings.ToLower(s) {
	case "earliest":
		return rivulet.EARLIEST
	case "latest":
		return rivulet.LATEST
	default:
		return rivulet.CURRENT
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	bootstrap := procconfig.Config{LogLevel: "info", LogFormat: "console"}
	cfg, err := procconfig.Load(bootstrap.Logger())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "subscribe":
		if len(rest) < 2 {
			usage()
		}
		clientID, ch := rest[0], rest[1]
		policy := rivulet.CURRENT
		if len(rest) > 2 {
			policy = parsePolicy(rest[2])
		}
		client := mustConnect(ctx, cfg.BackendURL, logger, clientID)
		defer client.Close()
		if err := client.Subscribe(ctx, []string{ch}, policy, cfg.LockTimeout); err != nil {
			fail(err)
		}
		fmt.Println("subscribed")

	case "unsubscribe":
		if len(rest) < 2 {
			usage()
		}
		clientID, ch := rest[0], rest[1]
		client := mustConnect(ctx, cfg.BackendURL, logger, clientID)
		defer client.Close()
		if err := client.Unsubscribe(ctx, []string{ch}); err != nil {
			fail(err)
		}
		fmt.Println("unsubscribed")

	case "write":
		if len(rest) < 3 {
			usage()
		}
		clientID, ch, data := rest[0], rest[1], rest[2]
		client := mustConnect(ctx, cfg.BackendURL, logger, clientID)
		defer client.Close()
		id, err := client.Write(ctx, ch, data, cfg.LockTimeout)
		if err != nil {
			fail(err)
		}
		fmt.Println("wrote id", id)

	case "read":
		if len(rest) < 1 {
			usage()
		}
		clientID := rest[0]
		limit := 0
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err == nil {
				limit = n
			}
		}
		client := mustConnect(ctx, cfg.BackendURL, logger, clientID)
		defer client.Close()
		out, err := client.Read(ctx, limit)
		if err != nil {
			fail(err)
		}
		for ch, envs := range out {
			for _, e := range envs {
				fmt.Printf("%s\t%d\t%s\t%s\n", ch, e.ID, e.Src, e.Data)
			}
		}

	case "compact":
		if len(rest) < 1 {
			usage()
		}
		client := mustConnect(ctx, cfg.BackendURL, logger, "rivulet-cli-compact")
		defer client.Close()
		report, err := client.Compact(ctx, rest, cfg.LockTimeout)
		if err != nil {
			fail(err)
		}
		for ch, n := range report {
			fmt.Printf("%s\t%d removed\n", ch, n)
		}

	case "subs":
		if len(rest) < 1 {
			usage()
		}
		client := mustConnect(ctx, cfg.BackendURL, logger, rest[0])
		defer client.Close()
		subs, err := client.Subscriptions(ctx)
		if err != nil {
			fail(err)
		}
		for _, s := range subs {
			fmt.Println(s)
		}

	default:
		usage()
	}
}

func mustConnect(ctx context.Context, url string, logger zerolog.Logger, clientID string) *rivulet.Client {
	client, err := rivulet.Connect(ctx, url, rivulet.WithClientID(clientID), rivulet.WithLogger(logger))
	if err != nil {
		fail(err)
	}
	return client
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
