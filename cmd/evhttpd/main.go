// Command evhttpd serves a JSON echo endpoint on top of the event layer,
// or fetches one URL with -fetch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"event-http/application/config"
	"event-http/application/http/engine"
	"event-http/application/util/domain"

	"github.com/benbjohnson/clock"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "evhttpd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "configuration file (.json, .toml or .yaml)")
	fetch := flag.String("fetch", "", "fetch this URL, print the body and exit")
	flag.Parse()

	opts := config.Default()
	if *configPath != "" {
		var err error
		if opts, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	logger, err := opts.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}

	clk := clock.New()
	resolver, err := newResolver(opts.DNS, clk, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := engine.NewBase(logger, clk)
	if *fetch != "" {
		return runFetch(ctx, base, resolver, opts, *fetch)
	}
	return runServer(ctx, base, opts)
}

func newResolver(opts config.DNSOptions, clk clock.Clock, logger *slog.Logger) (domain.Lookuper, error) {
	if opts.System {
		return domain.SystemLookuper{}, nil
	}
	return domain.NewDNSLookuper(domain.DNSOptions{
		Servers:     opts.Servers,
		Network:     opts.Network,
		Timeout:     opts.Timeout.Std(),
		MinTTL:      opts.MinTTL.Std(),
		DisableIPv6: opts.DisableIPv6,
	}, clk, logger.With(slog.String("component", "dns")))
}
