// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	resolver "github.com/arlofresh/dnsresolve"
	"github.com/arlofresh/dnsresolve/registry"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "dnsproxyd.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("dnsproxyd: logger: %w", err)
	}
	defer logger.Sync()

	client, err := buildClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("dnsproxyd: build client: %w", err)
	}
	defer client.Close()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", forwardingHandler(client, logger))

	server := &dns.Server{Addr: cfg.Listen, Net: "udp", Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("transport", cfg.Transport))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dnsproxyd: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.ShutdownContext(shutdownCtx)
	}
}

// forwardingHandler builds a dns.Handler that forwards every incoming
// query to client and writes back whatever the upstream transport
// returns, including non-success RCODEs: a proxy must hand the caller
// the server's own answer, not an opinion about it, so the client used
// here always carries ThrowOnErrorStatus=false regardless of the
// configured resolver.Options (see buildClient).
func forwardingHandler(client *resolver.Client, logger *zap.Logger) dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		defer w.Close()

		if len(req.Question) == 0 {
			dns.HandleFailed(w, req)
			return
		}
		q := req.Question[0]

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := client.Query(ctx, q.Name, q.Qtype)
		if err != nil {
			logger.Warn("upstream query failed",
				zap.String("name", q.Name), zap.Error(err))
			reply := new(dns.Msg)
			reply.SetRcode(req, dns.RcodeServerFailure)
			w.WriteMsg(reply)
			return
		}

		reply := new(dns.Msg)
		reply.SetReply(req)
		reply.Rcode = resp.Status
		reply.Truncated = resp.Truncated
		reply.Answer = resp.Answers
		reply.Ns = resp.Authority
		reply.Extra = resp.Additional
		w.WriteMsg(reply)
	}
}

// buildClient constructs the resolver.Client the proxy forwards to,
// per cfg.Transport. It forces ThrowOnErrorStatus off: the facade's
// default exists for library callers that want Go errors on NXDOMAIN,
// but a forwarding proxy must relay the upstream's RCODE untouched.
func buildClient(cfg *Config, logger *zap.Logger) (*resolver.Client, error) {
	opts := resolver.DefaultOptions()
	opts.UDPTimeout = durationOrDefault(cfg.UDPTimeoutMS, opts.UDPTimeout)
	opts.TCPTimeout = durationOrDefault(cfg.TCPTimeoutMS, opts.TCPTimeout)
	opts.Timeout = durationOrDefault(cfg.TimeoutMS, opts.Timeout)
	if cfg.BlockLength > 0 {
		opts.BlockLength = cfg.BlockLength
	}
	opts.ThrowOnErrorStatus = false
	opts.Logger = logger

	switch cfg.Transport {
	case "do53":
		servers, err := plainEndpointsFromStrings(cfg.Servers)
		if err != nil {
			return nil, err
		}
		if len(servers) > 0 {
			opts.Do53Servers = servers
		}
		return resolver.NewDo53(opts), nil

	case "dot":
		servers, err := dotEndpointsFromStrings(cfg.Servers)
		if err != nil {
			return nil, err
		}
		if len(servers) > 0 {
			opts.DotServers = servers
		}
		return resolver.NewDot(opts), nil

	case "doh":
		if len(cfg.Servers) > 0 {
			opts.DohServer = registry.NewDohEndpoint(cfg.Servers[0])
		}
		return resolver.NewDoh(opts), nil

	default:
		return nil, fmt.Errorf("dnsproxyd: unsupported transport %q", cfg.Transport)
	}
}

// dotEndpointsFromStrings parses "hostname@ip[:port]" server entries,
// e.g. "cloudflare-dns.com@1.1.1.1:853". Pins are not configurable from
// the YAML surface; operators who need pinning use the built-in
// registry defaults instead.
func dotEndpointsFromStrings(servers []string) ([]registry.DotEndpoint, error) {
	out := make([]registry.DotEndpoint, 0, len(servers))
	for _, s := range servers {
		hostname, hostport, ok := strings.Cut(s, "@")
		if !ok {
			return nil, fmt.Errorf("dnsproxyd: config: invalid dot server %q, want hostname@ip[:port]", s)
		}
		addrStr, portStr, ok := strings.Cut(hostport, ":")
		port := uint16(853)
		if ok {
			p, err := parsePort(portStr)
			if err != nil {
				return nil, fmt.Errorf("dnsproxyd: config: invalid dot server %q: %w", s, err)
			}
			port = p
		} else {
			addrStr = hostport
		}
		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("dnsproxyd: config: invalid dot server %q: %w", s, err)
		}
		out = append(out, registry.NewDotEndpoint(addr, hostname, port, nil))
	}
	return out, nil
}

func parsePort(s string) (uint16, error) {
	var port uint16
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, err
	}
	return port, nil
}

// newLogger builds a zap.Logger from a textual level, constructor-
// injected rather than stashed in a package global: every component
// downstream (the resolver Client, its transport engines) takes its
// logger as a constructor argument, never reaching for a shared
// mutable global.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
