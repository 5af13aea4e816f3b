// Command nettest-server runs the measurement engine's server side:
// it accepts RMBT-protocol connections on a plain TCP and/or TLS
// listener, optionally registers itself with a control plane, and
// optionally serves Prometheus metrics, spec.md §6.3.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/config"
	"github.com/nettest-go/engine/controlplane"
	"github.com/nettest-go/engine/metrics"
	"github.com/nettest-go/engine/nettestlog"
	"github.com/nettest-go/engine/rmbtserver"
	"github.com/nettest-go/engine/token"
)

func main() {
	cmd := &cobra.Command{
		Use:   "nettest-server",
		Short: "RMBT-like measurement server",
		RunE:  run,
	}
	v := config.BindServerFlags(cmd.Flags())
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return config.LoadFile(v)
	}
	cmd.SetContext(context.WithValue(context.Background(), ctxViperKey{}, v))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type ctxViperKey struct{}

func run(cmd *cobra.Command, args []string) error {
	v, _ := cmd.Context().Value(ctxViperKey{}).(interface {
		GetString(string) string
		GetInt(string) int
		GetBool(string) bool
		GetStringSlice(string) []string
	})
	if v == nil {
		return fmt.Errorf("nettest-server: missing configuration")
	}

	if err := nettestlog.Configure(nettestlog.Options{Level: v.GetString("log")}); err != nil {
		return fmt.Errorf("nettest-server: configure logging: %w", err)
	}
	log := nettestlog.Logger()

	secretStrs := v.GetStringSlice("secrets")
	if len(secretStrs) == 0 {
		return fmt.Errorf("nettest-server: at least one token secret is required (-e)")
	}
	secrets := make([][]byte, len(secretStrs))
	for i, s := range secretStrs {
		secrets[i] = []byte(s)
	}

	store := chunkstore.Build()
	bounds := rmbtserver.ChunkBounds{Default: 4096, Min: 4096, Max: 4194304}

	reg := metrics.New()
	srv, err := rmbtserver.NewServer(store, secrets, token.DefaultWindow, bounds, v.GetInt("workers"), log, reg.ForRole("server"))
	if err != nil {
		return fmt.Errorf("nettest-server: build server: %w", err)
	}
	srv.Start()
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				if err := nettestlog.Reopen(nettestlog.Options{Level: v.GetString("log")}); err != nil {
					log.Warnf("reopen log: %v", err)
				}
			default:
				_ = srv.Close()
				os.Exit(0)
			}
		}
	}()

	if addr := v.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warnf("metrics server: %v", err)
			}
		}()
	}

	if base := v.GetString("control-base-url"); base != "" {
		cp := controlplane.New(base, "", "nettest-server")
		ctx := context.Background()
		if err := cp.AutoRegister(ctx, controlplane.RegisterRequest{
			Token:   v.GetString("control-token"),
			TCPPort: listenPort(v.GetString("listen")),
			Version: "1.2.0",
		}); err != nil {
			return fmt.Errorf("nettest-server: auto-register: %w", err)
		}
		defer func() { _ = cp.AutoDeregister(context.Background()) }()
	}

	if err := config.WritePIDFile(""); err != nil {
		log.Warnf("write pid file: %v", err)
	}
	defer func() { _ = config.RemovePIDFile("") }()

	errCh := make(chan error, 2)
	ln, err := net.Listen("tcp", v.GetString("listen"))
	if err != nil {
		return fmt.Errorf("nettest-server: listen: %w", err)
	}
	go func() { errCh <- srv.ServeTCP(ln) }()

	if tlsAddr := v.GetString("tls-listen"); tlsAddr != "" {
		tlsCfg, err := loadTLSConfig(v)
		if err != nil {
			return err
		}
		tlsLn, err := net.Listen("tcp", tlsAddr)
		if err != nil {
			return fmt.Errorf("nettest-server: tls listen: %w", err)
		}
		go func() { errCh <- srv.ServeTLS(tlsLn, tlsCfg) }()
	}

	return <-errCh
}

func loadTLSConfig(v interface{ GetString(string) string }) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(v.GetString("cert"), v.GetString("key"))
	if err != nil {
		return nil, fmt.Errorf("nettest-server: load tls keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	return port
}
