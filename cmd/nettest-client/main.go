// Command nettest-client drives a multi-threaded RMBT-like measurement
// against a server, optionally discovered via the control plane, and
// prints the aggregated throughput, spec.md §6.3.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nettest-go/engine/calc"
	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/config"
	"github.com/nettest-go/engine/controlplane"
	"github.com/nettest-go/engine/nettestlog"
	"github.com/nettest-go/engine/rmbtclient"
	"github.com/nettest-go/engine/transport"
)

func main() {
	cmd := &cobra.Command{
		Use:   "nettest-client",
		Short: "RMBT-like measurement client",
		RunE:  run,
	}
	v := config.BindClientFlags(cmd.Flags())
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
	v, _ := cmd.Context().Value(ctxViperKey{}).(*viper.Viper)
	if v == nil {
		return fmt.Errorf("nettest-client: missing configuration")
	}

	if err := nettestlog.Configure(nettestlog.Options{Level: v.GetString("log")}); err != nil {
		return fmt.Errorf("nettest-client: configure logging: %w", err)
	}
	log := nettestlog.Logger()

	clientUUID, err := config.PersistedClientUUID(v)
	if err != nil {
		log.Warnf("persist client uuid: %v", err)
	}

	host := v.GetString("host")
	port := v.GetInt("port")

	if v.GetBool("guess") {
		controlURL := v.GetString("control-url")
		if controlURL == "" {
			return fmt.Errorf("nettest-client: -g requires -control-url")
		}
		cp := controlplane.New("", controlURL, "nettest-client")
		records, err := cp.Discover(context.Background(), "2.0.0")
		if err != nil {
			return fmt.Errorf("nettest-client: discover: %w", err)
		}
		best, ok := controlplane.ClosestServer(records)
		if !ok {
			return fmt.Errorf("nettest-client: no server discovered")
		}
		host = best.WebAddress
		for _, d := range best.ServerTypeDetails {
			if v.GetBool("tls") && d.PortSsl != 0 {
				port = d.PortSsl
			} else if d.Port != 0 {
				port = d.Port
			}
		}
	}

	kind := transport.KindPlainTCP
	switch {
	case v.GetBool("tls") && v.GetBool("ws"):
		kind = transport.KindWebSocketTLS
	case v.GetBool("tls"):
		kind = transport.KindTLS
	case v.GetBool("ws"):
		kind = transport.KindWebSocketTCP
	}

	var tlsCfg *tls.Config
	if v.GetBool("tls") {
		tlsCfg = &tls.Config{}
	}

	tokenText := v.GetString("token")
	if tokenText == "" {
		return fmt.Errorf("nettest-client: -token is required (normally supplied by the control plane)")
	}

	store := chunkstore.Build()
	threads := v.GetInt("threads")
	if threads <= 0 {
		threads = 1
	}

	co := rmbtclient.Coordinator{
		Addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		Kind:        kind,
		TLSConfig:   tlsCfg,
		ThreadCount: threads,
		Token:       tokenText,
		DialTimeout: 5 * time.Second,
		ConnConfig:  rmbtclient.DefaultConfig(store),
		Logger:      log,
	}

	results := co.Run()

	var downloadSamples, uploadSamples [][]calc.Sample
	var pingMedians []time.Duration
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Warnf("thread %d failed: %v", r.ThreadID, r.Err)
			continue
		}
		downloadSamples = append(downloadSamples, r.DownloadSamples)
		uploadSamples = append(uploadSamples, r.UploadSamples)
		if r.PingMedian > 0 {
			pingMedians = append(pingMedians, r.PingMedian)
		}
	}
	if failed == len(results) {
		return fmt.Errorf("nettest-client: all %d threads failed", failed)
	}
	if failed > 0 {
		fmt.Printf("warning: %d/%d threads failed\n", failed, len(results))
	}

	downRes, err := calc.Throughput(downloadSamples)
	if err != nil {
		log.Warnf("download throughput: %v", err)
	}
	upRes, err := calc.Throughput(uploadSamples)
	if err != nil {
		log.Warnf("upload throughput: %v", err)
	}

	fmt.Printf("download: %.2f Mbps\n", downRes.Mbps)
	fmt.Printf("upload:   %.2f Mbps\n", upRes.Mbps)

	var pingMedian time.Duration
	if len(pingMedians) > 0 {
		pingMedian = pingMedians[0]
		fmt.Printf("ping:     %s\n", pingMedian)
	}

	if v.GetBool("raw") {
		for i, r := range results {
			fmt.Printf("thread %d: down=%d samples up=%d samples err=%v\n", i, len(r.DownloadSamples), len(r.UploadSamples), r.Err)
		}
	}

	if controlURL := v.GetString("control-url"); controlURL != "" && clientUUID != "" {
		cp := controlplane.New(controlURL, "", "nettest-client")
		saveErr := cp.SaveResult(context.Background(), controlplane.SavedResult{
			OpenTestUUID:  clientUUID,
			ClientUUID:    clientUUID,
			SpeedDownload: int64(downRes.Mbps * 100),
			SpeedUpload:   int64(upRes.Mbps * 100),
			PingMedian:    int64(pingMedian),
			Time:          time.Now().Unix(),
			ClientVersion: "1.2.0",
			ThreadsNumber: threads,
		})
		if saveErr != nil {
			log.Warnf("save result: %v", saveErr)
		}
	}

	return nil
}
