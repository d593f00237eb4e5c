// Package main provides an example client: it opens a transport, issues a
// single MSP request, prints the decoded response, and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skywing-dev/msplink/dispatcher"
	"github.com/skywing-dev/msplink/internal/config"
	"github.com/skywing-dev/msplink/internal/logging"
	"github.com/skywing-dev/msplink/internal/metrics"
	"github.com/skywing-dev/msplink/internal/transport"
	"github.com/skywing-dev/msplink/msp"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/mspcli.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")

	transportKind := flag.String("transport", "", "Transport kind (serial, tcp)")
	serialPort := flag.String("serial-port", "", "Serial port path")
	serialBaud := flag.Int("serial-baud", 0, "Serial baud rate")
	tcpHost := flag.String("tcp-host", "", "TCP host")
	tcpPort := flag.Int("tcp-port", 0, "TCP port")

	cmd := flag.Uint("cmd", 100, "MSP command code to request")

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("mspcli v%s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logging.L().Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	applyOverrides(cfg, transportKind, serialPort, serialBaud, tcpHost, tcpPort)

	if err := cfg.Validate(); err != nil {
		logging.L().Error("config_invalid", "error", err)
		os.Exit(1)
	}

	logging.Set(logging.New(logging.ParseLevel(cfg.LogLevel), os.Stderr))

	if cfg.MetricsAddr != "" {
		srv := metrics.StartHTTP(cfg.MetricsAddr)
		defer srv.Close()
	}

	t, err := openTransport(cfg)
	if err != nil {
		logging.L().Error("transport_open_failed", "error", err)
		os.Exit(1)
	}
	if err := t.Open(); err != nil {
		logging.L().Error("transport_open_failed", "error", err)
		os.Exit(1)
	}

	mspVersion := msp.V2
	if cfg.MSP.Version == "v1" {
		mspVersion = msp.V1
	}

	handle, d := dispatcher.New(t, mspVersion, cfg.MSP.DefaultTimeout, dispatcher.WithObserver(metrics.Observer{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reqCtx, reqCancel := context.WithTimeout(ctx, cfg.MSP.DefaultTimeout+time.Second)
	defer reqCancel()

	req := msp.Frame{Command: uint16(*cmd), Direction: msp.Request}
	logging.L().Info("request_sent", "command", req.Command)

	resp, reqErr := handle.Request(reqCtx, req)
	if reqErr != nil {
		logging.L().Error("request_failed", "error", reqErr)
	} else {
		logging.L().Info("response_received",
			"command", resp.Command,
			"direction", resp.Direction.String(),
			"payload_len", len(resp.Payload))
		fmt.Printf("cmd=%d dir=%s payload=% x\n", resp.Command, resp.Direction, resp.Payload)
	}

	handle.Close()
	cancel()

	select {
	case <-runDone:
	case <-sigCh:
	case <-time.After(2 * time.Second):
	}

	if reqErr != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func applyOverrides(cfg *config.Config, transportKind, serialPort *string, serialBaud *int, tcpHost *string, tcpPort *int) {
	if *transportKind != "" {
		cfg.Transport.Kind = *transportKind
	}
	if *serialPort != "" {
		cfg.Transport.Serial.Port = *serialPort
	}
	if *serialBaud != 0 {
		cfg.Transport.Serial.Baud = *serialBaud
	}
	if *tcpHost != "" {
		cfg.Transport.TCP.Host = *tcpHost
	}
	if *tcpPort != 0 {
		cfg.Transport.TCP.Port = *tcpPort
	}
}

func openTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "serial":
		return transport.NewSerialTransport(cfg.Transport.Serial.Port, cfg.Transport.Serial.Baud), nil
	case "tcp":
		return transport.NewTCPTransport(cfg.Transport.TCP.Host, cfg.Transport.TCP.Port), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}
