// whad drives WHAD-compatible radio dongles from the host: device
// discovery, BLE scanning, man-in-the-middle pipes between two dongles,
// and a long-running service exposing the status API.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whad-go/whad/pkg/api/rest"
	"github.com/whad-go/whad/pkg/api/ws"
	"github.com/whad-go/whad/pkg/ble"
	"github.com/whad-go/whad/pkg/config"
	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/host"
	"github.com/whad-go/whad/pkg/logger"
	"github.com/whad-go/whad/pkg/message"
)

var (
	version = "1.0.0"

	cfgFile string
	iface   string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "whad",
		Short: "WHAD host - drive wireless dongles over a unified protocol",
		Long: `whad opens WHAD-compatible radio dongles over serial or unix-socket
transports, discovers their capabilities, and drives protocol stacks
(BLE, 802.15.4, Zigbee, ESB, ...) entirely on the host.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&iface, "interface", "i", "", "configured device name to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(infoCmd(), scanCmd(), pipeCmd(), serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*logger.Logger, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	}
	if verbose {
		logCfg.Level = "debug"
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)
	return log, cfg, nil
}

// singleDeviceConfig trims cfg down to just the device named by the
// --interface flag, with pipes and monitors removed.
func singleDeviceConfig(cfg *config.Config) (*config.Config, error) {
	if iface == "" {
		return nil, fmt.Errorf("--interface is required")
	}
	for _, dc := range cfg.Devices {
		if dc.Name == iface {
			trimmed := *cfg
			trimmed.Devices = []config.DeviceConfig{dc}
			trimmed.Pipes = nil
			trimmed.Monitors = nil
			return &trimmed, nil
		}
	}
	return nil, fmt.Errorf("no configured device named %q", iface)
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Open a device and print its discovered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup()
			if err != nil {
				return err
			}
			cfg, err = singleDeviceConfig(cfg)
			if err != nil {
				return err
			}

			h := host.New(log, cfg)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.Start(ctx); err != nil {
				return err
			}
			defer h.Stop()

			dev, err := h.Device(iface)
			if err != nil {
				return err
			}
			info := dev.Info()
			if info == nil {
				return fmt.Errorf("device %s reported no info", iface)
			}

			fmt.Printf("Device:        %s\n", iface)
			fmt.Printf("Firmware:      %s %d.%d.%d\n", info.FirmwareInfo.Author,
				info.FirmwareInfo.VersionMajor, info.FirmwareInfo.VersionMinor, info.FirmwareInfo.VersionRev)
			fmt.Printf("URL:           %s\n", info.FirmwareInfo.URL)
			fmt.Printf("Device ID:     %s\n", hex.EncodeToString(info.DeviceID[:]))
			fmt.Printf("Max speed:     %d\n", info.MaxSpeed)
			fmt.Printf("Domains:\n")
			for _, d := range info.Domains() {
				caps, _ := info.DomainCapabilities(d)
				cmds, _ := info.DomainCommands(d)
				fmt.Printf("  %#08x  capabilities=%#06x commands=%#08x\n", uint32(d), caps, cmds)
			}
			return nil
		},
	}
}

func scanCmd() *cobra.Command {
	var active bool
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE advertisers",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup()
			if err != nil {
				return err
			}
			cfg, err = singleDeviceConfig(cfg)
			if err != nil {
				return err
			}

			h := host.New(log, cfg)
			ctx := context.Background()
			if err := h.Start(ctx); err != nil {
				return err
			}
			defer h.Stop()

			dev, err := h.Device(iface)
			if err != nil {
				return err
			}
			base, err := connector.NewBase(dev, message.DomainBLE, connector.RoleCentral)
			if err != nil {
				return err
			}

			stack := ble.NewStack(base, [6]byte{}, ble.AddrPublic, 0)
			stack.OnScanResult = func(addr [6]byte, addrType byte, advData []byte) {
				kind := "public"
				if addrType != 0 {
					kind = "random"
				}
				fmt.Printf("%02x:%02x:%02x:%02x:%02x:%02x (%s)  adv=%s\n",
					addr[5], addr[4], addr[3], addr[2], addr[1], addr[0], kind, hex.EncodeToString(advData))
			}

			central := connector.NewCentral(base)
			if err := central.StartScan(ctx, active); err != nil {
				return err
			}

			log.Info("scanning", "active", active, "duration", duration)
			select {
			case <-time.After(duration):
			case <-interrupted():
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "perform an active scan")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "how long to scan")
	return cmd
}

func pipeCmd() *cobra.Command {
	var input, output, domain string
	var rawPDU bool

	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Bridge traffic between two configured devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup()
			if err != nil {
				return err
			}

			trimmed := *cfg
			trimmed.Pipes = []config.PipeConfig{{
				Name:   "cli",
				Input:  input,
				Output: output,
				Domain: domain,
				RawPDU: rawPDU,
			}}
			trimmed.Monitors = nil

			h := host.New(log, &trimmed)
			if err := h.Start(context.Background()); err != nil {
				return err
			}
			defer h.Stop()

			log.Info("pipe running", "input", input, "output", output, "domain", domain)
			<-interrupted()
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input device name")
	cmd.Flags().StringVar(&output, "output", "", "output device name")
	cmd.Flags().StringVar(&domain, "domain", "ble", "protocol domain to bridge")
	cmd.Flags().BoolVar(&rawPDU, "raw", false, "force raw PDU mode")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configured devices, pipes, monitors and status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup()
			if err != nil {
				return err
			}

			h := host.New(log, cfg)
			if err := h.Start(context.Background()); err != nil {
				return err
			}
			defer h.Stop()

			var apiSrv *rest.Server
			if cfg.API.Enabled {
				feed := ws.NewServer(log)
				h.AttachPacketSink(feed)
				apiSrv = rest.NewServer(log, h, cfg.API, feed)
				if err := apiSrv.Start(); err != nil {
					return err
				}
			}

			<-interrupted()
			log.Info("shutting down")
			if apiSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = apiSrv.Stop(ctx)
			}
			return nil
		},
	}
}

func interrupted() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
