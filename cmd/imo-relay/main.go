package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"imo-relay/config"
	"imo-relay/internal/api"
	"imo-relay/internal/collector"
	"imo-relay/internal/metrics"
	"imo-relay/internal/modbus"
	"imo-relay/internal/mqtt"
	"imo-relay/internal/storage"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "imo-relay",
		Short:        "IMO relay bridge",
		Long:         "Control the relays and lights of an IMO Ismart automaton over Modbus RTU and expose them to Home Assistant",
		Version:      versioninfo.Short(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(writeCoilCmd())
	rootCmd.AddCommand(readCoilsCmd())
	rootCmd.AddCommand(portsCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge",
		Long:  "Start the collector, the MQTT bridge and the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, client, device, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			m := metrics.New()

			var (
				store   collector.Store
				history api.HistoryStore
			)
			if cfg.Database.Enabled {
				db, err := storage.NewDatabase(cfg.Database.Path)
				if err != nil {
					return fmt.Errorf("failed to open database: %w", err)
				}
				defer db.Close()
				store, history = db, db
				logger.Info("database opened", zap.String("path", cfg.Database.Path))
			}

			publisher := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:          cfg.MQTT.Broker,
				ClientID:        cfg.MQTT.ClientID,
				Username:        cfg.MQTT.Username,
				Password:        cfg.MQTT.Password,
				BaseTopic:       cfg.MQTT.BaseTopic,
				DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
				Enabled:         cfg.MQTT.Enabled,
				Device:          device,
				Logger:          logger.Named("mqtt"),
			})
			defer publisher.Close()

			coll := collector.NewCollector(collector.CollectorConfig{
				Device:    device,
				Store:     store,
				Publisher: publisher,
				Metrics:   m,
				Interval:  cfg.Poll.Interval,
				Enabled:   cfg.Poll.Enabled,
				Retention: cfg.Database.Retention,
				Logger:    logger.Named("collector"),
			})

			if err := publisher.Connect(coll); err != nil {
				logger.Warn("mqtt connection failed", zap.Error(err))
			} else if cfg.MQTT.Enabled {
				logger.Info("mqtt bridge started", zap.String("broker", cfg.MQTT.Broker))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := coll.Start(ctx); err != nil {
					logger.Error("collector error", zap.Error(err))
				}
			}()

			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:       cfg.API.Port,
					Controller: coll,
					Database:   history,
					Metrics:    m,
					Logger:     logger.Named("api"),
				})

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("api server error", zap.Error(err))
					}
				}()
			}

			logger.Info("imo relay bridge started",
				zap.String("device", device.Name()),
				zap.String("port", cfg.Device.Port),
				zap.Int("entities", len(device.Entities())))

			<-ctx.Done()
			logger.Info("shutting down")

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Stop(shutdownCtx); err != nil {
					logger.Warn("api shutdown", zap.Error(err))
				}
			}
			return nil
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Read every entity once",
		Long:  "Connect to the automaton and print the state of every relay and light",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, client, device, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			snap := device.Refresh()
			output, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(output))

			if !snap.Online {
				return errors.New("device did not answer")
			}
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the automaton",
		Long:  "Open the serial line and read the first relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, client, device, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			fmt.Printf("Testing connection to %s (%d %d%s%d, slave %d)...\n",
				cfg.Device.Port, cfg.Device.BaudRate, cfg.Device.ByteSize,
				cfg.Device.Parity, cfg.Device.StopBits, client.SlaveID())

			if err := device.TestConnection(); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}

			fmt.Println("Connection SUCCESS!")
			fmt.Printf("\nEntities:\n")
			for _, e := range device.Entities() {
				state := "unknown"
				if on := e.IsOn(); on != nil {
					state = "OFF"
					if *on {
						state = "ON"
					}
				}
				fmt.Printf("  %-10s %-20s %s\n", e.ID(), e.Name(), state)
			}
			return nil
		},
	}
}

func writeCoilCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write-coil <address> <on|off>",
		Short: "Write a single coil",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			state, err := mqtt.ParseSwitchPayload([]byte(args[1]))
			if err != nil {
				return err
			}

			_, logger, client, device, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			if err := device.WriteCoil(addr, state); err != nil {
				return err
			}
			fmt.Printf("0x%04X <- %v\n", addr, state)
			return nil
		},
	}
}

func readCoilsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-coils <address> [count]",
		Short: "Read a block of coils",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			count := uint16(modbus.DefaultBulkCount)
			if len(args) == 2 {
				n, err := strconv.ParseUint(args[1], 0, 16)
				if err != nil || n == 0 {
					return fmt.Errorf("invalid count %q", args[1])
				}
				count = uint16(n)
			}

			_, logger, client, device, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer client.Close()

			bits, err := device.ReadBlock(addr, count)
			if err != nil {
				return err
			}
			for i, b := range bits {
				v := 0
				if b {
					v = 1
				}
				fmt.Printf("0x%04X  %d\n", addr+uint16(i), v)
			}
			return nil
		},
	}
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := enumerator.GetDetailedPortsList()
			if err == nil && len(details) > 0 {
				for _, p := range details {
					if p.IsUSB {
						fmt.Printf("%-20s USB %s:%s %s\n", p.Name, p.VID, p.PID, p.SerialNumber)
					} else {
						fmt.Println(p.Name)
					}
				}
				return nil
			}

			ports, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("failed to list serial ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found")
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func parseAddress(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint16(n), nil
}
