package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocalize-labs/vocalize-go/internal/analyzer"
	"github.com/vocalize-labs/vocalize-go/internal/avatar"
	"github.com/vocalize-labs/vocalize-go/internal/bus"
	"github.com/vocalize-labs/vocalize-go/internal/config"
	"github.com/vocalize-labs/vocalize-go/internal/logging"
	"github.com/vocalize-labs/vocalize-go/internal/room"
	"github.com/vocalize-labs/vocalize-go/internal/session"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vocalize",
		Short:         "Voice assistant client driving an animated avatar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newConnectCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vocalize", version)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(config.DefaultConfig()); err != nil {
				return err
			}
			dir, _ := config.Dir()
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", dir+"/config.yaml")
			return nil
		},
	})
	return cmd
}

func newConnectCmd() *cobra.Command {
	var (
		name     string
		persona  string
		business string
		asset    string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a room and run the session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if name != "" {
				cfg.User.Name = name
			}
			if persona != "" {
				cfg.User.Persona = persona
			}
			if business != "" {
				cfg.User.BusinessContext = business
			}
			if asset != "" {
				cfg.Avatar.Asset = asset
			}
			return runSession(cfg)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "participant name")
	cmd.Flags().StringVar(&persona, "persona", "", "agent persona")
	cmd.Flags().StringVar(&business, "business", "", "business context for the agent")
	cmd.Flags().StringVar(&asset, "avatar", "", "avatar asset name")
	return cmd
}

func runSession(cfg *config.Config) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Logging.Level)
	logCfg.Console = cfg.Logging.Console
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	eventBus := bus.NewEventBus()
	subscribeConsole(eventBus)

	registry := avatar.NewRegistry(logger.Component("registry"))
	if cfg.Avatar.AssetDir != "" {
		if err := registry.LoadDir(cfg.Avatar.AssetDir); err != nil {
			logger.Component("registry").Warn().Err(err).Msg("Asset directory unavailable")
		}
	}
	rigAsset, ok := registry.Get(cfg.Avatar.Asset)
	if !ok {
		rigAsset = avatar.DefaultAsset(cfg.Avatar.Asset)
	}

	driverCfg := avatar.DefaultDriverConfig()
	driverCfg.FrameRate = cfg.Avatar.FrameRate
	if cfg.Avatar.BlinkMinGap > 0 {
		driverCfg.BlinkMinGap = cfg.Avatar.BlinkMinGap
	}
	if cfg.Avatar.BlinkMaxGap > 0 {
		driverCfg.BlinkMaxGap = cfg.Avatar.BlinkMaxGap
	}
	rig := newHeadlessRig(rigAsset, logger.Component("rig"))
	driver := avatar.NewDriver(rig, driverCfg, logger.Component("avatar"))

	an := analyzer.New(analyzer.Config{
		SampleRate: cfg.Audio.SampleRate,
		FFTSize:    cfg.Audio.FFTSize,
		Interval:   cfg.Audio.Interval,
		LowHz:      cfg.Audio.LowHz,
		MidHz:      cfg.Audio.MidHz,
		HighHz:     cfg.Audio.HighHz,
	}, logger.Component("audio"))

	mgr := session.New(session.Options{
		Issuer:       buildIssuer(cfg),
		NewTransport: transportFactory(cfg, logger),
		Analyzer:     an,
		Driver:       driver,
		Bus:          eventBus,
		Info: room.ConnectInfo{
			ParticipantName: cfg.User.Name,
			Persona:         cfg.User.Persona,
			BusinessContext: cfg.User.BusinessContext,
		},
		Log: logger.Component("session"),
	})
	defer mgr.Close()

	config.Watch(func(fresh *config.Config) {
		logger.Component("config").Info().Msg("Configuration reloaded, applies to next connect")
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Room.Timeout)
	err = mgr.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	return nil
}

// buildIssuer prefers the remote issuing service; a locally configured
// API key pair falls back to dev-mode token minting.
func buildIssuer(cfg *config.Config) room.Issuer {
	if cfg.Room.TokenEndpoint != "" {
		return room.NewHTTPIssuer(cfg.Room.TokenEndpoint)
	}
	return &room.LocalIssuer{
		APIKey:    cfg.Room.APIKey,
		APISecret: cfg.Room.APISecret,
		ServerURL: cfg.Room.ServerURL,
		RoomName:  cfg.Room.RoomName,
		TokenTTL:  time.Hour,
	}
}

func transportFactory(cfg *config.Config, logger *logging.Logger) func() room.Transport {
	if cfg.Room.Transport == "wsbridge" {
		return func() room.Transport { return room.NewWSBridge(logger.Component("room")) }
	}
	return func() room.Transport { return room.NewLiveKit(logger.Component("room")) }
}

// subscribeConsole renders session events on stdout so the client is
// usable without the desktop shell.
func subscribeConsole(b *bus.EventBus) {
	b.Subscribe(bus.EventTypeStatusChanged, func(e bus.Event) {
		fmt.Printf("-- %v\n", e.Data["status"])
	})
	b.Subscribe(bus.EventTypeTurnFinalized, func(e bus.Event) {
		fmt.Printf("%v: %v\n", e.Data["speaker"], e.Data["text"])
	})
	b.Subscribe(bus.EventTypeSourcesUpdated, func(e bus.Event) {
		if n, ok := e.Data["count"].(int); ok && n > 0 {
			fmt.Printf("-- %d sources\n", n)
		}
	})
	b.Subscribe(bus.EventTypeEmailPopup, func(e bus.Event) {
		if v, ok := e.Data["visible"].(bool); ok && v {
			fmt.Println("-- agent requested an email address")
		}
	})
}
