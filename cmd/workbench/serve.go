package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SceneWorkbench/internal/api"
	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/compose"
	"github.com/AaronLay10/SceneWorkbench/internal/config"
	"github.com/AaronLay10/SceneWorkbench/internal/events"
	"github.com/AaronLay10/SceneWorkbench/internal/mqtt"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
	"github.com/AaronLay10/SceneWorkbench/internal/storage/postgres"
	"github.com/AaronLay10/SceneWorkbench/internal/version"
)

const alertInterval = 10 * time.Second

var (
	serveAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the scene canvases over HTTP and websockets",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
	rootCmd.AddCommand(serveCmd)
}

// sessionOptions maps the scene section of the config onto session options.
func sessionOptions(cfg *config.Config, logger *slog.Logger) (scene.Options, error) {
	policy, err := scene.ParseDeletePolicy(cfg.DeletePolicy())
	if err != nil {
		return scene.Options{}, err
	}
	opts := scene.Options{
		Layout:       cfg.LayoutOptions(),
		DeletePolicy: policy,
		Logger:       logger,
	}
	if len(cfg.Scene.Shortcuts) > 0 {
		opts.Shortcuts = scene.DefaultShortcuts()
		for key, action := range cfg.Scene.Shortcuts {
			switch a := scene.Action(action); a {
			case scene.ActionReload, scene.ActionRelayout:
				opts.Shortcuts[key] = a
			default:
				return scene.Options{}, fmt.Errorf("unknown shortcut action %q for %s", action, key)
			}
		}
	}
	return opts, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()
	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "workbench starting", map[string]interface{}{
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	opts, err := sessionOptions(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readiness := api.NewReadiness()

	workspace := cfg.JournalWorkspace()
	if cfg.Journal.Postgres {
		pg, err := postgres.New(workspace)
		if err != nil {
			logger.Warn("journal persistence disabled", "error", err)
			readiness.Add("postgres", true, func() error { return err })
		} else {
			defer pg.Close()
			events.SetStore(pg)
			readiness.Add("postgres", true, func() error {
				pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return pg.Ping(pctx)
			})
		}
	}

	client := mqtt.NewClient(mqtt.BrokerURL(cfg.MQTTURL()), cfg.ClientID(), logger)
	if err := client.Connect(); err != nil {
		// The client keeps retrying in the background.
		logger.Warn("mqtt broker not reachable yet", "error", err)
	}
	defer client.Disconnect()
	readiness.Add("mqtt", false, func() error {
		if !client.IsConnected() {
			return mqtt.ErrNotConnected
		}
		return nil
	})

	repo := compose.NewRepository(cfg.ScenesDir(), logger)
	readiness.Add("scenes_dir", false, func() error {
		_, err := repo.Scenes(context.Background())
		return err
	})
	feed := mqtt.NewFeed(client, cfg.TopicPrefix(), logger)
	commander := mqtt.NewCommander(client, cfg.TopicPrefix())

	var watcher api.Watcher
	if cfg.WatchFiles() {
		watcher = repo
	}

	admin, err := config.AdminCredentials()
	if err != nil {
		return err
	}
	operator, err := config.OperatorCredentials()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.HTTPAddr()
	}
	srv := api.NewServer(api.Options{
		Addr: addr,
		Deps: scene.Deps{
			Authority: authority.NewComposite(repo, commander),
			Feed:      feed,
			Catalog:   repo,
		},
		Session:   opts,
		Logs:      feed,
		LogLines:  cfg.LogLines(),
		Watcher:   watcher,
		Debounce:  cfg.WatchDebounce(),
		Auth:      api.NewAuth(admin, operator),
		TLS:       api.TLSFromEnv(cfg.Network.TLSCert, cfg.Network.TLSKey),
		Readiness: readiness,
		Logger:    logger,
	})

	alerter := api.NewAlerter(workspace, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		alerter.Run(gctx, readiness, alertInterval)
		return nil
	})

	err = g.Wait()
	events.Emit("info", "system.shutdown", "workbench stopping", nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
