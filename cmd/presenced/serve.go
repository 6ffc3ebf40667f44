package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/presenced/internal/adapters/mqttserver"
	embeddedmqtt "github.com/mikey-austin/presenced/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/presenced/internal/modules/metrics"
	presencemod "github.com/mikey-austin/presenced/internal/modules/presence"
	"github.com/mikey-austin/presenced/internal/presenced"
)

const embeddedStartTimeout = 3 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the presence service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), fromContext(cmd).cfg)
		},
	}
}

func runServe(parent context.Context, cfg presenced.Config) error {
	if err := cfg.Validate(); err != nil {
		return presenced.WrapError(presenced.ExitUsage, "invalid config", err)
	}

	logger := presenced.NewLogger(presenced.LogConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cfg.Server.LogOutput,
		UTC:    cfg.Server.LogUTC,
		Color:  cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("presenced starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("client_id", cfg.Server.ClientID),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.Bool("embedded_mqtt", cfg.EmbeddedMQTT.Enabled),
		zap.String("metrics_listen", cfg.Server.MetricsListen),
	)

	modules, err := buildModules(cfg, logger)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		return err
	}

	supervisor := presenced.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		return err
	}
	return nil
}

// normalizeConfig fills defaults and, when the embedded broker is enabled
// and no broker is set, points the service at it.
func normalizeConfig(cfg *presenced.Config) {
	cfg.Normalize()
	if cfg.Server.Broker == "" && cfg.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

func embeddedConfig(cfg presenced.Config) embeddedmqtt.Config {
	return embeddedmqtt.Config{
		Listen:         cfg.EmbeddedMQTT.Listen,
		AllowAnonymous: cfg.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.EmbeddedMQTT.Username,
		Password:       cfg.EmbeddedMQTT.Password,
		TLSCA:          cfg.EmbeddedMQTT.TLSCA,
		TLSCert:        cfg.EmbeddedMQTT.TLSCert,
		TLSKey:         cfg.EmbeddedMQTT.TLSKey,
	}
}

func embeddedBrokerURL(cfg presenced.Config) string {
	embedded := embeddedConfig(cfg)
	listen := embedded.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	return embeddedmqtt.BrokerURL(listen, embedded.TLSEnabled())
}

// buildModules wires the broker, transport and presence service. When the
// embedded broker serves the configured URL the presence service talks to
// it in-process.
func buildModules(cfg presenced.Config, logger *zap.Logger) ([]presenced.ModuleRunner, error) {
	modules := []presenced.ModuleRunner{}

	var transport presencemod.Transport
	waitForEmbedded := false
	if cfg.EmbeddedMQTT.Enabled {
		broker, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
		if err != nil {
			return nil, err
		}
		modules = append(modules, presenced.ModuleRunner{Name: "embedded_mqtt", Run: broker.Run})
		if cfg.Server.Broker == embeddedBrokerURL(cfg) {
			transport = broker.Transport()
		} else {
			waitForEmbedded = true
		}
	}

	presenceLog := logger.With(zap.String("module", "presence"))
	presenceCfg := presencemod.Config{TopicBase: cfg.Server.TopicBase}
	modules = append(modules, presenced.ModuleRunner{
		Name: "presence",
		Run: func(ctx context.Context) error {
			t := transport
			if t == nil {
				if waitForEmbedded {
					if err := embeddedmqtt.WaitForListen(ctx, cfg.EmbeddedMQTT.Listen, embeddedStartTimeout); err != nil {
						return presenced.WrapError(presenced.ExitBroker, "embedded mqtt", err)
					}
				}
				client, err := connect(cfg, logger)
				if err != nil {
					return err
				}
				defer client.Close()
				t = client
			}
			mod, err := presencemod.NewModule(presenceLog, t, presenceCfg)
			if err != nil {
				return err
			}
			return mod.Run(ctx)
		},
	})

	if cfg.Server.MetricsListen != "" {
		m, err := metrics.NewModule(logger.With(zap.String("module", "metrics")), metrics.Config{Listen: cfg.Server.MetricsListen})
		if err != nil {
			return nil, err
		}
		modules = append(modules, presenced.ModuleRunner{Name: "metrics", Run: m.Run})
	}
	return modules, nil
}

func connect(cfg presenced.Config, logger *zap.Logger) (*mqttserver.Client, error) {
	opts := clientOptions(cfg, cfg.Server.ClientID)
	opts.Logger = logger.With(zap.String("component", "mqtt"))

	client, err := mqttserver.NewClient(opts)
	if err != nil {
		return nil, presenced.WrapError(presenced.ExitBroker, "connect "+opts.BrokerURL, err)
	}
	return client, nil
}
