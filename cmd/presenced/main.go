package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/presenced/internal/adapters/mqttserver"
	"github.com/mikey-austin/presenced/internal/adapters/output"
	"github.com/mikey-austin/presenced/internal/presenced"
)

type overrides struct {
	broker    string
	clientID  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logUTC    bool
	logColor  bool
	debug     bool
	user      string
	pass      string
	tlsCA     string
	tlsCert   string
	tlsKey    string
	timeout   time.Duration
}

type app struct {
	cfg     presenced.Config
	printer output.Printer
}

type appKey struct{}

func main() {
	root := rootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(presenced.ExitCode(err))
	}
}

func rootCommand() *cobra.Command {
	var (
		configPath string
		jsonOut    bool
		flags      overrides
	)

	root := &cobra.Command{
		Use:          "presenced",
		Short:        "Space presence service over MQTT",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file path")
	pf.StringVarP(&flags.broker, "broker", "b", "", "MQTT broker URL")
	pf.StringVar(&flags.clientID, "client-id", "", "MQTT client id")
	pf.StringVar(&flags.topicBase, "topic-base", "", "presence topic base")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format (text|json)")
	pf.StringVar(&flags.logOutput, "log-output", "", "log output (stdout|stderr)")
	pf.BoolVar(&flags.logUTC, "log-utc", false, "use UTC timestamps in logs")
	pf.BoolVar(&flags.logColor, "log-color", false, "enable colored log levels (text only)")
	pf.BoolVar(&flags.debug, "debug", false, "log every MQTT message")
	pf.StringVar(&flags.user, "user", "", "MQTT username")
	pf.StringVar(&flags.pass, "pass", "", "MQTT password")
	pf.StringVar(&flags.tlsCA, "tls-ca", "", "TLS CA path")
	pf.StringVar(&flags.tlsCert, "tls-cert", "", "TLS cert path")
	pf.StringVar(&flags.tlsKey, "tls-key", "", "TLS key path")
	pf.DurationVarP(&flags.timeout, "timeout", "t", 0, "broker operation timeout")
	pf.BoolVarP(&jsonOut, "json", "j", false, "output json")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return presenced.WrapError(presenced.ExitUsage, "load config", err)
		}
		cfg.ApplyEnv(os.LookupEnv)
		applyOverrides(&cfg, flags)
		normalizeConfig(&cfg)

		var printer output.Printer = output.HumanPrinter{}
		if jsonOut {
			printer = output.JSONPrinter{}
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{cfg: cfg, printer: printer}))
		return nil
	}
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), fromContext(cmd).cfg)
	}

	root.AddCommand(serveCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(arriveCommand())
	root.AddCommand(departCommand())
	root.AddCommand(setStatusCommand())
	root.AddCommand(printConfigCommand())
	return root
}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

// loadConfig reads an explicit path strictly and the default path only if
// it exists.
func loadConfig(path string) (presenced.Config, error) {
	if path != "" {
		return presenced.LoadConfig(path, false)
	}
	defaultPath, err := presenced.DefaultConfigPath()
	if err != nil {
		return presenced.DefaultConfig(), nil
	}
	return presenced.LoadConfig(defaultPath, true)
}

func applyOverrides(cfg *presenced.Config, flags overrides) {
	if flags.broker != "" {
		cfg.Server.Broker = flags.broker
	}
	if flags.clientID != "" {
		cfg.Server.ClientID = flags.clientID
	}
	if flags.topicBase != "" {
		cfg.Server.TopicBase = flags.topicBase
	}
	if flags.logLevel != "" {
		cfg.Server.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Server.LogFormat = flags.logFormat
	}
	if flags.logOutput != "" {
		cfg.Server.LogOutput = flags.logOutput
	}
	if flags.logUTC {
		cfg.Server.LogUTC = true
	}
	if flags.logColor {
		cfg.Server.LogColor = true
	}
	if flags.debug {
		cfg.Server.Debug = true
	}
	if flags.user != "" {
		cfg.Server.Auth.User = flags.user
		cfg.Server.Auth.Pass = flags.pass
	}
	if flags.tlsCA != "" {
		cfg.Server.TLS.CA = flags.tlsCA
	}
	if flags.tlsCert != "" {
		cfg.Server.TLS.Cert = flags.tlsCert
	}
	if flags.tlsKey != "" {
		cfg.Server.TLS.Key = flags.tlsKey
	}
	if flags.timeout > 0 {
		cfg.Server.TimeoutMS = flags.timeout.Milliseconds()
	}
}

func clientOptions(cfg presenced.Config, clientID string) mqttserver.Options {
	return mqttserver.Options{
		BrokerURL: cfg.Server.Broker,
		ClientID:  clientID,
		Username:  cfg.Server.Auth.User,
		Password:  cfg.Server.Auth.Pass,
		TLSCA:     cfg.Server.TLS.CA,
		TLSCert:   cfg.Server.TLS.Cert,
		TLSKey:    cfg.Server.TLS.Key,
		Timeout:   time.Duration(cfg.Server.TimeoutMS) * time.Millisecond,
		Debug:     cfg.Server.Debug,
	}
}

func printConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := fromContext(cmd).cfg
			_, err := fmt.Fprintf(cmd.OutOrStdout(),
				"broker=%s client_id=%s topic_base=%s log_level=%s log_format=%s log_output=%s metrics_listen=%s embedded_mqtt=%t\n",
				cfg.Server.Broker,
				cfg.Server.ClientID,
				cfg.Server.TopicBase,
				cfg.Server.LogLevel,
				cfg.Server.LogFormat,
				cfg.Server.LogOutput,
				cfg.Server.MetricsListen,
				cfg.EmbeddedMQTT.Enabled,
			)
			return err
		},
	}
}
