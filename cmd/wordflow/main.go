// Command wordflow serves the word-stats pipeline and the fan-out topology
// over HTTP.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/kbukum/flowkit/bootstrap"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/server"
)

const serviceName = "wordflow"

func main() {
	configFile := flag.String("config", "", "path to the config file")
	envFile := flag.String("env", "", "path to a .env file")
	flag.Parse()

	if err := run(context.Background(), *configFile, *envFile); err != nil {
		logger.Error("wordflow exited", logger.OpError("run", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile, envFile string) error {
	opts := []config.LoaderOption{config.WithEnvPrefix("FLOWKIT")}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	cfg, err := config.Load(serviceName, &Config{}, opts...)
	if err != nil {
		return err
	}

	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	if err := app.Register(newComponents(app.Cfg, app.Logger)...); err != nil {
		return err
	}
	return app.Run(ctx)
}

// newComponents wires telemetry, the pipeline and the HTTP server in start
// order.
func newComponents(cfg *Config, log *logger.Logger) []bootstrap.Component {
	tel := &telemetry{svc: &cfg.ServiceConfig}
	stats := &wordStats{
		opts:    cfg.Stages,
		log:     log.WithComponent("dataflow"),
		tracing: cfg.Telemetry.Enabled,
	}

	srv := server.New(cfg.HTTP, log)
	h := &handlers{stats: stats, fanout: cfg.Fanout, retry: cfg.Retry, timeout: cfg.RequestTimeout}
	h.register(srv.Engine())
	srv.RegisterProbes(cfg.Name, stats)

	return []bootstrap.Component{tel, stats, httpServer{srv}}
}
