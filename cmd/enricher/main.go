package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/app"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/computemodule"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/config"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/pipeline"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/server"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/version"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/foundry"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/redact"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
)

const (
	exitRunFailed = 1
	exitConfig    = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, redact.Secrets(err.Error()))
		os.Exit(exitRunFailed)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "enricher",
		Usage:   "Generate new CSV columns from existing ones with a language model",
		Version: version.Current,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			localCommand(),
			serveCommand(),
			foundryCommand(),
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			var ec cli.ExitCoder
			if errors.As(err, &ec) {
				_, _ = fmt.Fprintln(c.App.ErrWriter, redact.Secrets(ec.Error()))
				os.Exit(ec.ExitCode())
			}
		},
	}
}

func localCommand() *cli.Command {
	return &cli.Command{
		Name:  "local",
		Usage: "Enrich a local CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Input CSV file path", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output CSV file path", Required: true},
			columnsFlag(),
			newColumnsFlag(),
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := app.RunLocal(c.Context, c.String("input"), c.String("output"), jobFromFlags(c), rt.gen, rt.opts)
			if err != nil {
				return cli.Exit("local run failed: "+err.Error(), exitRunFailed)
			}
			_, _ = fmt.Fprintf(c.App.Writer, "outcome=%s rows=%d batches=%d\n", res.Outcome, res.Table.Len(), res.Batches)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the upload API; also handles compute-module jobs when GET_JOB_URI is set",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address", EnvVars: []string{"LISTEN_ADDR"}},
			&cli.StringFlag{Name: "cors-origins", Usage: "Comma-separated CORS allow-list", EnvVars: []string{"CORS_ORIGINS"}},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			cmCfg, functionMode, err := computemodule.LoadConfigFromEnv()
			if err != nil {
				return cli.Exit("compute module config error: "+err.Error(), exitConfig)
			}

			var cm *computemodule.Client
			if functionMode {
				if cm, err = computemodule.NewClient(cmCfg, rt.logger); err != nil {
					return cli.Exit("compute module client error: "+err.Error(), exitConfig)
				}
			}

			g, gctx := errgroup.WithContext(c.Context)
			srv := server.New(rt.gen, rt.opts, rt.cfg.CORSOrigins, rt.logger)
			g.Go(func() error {
				return srv.Serve(gctx, rt.cfg.Listen)
			})
			if cm != nil {
				g.Go(func() error {
					err := cm.Run(gctx, computemodule.EnrichHandler(rt.gen, rt.opts))
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return cli.Exit("serve failed: "+err.Error(), exitRunFailed)
			}
			return nil
		},
	}
}

func foundryCommand() *cli.Command {
	return &cli.Command{
		Name:  "foundry",
		Usage: "Enrich a Foundry dataset (uses BUILD2_TOKEN + RESOURCE_ALIAS_MAP)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input-alias", Value: "input", Usage: "Alias of the input dataset in RESOURCE_ALIAS_MAP"},
			&cli.StringFlag{Name: "output-alias", Value: "output", Usage: "Alias of the output dataset in RESOURCE_ALIAS_MAP"},
			&cli.StringFlag{Name: "output-filename", Value: "enriched.csv", Usage: "File written into the output dataset transaction"},
			columnsFlag(),
			newColumnsFlag(),
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			env, err := foundry.LoadEnv()
			if err != nil {
				return cli.Exit("foundry env error: "+err.Error(), exitConfig)
			}
			res, err := app.RunFoundry(c.Context, env, app.FoundryTarget{
				InputAlias:     c.String("input-alias"),
				OutputAlias:    c.String("output-alias"),
				OutputFilename: c.String("output-filename"),
			}, jobFromFlags(c), rt.gen, rt.opts)
			if err != nil {
				return cli.Exit("foundry run failed: "+err.Error(), exitRunFailed)
			}
			_, _ = fmt.Fprintf(c.App.Writer, "outcome=%s rows=%d batches=%d\n", res.Outcome, res.Table.Len(), res.Batches)
			return nil
		},
	}
}

func columnsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "columns",
		Usage:   "Comma-separated source columns (default: every text column)",
		EnvVars: []string{"SOURCE_COLUMNS"},
	}
}

func newColumnsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "new-columns",
		Usage:   "Comma-separated columns to generate",
		EnvVars: []string{"NEW_COLUMNS"},
	}
}

func jobFromFlags(c *cli.Context) app.Job {
	return app.Job{
		SourceColumns: table.ParseColumnList(c.String("columns")),
		TargetColumns: pipeline.ParseTargetColumns(c.String("new-columns")),
	}
}

// runtime is what every command needs once configuration is resolved.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	gen    generator
	opts   pipeline.Options
}

func (r *runtime) close() {
	_ = r.logger.Sync()
}

func setup(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit("config error: "+err.Error(), exitConfig)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, cli.Exit("config error: "+err.Error(), exitConfig)
	}
	gen, err := newGenerator(c.Context, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, cli.Exit("generator config error: "+err.Error(), exitConfig)
	}
	logger.Info("enricher starting",
		zap.String("version", version.Current),
		zap.String("provider", cfg.Provider),
		zap.String("model", gen.ModelName()),
	)
	return &runtime{
		cfg:    cfg,
		logger: logger,
		gen:    gen,
		opts: pipeline.Options{
			MaxBytes:       cfg.MaxFileSizeBytes(),
			BatchSize:      cfg.BatchSize,
			RequestTimeout: cfg.RequestTimeout,
			RateLimitRPS:   cfg.RateLimitRPS,
			Logger:         logger,
		},
	}, nil
}
