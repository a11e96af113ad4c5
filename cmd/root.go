// Package cmd defines the payparse CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/app"
	"github.com/JakeFAU/payparse/internal/config"
	"github.com/JakeFAU/payparse/internal/logging"
	"github.com/JakeFAU/payparse/internal/parser"
)

// Service is what the commands need from the application. Tests swap in a
// fake through newService.
type Service interface {
	Run(ctx context.Context) error
	Parse(ctx context.Context, rawURL string) (parser.Outcome, error)
	Close(ctx context.Context) error
}

var newService = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Service, error) {
	return app.New(ctx, cfg, logger)
}

// cliState is the state shared by the root hooks and subcommands.
type cliState struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	svc     Service
}

func newRootCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payparse",
		Short: "Extract the amount and currency from hosted checkout pages.",
		Long: `payparse renders hosted payment pages in headless Chrome and reports the
order total and its ISO-4217 currency. Run "serve" for the HTTP API or
"parse" for a single URL.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rt.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt.cfg = cfg
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt.logger = logger
			zap.ReplaceGlobals(logger)

			svc, err := newService(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			rt.svc = svc
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rt.cfgFile, "config", "", "config file (YAML); PAYPARSE_* env vars override it")

	cmd.AddCommand(newServeCmd(rt))
	cmd.AddCommand(newParseCmd(rt))
	return cmd
}

// close releases services and flushes the logger. It runs even when a
// command failed.
func (rt *cliState) close() {
	if rt.svc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout())
		defer cancel()
		if err := rt.svc.Close(ctx); err != nil {
			rt.logger.Warn("close services", zap.Error(err))
		}
		rt.svc = nil
	}
	if rt.logger != nil {
		if err := logging.Sync(rt.logger); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

func execute(ctx context.Context, args []string) (*cliState, error) {
	rt := &cliState{}
	root := newRootCmd(rt)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	rt.close()
	return rt, err
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := execute(ctx, os.Args[1:])
	if err == nil {
		return
	}
	logger := rt.logger
	if logger == nil {
		if logger, _ = logging.New(false); logger == nil {
			logger = zap.NewExample()
		}
	}
	stop()
	logger.Fatal("command failed", zap.Error(err))
}
