package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robalyx/sentinel/internal/setup"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// LogDir specifies where engine log files are stored.
const LogDir = "logs/sentinel_logs"

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "sentinel",
		Usage: "Start the sentinel moderation engine",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Connect to the gateway and process events",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of guild partition workers (overrides config)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runEngine(ctx, int(c.Int("workers")))
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// runEngine starts the full pipeline and blocks until a termination
// signal arrives.
func runEngine(ctx context.Context, workerOverride int) error {
	app, err := setup.InitializeApp(ctx, LogDir, workerOverride)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup(ctx)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(func() { app.Engine.Run(runCtx) })
	wg.Go(func() { app.Actuator.Run(runCtx) })

	if err := app.Gateway.Open(runCtx); err != nil {
		stop()
		wg.Wait()

		return err
	}

	app.Logger.Info("Sentinel started",
		zap.Int("workers", app.Config.Engine.WorkerCount))

	<-runCtx.Done()
	app.Logger.Info("Shutting down")

	wg.Wait()

	return nil
}
