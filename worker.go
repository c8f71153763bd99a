package main

import (
	"errors"

	"crm-backend/internal/automation"
	"crm-backend/internal/realtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var relayChanges bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the automation worker and the change event relay",
	Long: `worker processes the automation queue of every configured workspace on a
fixed interval. With --relay it also forwards Postgres change notifications
to the RabbitMQ exchange read by the API processes.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&relayChanges, "relay", false, "relay Postgres change notifications to RabbitMQ")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return errors.New("worker: REDIS_URL is required")
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	opt, err := automation.RedisOpt(cfg.Redis.URL)
	if err != nil {
		return err
	}
	scheduler, err := automation.NewScheduler(opt, cfg.Automation, log)
	if err != nil {
		return err
	}
	server := automation.NewServer(opt, cfg.Automation, automation.NewProcessor(a.supabase.AsService(), a.qc, log), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if relayChanges {
		from := realtime.NewPGSource(cfg.GetDatabaseURL(), cfg.Realtime.Channel, log)
		to := a.amqp()
		defer to.Close()
		g.Go(func() error { return realtime.Relay(gctx, from, to, log) })
	}
	return g.Wait()
}
