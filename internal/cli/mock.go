package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/deliveryload/internal/logging"
	"github.com/wesleyorama2/deliveryload/internal/mockapi"
)

func newMockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a fake delivery API for local runs",
		Long: `Serve an in-memory fake of the delivery API with test users
test1@example.com, test2@example.com and test3@example.com (password123).

  deliveryload mock --addr :3000 --latency 20ms --error-rate 0.01
  deliveryload run --base-url http://localhost:3000`,
		Args: cobra.NoArgs,
		RunE: runMock,
	}

	flags := cmd.Flags()
	flags.String("addr", "127.0.0.1:3000", "Listen address")
	flags.Duration("latency", 0, "Added latency per request")
	flags.Duration("jitter", 0, "Random extra latency up to this value")
	flags.Float64("error-rate", 0, "Fraction of requests answered with 500")
	flags.Int64("seed", 0, "Random seed for jitter and failures (0 = time based)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", logging.FormatConsole, "Log format: console or json")
	return cmd
}

func runMock(cmd *cobra.Command, _ []string) error {
	v := newViper(cmd)

	logger, err := logging.New(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv := mockapi.New(mockapi.Options{
		Latency:   v.GetDuration("latency"),
		Jitter:    v.GetDuration("jitter"),
		ErrorRate: v.GetFloat64("error-rate"),
		Seed:      v.GetInt64("seed"),
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx, v.GetString("addr"))
}
