// counters rebuilds and inspects the denormalised sales counters outside the HTTP API.
//
// Usage:
//
//	counters [--env-file .env] rebuild [--dry-run] [--actor name]
//	counters [--env-file .env] routes [--limit 10]
//	counters [--env-file .env] sellers [--limit 10]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tripdesk/api/internal/di"
	"github.com/tripdesk/api/internal/platform/config"
	"github.com/tripdesk/api/internal/platform/observability"
	"github.com/tripdesk/api/internal/services"
)

const defaultActor = "cli:counters"

var errUsage = errors.New("usage: counters [--env-file path] <rebuild|routes|sellers> [flags]")

type app struct {
	stdout     io.Writer
	logger     *zap.Logger
	loadConfig func(ctx context.Context, envFile string) (config.Config, error)
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdout:     os.Stdout,
		logger:     logger.Named("counters"),
		loadConfig: loadConfig,
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context, envFile string) (config.Config, error) {
	var opts []config.Option
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	return config.Load(ctx, opts...)
}

func (a *app) run(ctx context.Context, args []string) error {
	global := pflag.NewFlagSet("counters", pflag.ContinueOnError)
	global.SetInterspersed(false)
	envFile := global.String("env-file", "", "dotenv file read before the process environment")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		return errUsage
	}
	command, cmdArgs := rest[0], rest[1:]

	var handler func(context.Context, *di.Container, []string) error
	switch command {
	case "rebuild":
		handler = a.rebuild
	case "routes":
		handler = a.routes
	case "sellers":
		handler = a.sellers
	default:
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}

	cfg, err := a.loadConfig(ctx, *envFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	store, err := di.OpenStore(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	container, err := di.NewContainer(ctx, cfg, store.Registry, di.Infrastructure{Logger: a.logger})
	if err != nil {
		_ = store.Registry.Close(ctx)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			a.logger.Warn("entity store close error", zap.Error(err))
		}
	}()

	return handler(ctx, container, cmdArgs)
}

func (a *app) rebuild(ctx context.Context, c *di.Container, args []string) error {
	flags := pflag.NewFlagSet("rebuild", pflag.ContinueOnError)
	dryRun := flags.Bool("dry-run", false, "compute the tallies without writing them")
	actor := flags.String("actor", defaultActor, "actor recorded on the rebuild event")
	if err := flags.Parse(args); err != nil {
		return err
	}

	report, err := c.Services.Maintenance.RebuildCounters(ctx, services.RebuildCountersCommand{
		ActorID: *actor,
		DryRun:  *dryRun,
	})
	if err != nil {
		return fmt.Errorf("rebuild counters: %w", err)
	}
	a.logger.Info("counters rebuilt",
		zap.Bool("dryRun", report.DryRun),
		zap.Int("routes", report.Routes),
		zap.Int("operators", report.Operators),
	)

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "dry run\t%t\n", report.DryRun)
	fmt.Fprintf(w, "routes\t%d\n", report.Routes)
	fmt.Fprintf(w, "route sales\t%d\n", report.RouteSales)
	fmt.Fprintf(w, "operators\t%d\n", report.Operators)
	fmt.Fprintf(w, "operator sales\t%d\n", report.OperatorSales)
	fmt.Fprintf(w, "completed at\t%s\n", report.CompletedAt.UTC().Format(time.RFC3339))
	return w.Flush()
}

func (a *app) routes(ctx context.Context, c *di.Container, args []string) error {
	flags := pflag.NewFlagSet("routes", pflag.ContinueOnError)
	limit := flags.Int("limit", 10, "number of routes to print")
	if err := flags.Parse(args); err != nil {
		return err
	}

	trips, err := c.Services.Stats.PopularTrips(ctx, *limit)
	if err != nil {
		return fmt.Errorf("popular trips: %w", err)
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tORIGIN\tDESTINATION\tSALES")
	for i, trip := range trips {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, placeLabel(trip.OriginLocation), placeLabel(trip.DestinationLocation), trip.SalesCount)
	}
	return w.Flush()
}

func (a *app) sellers(ctx context.Context, c *di.Container, args []string) error {
	flags := pflag.NewFlagSet("sellers", pflag.ContinueOnError)
	limit := flags.Int("limit", 10, "number of operators to print")
	if err := flags.Parse(args); err != nil {
		return err
	}

	sellers, err := c.Services.Stats.TopSellers(ctx, *limit)
	if err != nil {
		return fmt.Errorf("top sellers: %w", err)
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tOPERATOR\tEMAIL\tSALES")
	for i, seller := range sellers {
		name := seller.FullName
		if name == "" {
			name = seller.ID
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, name, seller.Email, seller.SalesCount)
	}
	return w.Flush()
}

func placeLabel(l services.Location) string {
	if l.City == "" {
		return l.ID
	}
	return l.City + ", " + l.Country
}
