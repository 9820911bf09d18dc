package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/msmaccel/accelerd/internal/audit"
	"github.com/msmaccel/accelerd/internal/config"
	"github.com/msmaccel/accelerd/internal/coordinator"
	"github.com/msmaccel/accelerd/internal/modelstate"
	"github.com/msmaccel/accelerd/internal/registry"
	"github.com/msmaccel/accelerd/internal/sampler"
	"github.com/msmaccel/accelerd/internal/storage"
	"github.com/msmaccel/accelerd/internal/transport"
	"github.com/msmaccel/accelerd/internal/wire"
)

var serveSeeds []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveSeeds, "seed", nil,
		"Initial seed conformation as protocol:path (repeatable; overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if len(serveSeeds) > 0 {
		cfg.Sampler.InitialSeeds = serveSeeds
	}
	if len(cfg.Sampler.InitialSeeds) == 0 {
		return fmt.Errorf("no initial seeds configured; pass --seed protocol:path")
	}

	log := slog.Default()

	var db *sql.DB
	if cfg.Storage.DBPath != "" {
		db, err = storage.Open(cfg.Storage.DBPath)
	} else {
		db, err = storage.OpenMemory()
	}
	if err != nil {
		return err
	}
	defer db.Close()

	reg, err := registry.Load(db)
	if err != nil {
		return err
	}
	if reg.Len() > 0 {
		log.Info("Recovered trajectory ledger", "records", reg.Len())
	}

	initial, err := config.ParseSeedLocators(cfg.Sampler.InitialSeeds)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	smp, err := sampler.New(initial, reg, rng, sampler.Options{
		Beta:      cfg.Sampler.Beta,
		Tolerance: cfg.Sampler.Tolerance,
	}, log)
	if err != nil {
		return err
	}

	emitters := audit.Multi{audit.NewSQLite(db, log)}
	if cfg.Audit.KafkaEnabled {
		emitters = append(emitters, audit.NewKafka(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, log))
	}
	defer emitters.Close()

	coord := coordinator.New(reg, modelstate.NewWithDB(db), smp, emitters, log)
	srv := transport.NewServer(cfg.Server.Addr(), coord, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Green("accelerd serving on %s (session %s)", cfg.Server.Addr(), coord.Session())
	printSeedPool(initial)
	return srv.ListenAndServe(ctx)
}

func printSeedPool(initial []wire.Locator) {
	for i, loc := range initial {
		fmt.Printf("  seed[%d] %s:%s\n", i, loc.Protocol, loc.Path)
	}
}
