package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/logger"
)

const (
	app = "bidfinder"

	// memoryDatabase keeps everything in process, for dry runs.
	memoryDatabase = "memory"
)

var rootCmd = &cobra.Command{
	Use:           app,
	Short:         "bidfinder collects construction bids, merges duplicates and ranks them for review",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute executes the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "%s: %v\n", app, err)
	}
	return err
}

func init() {
	viper.SetEnvPrefix("BIDFINDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.String("database-url", "", "postgres connection string, or \"memory\" (default $DATABASE_URL)")
	flags.String("profile", "", "scoring profile yaml (default is the embedded profile)")
	flags.String("sources", "", "source registry yaml (default is the embedded registry)")
	flags.Int("concurrency", 4, "sources ingested at once")
	flags.BoolP("debug", "d", false, "verbose/debug output")
	flags.BoolP("json", "j", false, "json format for logging")

	for _, name := range []string{"database-url", "profile", "sources", "concurrency", "debug", "json"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// env is what every command needs: a logger, the profile and a store.
type env struct {
	log     *zap.Logger
	profile *config.Profile
	store   *db.Store
	close   func()
}

func newLogger() (*zap.Logger, error) {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}
	return l, nil
}

// setup builds the shared environment. Postgres backends are migrated
// when migrate is set.
func setup(ctx context.Context, migrate bool) (*env, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	profile, err := config.Load(viper.GetString("profile"))
	if err != nil {
		return nil, err
	}

	dbURL := viper.GetString("database-url")
	if dbURL == memoryDatabase {
		log.Warn("using the in-memory store; nothing will be persisted")
		store := db.NewStore(db.NewMemoryBackend(), profile, log)
		return &env{log: log, profile: profile, store: store, close: func() { _ = log.Sync() }}, nil
	}

	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		if _, err := db.ApplyMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	store := db.NewStore(db.NewPostgresBackend(pool), profile, log)
	return &env{
		log:     log,
		profile: profile,
		store:   store,
		close: func() {
			pool.Close()
			_ = log.Sync()
		},
	}, nil
}
