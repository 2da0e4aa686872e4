package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands work on files only.
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return fmt.Errorf("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(sourceDir(o), o.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(o options) error {
		if o.dir == "" {
			return migrate.ValidateFS(migrate.Embedded(), migrate.EmbeddedDir)
		}
		return migrate.ValidateDir(o.dir)
	},
}

// online commands need a database handle.
var online = map[string]func(context.Context, *sql.DB, options) error{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"redo":   gooseCommand("redo"),
	"status": gooseCommand("status"),
	"version": func(ctx context.Context, sqlDB *sql.DB, o options) error {
		if o.version == "" {
			return fmt.Errorf("-version is required for version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, o.dir, o.version)
	},
}

func gooseCommand(name string) func(context.Context, *sql.DB, options) error {
	return func(ctx context.Context, sqlDB *sql.DB, o options) error {
		return migrate.Run(ctx, sqlDB, o.dir, name)
	}
}

func main() {
	_ = godotenv.Load()

	var o options
	cmd := flag.String("cmd", "up", "migration command: "+strings.Join(commandNames(), "|"))
	flag.StringVar(&o.dir, "dir", "", "migrations directory; empty uses the migrations embedded in the binary")
	flag.StringVar(&o.name, "name", "", "migration name (create)")
	flag.StringVar(&o.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		fail(context.Background(), logg, "load config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": displayDir(o.dir),
	})

	if run, ok := offline[*cmd]; ok {
		if err := run(o); err != nil {
			fail(ctx, logg, *cmd+" failed", err)
		}
		logg.Info(ctx, "migrate command complete")
		return
	}

	run, ok := online[*cmd]
	if !ok {
		fail(ctx, logg, "unknown command", fmt.Errorf("unknown -cmd %q", *cmd))
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "connect database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "extract sql.DB", err)
	}
	if err := run(ctx, sqlDB, o); err != nil {
		dbClient.Close()
		fail(ctx, logg, *cmd+" failed", err)
	}
	logg.Info(ctx, "migrate command complete")
}

func sourceDir(o options) string {
	if o.dir == "" {
		return migrate.DefaultDir
	}
	return o.dir
}

func displayDir(dir string) string {
	if dir == "" {
		return "embedded:" + migrate.EmbeddedDir
	}
	return dir
}

func commandNames() []string {
	names := make([]string, 0, len(offline)+len(online))
	for name := range offline {
		names = append(names, name)
	}
	for name := range online {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fail(ctx context.Context, logg *logger.Logger, msg string, err error) {
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
