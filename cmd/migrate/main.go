package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"prodtrack.org/internal/migrate"
	"prodtrack.org/internal/obs"
	"prodtrack.org/internal/store/pg"
	"prodtrack.org/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("PRODTRACK_DATABASE_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory with SQL migrations (embedded set when empty)")
		seedsPath      = flag.String("seeds", "", "Directory with SQL seeds (embedded set when empty)")
	)
	flag.Parse()

	log := obs.Logger()
	obs.ConfigureLogger(obs.LogOptions{Level: "info", Format: "text"})

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PRODTRACK_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	sqlFS, seedFS, err := sources(*migrationsPath, *seedsPath)
	if err != nil {
		log.WithError(err).Fatal("load migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := pg.Open(*dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db.DB(), sqlFS, seedFS, migrate.WithLogger(log))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		printAll(applied)
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		printAll(applied)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNoMigrations) {
			fmt.Println("nothing to roll back")
			err = nil
		} else if err == nil {
			fmt.Println(name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		printAll(history)
	case "pending":
		var pending []string
		pending, err = mgr.Pending(ctx)
		printAll(pending)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.WithFields(logrus.Fields{"command": cmd}).WithError(err).Fatal("migrate failed")
	}
}

func sources(migrationsPath, seedsPath string) (fs.FS, fs.FS, error) {
	sqlFS, err := pick(migrationsPath, migrations.SQL, "sql")
	if err != nil {
		return nil, nil, err
	}
	seedFS, err := pick(seedsPath, migrations.Seeds, "seeds")
	if err != nil {
		return nil, nil, err
	}
	return sqlFS, seedFS, nil
}

func pick(dir string, embedded fs.FS, sub string) (fs.FS, error) {
	if dir != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(embedded, sub)
}

func printAll(items []string) {
	for _, item := range items {
		fmt.Println(item)
	}
}
