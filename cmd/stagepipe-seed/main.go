// Package main provides the seed tool for loading fixture blog data.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/stagepipe/stagepipe/pkg/database/migrate"
	"github.com/stagepipe/stagepipe/pkg/database/seed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type seedOptions struct {
	dsn      string
	authors  int
	articles int
	comments int
	truncate bool
	migrate  bool
	seed     int64
}

func parseFlags() seedOptions {
	opts := seedOptions{}
	flag.StringVar(&opts.dsn, "dsn", os.Getenv("STAGEPIPE_DSN"), "PostgreSQL connection string (default $STAGEPIPE_DSN)")
	flag.IntVar(&opts.authors, "authors", 20, "Number of authors to generate")
	flag.IntVar(&opts.articles, "articles", 100, "Number of articles to generate")
	flag.IntVar(&opts.comments, "comments", 400, "Number of comments to generate")
	flag.BoolVar(&opts.truncate, "truncate", false, "Empty the blog tables before seeding")
	flag.BoolVar(&opts.migrate, "migrate", false, "Apply schema migrations before seeding")
	flag.Int64Var(&opts.seed, "seed", 0, "Random seed for reproducible data (0 = time-based)")
	flag.Parse()
	return opts
}

func run() error {
	opts := parseFlags()
	if opts.dsn == "" {
		return fmt.Errorf("a connection string is required: pass -dsn or set STAGEPIPE_DSN")
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	db, err := sql.Open("postgres", opts.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if opts.migrate {
		if err := migrate.Run(db); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}

	summary, err := seed.Run(ctx, db, seed.Options{
		Authors:  opts.authors,
		Articles: opts.articles,
		Comments: opts.comments,
		Truncate: opts.truncate,
		Seed:     opts.seed,
	}, log)
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	fmt.Printf("seeded %d authors, %d articles, %d comments\n",
		summary.Authors, summary.Articles, summary.Comments)
	return nil
}
