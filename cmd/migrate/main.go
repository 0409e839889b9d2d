package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"consulta.cl/internal/config"
	"consulta.cl/internal/migrate"
	"consulta.cl/internal/seed"
	"consulta.cl/internal/store"
	"consulta.cl/internal/store/pg"
	"consulta.cl/ops/migrations"
)

const usage = "usage: migrate [flags] indexes|seed|up|down|status"

type options struct {
	dsn     string
	mongoDB string
	admin   seed.Admin
}

func main() {
	log.SetFlags(0)

	dbCfg, dbErr := config.LoadDatabase()
	var opts options
	flag.StringVar(&opts.dsn, "dsn", dbCfg.URL, "store DSN (DATABASE_URL or MONGODB_URI)")
	flag.StringVar(&opts.mongoDB, "mongo-db", dbCfg.MongoDatabase, "Mongo database when the URI has none")
	flag.StringVar(&opts.admin.Username, "admin-user", envOr("ADMIN_USERNAME", seed.DefaultAdmin.Username), "seeded admin username")
	flag.StringVar(&opts.admin.Email, "admin-email", envOr("ADMIN_EMAIL", seed.DefaultAdmin.Email), "seeded admin email")
	flag.StringVar(&opts.admin.Password, "admin-password", envOr("ADMIN_PASSWORD", seed.DefaultAdmin.Password), "seeded admin password")
	flag.Parse()

	if opts.dsn == "" {
		if dbErr != nil {
			log.Fatal(dbErr)
		}
		log.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, flag.Arg(0), opts, os.Stdout); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, cmd string, opts options, out io.Writer) error {
	switch cmd {
	case "indexes", "seed", "up", "down", "status":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	st, err := store.Open(ctx, opts.dsn, opts.mongoDB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close(context.Background()) }()

	switch cmd {
	case "indexes":
		if err := st.EnsureIndexes(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "índices listos")
		return nil
	case "seed":
		res, err := seed.EnsureAdmin(ctx, st.Roles(), st.Users(), opts.admin)
		if err != nil {
			return err
		}
		if res.UserCreated {
			fmt.Fprintln(out, "admin listo")
		} else {
			fmt.Fprintln(out, "admin existe")
		}
		return nil
	}

	pgStore, ok := st.(*pg.Store)
	if !ok {
		return errors.New("schema migrations apply to PostgreSQL only")
	}
	mgr := migrate.NewManager(pgStore.DB(), migrations.SQL())
	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Fprintf(out, "applied %s\n", name)
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back %s\n", name)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Fprintln(out, item)
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
