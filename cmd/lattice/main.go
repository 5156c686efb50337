// Command lattice is the operator CLI: it generates and applies migrations,
// reindexes search, manages single tables, serves the REST API and runs the
// DynamoDB Streams handler on Lambda.
//
// Connection settings come from the YAML file named by LATTICE_CONFIG and
// the environment (see conn.LoadConfig).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"makemigrations", "generate a migration from the declared models", makeMigrations},
	{"migrate", "apply pending migrations", migrateCmd},
	{"showmigrations", "list migrations and whether they are applied", showMigrations},
	{"reindex", "re-emit every record to the search index", reindex},
	{"ensure-table", "create one model's table if missing", ensureTable},
	{"delete-table", "delete one model's table", deleteTable},
	{"serve", "serve the REST API", serve},
	{"stream", "run the DynamoDB Streams handler on Lambda", streamCmd},
}

// errChanges makes makemigrations --check exit non-zero.
var errChanges = errors.New("model changes are not captured in a migration")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(ctx, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "lattice %s: %v\n", c.name, err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "lattice: unknown command %q\n", os.Args[1])
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lattice <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", c.name, c.summary)
	}
}
