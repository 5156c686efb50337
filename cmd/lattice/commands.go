package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/lattice/api"
	"github.com/jacentio/lattice/conn"
	"github.com/jacentio/lattice/internal/blog"
	"github.com/jacentio/lattice/migrate"
	"github.com/jacentio/lattice/search"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/stream"
)

const defaultMigrationsDir = "migrations"

func openStore(ctx context.Context) (*conn.Manager, *store.Store, *search.Syncer, error) {
	mgr, err := conn.Default()
	if err != nil {
		return nil, nil, nil, err
	}
	st, syncer, err := mgr.Store(ctx, blog.Registry())
	if err != nil {
		return nil, nil, nil, err
	}
	return mgr, st, syncer, nil
}

func openEngine(ctx context.Context) (*migrate.Engine, error) {
	mgr, err := conn.Default()
	if err != nil {
		return nil, err
	}
	client, err := mgr.DynamoDB(ctx)
	if err != nil {
		return nil, err
	}
	return migrate.NewEngine(client, mgr.Config().Store, mgr.Logger()), nil
}

func makeMigrations(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("makemigrations", flag.ContinueOnError)
	dir := fs.String("dir", defaultMigrationsDir, "migrations directory")
	name := fs.String("name", "", "migration name (default: initial or auto)")
	check := fs.Bool("check", false, "exit non-zero if changes are detected, without writing")
	dryRun := fs.Bool("dry-run", false, "print the operations without writing")
	destructive := fs.Bool("allow-destructive", false, "emit delete_table for tables no model declares")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := blog.Registry()
	migs, err := migrate.LoadDir(*dir)
	if err != nil {
		return err
	}
	state, err := migrate.Replay(migs)
	if err != nil {
		return err
	}
	ops := migrate.Generate(reg, state, migrate.GenerateOptions{AllowDestructive: *destructive})
	if !*destructive {
		for _, table := range migrate.Dropped(reg, state) {
			fmt.Printf("table %s has no model; rerun with --allow-destructive to delete it\n", table)
		}
	}
	if len(ops) == 0 {
		fmt.Println("No changes detected")
		return nil
	}

	m := migrate.Migration{Number: migrate.Next(migs), Name: *name, Ops: ops}
	if m.Name == "" {
		m.Name = "auto"
		if len(migs) == 0 {
			m.Name = "initial"
		}
	}
	fmt.Printf("Migration %s:\n", m.ID())
	for _, op := range ops {
		fmt.Printf("  - %s\n", op)
	}
	switch {
	case *check:
		return errChanges
	case *dryRun:
		return nil
	}
	path, err := migrate.Write(*dir, m)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func migrateCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dir := fs.String("dir", defaultMigrationsDir, "migrations directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	migs, err := migrate.LoadDir(*dir)
	if err != nil {
		return err
	}
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	applied, err := engine.Apply(ctx, migs)
	for _, id := range applied {
		fmt.Printf("Applied %s\n", id)
	}
	var stepErr *migrate.StepError
	if errors.As(err, &stepErr) {
		fmt.Fprintf(os.Stderr, "Migration %s stopped at operation %d (%s); rerun migrate to resume\n",
			stepErr.Migration, stepErr.Index, stepErr.Op)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("No migrations to apply")
	}
	return nil
}

func showMigrations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("showmigrations", flag.ContinueOnError)
	dir := fs.String("dir", defaultMigrationsDir, "migrations directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	migs, err := migrate.LoadDir(*dir)
	if err != nil {
		return err
	}
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	status, err := engine.Status(ctx, migs)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range status {
		mark, at := "[ ]", ""
		if s.Applied {
			mark, at = "[X]", s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, s.ID, at)
	}
	return w.Flush()
}

func reindex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	model := fs.String("model", "", "reindex only this model")
	from := fs.String("from", "", "resume after this primary key (requires --model)")
	reset := fs.Bool("reset", false, "drop and recreate the index first")
	dryRun := fs.Bool("dry-run", false, "count documents without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from != "" && *model == "" {
		return errors.New("--from requires --model")
	}

	_, st, syncer, err := openStore(ctx)
	if err != nil {
		return err
	}
	opts := search.ReindexOptions{From: *from, Reset: *reset, DryRun: *dryRun}

	var results []search.ReindexResult
	if *model != "" {
		res, err := syncer.Reindex(ctx, st, *model, opts)
		results = append(results, res)
		if err != nil {
			printReindex(results, *dryRun)
			return fmt.Errorf("%w (resume with --model %s --from %q)", err, res.Model, res.Last)
		}
	} else {
		results, err = syncer.ReindexAll(ctx, st, opts)
		if err != nil {
			printReindex(results, *dryRun)
			return err
		}
	}
	printReindex(results, *dryRun)
	return nil
}

func printReindex(results []search.ReindexResult, dryRun bool) {
	verb := "Indexed"
	if dryRun {
		verb = "Would index"
	}
	for _, r := range results {
		fmt.Printf("%s %d %s documents (table holds %d)\n", verb, r.Emitted, r.Model, r.TableCount)
	}
}

func tableFlags(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	model := fs.String("model", "", "model name")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *model == "" {
		return "", errors.New("--model is required")
	}
	return *model, nil
}

func ensureTable(ctx context.Context, args []string) error {
	model, err := tableFlags("ensure-table", args)
	if err != nil {
		return err
	}
	_, st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	m, err := st.Model(model)
	if err != nil {
		return err
	}
	if err := st.Tables().Ensure(ctx, m); err != nil {
		return err
	}
	fmt.Printf("Table %s is active\n", st.Tables().Name(m))
	return nil
}

func deleteTable(ctx context.Context, args []string) error {
	model, err := tableFlags("delete-table", args)
	if err != nil {
		return err
	}
	_, st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	m, err := st.Model(model)
	if err != nil {
		return err
	}
	if err := st.Tables().Drop(ctx, st.Tables().Name(m)); err != nil {
		return err
	}
	fmt.Printf("Table %s deleted\n", st.Tables().Name(m))
	return nil
}

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mgr, st, syncer, err := openStore(ctx)
	if err != nil {
		return err
	}
	logger := mgr.Logger()
	if err := st.Bootstrap(ctx); err != nil {
		return err
	}
	if syncer.Enabled() {
		if err := syncer.EnsureIndexes(ctx, st.Registry()); err != nil {
			logger.Warn("search indexes unavailable; search falls back to scans", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewServer(st, syncer, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	mgr.Close()
	return nil
}

func streamCmd(ctx context.Context, _ []string) error {
	mgr, st, syncer, err := openStore(ctx)
	if err != nil {
		return err
	}
	handler := stream.NewHandler(st, syncer, mgr.Logger())
	lambda.Start(handler.HandleRecords)
	return nil
}
