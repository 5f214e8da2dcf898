package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/OpenNSW/reportbuilder/internal/config"
	"github.com/OpenNSW/reportbuilder/internal/database"
	"github.com/OpenNSW/reportbuilder/internal/logging"
	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/report/persistence"
	"github.com/OpenNSW/reportbuilder/internal/report/service"
	"github.com/OpenNSW/reportbuilder/internal/session"
	"github.com/OpenNSW/reportbuilder/internal/session/bridge"
	"github.com/OpenNSW/reportbuilder/internal/session/memory"
	"github.com/OpenNSW/reportbuilder/internal/session/relay"
)

const sessionID = "cli"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()

	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run builds one document and writes the build record to stdout.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	opts, shouldExit, err := Parse(args, stderr)
	if err != nil || shouldExit {
		return err
	}
	slog.SetDefault(logging.New(stderr, opts.LogLevel, opts.LogFormat))
	if opts.ConnectURL != "" {
		return servePage(ctx, stdout, opts)
	}

	document, err := readDocument(opts.DocumentPath, stdin)
	if err != nil {
		return &ExitError{Code: exitUsage, Message: err.Error()}
	}

	db, err := database.New(&config.DatabaseConfig{Driver: "sqlite", SQLitePath: opts.HistoryPath, LogLevel: "silent"})
	if err != nil {
		return err
	}
	defer database.Close(db)

	store := persistence.NewBuildStore(db)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate build history: %w", err)
	}

	registry, err := session.NewRegistry(1)
	if err != nil {
		return err
	}
	registry.Register(sessionID, newSession(opts))

	builds := service.NewBuildService(registry, store)
	record, err := builds.Build(ctx, sessionID, document, service.BuildOptions{Save: opts.Save, SaveAs: opts.SaveAs})
	var parseErr *model.ParseError
	if err != nil && !errors.As(err, &parseErr) {
		return err
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to write build record: %w", err)
	}

	switch {
	case parseErr != nil:
		return &ExitError{Code: exitUsage, Message: parseErr.Error()}
	case record.Status != model.BuildStatusSucceeded:
		return &ExitError{Code: exitBuildFailed, Message: fmt.Sprintf("build %s: %d failed steps", record.Status, record.FailedSteps)}
	}
	return nil
}

// servePage connects to a relay endpoint as a simulated page and answers its
// calls until ctx ends.
func servePage(ctx context.Context, stdout io.Writer, opts *Options) error {
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.ConnectURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to relay: %s", resp.Status)
		}
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	page := simulatedReport(opts.ExistingPages)
	err = relay.Serve(ctx, conn, page, func(sessionID string) {
		fmt.Fprintf(stdout, "session %s\n", sessionID)
	})
	if err != nil {
		return err
	}
	slog.Info("relay closed", "calls", len(page.Calls()), "saves", page.Saves())
	return nil
}

func simulatedReport(existingPages int) *memory.Session {
	titles := make([]string, existingPages)
	for i := range titles {
		titles[i] = fmt.Sprintf("Page %d", i+1)
	}
	return memory.New(memory.WithPages(titles...))
}

func newSession(opts *Options) session.Session {
	if opts.DryRun() {
		return simulatedReport(opts.ExistingPages)
	}
	return bridge.NewClient(opts.BridgeURL, opts.ReportID,
		bridge.WithToken(opts.Token),
		bridge.WithTimeout(opts.Timeout),
	)
}

func readDocument(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		document, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read document from stdin: %w", err)
		}
		return document, nil
	}
	document, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return document, nil
}
