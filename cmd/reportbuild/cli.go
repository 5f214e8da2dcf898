package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExitError carries the process exit code of a failed run.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes.
const (
	exitBuildFailed = 1
	exitUsage       = 2
)

// Options are the parsed command-line settings of one run.
type Options struct {
	DocumentPath  string
	ConnectURL    string
	BridgeURL     string
	ReportID      string
	Token         string
	Timeout       time.Duration
	ExistingPages int
	Save          bool
	SaveAs        string
	HistoryPath   string
	LogLevel      string
	LogFormat     string
}

// DryRun reports whether the build runs against a simulated session.
func (o *Options) DryRun() bool {
	return o.BridgeURL == ""
}

// Parse processes command-line arguments. It returns the options, whether the
// program should exit cleanly, or an *ExitError.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	flagSet := flag.NewFlagSet("reportbuild", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
reportbuild - build a report from a JSON report document.

Usage:
  reportbuild [options] DOCUMENT
  reportbuild -connect URL [options]

Arguments:
  DOCUMENT
    Path to the report document, or "-" to read it from stdin.

Without -bridge the build runs against a simulated session and prints the
outcome it would have had. With -connect it instead acts as a simulated page:
it connects to a server's relay endpoint and answers its calls until
interrupted.

Options:
`)
		flagSet.PrintDefaults()
	}

	opts := &Options{}
	flagSet.StringVar(&opts.ConnectURL, "connect", "", "Relay URL to serve a simulated page on, e.g. ws://localhost:8080/api/relay?reportId=demo.")
	flagSet.StringVar(&opts.BridgeURL, "bridge", "", "Base URL of the session bridge. Empty runs a dry run.")
	flagSet.StringVar(&opts.ReportID, "report", "", "Report ID to open on the bridge.")
	flagSet.StringVar(&opts.Token, "token", "", "Bearer token for the bridge or relay.")
	flagSet.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Per-call timeout for bridge requests.")
	flagSet.IntVar(&opts.ExistingPages, "existing-pages", 1, "Pages the simulated report starts with (dry run and -connect).")
	flagSet.BoolVar(&opts.Save, "save", false, "Save the report after a fully synchronized build.")
	flagSet.StringVar(&opts.SaveAs, "save-as", "", "Save a copy of the report under this name after the build.")
	flagSet.StringVar(&opts.HistoryPath, "history", ":memory:", "SQLite file that keeps the build history.")
	flagSet.StringVar(&opts.LogLevel, "log-level", "warn", "Logging level: 'debug', 'info', 'warn' or 'error'.")
	flagSet.StringVar(&opts.LogFormat, "log-format", "text", "Log output format: 'text' or 'json'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: exitUsage, Message: err.Error()}
	}

	if opts.ConnectURL != "" {
		if flagSet.NArg() > 0 {
			return nil, false, &ExitError{Code: exitUsage, Message: "-connect does not take a document"}
		}
		return opts, false, nil
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: exitUsage, Message: "expected exactly one document, got " + strings.Join(flagSet.Args(), " ")}
	}
	opts.DocumentPath = flagSet.Arg(0)

	switch {
	case !opts.DryRun() && opts.ReportID == "":
		return nil, false, &ExitError{Code: exitUsage, Message: "-report is required with -bridge"}
	case opts.ExistingPages < 0:
		return nil, false, &ExitError{Code: exitUsage, Message: "-existing-pages must not be negative"}
	case opts.LogFormat != "text" && opts.LogFormat != "json":
		return nil, false, &ExitError{Code: exitUsage, Message: "-log-format must be 'text' or 'json'"}
	}
	return opts, false, nil
}
