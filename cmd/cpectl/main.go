// Command cpectl inspects a device from the command line: it evaluates the
// page gate, prints permission tables, logs in and polls ajax methods.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/IIAteeneaaII/ontester/internal/config"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

const usage = `usage: cpectl [flags] <command> [args]

commands:
  table <page-path>   print the effective permission table for a page
  check <page-path>   ask the device and print the gate decision
  login               log in and print the outcome and session cookies
  poll [method]       poll an ajax method until interrupted
  verify [dir]        validate permission tables, with an override directory

flags:
`

type app struct {
	cfg     *config.Config
	client  *xhr.Client
	session *xhr.Session
	out     *json.Encoder
	logger  *slog.Logger

	browser  bool
	captcha  string
	interval int
}

func main() {
	flags := pflag.NewFlagSet("cpectl", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	cfgPath := flags.StringP("config", "c", "", "path to a gateway config file")
	flags.String("base-url", "", "device address")
	flags.StringP("username", "u", "", "login name")
	flags.StringP("password", "p", "", "login password")
	flags.String("operator", "", "operator code, read from the device when empty")
	flags.String("area-code", "", "operator area code")
	flags.String("model", "", "device model, read from the device when empty")
	flags.Bool("new-ui", false, "device runs the new web UI")
	flags.String("fttr", "", "fttr_main or fttr_sub")
	flags.String("tables-dir", "", "directory overriding the built-in permission tables")
	flags.String("failure-policy", "", "open or closed when the session check fails")
	flags.Bool("headless", true, "run the browser without a window")
	cookies := flags.StringArray("cookie", nil, "device session cookie as name=value, repeatable")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")

	a := &app{}
	flags.BoolVar(&a.browser, "browser", false, "log in through a headless browser")
	flags.StringVar(&a.captcha, "captcha", "", "captcha code for operators that show one")
	flags.IntVar(&a.interval, "interval", 5, "poll interval in seconds")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(a.logger)

	cfg, err := config.Load(*cfgPath, flags)
	if err != nil {
		fail(err)
	}
	a.cfg = cfg

	seed, err := parseCookies(*cookies)
	if err != nil {
		fail(err)
	}
	a.session = xhr.NewSession(seed)
	a.client, err = xhr.New(cfg.Device.BaseURL,
		xhr.WithHTTPClient(&http.Client{Timeout: cfg.Device.Timeout}),
		xhr.WithLogger(a.logger),
	)
	if err != nil {
		fail(err)
	}
	a.out = json.NewEncoder(os.Stdout)
	a.out.SetIndent("", "  ")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = xhr.WithSession(ctx, a.session)

	switch cmd, rest := args[0], args[1:]; cmd {
	case "table":
		err = a.table(ctx, rest)
	case "check":
		err = a.check(ctx, rest)
	case "login":
		err = a.login(ctx)
	case "poll":
		err = a.poll(ctx, rest)
	case "verify":
		err = a.verify(rest)
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "cpectl:", err)
	os.Exit(1)
}

// parseCookies reads name=value pairs as given to --cookie.
func parseCookies(raw []string) ([]*http.Cookie, error) {
	var out []*http.Cookie
	for _, r := range raw {
		name, value, ok := strings.Cut(r, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("cookie %q is not name=value", r)
		}
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out, nil
}
