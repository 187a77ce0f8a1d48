// Command console is an operator console for the billing Auth API. Every
// process is one client instance; instances sharing an origin (in process
// with the memory backend, across processes with redis) mirror each other's
// sign-in and sign-out.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/jrsteele09/billing-console/internal/config"
)

const usage = `usage: console [flags] <command> [args]

commands:
  status                 show the session state of this instance
  login                  sign in with --email and --password
  register               create a tenant and sign in as its admin
  logout                 sign out this device
  logout-all             sign out every device of the user
  sessions               list active sessions
  terminate <id>         end one session
  refresh                exchange the refresh token now
  shell                  interactive mode; "open" starts sibling instances

flags:
`

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("console failed")
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	configureLogging(c.GetLogLevel())

	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if len(opts.command) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, c, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.command[0] == "shell" {
		displayAppname(out, c.GetAppName())
		return app.shell(ctx, in, out)
	}
	return app.exec(ctx, app.current(), opts.command, out)
}

type options struct {
	fake         bool
	fakeEmail    string
	fakePassword string
	metricsAddr  string

	email    string
	password string

	tenantName string
	tenantSlug string
	adminName  string

	command []string
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("console", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}

	fs.BoolVar(&o.fake, "fake", false, "serve an in-process fake Auth API instead of AUTH_API_URL")
	fs.StringVar(&o.fakeEmail, "fake-email", "admin@example.com", "user seeded into the fake Auth API")
	fs.StringVar(&o.fakePassword, "fake-password", "Admin1234", "password of the seeded user")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	fs.StringVarP(&o.email, "email", "e", "", "email for login")
	fs.StringVarP(&o.password, "password", "p", "", "password for login and register")
	fs.StringVar(&o.tenantName, "tenant-name", "", "tenant name for register")
	fs.StringVar(&o.tenantSlug, "tenant-slug", "", "tenant slug for register")
	fs.StringVar(&o.adminName, "admin-name", "", "admin display name for register")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.command = fs.Args()
	return o, nil
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func displayAppname(out io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(out, myFigure.String())
}
