package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/dmsync/internal/daemon"
	"github.com/matheus3301/dmsync/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	levelFlag := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	noConnect := flag.Bool("no-connect", false, "do not dial the relay on startup")
	quiet := flag.Bool("quiet", false, "log to the session log file only")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level, err := zapcore.ParseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	settings, err := session.Settings(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: session %q: %v\n", sessionName, err)
		os.Exit(1)
	}

	app := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Settings:    settings,
			AutoConnect: !*noConnect,
			LogLevel:    level,
			Quiet:       *quiet,
		}),
	)

	app.Run()
}
