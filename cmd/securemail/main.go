package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/nhle/securemail/internal/app"
	"github.com/nhle/securemail/internal/logging"
	"github.com/nhle/securemail/internal/model"
)

var (
	configPath = flag.String("config", model.DefaultConfigPath(), "path to config.yaml")
	profile    = flag.String("profile", "", "session profile, overrides session.profile")
	ephemeral  = flag.Bool("ephemeral", false, "keep the session in memory only")
	debug      = flag.Bool("debug", false, "log at debug level")
)

var red = color.New(color.FgRed).SprintFunc()

func main() {
	flag.Usage = usage
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		var exit exitError
		if !errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, red("error:"), err)
		}
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] [command]\n\n", os.Args[0])
	fmt.Fprintln(out, "Without a command the terminal UI starts. Commands:")
	fmt.Fprintln(out, "  health             check the backend")
	fmt.Fprintln(out, "  register <email>   create an account and print its TOTP URI")
	fmt.Fprintln(out, "  login <email>      log in and store the session")
	fmt.Fprintln(out, "  logout             forget the stored session")
	fmt.Fprintln(out, "  inbox              list received messages")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func run(args []string) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *profile != "" {
		cfg.Session.Profile = *profile
	}
	if *ephemeral {
		cfg.Session.Backend = model.SessionBackendMemory
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	c, err := wire(cfg, log)
	if err != nil {
		return err
	}
	defer c.close()

	if len(args) == 0 {
		return runTUI(c)
	}
	return runCommand(c, args[0], args[1:], color.Output, os.Stdin)
}

func runTUI(c *components) error {
	m := app.New(app.Deps{
		Session: c.session,
		Mailbox: c.mailbox,
		Codec:   c.codec,
		Monitor: c.monitor,
		Log:     c.log,
	})
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
