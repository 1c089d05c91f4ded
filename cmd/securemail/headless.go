package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/nhle/securemail/internal/status"
)

// exitError signals a failure that was already reported to the user.
type exitError struct{}

func (exitError) Error() string { return "command failed" }

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// runCommand runs one headless command, printing to out and reading
// prompts from in.
func runCommand(c *components, name string, args []string, out io.Writer, r io.Reader) error {
	ctx := context.Background()
	in := bufio.NewReader(r)

	switch name {
	case "health":
		return cmdHealth(ctx, c, out)
	case "register":
		return cmdRegister(ctx, c, out, in, args)
	case "login":
		return cmdLogin(ctx, c, out, in, args)
	case "logout":
		c.session.Logout()
		fmt.Fprintln(out, "Logged out.")
		return nil
	case "inbox":
		return cmdInbox(ctx, c, out)
	default:
		usage()
		return fmt.Errorf("unknown command %q", name)
	}
}

func cmdHealth(ctx context.Context, c *components, out io.Writer) error {
	res := c.monitor.Probe(ctx)
	if res.State != status.StateUp {
		fmt.Fprintf(out, "%s %s: %s\n", red("down"), c.client.BaseURL(), res.Detail)
		return exitError{}
	}
	fmt.Fprintf(out, "%s %s\n", green("up"), c.client.BaseURL())
	return nil
}

func cmdRegister(ctx context.Context, c *components, out io.Writer, in *bufio.Reader, args []string) error {
	email, err := emailArg(out, in, args)
	if err != nil {
		return err
	}
	password, err := promptSecret(out, in, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptSecret(out, in, "Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("the supplied passwords do not match")
	}

	uri, err := c.session.Register(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Add this URI to your authenticator app:\n%s\n", green("Account created."), uri)
	return nil
}

func cmdLogin(ctx context.Context, c *components, out io.Writer, in *bufio.Reader, args []string) error {
	email, err := emailArg(out, in, args)
	if err != nil {
		return err
	}
	password, err := promptSecret(out, in, "Password: ")
	if err != nil {
		return err
	}
	code, err := promptLine(out, in, "Authenticator code: ")
	if err != nil {
		return err
	}

	if _, err := c.session.Login(ctx, email, password, code); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Session stored for profile %q (%s).\n",
		green("Logged in."), c.cfg.Session.Profile, c.cfg.Session.Backend)
	return nil
}

func cmdInbox(ctx context.Context, c *components, out io.Writer) error {
	msgs, err := c.mailbox.RefreshList(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		marker := " "
		if m.Unread() {
			marker = "●"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			marker, m.ID, m.SenderAddress, m.Subject, humanize.Time(m.CreatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s messages, %s unread\n",
		humanize.Comma(int64(len(msgs))), yellow(c.mailbox.UnreadCount()))
	return nil
}

func emailArg(out io.Writer, in *bufio.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	return promptLine(out, in, "Email: ")
}

func promptLine(out io.Writer, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo from a terminal and falls back to a
// plain line when stdin is piped.
func promptSecret(out io.Writer, in *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(out, in, prompt)
	}

	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
