package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/litimahmed/universal-hub/internal/console"
	"github.com/litimahmed/universal-hub/pkg/authsdk"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

const usage = `usage: hubadmin <command> [flags]

commands:
  serve    run the admin console
  login    sign in and store the session for every hubadmin process
  logout   revoke and forget the stored session
  status   print the current session
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := console.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = serve(cfg, args)
	case "login":
		err = login(cfg, args)
	case "logout":
		err = logout(cfg, args)
	case "status":
		err = status(cfg, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "hubadmin %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func serve(cfg console.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to listen on")
	_ = fs.Parse(args)

	logger := slogx.New(slogx.Config{
		Service: "hubadmin",
		Version: console.BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	app, err := console.New(cfg, logger)
	if err != nil {
		return err
	}
	return app.Run(context.Background())
}

func login(cfg console.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("u", os.Getenv("HUB_USERNAME"), "username")
	otp := fs.String("otp", "", "one-time code, if the account has a second factor")
	_ = fs.Parse(args)

	if *username == "" {
		return errors.New("a username is required (-u)")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	app, err := console.New(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = app.Login(ctx, *username, password, *otp)
	if errors.Is(err, authsdk.ErrMFARequired) {
		return errors.New("this account needs a one-time code; pass -otp")
	}
	if errors.Is(err, authsdk.ErrInvalidGrant) {
		return errors.New("invalid username or password")
	}
	if err != nil {
		return err
	}

	fmt.Println("signed in as", *username)
	return nil
}

func logout(cfg console.Config, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	_ = fs.Parse(args)

	app, err := console.New(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func status(cfg console.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	_ = fs.Parse(args)

	app, err := console.New(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := app.Status(ctx)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if out.User == nil {
		fmt.Println(out.Phase)
		return nil
	}
	fmt.Printf("%s as %s (session %s)\n", out.Phase, out.User.Username, out.User.SessionID)
	if out.ExpiresIn > 0 {
		fmt.Printf("access token valid for %s\n", time.Duration(out.ExpiresIn)*time.Second)
	}
	return nil
}

// cliLogger writes text to stderr so command output stays clean.
func cliLogger(cfg console.Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "hubadmin",
		Version: console.BuildVersion,
		Env:     cfg.Env,
		Level:   getLevel(cfg),
		Format:  "text",
		Output:  os.Stderr,
	})
}

// Commands only log warnings unless debug was asked for explicitly.
func getLevel(cfg console.Config) string {
	if strings.EqualFold(cfg.LogLevel, "debug") {
		return "debug"
	}
	return "warn"
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise, so scripts can pipe the password in.
func readPassword() (string, error) {
	if pw := os.Getenv("HUB_PASSWORD"); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
