package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout, os.Stdin, NewSessionManager())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the command tree. out, in and sessions are injected so
// tests can drive commands without touching the real terminal or home dir.
func buildRoot(out io.Writer, in io.Reader, sessions *SessionManager) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{global: globalFlags, out: out, in: in, sessions: sessions}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(c),
		createRunOnceCommand(c),
		createHistoryCommand(c),
		createSetIntervalCommand(c),
		createUpdatePIDCommand(c),
		createUnregisterCommand(c),
		createLoginCommand(c),
		createLogoutCommand(c),
		createHashPasswordCommand(c),
		createInitCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "twinwatch",
		Short: "Watchdog for server/client process pairs",
		Long: `twinwatch keeps a server process and its clients alive. It checks each
tracked process for liveness and log-file heartbeats, and restarts dead
or hung processes under a bounded retry policy, servers before clients.

Examples:
  twinwatch serve --config twinwatch.toml   # run the watchdog daemon
  twinwatch status                          # query a running daemon
  twinwatch run-once --api-url=http://host:8090/api`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML/YAML config file")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8090/api)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	pf.StringVar(&flags.Token, "token", "", "bearer token (defaults to the saved login session)")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an https daemon")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the watchdog daemon",
		Long: `Run the watchdog with the admin API. Processes listed in the config are
launched, or adopted when their pid or pid_file points at a live process.

Examples:
  twinwatch serve --config twinwatch.toml
  twinwatch serve twinwatch.toml --daemonize --pidfile /run/twinwatch.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file (with --daemonize)")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked processes and scheduler state",
		Long: `Show the daemon's snapshot. Liveness is re-probed for the report; nothing
is restarted.

Examples:
  twinwatch status
  twinwatch status --id sim-server --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "show one process")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print raw JSON")
	return cmd
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent restart events",
		Long: `Show restart events recorded by the daemon's first queryable history
sink (sqlite or postgres), newest first.

Examples:
  twinwatch history
  twinwatch history --id sim-client --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(*f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "only events for this process")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print raw JSON")
	return cmd
}

func createRunOnceCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run one check pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RunOnce()
		},
	}
}

func createSetIntervalCommand(c *command) *cobra.Command {
	f := &IntervalFlags{}
	cmd := &cobra.Command{
		Use:   "set-interval",
		Short: "Change the check interval (minimum 1s)",
		Long: `Change the daemon's check interval. Values below one second are raised
to one second; the new interval applies from the next sleep.

Examples:
  twinwatch set-interval --interval 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.SetInterval(*f)
		},
	}
	cmd.Flags().DurationVar(&f.Interval, "interval", 0, "new check interval (required)")
	if err := cmd.MarkFlagRequired("interval"); err != nil {
		panic(err)
	}
	return cmd
}

func createUpdatePIDCommand(c *command) *cobra.Command {
	f := &UpdatePIDFlags{}
	cmd := &cobra.Command{
		Use:   "update-pid",
		Short: "Record a new pid for a tracked process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.UpdatePID(*f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "process id (required)")
	cmd.Flags().IntVar(&f.PID, "pid", 0, "new pid (required)")
	for _, name := range []string{"id", "pid"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createUnregisterCommand(c *command) *cobra.Command {
	f := &UnregisterFlags{}
	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Stop tracking a process",
		Long: `Stop tracking a process. The process itself keeps running. Unknown ids
are not an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Unregister(*f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "process id (required)")
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}

func createLoginCommand(c *command) *cobra.Command {
	f := &LoginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the daemon and save a session token",
		Long: `Exchange a configured user's credentials for a token. Later commands use
the saved token when --token is not given. The password is read from
stdin when --password is omitted.

Examples:
  twinwatch login --username ops`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Login(*f)
		},
	}
	cmd.Flags().StringVar(&f.Username, "username", "", "username")
	cmd.Flags().StringVar(&f.Password, "password", "", "password")
	return cmd
}

func createLogoutCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logout()
		},
	}
}

func createHashPasswordCommand(c *command) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for [[server.auth.users]]",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(password)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when omitted)")
	return cmd
}

func createInitCommand(c *command) *cobra.Command {
	f := &TemplateCreateFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a starter twinwatch.toml.

Types:
  pair    a server and a client (default)
  server  a single server
  client  a single client

Examples:
  twinwatch init
  twinwatch init --type server --name api --output conf/twinwatch.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateCreate(*f)
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "pair", "template type (pair, server, client)")
	cmd.Flags().StringVar(&f.Name, "name", "", "process name prefix (default sim)")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "", "output path (default twinwatch.toml)")
	cmd.Flags().StringVar(&f.LogDir, "log-dir", "", "directory for process logs and pid files (default logs)")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	return cmd
}
