package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/pkg/client"
	"github.com/loykin/twinwatch/pkg/template"
)

// command carries the CLI's shared state; its methods are the cobra RunE bodies.
type command struct {
	global   *GlobalFlags
	out      io.Writer
	in       io.Reader
	sessions *SessionManager
}

// baseURL is the API root sessions are keyed by.
func (c *command) baseURL() string {
	if c.global.APIUrl != "" {
		return strings.TrimRight(c.global.APIUrl, "/")
	}
	return client.DefaultConfig().BaseURL
}

func (c *command) newClient() (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.BaseURL = c.baseURL()
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	cfg.Token = c.global.Token
	if cfg.Token == "" && c.sessions != nil {
		if s, err := c.sessions.LoadSession(cfg.BaseURL); err == nil && s != nil {
			cfg.Token = s.Token
		}
	}
	if c.global.Insecure || c.global.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: c.global.CACert, SkipVerify: c.global.Insecure}
	}
	return client.New(cfg)
}

func (c *command) ctx() (context.Context, context.CancelFunc) {
	timeout := c.global.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Status prints the daemon snapshot, or one process with --id.
func (c *command) Status(f StatusFlags) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	if f.ID != "" {
		ps, err := cl.Process(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("status %s: %w", f.ID, err)
		}
		if f.JSON {
			return c.printJSON(ps)
		}
		return c.printTable(map[string]client.ProcessStatus{f.ID: ps})
	}

	st, err := cl.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if f.JSON {
		return c.printJSON(st)
	}
	sched := "stopped"
	if st.Scheduler.Running {
		sched = "running"
	}
	_, _ = fmt.Fprintf(c.out, "scheduler: %s, interval %s", sched, st.Scheduler.Interval)
	if st.Scheduler.NextRun != nil {
		_, _ = fmt.Fprintf(c.out, ", next run %s", st.Scheduler.NextRun.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintln(c.out)
	return c.printTable(st.Processes)
}

func (c *command) printTable(procs map[string]client.ProcessStatus) error {
	ids := lo.Keys(procs)
	slices.Sort(ids)
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tPID\tSTATE\tRESTARTS\tLAST HEARTBEAT")
	for _, id := range ids {
		p := procs[id]
		hb := "-"
		if !p.LastHeartbeat.IsZero() {
			hb = p.LastHeartbeat.Format(time.RFC3339)
		}
		state := p.State.String()
		if p.GaveUp {
			state += " (gave up)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", id, p.Type, p.PID, state, p.RestartCount, hb)
	}
	return tw.Flush()
}

// History prints recent restart events.
func (c *command) History(f HistoryFlags) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	events, err := cl.History(ctx, f.ID, f.Limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if f.JSON {
		return c.printJSON(events)
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintln(c.out, "no restart events")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME	ID	EVENT	STATE	ATTEMPT	PID	ERROR")
	for _, e := range events {
		pid := strconv.Itoa(e.OldPID)
		if e.NewPID > 0 {
			pid += " -> " + strconv.Itoa(e.NewPID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.OccurredAt.Format(time.RFC3339), e.ProcessID, e.Type, e.State, e.Attempt, pid, lo.Ternary(e.Error == "", "-", e.Error))
	}
	return tw.Flush()
}

// RunOnce triggers a check pass and prints its result.
func (c *command) RunOnce() error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	res, err := cl.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("run-once: %w", err)
	}
	return c.printJSON(res)
}

// SetInterval changes the daemon's check interval.
func (c *command) SetInterval(f IntervalFlags) error {
	if f.Interval < 0 {
		return errors.New("interval must be >= 0")
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	got, err := cl.SetInterval(ctx, f.Interval)
	if err != nil {
		return fmt.Errorf("set-interval: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "check interval set to %s\n", got)
	return nil
}

// UpdatePID records a new pid for a tracked process.
func (c *command) UpdatePID(f UpdatePIDFlags) error {
	if f.ID == "" || f.PID <= 0 {
		return errors.New("--id and a positive --pid are required")
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if err := cl.UpdatePID(ctx, f.ID, f.PID); err != nil {
		return fmt.Errorf("update-pid %s: %w", f.ID, err)
	}
	_, _ = fmt.Fprintf(c.out, "%s now tracked as pid %d\n", f.ID, f.PID)
	return nil
}

// Unregister stops tracking a process.
func (c *command) Unregister(f UnregisterFlags) error {
	if f.ID == "" {
		return errors.New("--id is required")
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if err := cl.Unregister(ctx, f.ID); err != nil {
		return fmt.Errorf("unregister %s: %w", f.ID, err)
	}
	_, _ = fmt.Fprintf(c.out, "%s unregistered\n", f.ID)
	return nil
}

// Login exchanges credentials for a token and saves it as the session.
func (c *command) Login(f LoginFlags) error {
	if f.Username == "" {
		return errors.New("--username is required")
	}
	if f.Password == "" {
		pw, err := c.readLine("Password: ")
		if err != nil {
			return err
		}
		f.Password = pw
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	tok, err := cl.Login(ctx, f.Username, f.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s := &Session{Token: tok.Value, TokenType: tok.Type, ExpiresAt: tok.ExpiresAt, Username: f.Username, ServerURL: c.baseURL()}
	if err := c.sessions.SaveSession(s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "logged in as %s until %s\n", f.Username, tok.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Logout removes the saved session for the current --api-url.
func (c *command) Logout() error {
	if err := c.sessions.ClearSession(c.baseURL()); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "logged out")
	return nil
}

// HashPassword prints a bcrypt hash for a [[server.auth.users]] entry.
func (c *command) HashPassword(password string) error {
	if password == "" {
		pw, err := c.readLine("Password: ")
		if err != nil {
			return err
		}
		password = pw
	}
	h, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, h)
	return nil
}

// TemplateCreate writes a starter config file.
func (c *command) TemplateCreate(f TemplateCreateFlags) error {
	name := f.Name
	if name == "" {
		name = "sim"
	}
	outputPath := f.Output
	if outputPath == "" {
		outputPath = "twinwatch.toml"
	}
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}
	g := template.NewGenerator()
	if f.LogDir != "" {
		g.LogDir = f.LogDir
	}
	content, err := g.GenerateTOML(template.TemplateType(f.Type), name)
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "config written to %s\nstart the daemon with: twinwatch serve --config %s\n", outputPath, outputPath)
	return nil
}

func (c *command) readLine(prompt string) (string, error) {
	if c.in == nil {
		return "", errors.New("no input available")
	}
	_, _ = fmt.Fprint(c.out, prompt)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}

func (c *command) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
