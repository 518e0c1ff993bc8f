// Package cli implements the rolectl subcommands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/channeladmin/channeladmin/internal/access"
	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/jobs"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
	ExitDenied = 3
)

// RoleService is the part of the access facade the CLI drives.
type RoleService interface {
	AddRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error)
	RemoveRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error)
	GetUserRoles(ctx context.Context, userID int64) []string
	GetUserPermissions(ctx context.Context, userID int64) []string
	GetRoleHistory(ctx context.Context, userID *int64, limit int) ([]audit.Entry, error)
	RenameRole(ctx context.Context, actorID int64, from, to string, dryRun bool) (access.RenameResult, error)
}

// RenameEnqueuer submits rename tasks to the worker queue.
type RenameEnqueuer interface {
	EnqueueRoleRename(ctx context.Context, payload jobs.RenamePayload) (string, error)
}

// Options configures a RoleCLI.
type Options struct {
	Service RoleService
	// Renames is required only for rename -async.
	Renames RenameEnqueuer
	// DefaultActor is used when -actor is not given.
	DefaultActor int64
	// WritesDisabled, when set, is reported by every command that would
	// change role assignments. Reads still work.
	WritesDisabled error
	Stdout         io.Writer
	Stderr         io.Writer
}

// RoleCLI dispatches rolectl subcommands.
type RoleCLI struct {
	service RoleService
	renames RenameEnqueuer
	actor   int64
	locked  error
	stdout  io.Writer
	stderr  io.Writer
}

// New constructs a RoleCLI.
func New(opts Options) (*RoleCLI, error) {
	if opts.Service == nil {
		return nil, errors.New("rolectl: role service is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &RoleCLI{
		service: opts.Service,
		renames: opts.Renames,
		actor:   opts.DefaultActor,
		locked:  opts.WritesDisabled,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
	}, nil
}

const usage = `usage: rolectl <command> [flags]

commands:
  grant    -user ID -role NAME [-actor ID]
  revoke   -user ID -role NAME [-actor ID]
  roles    -user ID
  perms    -user ID
  history  [-user ID] [-limit N] [-format text|csv|json]
  rename   -from NAME -to NAME [-dry-run] [-async] [-actor ID]
`

// Run executes args (without the program name) and returns the exit code.
func (c *RoleCLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(c.stderr, usage)
		return ExitUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "grant":
		return c.grant(ctx, rest)
	case "revoke":
		return c.revoke(ctx, rest)
	case "roles":
		return c.roles(ctx, rest)
	case "perms":
		return c.perms(ctx, rest)
	case "history":
		return c.history(ctx, rest)
	case "rename":
		return c.rename(ctx, rest)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(c.stdout, usage)
		return ExitOK
	default:
		_, _ = fmt.Fprintf(c.stderr, "rolectl: unknown command %q\n%s", cmd, usage)
		return ExitUsage
	}
}

func (c *RoleCLI) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *RoleCLI) grant(ctx context.Context, args []string) int {
	fs := c.flagSet("grant")
	user := fs.Int64("user", 0, "target user id")
	role := fs.String("role", "", "role to grant")
	actor := fs.Int64("actor", c.actor, "acting admin id")
	if fs.Parse(args) != nil {
		return ExitUsage
	}
	if *user <= 0 || strings.TrimSpace(*role) == "" {
		_, _ = fmt.Fprintln(c.stderr, "grant: -user and -role are required")
		return ExitUsage
	}
	if c.locked != nil {
		return c.fail("grant", c.locked)
	}
	added, err := c.service.AddRole(ctx, *user, *role, *actor)
	if err != nil {
		return c.fail("grant", err)
	}
	if added {
		_, _ = fmt.Fprintf(c.stdout, "granted %s to user %d\n", *role, *user)
	} else {
		_, _ = fmt.Fprintf(c.stdout, "user %d already holds %s\n", *user, *role)
	}
	return ExitOK
}

func (c *RoleCLI) revoke(ctx context.Context, args []string) int {
	fs := c.flagSet("revoke")
	user := fs.Int64("user", 0, "target user id")
	role := fs.String("role", "", "role to revoke")
	actor := fs.Int64("actor", c.actor, "acting admin id")
	if fs.Parse(args) != nil {
		return ExitUsage
	}
	if *user <= 0 || strings.TrimSpace(*role) == "" {
		_, _ = fmt.Fprintln(c.stderr, "revoke: -user and -role are required")
		return ExitUsage
	}
	if c.locked != nil {
		return c.fail("revoke", c.locked)
	}
	removed, err := c.service.RemoveRole(ctx, *user, *role, *actor)
	if err != nil {
		return c.fail("revoke", err)
	}
	if removed {
		_, _ = fmt.Fprintf(c.stdout, "revoked %s from user %d\n", *role, *user)
	} else {
		_, _ = fmt.Fprintf(c.stdout, "user %d did not hold %s\n", *user, *role)
	}
	return ExitOK
}

func (c *RoleCLI) roles(ctx context.Context, args []string) int {
	user, ok := c.userFlag("roles", args)
	if !ok {
		return ExitUsage
	}
	c.printList(c.service.GetUserRoles(ctx, user), "no roles")
	return ExitOK
}

func (c *RoleCLI) perms(ctx context.Context, args []string) int {
	user, ok := c.userFlag("perms", args)
	if !ok {
		return ExitUsage
	}
	c.printList(c.service.GetUserPermissions(ctx, user), "no permissions")
	return ExitOK
}

func (c *RoleCLI) userFlag(name string, args []string) (int64, bool) {
	fs := c.flagSet(name)
	user := fs.Int64("user", 0, "user id")
	if fs.Parse(args) != nil {
		return 0, false
	}
	if *user <= 0 {
		_, _ = fmt.Fprintf(c.stderr, "%s: -user is required\n", name)
		return 0, false
	}
	return *user, true
}

func (c *RoleCLI) printList(items []string, empty string) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(c.stdout, empty)
		return
	}
	for _, item := range items {
		_, _ = fmt.Fprintln(c.stdout, item)
	}
}

func (c *RoleCLI) history(ctx context.Context, args []string) int {
	fs := c.flagSet("history")
	user := fs.Int64("user", 0, "only entries for this user")
	limit := fs.Int("limit", audit.DefaultHistoryLimit, "maximum entries")
	format := fs.String("format", "text", "text, csv or json")
	if fs.Parse(args) != nil {
		return ExitUsage
	}
	var userID *int64
	if *user > 0 {
		userID = user
	}
	entries, err := c.service.GetRoleHistory(ctx, userID, *limit)
	if err != nil {
		return c.fail("history", err)
	}
	switch *format {
	case "csv":
		err = audit.WriteCSV(c.stdout, entries)
	case "json":
		err = json.NewEncoder(c.stdout).Encode(entries)
	case "text":
		err = renderHistory(c.stdout, entries)
	default:
		_, _ = fmt.Fprintf(c.stderr, "history: unsupported format %q\n", *format)
		return ExitUsage
	}
	if err != nil {
		return c.fail("history", err)
	}
	return ExitOK
}

func renderHistory(out io.Writer, entries []audit.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no history")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "WHEN\tUSER\tACTION\tROLE\tBY")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n",
			e.PerformedAt.UTC().Format(time.DateTime), e.UserID, e.Action, e.RoleType, e.PerformedBy)
	}
	return tw.Flush()
}

func (c *RoleCLI) rename(ctx context.Context, args []string) int {
	fs := c.flagSet("rename")
	from := fs.String("from", "", "current role name")
	to := fs.String("to", "", "new role name")
	dryRun := fs.Bool("dry-run", false, "report affected users without writing")
	async := fs.Bool("async", false, "enqueue the rename for the worker")
	actor := fs.Int64("actor", c.actor, "acting admin id")
	if fs.Parse(args) != nil {
		return ExitUsage
	}
	if strings.TrimSpace(*from) == "" || strings.TrimSpace(*to) == "" {
		_, _ = fmt.Fprintln(c.stderr, "rename: -from and -to are required")
		return ExitUsage
	}
	if c.locked != nil && !*dryRun {
		return c.fail("rename", c.locked)
	}
	if *async {
		if c.renames == nil {
			_, _ = fmt.Fprintln(c.stderr, "rename: worker queue not configured")
			return ExitFailed
		}
		id, err := c.renames.EnqueueRoleRename(ctx, jobs.RenamePayload{
			From: *from, To: *to, DryRun: *dryRun, ActorID: *actor,
		})
		if err != nil {
			return c.fail("rename", err)
		}
		_, _ = fmt.Fprintf(c.stdout, "enqueued task %s\n", id)
		return ExitOK
	}
	res, err := c.service.RenameRole(ctx, *actor, *from, *to, *dryRun)
	if err != nil {
		return c.fail("rename", err)
	}
	if res.DryRun {
		_, _ = fmt.Fprintf(c.stdout, "dry run: %d user(s) hold %s\n", len(res.Users), res.From)
		return ExitOK
	}
	_, _ = fmt.Fprintf(c.stdout, "renamed %s to %s: %d renamed, %d merged, %d audit entries rewritten\n",
		res.From, res.To, res.Renamed, res.Merged, res.AuditEntries)
	return ExitOK
}

func (c *RoleCLI) fail(cmd string, err error) int {
	var denied *access.PermissionDeniedError
	if errors.As(err, &denied) {
		_, _ = fmt.Fprintf(c.stderr, "%s: %s\n", cmd, denied.UserMessage())
		return ExitDenied
	}
	_, _ = fmt.Fprintf(c.stderr, "%s: %v\n", cmd, err)
	if errors.Is(err, access.ErrValidation) {
		return ExitUsage
	}
	return ExitFailed
}
