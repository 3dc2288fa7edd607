package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// Subcommands Run 接受的子命令
var Subcommands = []string{"up", "down", "status", "version", "steps"}

// ErrUsage 子命令或参数不合法
var ErrUsage = errors.New("invalid migrate usage")

// CLI 把迁移结果以人类可读的形式写到 out
type CLI struct {
	m   Migrator
	out io.Writer
}

// NewCLI out 为 nil 时丢弃输出
func NewCLI(m Migrator, out io.Writer) *CLI {
	if out == nil {
		out = io.Discard
	}
	return &CLI{m: m, out: out}
}

// Run 执行一个子命令；steps 需要一个非零整数参数
func (c *CLI) Run(ctx context.Context, sub string, args []string) error {
	switch sub {
	case "up":
		fmt.Fprintln(c.out, "applying provenance migrations")
		if err := c.m.Up(ctx); err != nil {
			return err
		}
	case "down":
		fmt.Fprintln(c.out, "rolling back one migration")
		if err := c.m.Down(ctx); err != nil {
			return err
		}
	case "steps":
		if len(args) != 1 {
			return fmt.Errorf("%w: steps takes exactly one argument", ErrUsage)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("%w: step count %q must be a non-zero integer", ErrUsage, args[0])
		}
		fmt.Fprintf(c.out, "moving %+d step(s)\n", n)
		if err := c.m.Steps(ctx, n); err != nil {
			return err
		}
	case "status":
		return c.status(ctx)
	case "version":
	default:
		return fmt.Errorf("%w: unknown subcommand %q", ErrUsage, sub)
	}
	return c.version(ctx)
}

func (c *CLI) version(ctx context.Context) error {
	v, dirty, err := c.m.Version(ctx)
	if err != nil {
		return err
	}
	switch {
	case v == 0:
		fmt.Fprintln(c.out, "version: none")
	case dirty:
		fmt.Fprintf(c.out, "version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(c.out, "version: %d\n", v)
	}
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.m.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			applied++
			state = "applied"
		}
		if s.Dirty {
			state = "dirty"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}
