package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 为 migrate 子命令格式化输出
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 设置输出目标
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.output, format, args...)
}

// currentVersion prints the version reached after an operation.
func (c *CLI) currentVersion(ctx context.Context, label string) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	c.printf("%s. Current version: %d\n", label, info.CurrentVersion)
	return nil
}

// RunUp 应用全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	c.printf("Running migrations...\n")
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.currentVersion(ctx, "Migrations complete")
}

// RunDown 回滚最近一次迁移
func (c *CLI) RunDown(ctx context.Context) error {
	c.printf("Rolling back last migration...\n")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.currentVersion(ctx, "Rollback complete")
}

// RunDownAll drops every HRM table. Used by "migrate reset".
func (c *CLI) RunDownAll(ctx context.Context) error {
	c.printf("Rolling back all migrations...\n")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	c.printf("All migrations rolled back.\n")
	return nil
}

// RunSteps 正数前进，负数回滚
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if n >= 0 {
		c.printf("Applying %d migration(s)...\n", n)
	} else {
		c.printf("Rolling back %d migration(s)...\n", -n)
	}
	if err := c.migrator.Steps(ctx, n); err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return c.currentVersion(ctx, "Complete")
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	c.printf("Migrating to version %d...\n", version)
	if err := c.migrator.Goto(ctx, version); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	c.printf("Migration complete. Current version: %d\n", version)
	return nil
}

// RunForce 强制设置版本号
func (c *CLI) RunForce(ctx context.Context, version int) error {
	c.printf("Forcing version to %d...\n", version)
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	c.printf("Version forced to %d\n", version)
	return nil
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if version == 0 {
		c.printf("No migrations applied yet.\n")
		return nil
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	c.printf("Current version: %d%s\n", version, suffix)
	return nil
}

// RunStatus 以表格形式打印每个迁移的状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		c.printf("No migrations found.\n")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "Pending"
		switch {
		case s.Dirty:
			state = "Dirty"
		case s.Applied:
			state = "Applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	w.Flush()

	c.printf("\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}
