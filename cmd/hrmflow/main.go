// =============================================================================
// hrmflow 主入口
// =============================================================================
// 使用方法:
//
//	hrmflow serve --config config.yaml     # 启动服务
//	hrmflow query "design a cache layer"   # 本地执行一次查询
//	hrmflow analyze "what is redis"        # 仅评估复杂度与模式
//	hrmflow status                         # 引擎状态
//	hrmflow migrate up                     # 运行数据库迁移
//	hrmflow health --addr http://localhost:8080
//	hrmflow version
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/api/handlers"
	"github.com/BaSui01/hrmflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func buildInfo() handlers.BuildInfo {
	return handlers.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🎯 命令定义
// =============================================================================

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "hrmflow",
		Short:         "Hierarchical Reasoning Machine: tiered H-L-H tool orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newQueryCmd(opts),
		newAnalyzeCmd(opts),
		newStatusCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
		newHealthCmd(),
	)
	return root
}

// loadConfig 加载并验证配置
func (o *rootOptions) loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, level, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("starting hrmflow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit))

			return NewServer(cfg, opts.configPath, logger, level).Run(cmd.Context())
		},
	}
}

// withRuntime builds a metrics-free runtime for one-shot commands.
func withRuntime(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, rt *runtime) (any, error)) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	// 一次性命令只输出结果，日志默认降到 warn
	cfg.Log.Level = "warn"
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := buildRuntime(cmd.Context(), cfg, logger, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	out, err := fn(cmd.Context(), rt)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: "Run the full pipeline for one query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.engine.Execute(ctx, strings.Join(args, " "))
			})
		},
	}
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <text>",
		Short: "Assess complexity and select a pattern without executing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(_ context.Context, rt *runtime) (any, error) {
				return rt.engine.Analyze(strings.Join(args, " "))
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print engine status from the configured history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.engine.Status(ctx)
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "hrmflow %s\n", Version)
			fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: status %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
