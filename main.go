package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/tierhub/internal/cleaner"
	"github.com/any-hub/tierhub/internal/config"
	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metadata"
	"github.com/any-hub/tierhub/internal/registry"
	"github.com/any-hub/tierhub/internal/server"
	"github.com/any-hub/tierhub/internal/server/routes"
	"github.com/any-hub/tierhub/internal/uplink"
	"github.com/any-hub/tierhub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

// maintenanceOptions 是 sync/clean 子命令的参数。
type maintenanceOptions struct {
	name     string
	versions []string
	uplink   string
	tarball  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}

// exitError 携带子命令已经算好的退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCodeForError(err error) int {
	if exit, ok := err.(*exitError); ok {
		return exit.code
	}
	fmt.Fprintln(stdErr, err.Error())
	return 2
}

func codeErr(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

func newRootCommand() *cobra.Command {
	var (
		configFlag string
		opts       cliOptions
	)

	cmd := &cobra.Command{
		Use:           "tierhub",
		Short:         "Tiered npm package store with uplink sync and clean",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.configPath = config.ResolvePath(configFlag)
			return codeErr(run(opts))
		},
	}
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TIERHUB_CONFIG 覆盖）")
	cmd.Flags().BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	cmd.Flags().BoolVar(&opts.showVersion, "version", false, "显示版本信息")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return codeErr(run(cliOptions{configPath: config.ResolvePath(configFlag)}))
		},
	})
	cmd.AddCommand(newMaintenanceCommand("sync", "从 uplink 同步包元数据与 tarball", &configFlag, runSync))
	cmd.AddCommand(newMaintenanceCommand("clean", "清理本地存储中的包或版本", &configFlag, runClean))
	return cmd
}

func newMaintenanceCommand(use, short string, configFlag *string, runner func(string, maintenanceOptions) int) *cobra.Command {
	var opts maintenanceOptions
	cmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.name = args[0]
			return codeErr(runner(config.ResolvePath(*configFlag), opts))
		},
	}
	cmd.Flags().StringSliceVar(&opts.versions, "version", nil, "版本号，可重复；all 表示全部版本")
	if use == "sync" {
		cmd.Flags().StringVar(&opts.uplink, "uplink", "", "命名上游或上游地址，默认使用配置中的 uplink")
		cmd.Flags().BoolVar(&opts.tarball, "tarball", false, "同时同步 tarball")
	}
	return cmd
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, logger, code := loadConfig(opts.configPath)
	if code != 0 {
		return code
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["remote_backend"] = cfg.Remote.Backend
		fields["private_packages"] = cfg.Global.PrivatePackages
		fields["uplinks"] = cfg.UplinkNames()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动遵循“配置 → 双层存储 → 维护组件 → Fiber server”顺序，
	// 保证所有请求共享同一把包锁、同一个指标注册表。
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化存储失败: %v\n", err)
		return 1
	}
	defer rt.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_path"] = cfg.Maintenance.StorePath
	fields["remote_backend"] = cfg.Remote.Backend
	fields["uplinks"] = cfg.UplinkNames()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, *logrus.Logger, int) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return nil, nil, 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return nil, nil, 1
	}
	return cfg, logger, 0
}

func parseVersions(raw []string) (metadata.VersionFilter, error) {
	if len(raw) == 0 {
		return metadata.VersionFilter{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid name or version")
	}
	if len(raw) == 1 && raw[0] == "all" {
		return metadata.AllVersions(), nil
	}
	return metadata.Only(raw...), nil
}

// runSync 离线执行一次同步，不启动 HTTP 服务。
func runSync(configPath string, opts maintenanceOptions) int {
	cfg, logger, code := loadConfig(configPath)
	if code != 0 {
		return code
	}
	filter, err := parseVersions(opts.versions)
	if err != nil {
		fmt.Fprintf(stdErr, "sync failed: %s\n", uplink.Message(err))
		return 2
	}

	m, err := newMaintenance(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stdErr, "sync failed: %v\n", err)
		return 1
	}
	err = m.Sync(context.Background(), uplink.Request{
		Name:        opts.name,
		Versions:    filter,
		Uplink:      opts.uplink,
		SyncTarball: opts.tarball,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "sync failed: %s\n", uplink.Message(err))
		return maintenanceExitCode(err)
	}
	fmt.Fprintln(stdOut, "sync success")
	return 0
}

// runClean 离线执行一次清理。
func runClean(configPath string, opts maintenanceOptions) int {
	cfg, logger, code := loadConfig(configPath)
	if code != 0 {
		return code
	}
	filter, err := parseVersions(opts.versions)
	if err != nil {
		fmt.Fprintf(stdErr, "clean failed: %s\n", uplink.Message(err))
		return 2
	}

	m, err := newMaintenance(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stdErr, "clean failed: %v\n", err)
		return 1
	}
	if err := m.Clean(context.Background(), cleaner.Request{Name: opts.name, Versions: filter}); err != nil {
		fmt.Fprintf(stdErr, "clean failed: %s\n", uplink.Message(err))
		return maintenanceExitCode(err)
	}
	fmt.Fprintln(stdOut, "clean success")
	return 0
}

func maintenanceExitCode(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return 2
	case errbuilder.CodeNotFound:
		return 3
	default:
		return 1
	}
}

func startHTTPServer(ctx context.Context, cfg *config.Config, rt *runtimeDeps, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Metrics:    rt.metrics,
		Packages:   registry.NewHandler(rt.db, logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterMaintenanceRoutes(app, rt.maintenance)
	routes.RegisterDiagnosticsRoutes(app, rt.metrics)

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
