package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/minihongo/minihongo-agent/internal/agent"
	"github.com/minihongo/minihongo-agent/internal/config"
	"github.com/minihongo/minihongo-agent/internal/logging"
	"github.com/minihongo/minihongo-agent/internal/server"
	"github.com/minihongo/minihongo-agent/internal/server/routes"
	"github.com/minihongo/minihongo-agent/internal/store"
	"github.com/minihongo/minihongo-agent/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["version"] = cfg.Global.Version
		fields["precache"] = len(cfg.ExpandPrecache())
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	responseStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer responseStore.Close()

	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		fmt.Fprintf(stdErr, "解析源站地址失败: %v\n", err)
		return 1
	}

	httpClient := server.NewOriginClient(cfg)

	// 启动遵循“配置 → 存储 → Agent install/activate → Fiber server”顺序：
	// Agent 激活完成（旧代际已清扫）之后才开始接收流量。
	cacheAgent, err := agent.New(agent.Options{
		Version:         cfg.Global.Version,
		MaxAge:          cfg.Global.MaxAge.DurationValue(),
		FragmentTimeout: cfg.Global.FragmentTimeout.DurationValue(),
		FragmentMarker:  cfg.Global.FragmentMarker,
		Precache:        cfg.ExpandPrecache(),
		PrecacheMode:    cfg.Global.Mode(),
		Origin:          origin,
		Store:           responseStore,
		Client:          httpClient,
		Logger:          logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建缓存代理失败: %v\n", err)
		return 1
	}

	if err := cacheAgent.Install(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "缓存代理安装失败: %v\n", err)
		return 1
	}
	if err := cacheAgent.Activate(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "缓存代理激活失败: %v\n", err)
		return 1
	}

	runtime := server.NewRuntime()
	runtime.Swap(cacheAgent)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["cache_version"] = cfg.Global.Version
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["precache"] = len(cfg.ExpandPrecache())
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, runtime, httpClient, origin, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}

	cacheAgent.Close()
	return 0
}

// openStore 根据配置选择存储后端。
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Global.StoreBackend {
	case "leveldb":
		return store.NewLevelStore(cfg.Global.StoragePath)
	default:
		return store.NewMemoryStore(), nil
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("minihongo-agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MINIHONGO_AGENT_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MINIHONGO_AGENT_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	runtime *server.Runtime,
	httpClient *http.Client,
	origin *url.URL,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	passthrough := server.NewPassthrough(httpClient, origin, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Runtime:     runtime,
		Passthrough: passthrough,
		ListenPort:  port,
	})
	if err != nil {
		return err
	}
	routes.RegisterAgentRoutes(app, runtime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
