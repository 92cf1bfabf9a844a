// Package main 提供 btpnips 节点命令行入口
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	btpnips "github.com/dep2p/go-btpnips"
	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
)

var logger = log.Logger("btpnips/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 命令行参数：运行时覆盖（「这次运行」想怎么跑）
// 配置文件：持久化配置（JSON 或 YAML，按扩展名判断）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile     = flag.String("config", "", "配置文件路径（.json / .yaml）")
	identityFile   = flag.String("identity", "", "身份密钥文件路径")
	listenAddr     = flag.String("listen", "", "传输层监听地址，例如 :7447")
	endpoint       = flag.String("endpoint", "", "对外公告的传输端点，例如 ws://host:7447/btp")
	dataDir        = flag.String("data-dir", "", "数据目录")
	inMemory       = flag.Bool("in-memory", false, "使用内存存储（数据不持久化）")
	requirePayment = flag.Bool("require-payment", false, "发布事件必须携带有效支付声明")
	metricsAddr    = flag.String("metrics", "", "启用观测服务并监听该地址")
	logLevel       = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	printConfig    = flag.Bool("print-config", false, "打印生效配置后退出")
	showVersion    = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(btpnips.VersionInfo())
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}
	applyFlags(cfg)

	if *printConfig {
		data, err := cfg.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("启动 btpnips 节点", "version", btpnips.Version, "commit", btpnips.GitCommit)
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := btpnips.Start(startCtx, btpnips.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}

	printNodeInfo(n)
	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()
	fmt.Println("\n正在关闭节点...")
	return n.Close()
}

func printNodeInfo(n *btpnips.Node) {
	fmt.Printf("📦 %s\n", btpnips.VersionInfo())
	fmt.Printf("  公钥:     %s\n", n.ID())
	fmt.Printf("  ILP 地址: %s\n", n.ILPAddress())
	if addr := n.ListenAddr(); addr != "" {
		fmt.Printf("  监听:     %s\n", addr)
	}
}

func loadConfig() (*config.Config, error) {
	if *configFile == "" {
		return config.NewConfig(), nil
	}
	return config.Load(*configFile)
}

// applyFlags 命令行参数覆盖配置文件
func applyFlags(cfg *config.Config) {
	if *identityFile != "" {
		cfg.Identity.KeyFile = *identityFile
	}
	if *listenAddr != "" {
		cfg.Transport.ListenAddr = *listenAddr
	}
	if *endpoint != "" {
		cfg.Discovery.Endpoint = *endpoint
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *inMemory {
		cfg.Storage.InMemory = true
	}
	if *requirePayment {
		cfg.Protocol.RequirePayment = true
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
}

func setupLogging(lc config.LogConfig) (func(), error) {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if lc.File == "" {
		log.Setup(os.Stderr, lc.Format, level)
		return func() {}, nil
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	log.Setup(f, lc.Format, level)
	return func() { _ = f.Close() }, nil
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}
