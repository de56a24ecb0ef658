// Command netmonitor 监视本机网络的可达性
//
// 用法:
//
//	netmonitor [flags] [target ...]
//
// 参数:
//
//	-config string     配置文件路径（YAML）
//	-backend string    路由监听后端: static, netlink, reachability, auto
//	-log-level string  日志级别: debug, info, warn, error
//	-watch             持续输出网络可用性变化，直到收到 SIGINT/SIGTERM
//
// 不带 -watch 时，读取一次路由信息后检查每个 target 是否可达，
// 有不可达的目标时退出码为 1。
//
// 示例:
//
//	netmonitor -watch
//	netmonitor 127.0.0.1 10.0.0.1:80 '[fe80::1]:443'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	NetMonitor "github.com/songzhibin97/NetMonitor"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "配置文件路径")
	backend := flag.String("backend", "", "路由监听后端: static, netlink, reachability, auto")
	logLevel := flag.String("log-level", "", "日志级别: debug, info, warn, error")
	watch := flag.Bool("watch", false, "持续输出网络可用性变化")
	flag.Parse()

	cfg := NetMonitor.DefaultConfig()
	if *configPath != "" {
		loaded, err := NetMonitor.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := NetMonitor.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := NetMonitor.NewService(ctx, cfg, NetMonitor.WithServiceLogger(logger))
	if err != nil {
		logger.Error("创建服务失败", zap.Error(err))
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("关闭服务失败", zap.Error(err))
		}
	}()

	if *watch {
		if err := watchNetwork(ctx, svc); err != nil {
			logger.Error("监听失败", zap.Error(err))
			return 1
		}
		return 0
	}

	return checkTargets(ctx, svc, logger, flag.Args())
}

func watchNetwork(ctx context.Context, svc *NetMonitor.Service) error {
	monitor := svc.Monitor()
	fmt.Printf("Monitoring via %s\n", svc.Backend())

	sub, err := monitor.Notify(NetMonitor.TopicAll, func(ev NetMonitor.Event) {
		switch ev.Type {
		case NetMonitor.EventAvailabilityChanged:
			printAvailability(ev.Available)
		case NetMonitor.EventRangeAdded:
			fmt.Printf("  + %s\n", ev.Range)
		case NetMonitor.EventRangeRemoved:
			fmt.Printf("  - %s\n", ev.Range)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	printAvailability(monitor.IsAvailable())

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// checkTimeout 等待后端完成首次推送的时间，包含存储的首次同步
const checkTimeout = 10 * time.Second

// checkTargets 等后端完成首次推送后检查可达性
func checkTargets(ctx context.Context, svc *NetMonitor.Service, logger *zap.Logger, targets []string) int {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-svc.Ready():
	case err := <-errCh:
		if err == nil {
			err = ctx.Err()
		}
		logger.Error("读取路由失败", zap.Error(err))
		return 1
	case <-ctx.Done():
		logger.Error("等待路由信息超时", zap.Error(ctx.Err()))
		return 1
	}

	monitor := svc.Monitor()
	printAvailability(monitor.IsAvailable())

	code := 0
	for _, target := range targets {
		if err := monitor.Reachable(target); err != nil {
			fmt.Printf("%s: %v\n", target, err)
			code = 1
			continue
		}
		fmt.Printf("%s: reachable\n", target)
	}

	cancel()
	<-errCh
	return code
}

func printAvailability(available bool) {
	if available {
		fmt.Println("Network is up")
	} else {
		fmt.Println("Network is down")
	}
}
