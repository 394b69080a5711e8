package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"UberPickups/src/app"
	"UberPickups/src/config"
	"UberPickups/src/dataset"
	"UberPickups/src/datasource/file"
	"UberPickups/src/datasource/remote"
	"UberPickups/src/storage"
	"UberPickups/src/web"
)

// 会话空闲超过该时间后清理
const sessionIdle = time.Hour

func newServeCmd(rt *runtime) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动Web服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				rt.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rt.cfg, rt.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址，默认取配置 server.addr")
	return cmd
}

// runServe 运行到 ctx 结束
func runServe(ctx context.Context, cfg *config.Config, logger *storage.Logger) error {
	loader, err := newLoader(cfg, logger)
	if err != nil {
		return err
	}
	sessions := app.NewRegistry(sessionOptions(cfg))
	server := web.NewServer(loader, sessions, logger, web.Options{
		RowLimit: cfg.Source.RowLimit,
		RawRows:  cfg.Server.RawRows,
	})

	c, err := startJobs(cfg, loader, sessions, logger)
	if err != nil {
		return err
	}
	defer c.Stop()

	reopenOnHangup(ctx, logger, cfg.LogName)

	if cfg.Refresh.Watch {
		stopWatch, err := watchSource(ctx, loader, logger)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", cfg.Server.Addr, err)
	}

	httpSrv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// 退出时取消所有请求，/logs 的长连接随之结束
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()
	logger.Info(fmt.Sprintf("服务已启动: http://%s (数据: %s，行数: %d)", ln.Addr(), cfg.Source.URL, cfg.Source.RowLimit))

	// 预热缓存，失败时页面请求会再次尝试
	go func() {
		if _, err := loader.Load(ctx, cfg.Source.RowLimit); err != nil {
			logger.Warning("预加载数据失败: " + err.Error())
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// startJobs 定时刷新缓存并清理空闲会话
func startJobs(cfg *config.Config, loader *dataset.Loader, sessions *app.Registry, logger *storage.Logger) (*cron.Cron, error) {
	c := cron.New()

	if cfg.Refresh.Schedule != "" {
		err := c.AddFunc(cfg.Refresh.Schedule, func() {
			logger.Info(fmt.Sprintf("开始定时刷新(%s)...", cfg.Refresh.Schedule))
			t1 := time.Now()
			if _, err := loader.Reload(context.Background(), cfg.Source.RowLimit); err != nil {
				logger.Error("定时刷新失败: " + err.Error())
				return
			}
			// 其他行数的缓存直接丢弃，下次使用时再加载
			for _, k := range loader.Cache().Keys() {
				if k != cfg.Source.RowLimit {
					loader.Cache().Invalidate(k)
				}
			}
			logger.Info(fmt.Sprintf("刷新完成，耗时 %v", time.Since(t1)))
		})
		if err != nil {
			return nil, fmt.Errorf("创建定时任务失败: %w", err)
		}
	}

	err := c.AddFunc("@every 10m", func() {
		if n := sessions.Expire(sessionIdle); n > 0 {
			logger.Debug(fmt.Sprintf("清理空闲会话 %d 个", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("创建定时任务失败: %w", err)
	}

	c.Start()
	return c, nil
}

// watchSource 本地数据文件变更时清空缓存
func watchSource(ctx context.Context, loader *dataset.Loader, logger *storage.Logger) (func(), error) {
	src, ok := loader.Source().(*remote.FileSource)
	if !ok {
		logger.Warning("refresh.watch 只对本地数据文件生效，已忽略")
		return func() {}, nil
	}

	monitor, err := file.NewFileMonitor(src.Path())
	if err != nil {
		return nil, fmt.Errorf("监控数据文件失败: %w", err)
	}

	go func() {
		err := monitor.Watch(ctx, func(name string) {
			loader.Cache().Reset()
			logger.Info("数据文件已更新，缓存已清空: " + name)
		})
		if err != nil {
			logger.Error("文件监控出错: " + err.Error())
		}
	}()

	return func() { monitor.Close() }, nil
}

// reopenOnHangup 收到 SIGHUP 时重新打开日志文件
func reopenOnHangup(ctx context.Context, logger *storage.Logger, filename string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := logger.Reopen(filename); err != nil {
					logger.Error("重新打开日志文件失败: " + err.Error())
					continue
				}
				logger.Info("日志文件已重新打开: " + filename)
			}
		}
	}()
}
