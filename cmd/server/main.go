package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sshcollectorpro/netdev/api/router"
	"github.com/sshcollectorpro/netdev/internal/config"
	"github.com/sshcollectorpro/netdev/internal/database"
	"github.com/sshcollectorpro/netdev/internal/service"
	"github.com/sshcollectorpro/netdev/pkg/logger"
	"github.com/sshcollectorpro/netdev/simulate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.With("version", router.Version, "config", cfg.File()).Info("Starting netdev server")

	prof := strings.TrimSpace(cfg.Executor.ConcurrencyProfile)
	if prof != "" {
		logger.With("profile", prof, "workers", cfg.Executor.Concurrent).Info("Concurrency profile applied")
	} else {
		logger.With("workers", cfg.Executor.Concurrent).Info("Concurrency set by numeric value")
	}

	// 初始化数据库（仅在开启历史记录时）
	if cfg.Executor.PersistHistory {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.With("error", err).Fatal("Failed to initialize database")
		}
		defer database.Close()
	}

	// 创建会话执行服务
	storage := service.NewStorageWriter(cfg.Storage)
	sessionService := service.NewSessionService(cfg, database.GetDB(), storage)
	defer sessionService.Stop()

	// 启动模拟服务（可选）
	sim := &simulator{}
	if cfg.Simulate.Enable {
		sim.start(cfg.Simulate.ConfigPath)
	}
	defer sim.stop()

	// 设置路由
	r := router.SetupRouter(cfg, sessionService)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// 启动服务器
	go func() {
		logger.With("addr", server.Addr, "mode", cfg.Server.Mode).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.With("error", err).Fatal("Failed to start server")
		}
	}()

	// 配置文件监听：日志与模拟器开关热更新，其余项需重启生效
	go watchFile(cfg.File(), func() {
		newCfg, err := config.Load(cfg.File())
		if err != nil {
			logger.With("error", err).Warn("Config reload failed")
			return
		}
		if err := logger.Init(newCfg.Log); err != nil {
			logger.With("error", err).Warn("Logger reload failed")
		}
		logger.With("level", newCfg.Log.Level).Info("Config reloaded")
		switch {
		case newCfg.Simulate.Enable && !sim.running():
			sim.start(newCfg.Simulate.ConfigPath)
		case !newCfg.Simulate.Enable && sim.running():
			sim.stop()
			logger.Info("Simulate: stopped by config reload")
		}
	})

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.With("error", err).Error("Server forced to shutdown")
	} else {
		logger.Info("Server shutdown complete")
	}
}

// simulator 内置模拟器的启停状态
type simulator struct {
	mu  sync.Mutex
	srv *simulate.Server
}

func (s *simulator) start(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return
	}
	if path == "" {
		path = "configs/simulate.yaml"
	}
	sc, err := simulate.LoadConfig(path)
	if err != nil {
		logger.With("path", path, "error", err).Warn("Simulate: failed to load config, skip starting")
		return
	}
	srv, err := simulate.Start(sc)
	if err != nil {
		logger.With("error", err).Warn("Simulate: failed to start")
		return
	}
	s.srv = srv
	logger.With("ssh", srv.Addr(), "telnet", srv.TelnetAddr(), "devices", len(sc.Devices)).Info("Simulate: started")
}

func (s *simulator) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		s.srv.Stop()
		s.srv = nil
	}
}

func (s *simulator) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// watchFile 监听文件变更，300ms 去抖后触发回调
func watchFile(path string, trigger func()) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.With("error", err).Warn("Config watch init failed")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.With("path", path, "error", err).Warn("Config watch add failed")
		return
	}
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.With("error", err).Warn("Config watch error")
		}
	}
}
