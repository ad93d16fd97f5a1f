package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"weexagent/internal/app"
	"weexagent/internal/config"
	"weexagent/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("读取 .env 失败: %v", err)
	}
	cfgPath := os.Getenv("CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	oracleFile, err := setupOracleLogOutput(cfg.App.OracleLogPath)
	if err != nil {
		log.Fatalf("初始化 oracle 日志失败: %v", err)
	}
	if oracleFile != nil {
		defer oracleFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，合约=%s）", cfg.App.Env, cfg.Stream.Symbol)

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := application.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("已退出")
}

func setupLogOutput(path string) (*os.File, error) {
	file, err := openAppend(path)
	if err != nil || file == nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupOracleLogOutput(path string) (*os.File, error) {
	file, err := openAppend(path)
	if err != nil || file == nil {
		return nil, err
	}
	logger.SetOracleWriter(file)
	return file, nil
}

func openAppend(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
