// cmd/console — 会话网关主入口: 后端事件流 → 转写引擎 → SSE/WS 推送。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sandbox-agent/go-console/internal/agentapi"
	"github.com/sandbox-agent/go-console/internal/config"
	"github.com/sandbox-agent/go-console/internal/database"
	"github.com/sandbox-agent/go-console/internal/gateway"
	"github.com/sandbox-agent/go-console/internal/store"
	"github.com/sandbox-agent/go-console/pkg/logger"
	"github.com/sandbox-agent/go-console/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.Env)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging disabled", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	// Postgres 可选: 未配置时网关以纯内存模式运行, 历史全部回源后端
	var conversationStore *store.ConversationStore
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		conversationStore = store.NewConversationStore(pool)
	} else {
		logger.Info("postgres not configured, running without local history mirror")
	}

	backend := agentapi.NewClient(cfg)
	manager := gateway.NewManager(cfg, backend, conversationStore)
	srv := gateway.NewServer(cfg, manager)

	util.SafeGo(func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("gateway failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}
