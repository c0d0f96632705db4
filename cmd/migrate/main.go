// cmd/migrate — 独立迁移入口: 连接 Postgres 并应用 migrations/ 下的脚本。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sandbox-agent/go-console/internal/config"
	"github.com/sandbox-agent/go-console/internal/database"
	"github.com/sandbox-agent/go-console/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Env)

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, "migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migration complete")
}
