// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/sandbox-agent/go-console/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Sandbox 后端
	BackendBaseURL   string `env:"SANDBOX_BACKEND_URL" default:"http://127.0.0.1:7001"`
	ChatTimeoutSec   int    `env:"CHAT_TIMEOUT_SEC" default:"600" min:"1"`
	HistoryTimeout   int    `env:"HISTORY_TIMEOUT_SEC" default:"15" min:"1"`
	RealTimeToolView bool   `env:"REALTIME_TOOL_VIEW" default:"true"`

	// PostgreSQL (历史直读, 可选 — 为空时走后端 REST)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// Gateway (本地渲染端)
	GatewayAddr      string `env:"GATEWAY_ADDR" default:":8090"`
	SSEKeepaliveSec  int    `env:"SSE_KEEPALIVE_SEC" default:"30" min:"5"`
	HistoryPageLimit int    `env:"HISTORY_PAGE_LIMIT" default:"500" min:"1"`

	// 日志
	Env    string `env:"APP_ENV" default:"production"`
	LogDir string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
