package main

import (
	"context"
	"os"
	"time"

	"virtualgo/internal/api"
	"virtualgo/internal/auth"
	"virtualgo/internal/chat"
	"virtualgo/internal/config"
	"virtualgo/internal/llm"
	"virtualgo/internal/memory"
	"virtualgo/internal/redis"
	"virtualgo/internal/session"
	"virtualgo/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfgPath := os.Getenv("VIRTUALGO_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	dbType := os.Getenv("VIRTUALGO_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	tokenTTL := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	sessions := session.NewStore(rdb, tokenTTL)
	authService := auth.NewService(db, sessions)

	provider := cfg.BasicConfig.LLMProvider
	if provider == "" {
		provider = "openai"
	}
	client, err := llm.NewEinoClient(context.Background(), provider, cfg, logger.Named("llm"))
	if err != nil {
		logger.Fatal("init llm client", zap.Error(err))
	}

	store := memory.NewStore(db, rdb, logger.Named("memory"))
	dir := memory.NewDirectory(db, logger.Named("directory"))
	chatService := chat.NewService(store, dir, client, logger.Named("chat"))

	handlers := api.NewHandler(authService, chatService)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logger.Info("listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
