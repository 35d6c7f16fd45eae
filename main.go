package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"ringtalk/internal/api"
	"ringtalk/internal/config"
	"ringtalk/internal/logger"
	"ringtalk/internal/redis"
	"ringtalk/internal/service/ai"
	"ringtalk/internal/service/call"
	"ringtalk/internal/service/directory"
	"ringtalk/internal/service/speech"
	"ringtalk/internal/storage"
)

func main() {
	log, err := logger.New(os.Getenv("RINGTALK_MODE"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfgPath := os.Getenv("RINGTALK_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("load config", "error", err)
	}

	dbType := os.Getenv("RINGTALK_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal("open database", "error", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatal("migrate database", "error", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("create redis client", "error", err)
	}
	if rdb.Enabled() {
		defer rdb.Close()
	} else {
		log.Info("redis not configured, call cache disabled")
	}

	generator, err := ai.FromConfig(cfg)
	if err != nil {
		log.Fatal("init response generator", "error", err)
	}
	if _, canned := generator.(*ai.CannedGenerator); canned {
		log.Warn("no AI provider credential configured, using canned responses")
	} else {
		log.Info("response generation enabled", "provider", cfg.BasicConfig.Provider)
	}

	users := directory.NewService(db, log)
	timeout := time.Duration(cfg.BasicConfig.ExternalCallTimeout) * time.Second
	calls := call.NewService(db, users, generator,
		speech.StaticTranscriber{}, speech.NoopSynthesizer{}, rdb, timeout, log)

	router := gin.Default()
	router.Use(cors.Default())
	api.NewHandler(users, calls).RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":5000"
	}
	log.Info("listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal("server stopped", "error", err)
	}
}
