package main

import (
	"log"
	"os"
	"time"

	"tribeat/internal/api"
	"tribeat/internal/auth"
	"tribeat/internal/channel"
	"tribeat/internal/config"
	"tribeat/internal/redis"
	"tribeat/internal/service/live"
	"tribeat/internal/service/session"
	"tribeat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("TRIBEAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("TRIBEAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, sessions, participants, live states
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// A missing redis degrades to the in-process channel hub: single-node
	// fan-out keeps working, and state reads fall through to the database.
	var (
		rdb       *redis.Client
		transport channel.Transport
	)
	rdb, err = redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running with local channel hub: %v", err)
		rdb = nil
		transport = channel.NewLocalTransport()
	} else {
		defer rdb.Close()
		transport, err = channel.NewRedisTransport(rdb)
		if err != nil {
			log.Fatalf("create channel transport: %v", err)
		}
	}

	sessionService := session.NewService(db)
	authService := auth.NewService(db, 24*time.Hour)
	router := live.NewRouter(sessionService, rdb, transport, cfg.Live.DefaultVolume)
	defer router.Shutdown()
	handlers := api.NewHandler(sessionService, authService, router, transport)

	engine := gin.Default()
	handlers.RegisterRoutes(engine)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := engine.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
