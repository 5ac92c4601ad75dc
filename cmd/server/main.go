package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"schoolchat/internal/chat"
	"schoolchat/internal/config"
	"schoolchat/internal/db"
	"schoolchat/internal/middleware"
	"schoolchat/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	// 2. Connect to Database (platform layer)
	database, err := db.NewDatabase(cfg.DSN, cfg.MaxConns)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database schema initialized")

	// 3. Redis is optional: without it the hub runs in single-node mode.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		log.Println("✅ Connected to Redis")
	} else {
		log.Println("⚠️ REDIS_ADDR not set, running single-node fan-out")
	}

	// 4. Identity gateway
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService)

	// 5. Messaging core
	hub := chat.NewHub(redisClient, cfg.SendBufSize)
	go hub.Run()
	if redisClient != nil {
		go hub.SubscribeToRedis()
	}

	store := chat.NewPostgresStore(database.Conn)
	chatService := chat.NewService(store, userService, hub)
	chatHandler := chat.NewHandler(chatService, hub)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Handle("/metrics", promhttp.Handler())

	// Protected (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		// WebSocket (realtime)
		r.Get("/ws", chatHandler.ServeWs)

		r.Route("/api", chatHandler.Routes)
	})

	log.Printf("🚀 Server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal(err)
	}
}
