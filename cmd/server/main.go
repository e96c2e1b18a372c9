package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collaborative-table-editor/auth"
	"collaborative-table-editor/internal/config"
	"collaborative-table-editor/internal/db"
	"collaborative-table-editor/internal/domain"
	"collaborative-table-editor/internal/middleware"
	"collaborative-table-editor/internal/table"
	"collaborative-table-editor/internal/user"
	"collaborative-table-editor/internal/worker"
	"collaborative-table-editor/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("error connecting to db %v", err)
	}
	defer db.Close(database)

	// Migrate database schema
	db.Migrate(database)

	// Seed database with initial data (for development)
	db.SeedData(database)

	// Initialize Redis-backed session store
	redisClient := redis.NewClient(cfg.RedisAddress)
	sessions := redis.NewSessionStore(redisClient)

	// Background pool for retirement and cleanup work
	pool := worker.NewPool(4)
	defer pool.Shutdown()

	// Authentication
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.SessionTTL, sessions)

	// Repositories and services
	userRepo := user.NewRepository(database)
	userService := user.NewService(userRepo)
	tableRepo := table.NewRepository(database)

	// Domain registry: the single arbiter for session lifecycle
	domainContext := domain.NewContext(tableRepo, pool, cfg.SubscriberQueueSize)
	defer domainContext.Shutdown()

	// Expired sessions drop the user from every domain they are in
	authenticator.OnExpired(func(a auth.Authentication) {
		domainContext.DropUser(a.UserID, domain.ReasonClosed)
	})

	// Handlers
	userHandler := user.NewHandler(userService, authenticator)
	domainHandler := domain.NewHandler(domainContext)

	// Initialize Gin router
	router := gin.Default()

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if cfg.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{cfg.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandler())

	authed := router.Group("/", auth.Middleware(authenticator))

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	authed.DELETE("/logout", userHandler.Logout)
	authed.GET("/profile", userHandler.GetProfile)

	// Event subscription (websocket)
	authed.GET("/subscribe", domainHandler.Subscribe)

	// Domain routes
	authed.GET("/metadata/:databaseID", domainHandler.GetMetaData)
	authed.POST("/domains", domainHandler.Create)
	authed.DELETE("/domains/:id", domainHandler.Delete)
	authed.POST("/domains/:id/users", domainHandler.Join)
	authed.DELETE("/domains/:id/users", domainHandler.Leave)
	authed.POST("/domains/:id/rows", domainHandler.NewRows)
	authed.PUT("/domains/:id/rows", domainHandler.SetRows)
	authed.DELETE("/domains/:id/rows", domainHandler.RemoveRows)
	authed.PUT("/domains/:id/properties/:name", domainHandler.SetProperty)
	authed.PUT("/domains/:id/location", domainHandler.SetUserLocation)
	authed.POST("/domains/:id/edit", domainHandler.BeginUserEdit)
	authed.DELETE("/domains/:id/edit", domainHandler.EndUserEdit)
	authed.PUT("/domains/:id/owner", domainHandler.SetOwner)
	authed.POST("/domains/:id/kick", domainHandler.Kick)

	// Server configuration
	serverPort := cfg.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
