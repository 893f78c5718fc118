package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/autoheaven/auth-service/internal/config"
	"github.com/autoheaven/auth-service/internal/events"
	"github.com/autoheaven/auth-service/internal/handlers"
	"github.com/autoheaven/auth-service/internal/logging"
	"github.com/autoheaven/auth-service/internal/mail"
	authmw "github.com/autoheaven/auth-service/internal/middleware/auth"
	"github.com/autoheaven/auth-service/internal/pending"
	"github.com/autoheaven/auth-service/internal/repo"
	"github.com/autoheaven/auth-service/internal/service"
	"github.com/autoheaven/auth-service/internal/tokens"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LOG_LEVEL)

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	var producer *events.Producer
	if cfg.KAFKA_ADDRESS != "" {
		producer = events.NewProducer([]string{cfg.KAFKA_ADDRESS}, "user_events")
	}

	userRepo := &repo.UserRepo{DB: db}
	issuer := tokens.NewIssuer(
		[]byte(cfg.ACCESS_SECRET),
		[]byte(cfg.REFRESH_SECRET),
		cfg.ACCESS_TOKEN_TTL,
		cfg.REFRESH_TOKEN_TTL,
	)
	pendingStore := pending.NewInMemory(cfg.PENDING_TTL)
	mailer := mail.NewSMTPSender(cfg.SMTP_HOST, cfg.SMTP_PORT, cfg.SMTP_USER, cfg.SMTP_PASSWORD, cfg.EMAIL_FROM)

	authSvc := &service.AuthService{
		Repo:        userRepo,
		Issuer:      issuer,
		Pending:     pendingStore,
		Mailer:      mailer,
		FrontendURL: cfg.FRONTEND_URL,
		ResetTTL:    cfg.RESET_TOKEN_TTL,
	}
	if producer != nil {
		authSvc.Events = producer
	}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(logging.RequestLogger(logger))

	handlers.Register(e, &handlers.Deps{
		AuthHandler: &handlers.AuthHandler{Svc: authSvc, CookieSecure: cfg.COOKIE_SECURE},
		UserHandler: &handlers.UserHandler{Repo: userRepo},
		AuthMW:      &authmw.Middleware{Issuer: issuer, Repo: userRepo},
	})

	srv := &http.Server{
		Addr:         cfg.HTTP_ADDR,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	pendingStore.Close()

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("kafka close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}
