// Package app wires storage, services, and the HTTP surface into a runnable
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/palaverhq/palaver/internal/auth/api/web"
	"github.com/palaverhq/palaver/internal/auth/ceremony"
	"github.com/palaverhq/palaver/internal/auth/passkey"
	"github.com/palaverhq/palaver/internal/auth/session"
	"github.com/palaverhq/palaver/internal/auth/storage"
	"github.com/palaverhq/palaver/internal/auth/storage/kvmem"
	"github.com/palaverhq/palaver/internal/auth/storage/kvredis"
	authsqlite "github.com/palaverhq/palaver/internal/auth/storage/sqlite"
	"github.com/palaverhq/palaver/internal/forum/message"
	messagesqlite "github.com/palaverhq/palaver/internal/forum/message/sqlite"
	"github.com/palaverhq/palaver/internal/forum/objstore"
	"github.com/palaverhq/palaver/internal/forum/uploadgrant"
	"github.com/palaverhq/palaver/internal/platform/config"
	"github.com/palaverhq/palaver/internal/platform/obs"
)

// Config holds server configuration.
type Config struct {
	HTTPAddr       string `env:"PALAVER_HTTP_ADDR"        envDefault:"localhost:8080"`
	AuthDBPath     string `env:"PALAVER_AUTH_DB_PATH"     envDefault:"palaver-auth.db"`
	MessagesDBPath string `env:"PALAVER_MESSAGES_DB_PATH" envDefault:"palaver-messages.db"`

	Redis kvredis.Config
}

// LoadConfigFromEnv reads server configuration.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the server and blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	logger := log.Default()

	authStore, err := authsqlite.Open(cfg.AuthDBPath)
	if err != nil {
		return fmt.Errorf("open auth store: %w", err)
	}
	defer func() { _ = authStore.Close() }()

	messageStore, err := messagesqlite.Open(cfg.MessagesDBPath)
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	defer func() { _ = messageStore.Close() }()

	// Redis backs challenges and sessions when configured. A single-process
	// deployment falls back to the in-memory store, at the cost of sessions
	// not surviving restarts.
	var kv storage.KV
	if cfg.Redis.Addr != "" {
		redisStore, err := kvredis.Open(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		defer func() { _ = redisStore.Close() }()
		kv = redisStore
		logger.Printf("ephemeral store: redis at %s", cfg.Redis.Addr)
	} else {
		kv = kvmem.New()
		logger.Print("ephemeral store: in-memory")
	}

	passkeyConfig := passkey.LoadConfigFromEnv()
	sessions := session.NewManager(authStore, kv)
	ceremonies := ceremony.NewService(authStore, authStore, kv, sessions, passkeyConfig)
	authServer := web.NewServer(passkeyConfig, ceremonies, sessions, authStore, authStore, logger)

	messages, err := buildMessageService(ctx, messageStore, logger)
	if err != nil {
		return err
	}
	messageAPI := message.NewAPI(messages, authServer.Authenticate, logger)

	obs.Init()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           authServer.Handler(messageAPI.RegisterRoutes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// buildMessageService assembles messaging with optional attachment support.
// Without S3 and grant configuration the forum still runs with inline-only
// messages.
func buildMessageService(ctx context.Context, store message.Store, logger *log.Logger) (*message.Service, error) {
	grants, grantErr := uploadgrant.LoadConfigFromEnv(nil)

	objCfg, err := objstore.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if objCfg.Validate() != nil || grantErr != nil {
		logger.Print("attachments disabled: object storage or upload grants not configured")
		return message.NewService(store, nil, grants, nil), nil
	}

	objects, err := objstore.New(ctx, objCfg)
	if err != nil {
		return nil, fmt.Errorf("build object storage client: %w", err)
	}
	return message.NewService(store, objects, grants, objstore.NewObjectKey), nil
}
