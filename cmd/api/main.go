package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/config"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/db"
	"github.com/PaulBabatuyi/marketchat/internal/logging"
	"github.com/PaulBabatuyi/marketchat/internal/normalize"
	"github.com/PaulBabatuyi/marketchat/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "marketchat"

// tokenLifetime applies to tokens minted with -issue-token; verification
// honours whatever expiry the issuer set.
const tokenLifetime = 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	issueFor := flag.String("issue-token", "", "Print a signed token for this email and exit (needs jwt.secret or jwt.keys)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		if err := issueToken(os.Stdout, cfg, *issueFor); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.NewLogger(serviceName, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initialize dependencies", zap.Error(err))
	}
	defer cleanup()

	srv := newServer(cfg, logger, d)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
}

// buildDeps opens the message store, the file store and the token verifier
// selected by cfg. cleanup releases whatever was opened.
func buildDeps(ctx context.Context, cfg config.Config, log *zap.Logger) (deps, func(), error) {
	var d deps
	cleanup := func() {}

	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory message store; history is lost on restart")
		d.store = data.NewMemoryStore()
	default:
		client, err := db.New(ctx, cfg.MongoDB.URI, db.Options{
			Database:       cfg.MongoDB.Database,
			ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		})
		if err != nil {
			return d, cleanup, err
		}
		cleanup = func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}
		if err := client.CreateIndexes(ctx); err != nil {
			cleanup()
			return d, func() {}, err
		}
		d.store = data.NewMessagesStore(client.MessagesCollection())
		d.backend = client
	}

	files, err := newFileStore(ctx, cfg)
	if err != nil {
		cleanup()
		return d, func() {}, err
	}
	d.files = files

	d.jwt, err = newJWTManager(cfg)
	if err != nil {
		cleanup()
		return d, func() {}, err
	}
	if d.jwt == nil {
		log.Warn("token auth disabled; clients may announce any identity")
	}
	return d, cleanup, nil
}

func newFileStore(ctx context.Context, cfg config.Config) (storage.FileStore, error) {
	if cfg.Uploads.Driver == "s3" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicURL:       cfg.S3.PublicURL,
			Prefix:          cfg.S3.Prefix,
		})
	}
	return storage.NewLocalStore(cfg.Uploads.Dir, cfg.Uploads.PublicURL)
}

// newJWTManager returns nil when neither jwt.keys nor jwt.secret is set.
// jwt.keys enables kid-based rotation and wins over jwt.secret.
func newJWTManager(cfg config.Config) (*auth.JWTManager, error) {
	if !cfg.AuthEnabled() {
		return nil, nil
	}
	if cfg.JWT.Keys != "" {
		keys, err := cfg.JWTKeys()
		if err != nil {
			return nil, err
		}
		return auth.NewJWTManagerFromKeys(keys, cfg.JWT.ActiveKid, tokenLifetime), nil
	}
	return auth.NewJWTManager(cfg.JWT.Secret, tokenLifetime), nil
}

// issueToken mints a token for email with the configured keys so operators can
// connect to an auth-enabled node without the identity service.
func issueToken(w io.Writer, cfg config.Config, email string) error {
	email = normalize.Email(email)
	if email == "" {
		return errors.New("email is required")
	}
	j, err := newJWTManager(cfg)
	if err != nil {
		return err
	}
	if j == nil {
		return auth.ErrNoKeys
	}

	token, expiresAt, err := j.GenerateToken(email, email)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(struct {
		Email     string    `json:"email"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}{email, token, expiresAt})
}
