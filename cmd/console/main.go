package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"association-chat/internal/api"
	"association-chat/internal/config"
	"association-chat/internal/console"
	"association-chat/internal/launcher"
	"association-chat/internal/observability"
	"association-chat/internal/push"
	"association-chat/internal/session"
)

const maxLoginAttempts = 3

func main() {
	configPath := flag.String("config", "", "read configuration from this YAML file instead of the environment")
	logout := flag.Bool("logout", false, "forget the stored session and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	storagePath := cfg.StoragePath
	if storagePath == "" {
		if storagePath, err = session.DefaultPath(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(filepath.Dir(storagePath), "console.log")
	}

	logger, closer, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()

	store := session.NewFileStore(storagePath)
	if *logout {
		if err := session.Clear(store); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, store, logger); err != nil {
		if errors.Is(err, console.ErrLoginCancelled) {
			return
		}
		logger.WithError(err).Error("console stopped")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Console, store session.Store, logger *logrus.Logger) error {
	sess, err := session.Load(store)
	if errors.Is(err, session.ErrNoSession) {
		sess, err = login(ctx, cfg, store, logger)
	}
	if err != nil {
		return err
	}

	client := api.New(cfg.BaseURL, api.WithToken(sess.Token), api.WithTimeout(cfg.RequestTimeout))
	if _, err := client.UnreadCount(ctx); api.IsUnauthorized(err) {
		logger.Warn("stored session rejected, signing in again")
		if err := session.Clear(store); err != nil {
			logger.WithError(err).Warn("clear session failed")
		}
		if sess, err = login(ctx, cfg, store, logger); err != nil {
			return err
		}
		client = api.New(cfg.BaseURL, api.WithToken(sess.Token), api.WithTimeout(cfg.RequestTimeout))
	}

	shell := launcher.New(sess, cfg.BaseURL, client,
		launcher.WithUnreadInterval(cfg.UnreadInterval),
		launcher.WithTypingIdle(cfg.TypingIdle),
		launcher.WithPushOptions(push.WithTransports(cfg.Transports...)),
		launcher.WithLogger(logger),
	)
	defer shell.Close()

	if err := shell.Start(ctx); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	logger.WithField("user", sess.User.ID).Info("console started")
	return console.Run(ctx, shell)
}

func login(ctx context.Context, cfg config.Console, store session.Store, logger *logrus.Logger) (session.Session, error) {
	client := api.New(cfg.BaseURL, api.WithTimeout(cfg.RequestTimeout))
	hint := ""
	for attempt := 0; attempt < maxLoginAttempts; attempt++ {
		creds, err := console.PromptLogin(ctx, hint)
		if err != nil {
			return session.Session{}, err
		}
		resp, err := client.Login(ctx, creds.Email, creds.Password)
		if api.IsUnauthorized(err) {
			logger.WithField("email", creds.Email).Warn("login rejected")
			hint = "Invalid email or password"
			continue
		}
		if err != nil {
			return session.Session{}, fmt.Errorf("login: %w", err)
		}
		sess := session.Session{Token: resp.Token, User: resp.User}
		if err := session.Save(store, sess); err != nil {
			logger.WithError(err).Warn("session not persisted")
		}
		return sess, nil
	}
	return session.Session{}, errors.New("too many failed sign-in attempts")
}

func loadConfig(path string) (config.Console, error) {
	if path == "" {
		return config.LoadConsole()
	}
	var cfg config.Console
	if err := config.LoadFromFile(path, &cfg); err != nil {
		return config.Console{}, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}
