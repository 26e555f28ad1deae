// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Command typit-matrix runs the typing-race bot: it logs into a Matrix
// homeserver, joins rooms it is invited to, and referees typing races
// in each room it inhabits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/typit-matrix/typit/lib/clock"
	"github.com/typit-matrix/typit/lib/config"
	"github.com/typit-matrix/typit/lib/prompt"
	"github.com/typit-matrix/typit/lib/secret"
	"github.com/typit-matrix/typit/messaging"
	"github.com/typit-matrix/typit/store"
)

const version = "0.3.0"

const spoolRetryInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "typit-matrix: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		envFile     string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", os.Getenv("TYPIT_CONFIG"), "path to the YAML config file")
	pflag.StringVar(&envFile, "env-file", "", "path to a .env file with credentials")
	pflag.BoolVar(&showVersion, "version", false, "print the version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("typit-matrix " + version)
		return nil
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	session, file, err := establishSession(ctx, client, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()
	defer session.CloseIdleConnections()

	logger.Info("session established",
		"homeserver", cfg.Homeserver,
		"user_id", session.UserID(),
		"device_id", session.DeviceID(),
	)

	clk := clock.Real()

	scoreStore, err := store.Open(store.Config{
		Path:      cfg.Database(),
		SpoolPath: filepath.Join(cfg.StateDir, "results.spool"),
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer scoreStore.Close()

	if repaired, err := scoreStore.Reconcile(ctx); err != nil {
		logger.Warn("startup reconcile failed", "error", err)
	} else if len(repaired) > 0 {
		logger.Info("startup reconcile repaired stats", "users", len(repaired))
	}
	go scoreStore.RunSpoolRetry(ctx, spoolRetryInterval)

	prompts, err := loadPrompts(cfg)
	if err != nil {
		return err
	}

	cursor := newSyncCursor(file, sessionFilePath(cfg.StateDir))
	dispatcher := NewDispatcher(session, scoreStore, prompts, clk, cfg.Game, cursor, logger)
	dispatcher.baseCtx = ctx

	filter := buildSyncFilter()
	response, err := initialSync(ctx, session, cursor, filter)
	if err != nil {
		return err
	}
	if cursor.token() == "" {
		// Fresh start: skip the history snapshot so old messages are
		// not replayed as commands, but do pick up pending invites.
		batch := cursor.advance(response)
		dispatcher.acceptInvites(ctx, batch.invites)
		if err := cursor.commit(); err != nil {
			return fmt.Errorf("committing initial sync token: %w", err)
		}
	} else {
		dispatcher.handleBatch(ctx, cursor.advance(response))
	}

	logger.Info("entering sync loop")
	runSyncLoop(ctx, session, cursor, dispatcher, filter, clk, logger)

	logger.Info("shutting down")
	return nil
}

// establishSession restores the saved session if its token is still
// valid, and falls back to a password login otherwise. The returned
// sessionFile reflects the live session and has been persisted.
func establishSession(ctx context.Context, client *messaging.Client, cfg config.Config, logger *slog.Logger) (*messaging.Session, *sessionFile, error) {
	path := sessionFilePath(cfg.StateDir)

	file, err := loadSessionFile(path)
	if err != nil {
		return nil, nil, err
	}
	if file != nil && file.HomeserverURL == cfg.Homeserver {
		session, err := client.SessionFromToken(file.UserID, file.AccessToken)
		if err != nil {
			return nil, nil, err
		}
		if _, err := session.WhoAmI(ctx); err == nil {
			logger.Info("restored saved session", "user_id", file.UserID)
			return session, file, nil
		} else if !messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
			session.Close()
			return nil, nil, fmt.Errorf("validating saved session: %w", err)
		}
		logger.Warn("saved access token rejected, logging in again")
		session.Close()
	}

	username := os.Getenv("TYPIT_USERNAME")
	password := os.Getenv("TYPIT_PASSWORD")
	if username == "" || password == "" {
		return nil, nil, fmt.Errorf("no valid saved session and TYPIT_USERNAME/TYPIT_PASSWORD not set")
	}
	passwordBuffer, err := secret.NewFromBytes([]byte(password))
	if err != nil {
		return nil, nil, fmt.Errorf("protecting password: %w", err)
	}
	defer passwordBuffer.Close()

	session, err := client.Login(ctx, username, passwordBuffer)
	if err != nil {
		return nil, nil, err
	}

	file = &sessionFile{
		HomeserverURL: cfg.Homeserver,
		UserID:        session.UserID(),
		DeviceID:      session.DeviceID(),
		AccessToken:   session.AccessToken(),
	}
	if err := file.save(path); err != nil {
		session.Close()
		return nil, nil, err
	}
	return session, file, nil
}

// loadPrompts returns the configured prompt file, or the built-in set
// when none is configured.
func loadPrompts(cfg config.Config) (prompt.Source, error) {
	if cfg.PromptFile == "" {
		return prompt.Builtin(), nil
	}
	list, err := prompt.LoadFile(cfg.PromptFile)
	if err != nil {
		return nil, err
	}
	return list, nil
}
