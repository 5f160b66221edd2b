package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cuongbtq/briefcast/internal/bootstrap"
	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/store"
	"github.com/cuongbtq/briefcast/shared/objectstore"
	"github.com/cuongbtq/briefcast/shared/postgresql"
	"github.com/cuongbtq/briefcast/shared/rabbitmq"
)

// commandContext lazily opens the clients a command needs and closes them
// once the command returns
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error

	db     *postgresql.Client
	rabbit *rabbitmq.Client
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, *slog.Logger, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = bootstrap.ConfigPath("PIPELINECTL_CONFIG_PATH", "scheduler-service")
		}
		cfg, err := bootstrap.LoadConfig(path, (*config.Config).Validate)
		if err != nil {
			c.configErr = err
			return
		}
		appLogger, err := bootstrap.NewLogger(cfg)
		if err != nil {
			c.configErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		c.config = cfg
		c.logger = appLogger.Logger
	})
	return c.config, c.logger, c.configErr
}

func (c *commandContext) database() (*postgresql.Client, error) {
	if c.db != nil {
		return c.db, nil
	}
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.db, err = bootstrap.NewPostgreSQL(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return c.db, nil
}

func (c *commandContext) store() (*store.Store, error) {
	db, err := c.database()
	if err != nil {
		return nil, err
	}
	return store.New(db.GetDB(), c.logger), nil
}

func (c *commandContext) publisher() (*rabbitmq.Client, error) {
	if c.rabbit != nil {
		return c.rabbit, nil
	}
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.rabbit, err = bootstrap.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	return c.rabbit, nil
}

func (c *commandContext) objects(ctx context.Context) (*objectstore.Client, error) {
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}
	objects, err := bootstrap.NewObjectStore(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	return objects, nil
}

func (c *commandContext) close() {
	if c.rabbit != nil {
		c.rabbit.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}
