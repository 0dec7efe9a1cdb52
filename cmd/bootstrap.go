package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
)

// bootstrap builds the logger, reads the config and wires the components.
// Any failure is fatal.
func bootstrap(ctx context.Context) *components {
	log, err := newLogger()
	if err != nil {
		logFatal(err)
	}

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	c, err := newComponents(ctx, config, log)
	if err != nil {
		log.Fatal("initializing components", zap.Error(err))
	}
	return c
}

func newLogger() (*zap.Logger, error) {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}
	return l, nil
}

func logFatal(err error) {
	log.Fatal(err)
}

// redacted returns a copy of cfg that is safe to log.
func redacted(cfg *Config) Config {
	out := *cfg
	if cfg.Database != nil && cfg.Database.URL != "" {
		db := *cfg.Database
		db.URL = "***"
		out.Database = &db
	}
	if cfg.AI != nil && cfg.AI.Gemini != nil && cfg.AI.Gemini.APIKey != "" {
		aiCfg := *cfg.AI
		gem := *cfg.AI.Gemini
		gem.APIKey = "***"
		aiCfg.Gemini = &gem
		out.AI = &aiCfg
	}
	return out
}
