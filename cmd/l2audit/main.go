/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/l2audit/pkg/config"
	"github.com/carverauto/l2audit/pkg/daemon"
	"github.com/carverauto/l2audit/pkg/lifecycle"
	"github.com/carverauto/l2audit/pkg/logger"
	"github.com/carverauto/l2audit/pkg/version"
)

const serviceName = "l2audit"

var (
	errFailedToLoadConfig = errors.New("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/l2audit/l2audit.yaml", "Path to l2audit config file")
	experimental := flag.Bool("experimental", false, "Enable the experimental Test interface regardless of config")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx := context.Background()

	var cfg daemon.Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if *experimental {
		cfg.Experimental = true
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if err := lifecycle.InitializeLogger(ctx, logConfig); err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shut down logger: %v", err)
		}
	}()

	l2Logger, err := lifecycle.CreateComponentLogger(ctx, serviceName, logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := initMetrics(ctx, &cfg, logConfig, l2Logger); err != nil {
		return err
	}

	d, err := daemon.New(&cfg, l2Logger)
	if err != nil {
		return err
	}

	l2Logger.Info().Str("version", version.GetFullVersion()).Msg("Starting l2audit")

	return lifecycle.RunService(ctx, d, l2Logger, nil)
}

// initMetrics starts OTLP metric export when configured. Without it the
// audit instruments record into the global no-op provider.
func initMetrics(ctx context.Context, cfg *daemon.Config, logConfig *logger.Config, l2Logger logger.Logger) error {
	metricsConfig := logger.MetricsConfig{}
	if cfg.Metrics != nil {
		metricsConfig = *cfg.Metrics
	}

	if metricsConfig.OTel == nil {
		metricsConfig.OTel = &logConfig.OTel
	}

	if metricsConfig.ServiceName == "" {
		metricsConfig.ServiceName = serviceName
	}

	if metricsConfig.ServiceVersion == "" {
		metricsConfig.ServiceVersion = version.GetVersion()
	}

	if _, err := logger.InitializeMetrics(ctx, metricsConfig); err != nil {
		if errors.Is(err, logger.ErrOTelMetricsDisabled) {
			l2Logger.Debug().Msg("OTel metrics export disabled")

			return nil
		}

		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return nil
}
