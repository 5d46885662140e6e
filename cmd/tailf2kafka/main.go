// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SupersonicAds/tailf2kafka/internal/config"
	"github.com/SupersonicAds/tailf2kafka/internal/engine"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tailf2kafka",
		Short: "Tail rotating log files and publish lines to Kafka",
		RunE:  runE,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the tailf2kafka configuration file (required)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error, fatal")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runE(cmd *cobra.Command, args []string) error {
	log := newLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	eng, err := engine.New(cfg, log.WithField("component", "engine"))
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	log.WithField("config", configPath).Info("tailf2kafka starting")
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("engine exited: %w", err)
	}
	log.Info("tailf2kafka stopped")
	return nil
}

func newLogger(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return logrus.NewEntry(log)
}
