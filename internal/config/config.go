// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package config loads and validates tailf2kafka's configuration document.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// defaultReapInterval is the fixed Reaper cadence mandated by the spec; it is
// not configurable.
const defaultReapInterval = 60 * time.Second

// FileSpec is one entry of tailf.files[]: a prefix (directory plus filename
// prefix), suffix and time pattern resolved by the Pattern Registry into a
// watched directory and a filename matcher, plus the topic its lines are
// published to.
type FileSpec struct {
	Topic       string `mapstructure:"topic"`
	Prefix      string `mapstructure:"prefix"`
	Suffix      string `mapstructure:"suffix"`
	TimePattern string `mapstructure:"time_pattern"`
}

// KafkaConfig holds the kafka.* configuration namespace.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ProducerType string   `mapstructure:"producer_type"`
	Produce      bool     `mapstructure:"produce"`
}

// Config is the fully parsed and defaulted tailf2kafka configuration.
type Config struct {
	Files                []FileSpec    `mapstructure:"files"`
	PositionFile         string        `mapstructure:"position_file"`
	FlushInterval        time.Duration `mapstructure:"flush_interval"`
	MaxBatchLines        int           `mapstructure:"max_batch_lines"`
	MaxBatches           int           `mapstructure:"max_batches"`
	FromBeginning        bool          `mapstructure:"from_begining"`
	DeleteOldTailedFiles bool          `mapstructure:"delete_old_tailed_files"`
	PostDeleteCommand    string        `mapstructure:"post_delete_command"`
	Kafka                KafkaConfig   `mapstructure:"kafka"`

	ReapInterval time.Duration `mapstructure:"-"`
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("tailf.flush_interval", 1)
	v.SetDefault("tailf.max_batch_lines", 1024)
	v.SetDefault("tailf.max_batches", 10)
	v.SetDefault("tailf.delete_old_tailed_files", false)
	v.SetDefault("kafka.produce", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{
		PositionFile:         v.GetString("tailf.position_file"),
		FlushInterval:        v.GetDuration("tailf.flush_interval") * time.Second,
		MaxBatchLines:        v.GetInt("tailf.max_batch_lines"),
		MaxBatches:           v.GetInt("tailf.max_batches"),
		FromBeginning:        v.GetBool("tailf.from_begining"),
		DeleteOldTailedFiles: v.GetBool("tailf.delete_old_tailed_files"),
		PostDeleteCommand:    v.GetString("tailf.post_delete_command"),
		ReapInterval:         defaultReapInterval,
		Kafka: KafkaConfig{
			Brokers:      v.GetStringSlice("kafka.brokers"),
			ProducerType: v.GetString("kafka.producer_type"),
			Produce:      v.GetBool("kafka.produce"),
		},
	}

	var files []FileSpec
	if err := v.UnmarshalKey("tailf.files", &files); err != nil {
		return nil, fmt.Errorf("parsing tailf.files: %w", err)
	}
	cfg.Files = files

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the required fields spelled out in the configuration
// contract; an invalid configuration is fatal at startup.
func (c *Config) validate() error {
	if c.PositionFile == "" {
		return fmt.Errorf("tailf.position_file is required")
	}
	if len(c.Files) == 0 {
		return fmt.Errorf("tailf.files must declare at least one entry")
	}
	for i, f := range c.Files {
		if f.Topic == "" {
			return fmt.Errorf("tailf.files[%d].topic is required", i)
		}
		if f.Prefix == "" {
			return fmt.Errorf("tailf.files[%d].prefix is required", i)
		}
		if f.TimePattern == "" {
			return fmt.Errorf("tailf.files[%d].time_pattern is required", i)
		}
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	switch c.Kafka.ProducerType {
	case "sync", "async":
	default:
		return fmt.Errorf("kafka.producer_type must be sync or async, got %q", c.Kafka.ProducerType)
	}
	return nil
}
