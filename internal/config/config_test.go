// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testsPath = "tests"

func TestLoadWithCompleteFile(t *testing.T) {
	cfg, err := Load(filepath.Join(testsPath, "complete", "tailf.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/run/tailf2kafka/position.txt", cfg.PositionFile)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 512, cfg.MaxBatchLines)
	assert.Equal(t, 4, cfg.MaxBatches)
	assert.False(t, cfg.FromBeginning)
	assert.True(t, cfg.DeleteOldTailedFiles)
	assert.Equal(t, "/bin/true", cfg.PostDeleteCommand)
	assert.Equal(t, 60*time.Second, cfg.ReapInterval)

	require.Len(t, cfg.Files, 1)
	assert.Equal(t, "app-logs", cfg.Files[0].Topic)
	assert.Equal(t, "/var/log/app/app-", cfg.Files[0].Prefix)
	assert.Equal(t, ".log", cfg.Files[0].Suffix)
	assert.Equal(t, "%Y-%m-%d", cfg.Files[0].TimePattern)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "async", cfg.Kafka.ProducerType)
	assert.True(t, cfg.Kafka.Produce)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(testsPath, "incomplete", "tailf.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1*time.Second, cfg.FlushInterval)
	assert.Equal(t, 1024, cfg.MaxBatchLines)
	assert.Equal(t, 10, cfg.MaxBatches)
	assert.False(t, cfg.DeleteOldTailedFiles)
	assert.True(t, cfg.FromBeginning)
	assert.True(t, cfg.Kafka.Produce)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(testsPath, "nonexistent", "tailf.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadProducerType(t *testing.T) {
	cfg := &Config{
		PositionFile: "/tmp/p",
		Files:        []FileSpec{{Topic: "t", Prefix: "p", TimePattern: "%Y"}},
		Kafka:        KafkaConfig{Brokers: []string{"localhost:9092"}, ProducerType: "bogus"},
	}
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsEmptyFiles(t *testing.T) {
	cfg := &Config{
		PositionFile: "/tmp/p",
		Kafka:        KafkaConfig{Brokers: []string{"localhost:9092"}, ProducerType: "sync"},
	}
	assert.Error(t, cfg.validate())
}
