// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and validates the voicecapture runtime
// configuration from environment variables (and an optional .env /
// config file), in the viper + go-playground/validator pattern used
// across the rapida backend services.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the fully-resolved, validated runtime configuration for a
// voicecapture worker or server process.
type Config struct {
	// Database
	PostgresDSN string `mapstructure:"POSTGRES_DSN" validate:"required"`

	// Cache
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Blob storage
	BlobRoot string `mapstructure:"BLOB_ROOT" validate:"required"`

	// Models
	DiarizationSegmentationModel string `mapstructure:"DIARIZATION_SEGMENTATION_MODEL" validate:"required"`
	DiarizationEmbeddingModel    string `mapstructure:"DIARIZATION_EMBEDDING_MODEL" validate:"required"`
	WhisperModelPath             string `mapstructure:"WHISPER_MODEL_PATH" validate:"required"`
	ModelAccessToken             string `mapstructure:"MODEL_ACCESS_TOKEN" validate:"required"`
	NumClusteringThreads         int    `mapstructure:"NUM_CLUSTERING_THREADS"`

	// Pipeline tunables
	TargetWords                   []string `mapstructure:"TARGET_WORDS" validate:"required,min=1"`
	Corrections                   map[string]string `mapstructure:"CORRECTIONS"`
	SegmentCacheCoverageThreshold float64  `mapstructure:"SEGMENT_CACHE_COVERAGE_THRESHOLD" validate:"gte=0,lte=1"`
	MaxParallelLiveTranscriptions int      `mapstructure:"MAX_PARALLEL_LIVE_TRANSCRIPTIONS" validate:"gte=1"`
	SampleLengthSeconds           float64  `mapstructure:"SAMPLE_LENGTH_SECONDS" validate:"gt=0"`
	OverlapToleranceSeconds       float64  `mapstructure:"OVERLAP_TOLERANCE_SECONDS" validate:"gte=0"`
	ExcludeOverlapFromCounts      bool     `mapstructure:"EXCLUDE_OVERLAP_FROM_COUNTS"`
	SegmentTimeoutSeconds         float64  `mapstructure:"SEGMENT_TIMEOUT_SECONDS" validate:"gt=0"`

	// Ambient
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogPath  string `mapstructure:"LOG_PATH"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
}

var defaults = map[string]interface{}{
	"REDIS_DB":                          0,
	"NUM_CLUSTERING_THREADS":            2,
	"SEGMENT_CACHE_COVERAGE_THRESHOLD":  0.80,
	"MAX_PARALLEL_LIVE_TRANSCRIPTIONS":  3,
	"SAMPLE_LENGTH_SECONDS":             5.0,
	"OVERLAP_TOLERANCE_SECONDS":         0.1,
	"EXCLUDE_OVERLAP_FROM_COUNTS":       false,
	"SEGMENT_TIMEOUT_SECONDS":           60.0,
	"LOG_LEVEL":                         "info",
	"HTTP_ADDR":                         ":8080",
}

// Load reads configuration from the environment (and, if present, a
// .env file in the working directory), applies defaults, and
// validates the result. path, when non-empty, is an additional config
// file to merge in before environment variables take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(".env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}
