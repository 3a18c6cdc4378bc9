package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/flagx"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept "1s"
// strings or integer nanoseconds. Absent keys leave the current value alone.
type JsonConfig struct {
	PrimaryDSN     string         `json:"primary_dsn"`
	PrimaryTimeout timex.Duration `json:"primary_timeout"`
	RetryCount     *uint64        `json:"retry_count"`
	RetryBaseDelay timex.Duration `json:"retry_base_delay"`

	ReplicaPath        string         `json:"replica_path"`
	CachePath          string         `json:"cache_path"`
	DocumentDir        string         `json:"document_dir"`
	SyncInterval       timex.Duration `json:"sync_interval"`
	HealthInterval     timex.Duration `json:"health_interval"`
	HealthProbeTimeout timex.Duration `json:"health_probe_timeout"`

	OTPInterval    int   `json:"otp_interval"`
	ValidationSkew *uint `json:"validation_skew"`

	SideChannelBackend string `json:"side_channel_backend"`
	SideChannelBranch  string `json:"side_channel_branch"`
	S3RootUser         string `json:"s3_root_user"`
	S3RootPassword     string `json:"s3_root_password"`
	S3Bucket           string `json:"s3_bucket"`
	S3Region           string `json:"s3_region"`
	S3BaseEndpoint     string `json:"s3_base_endpoint"`

	TelegramToken  string `json:"telegram_token"`
	TelegramChatID int64  `json:"telegram_chat_id"`

	SubscriptionRefreshInterval timex.Duration `json:"subscription_refresh_interval"`

	LogLevel string `json:"log_level"`
}

func parseJson(config *Config, args []string) error {
	path := flagx.JsonConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.PrimaryDSN, c.PrimaryDSN)
	setDuration(&config.PrimaryTimeout, c.PrimaryTimeout)
	if c.RetryCount != nil {
		config.RetryCount = *c.RetryCount
	}
	setDuration(&config.RetryBaseDelay, c.RetryBaseDelay)

	setString(&config.ReplicaPath, c.ReplicaPath)
	setString(&config.CachePath, c.CachePath)
	setString(&config.DocumentDir, c.DocumentDir)
	setDuration(&config.SyncInterval, c.SyncInterval)
	setDuration(&config.HealthInterval, c.HealthInterval)
	setDuration(&config.HealthProbeTimeout, c.HealthProbeTimeout)

	if c.OTPInterval > 0 {
		config.OTPInterval = c.OTPInterval
	}
	if c.ValidationSkew != nil {
		config.ValidationSkew = *c.ValidationSkew
	}

	setString(&config.SideChannelBackend, c.SideChannelBackend)
	setString(&config.SideChannelBranch, c.SideChannelBranch)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setString(&config.TelegramToken, c.TelegramToken)
	if c.TelegramChatID != 0 {
		config.TelegramChatID = c.TelegramChatID
	}

	setDuration(&config.SubscriptionRefreshInterval, c.SubscriptionRefreshInterval)
	setString(&config.LogLevel, c.LogLevel)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
