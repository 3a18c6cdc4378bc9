package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/otpkeeper/internal/flagx"
)

// parseFlags overlays Config with command-line flags.
//
//	-d  primary DSN                -t  primary timeout
//	-n  retry count                -w  retry base delay
//	-r  replica file               -f  fallback cache file
//	-o  emergency document dir     -i  sync interval
//	-m  health interval            -q  health probe timeout
//	-v  OTP interval, seconds      -k  validation skew, steps
//	-s  side-channel backend       -x  side-channel branch
//	-u  S3 user   -p  S3 password  -b  S3 bucket
//	-g  S3 region -e  S3 endpoint
//	-a  Telegram token             -z  Telegram chat id
//	-y  subscription refresh interval
//	-l  log level
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{
		"-d", "-t", "-n", "-w", "-r", "-f", "-o", "-i", "-m", "-q", "-v", "-k",
		"-s", "-x", "-u", "-p", "-b", "-g", "-e", "-a", "-z", "-y", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.PrimaryDSN, "d", config.PrimaryDSN, "primary database DSN")
	fs.DurationVar(&config.PrimaryTimeout, "t", config.PrimaryTimeout, "per-call primary timeout")
	fs.Uint64Var(&config.RetryCount, "n", config.RetryCount, "retries after the first primary attempt")
	fs.DurationVar(&config.RetryBaseDelay, "w", config.RetryBaseDelay, "base delay of the exponential backoff")

	fs.StringVar(&config.ReplicaPath, "r", config.ReplicaPath, "local replica file")
	fs.StringVar(&config.CachePath, "f", config.CachePath, "local fallback cache file")
	fs.StringVar(&config.DocumentDir, "o", config.DocumentDir, "emergency document directory")
	fs.DurationVar(&config.SyncInterval, "i", config.SyncInterval, "replica sync interval")
	fs.DurationVar(&config.HealthInterval, "m", config.HealthInterval, "health probe interval")
	fs.DurationVar(&config.HealthProbeTimeout, "q", config.HealthProbeTimeout, "health probe timeout")

	fs.IntVar(&config.OTPInterval, "v", config.OTPInterval, "OTP interval in seconds")
	fs.UintVar(&config.ValidationSkew, "k", config.ValidationSkew, "validation tolerance in steps")

	fs.StringVar(&config.SideChannelBackend, "s", config.SideChannelBackend, "side channel backend: s3, minio or none")
	fs.StringVar(&config.SideChannelBranch, "x", config.SideChannelBranch, "side channel branch")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.TelegramToken, "a", config.TelegramToken, "Telegram bot token")
	fs.Int64Var(&config.TelegramChatID, "z", config.TelegramChatID, "Telegram chat id")

	fs.DurationVar(&config.SubscriptionRefreshInterval, "y", config.SubscriptionRefreshInterval, "free-tier refresh interval, 0 disables")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
