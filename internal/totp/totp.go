// Package totp issues and verifies RFC 6238 codes: 6 digits, SHA1, with a
// caller-chosen step interval.
package totp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultInterval = 86400
	DefaultSkew     = 60
	issuer          = "otpkeeper"
)

// NewSecret returns a random 160-bit base32 secret without padding.
func NewSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: issuer,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return key.Secret(), nil
}

// Code computes the code for secret at t.
func Code(secret string, interval int, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t, opts(interval, 0))
	if err != nil {
		return "", fmt.Errorf("totp code: %w", err)
	}
	return code, nil
}

// Validate accepts code if it matches any step within skew steps of t.
func Validate(secret, code string, interval int, t time.Time, skew uint) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t, opts(interval, skew))
	return err == nil && ok
}

func opts(interval int, skew uint) totp.ValidateOpts {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return totp.ValidateOpts{
		Period:    uint(interval),
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Accept applies the three acceptance rules used for delivered codes: an
// exact match with the code for now (a non-zero code), a match within skew
// steps, or equality with the last code delivered to the user. Any one is
// enough.
func Accept(secret, lastOTP, candidate string, interval int, now time.Time, skew uint) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	if secret != "" {
		if expected, err := Code(secret, interval, now); err == nil && expected == candidate && nonZero(candidate) {
			return true
		}
		if Validate(secret, candidate, interval, now, skew) {
			return true
		}
	}
	return lastOTP != "" && candidate == lastOTP
}

func nonZero(code string) bool {
	n, err := strconv.Atoi(code)
	return err == nil && n > 0
}
