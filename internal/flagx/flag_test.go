package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value",
			args:    []string{"-d", "postgres://x", "-r", "replica.db"},
			allowed: []string{"-d"},
			want:    []string{"-d", "postgres://x"},
		},
		{
			name:    "equals form",
			args:    []string{"-config=otp.json", "-d", "dsn"},
			allowed: []string{"-c", "-config"},
			want:    []string{"-config=otp.json"},
		},
		{
			name:    "unknown flags dropped",
			args:    []string{"-x", "1", "--y=2", "positional"},
			allowed: []string{"-c"},
			want:    []string{},
		},
		{
			name:    "trailing flag without value",
			args:    []string{"-c"},
			allowed: []string{"-c"},
			want:    []string{"-c"},
		},
		{
			name:    "next token is a flag",
			args:    []string{"-c", "-d", "dsn"},
			allowed: []string{"-c"},
			want:    []string{"-c"},
		},
		{
			name:    "order preserved",
			args:    []string{"-i", "30s", "-c", "a.json", "-h", "1m"},
			allowed: []string{"-c", "-h", "-i"},
			want:    []string{"-i", "30s", "-c", "a.json", "-h", "1m"},
		},
		{
			name:    "nil args",
			args:    nil,
			allowed: []string{"-c"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowed)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJsonConfigPath(t *testing.T) {
	assert.Equal(t, "a.json", JsonConfigPath([]string{"-d", "dsn", "-c", "a.json"}))
	assert.Equal(t, "b.json", JsonConfigPath([]string{"-config=b.json"}))
	assert.Equal(t, "", JsonConfigPath([]string{"-d", "dsn"}))
	assert.Equal(t, "", JsonConfigPath(nil))
}
