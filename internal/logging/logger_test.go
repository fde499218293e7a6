package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG ":  slog.LevelDebug,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestShortPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/home/dev/treb-wallet/internal/usecase/sign_payload.go", want: "internal/usecase/sign_payload.go"},
		{in: "/go/pkg/mod/x/internal/usecase/orchestrator.go", want: "internal/usecase/orchestrator.go"},
		{in: "/tmp/main.go", want: "main.go"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, shortPath(tt.in))
		})
	}
}
