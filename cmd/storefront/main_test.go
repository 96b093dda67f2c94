package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel log.Level
		wantJSON  bool
	}{
		{name: "defaults", wantLevel: log.InfoLevel},
		{name: "debug text", level: "debug", format: "text", wantLevel: log.DebugLevel},
		{name: "warn json", level: "warn", format: "json", wantLevel: log.WarnLevel, wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := log.New()
			require.NoError(t, setupLogger(logger, tt.level, tt.format))

			assert.Equal(t, tt.wantLevel, logger.GetLevel())
			_, isJSON := logger.Formatter.(*log.JSONFormatter)
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}

func TestSetupLogger_Invalid(t *testing.T) {
	assert.Error(t, setupLogger(log.New(), "loud", "text"))
	assert.Error(t, setupLogger(log.New(), "info", "xml"))
}
