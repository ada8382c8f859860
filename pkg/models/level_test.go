package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"INFO", LevelInfo},
		{"WARNING", LevelWarning},
		{"ERROR", LevelError},
		{"CRITICAL", LevelCritical},
		{"info", LevelInfo},
		{"Warning", LevelWarning},
		{"error", LevelError},
		{"cRiTiCaL", LevelCritical},
		{"  ERROR\t", LevelError},
		{"WARN", LevelWarning},
		{"warn", LevelWarning},
		{"FATAL", LevelCritical},
		{" fatal ", LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
	}{
		{"", "level is empty"},
		{"   ", "level is empty"},
		{"DEBUG", `unknown level "DEBUG"`},
		{"ERR", `unknown level "ERR"`},
		{"TRACE", `unknown level "TRACE"`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.Error(t, err)
			assert.EqualError(t, err, tt.wantErr)
			assert.Empty(t, got)
		})
	}
}

func TestLevel_Valid(t *testing.T) {
	for _, l := range Levels {
		assert.True(t, l.Valid(), l)
	}
	assert.False(t, Level("error").Valid())
	assert.False(t, Level("WARN").Valid())
	assert.False(t, Level("").Valid())
}

func TestLevel_Qualifies(t *testing.T) {
	tests := []struct {
		level Level
		want  bool
	}{
		{LevelInfo, false},
		{LevelWarning, false},
		{LevelError, true},
		{LevelCritical, true},
		{Level("error"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.Qualifies(), tt.level)
	}
}
