package main

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/inbucket/mailgate/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLogLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	defer func(l zerolog.Logger) { log.Logger = l }(log.Logger)

	for level, want := range map[string]zerolog.Level{
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	} {
		closeLog, err := openLog(level, "stderr", false)
		require.NoError(t, err, level)
		closeLog()
		assert.Equal(t, want, zerolog.GlobalLevel(), level)
	}

	_, err := openLog("loud", "stderr", false)
	assert.Error(t, err)
}

func TestOpenLogFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	defer func(l zerolog.Logger) { log.Logger = l }(log.Logger)

	path := filepath.Join(t.TempDir(), "mailgate.log")
	closeLog, err := openLog("info", path, true)
	require.NoError(t, err)
	log.Info().Str("module", "test").Msg("hello file")
	closeLog()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello file"`)
}

func TestSignalLoop(t *testing.T) {
	sigChan := make(chan os.Signal, 1)
	notify := make(chan error, 1)

	sigChan <- syscall.SIGTERM
	assert.NoError(t, signalLoop(sigChan, notify))

	boom := errors.New("listener failed")
	notify <- boom
	assert.Equal(t, boom, signalLoop(sigChan, notify))
}

func TestEnableNetDebug(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "trace"} {
		conf := &config.Root{LogLevel: level}
		enableNetDebug(conf)
		assert.True(t, conf.IMAP.Debug, level)
		assert.Equal(t, "trace", conf.LogLevel, level)
	}
}
