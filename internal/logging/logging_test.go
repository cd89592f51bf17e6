package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := map[string]struct {
		opts      Options
		wantLevel logrus.Level
		wantErr   bool
	}{
		"defaults":      {opts: Options{}, wantLevel: logrus.InfoLevel},
		"debug_json":    {opts: Options{Level: "debug", Format: "json"}, wantLevel: logrus.DebugLevel},
		"bad_level":     {opts: Options{Level: "loud"}, wantErr: true},
		"bad_format":    {opts: Options{Format: "xml"}, wantErr: true},
		"warn_and_text": {opts: Options{Level: "warn", Format: "TEXT"}, wantLevel: logrus.WarnLevel},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			logger, closer, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closer.Close()
			assert.Equal(t, tt.wantLevel, logger.Level)
		})
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	logger, closer, err := New(Options{File: path})
	require.NoError(t, err)
	logger.WithField("event", EventConnectionEstablished).Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "event=connection_established")
}

func TestSanitize(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
	}{
		"plain":        {in: "greet bob", want: "greet bob"},
		"newlines":     {in: "a\nb\r\nc", want: "a b  c"},
		"escape":       {in: "\x1b[2Jclear", want: "[2Jclear"},
		"unicode_kept": {in: "héllo", want: "héllo"},
		"delete_char":  {in: "ab\x7fc", want: "abc"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, strings.ContainsAny(got, "\r\n"))
		})
	}
}
