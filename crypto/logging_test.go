package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("TestFunction")

	if logger.function != "TestFunction" {
		t.Errorf("NewLogger() function = %v, want TestFunction", logger.function)
	}
	if logger.fields["package"] != "crypto" {
		t.Errorf("NewLogger() fields[package] = %v, want crypto", logger.fields["package"])
	}
}

func TestLoggerHelperWithError(t *testing.T) {
	var buf bytes.Buffer
	origOut, origFormatter := logrus.StandardLogger().Out, logrus.StandardLogger().Formatter
	logrus.SetOutput(&buf)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	defer func() {
		logrus.SetOutput(origOut)
		logrus.SetFormatter(origFormatter)
	}()

	NewLogger("Op").WithError(errors.New("boom"), "entropy", "read").Error("failed")

	out := buf.String()
	for _, want := range []string{`"error":"boom"`, `"error_type":"entropy"`, `"operation":"read"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
}

func TestSecureFieldHash(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		preview string
	}{
		{"nil", nil, "nil"},
		{"short", []byte{0xAB, 0xCD}, "abcd"},
		{"long", bytes.Repeat([]byte{0x01}, 12), "0101010101010101..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := SecureFieldHash(tt.data, "key")
			if fields["key_preview"] != tt.preview {
				t.Errorf("preview = %v, want %v", fields["key_preview"], tt.preview)
			}
			if fields["key_size"] != len(tt.data) {
				t.Errorf("size = %v, want %d", fields["key_size"], len(tt.data))
			}
		})
	}
}
