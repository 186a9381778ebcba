package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZerolog_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "WARN")

	log.Info().Msg("hidden")
	log.Warn().Str("path", "/tmp/x").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "path=/tmp/x")
}

func TestNewZerolog_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "loud")

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestDispatcherLogger(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(NewZerolog(&buf, "debug"))

	dl.Debug("handling event", "command", ":EXPORT:", "args", 0)
	dl.Info("ready")
	dl.Error("event failed", "command", ":IMPORT:")

	out := buf.String()
	assert.Contains(t, out, "handling event")
	assert.Contains(t, out, "command=:EXPORT:")
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "ERR")
	assert.Contains(t, out, "command=:IMPORT:")

	// satisfies the dispatcher's logger interface
	var _ interface {
		Debug(msg string, keysAndValues ...any)
		Info(msg string, keysAndValues ...any)
		Error(msg string, keysAndValues ...any)
	} = dl
}

func TestNewGraylogWriter(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	w, err := NewGraylogWriter(conn.LocalAddr().String(), "mapmarkers")
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte(`{"msg":"marker added"}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	packet := make([]byte, 8192)
	n, _, err := conn.ReadFrom(packet)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(packet[:n]))
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)

	assert.Contains(t, string(body), "marker added")
	assert.Contains(t, string(body), "mapmarkers")
}

func TestNewGraylogWriter_BadAddress(t *testing.T) {
	_, err := NewGraylogWriter("not-an-address", "mapmarkers")
	assert.Error(t, err)
}
