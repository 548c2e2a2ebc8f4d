package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(false, &buf)
	t.Cleanup(func() { Init(false, nil) })

	Component("defense").WithField("ip", "1.2.3.4").Info("blocked")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "defense", line["component"])
	assert.Equal(t, "rampart", line["service"])
	assert.Equal(t, "1.2.3.4", line["ip"])
	assert.Equal(t, "blocked", line["msg"])
}

func TestInit_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(true, &buf)
	t.Cleanup(func() { Init(false, nil) })

	WithFields(logrus.Fields{"k": "v"}).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "k=v")
	assert.Contains(t, buf.String(), "service=rampart")
}

func TestComponent_SharedAcrossInit(t *testing.T) {
	a := Component("archive")
	assert.Same(t, a, Component("archive"))
	assert.NotSame(t, a, Component("notifier"))

	var buf bytes.Buffer
	Init(false, &buf)
	t.Cleanup(func() { Init(false, nil) })

	a.Info("after init")
	assert.Contains(t, buf.String(), `"component":"archive"`)
}

func TestSetup_WritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	out, err := Setup(Options{Dir: dir, Console: &console})
	require.NoError(t, err)
	require.NotNil(t, out)
	t.Cleanup(func() { Init(false, nil) })

	Log().Info("to both")
	assert.Contains(t, console.String(), "to both")

	data, err := os.ReadFile(filepath.Join(dir, "rampart.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
}

func TestSetup_BadDirFallsBackToConsole(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	var console bytes.Buffer
	out, err := Setup(Options{Dir: filepath.Join(file, "logs"), Console: &console})
	assert.Error(t, err)
	assert.Equal(t, &console, out)
	t.Cleanup(func() { Init(false, nil) })

	Log().Info("console only")
	assert.Contains(t, console.String(), "console only")
}
