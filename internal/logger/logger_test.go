package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestContextFieldsAreCarried(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := log.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetUserID(ctx, 42)

	CtxInfo(ctx, "favorite added: image_id=%d", 7)

	line := lastLine(t, &buf)
	assert.Equal(t, "favorite added: image_id=7", line["message"])
	assert.Equal(t, "req-1", line[FieldRequestID])
	assert.EqualValues(t, 42, line[FieldUserID])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

func TestEntryAddsMetricFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "info", Format: "json", Output: &buf, ServiceName: "test"})
	ctx := SetComponent(log.WithContext(context.Background()), "reconcile")

	With(Fields{FieldCount: 3}).WithDuration(12).Info(ctx, "done")

	line := lastLine(t, &buf)
	assert.EqualValues(t, 3, line[FieldCount])
	assert.EqualValues(t, 12, line[FieldDurationMs])
	assert.Equal(t, "reconcile", line[FieldComponent])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Format: "json", Output: &buf})

	ctx := log.WithContext(context.Background())
	CtxDebug(ctx, "hidden")
	CtxInfo(ctx, "hidden")
	assert.Zero(t, buf.Len())

	CtxWarn(ctx, "shown")
	assert.Equal(t, "shown", lastLine(t, &buf)["message"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
	assert.Empty(t, GetFields(context.Background())[FieldRequestID])
}

func TestGormLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf})
	ctx := SetRequestID(log.WithContext(context.Background()), "req-9")
	fc := func() (string, int64) { return "SELECT 1", 1 }

	g := NewGormLogger(gormlogger.Warn)
	g.Trace(ctx, time.Now(), fc, nil)
	assert.Zero(t, buf.Len(), "fast successful query below warn level")

	g.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len(), "record not found is not an error")

	g.Trace(ctx, time.Now(), fc, errors.New("boom"))
	line := lastLine(t, &buf)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "req-9", line[FieldRequestID])
	assert.Equal(t, "gorm", line[FieldComponent])

	g.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	assert.Equal(t, "warn", lastLine(t, &buf)["level"])

	buf.Reset()
	g.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), fc, errors.New("boom"))
	assert.Zero(t, buf.Len())
}
