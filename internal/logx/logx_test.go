package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithWindowTabAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	log := WithWindowTab(ctx, 2, schema.TabID(7))
	log.Info("hello")

	entry := capture.firstEntry(t)
	if fmt.Sprint(entry["window"]) != "2" {
		t.Fatalf("expected window field, got %+v", entry)
	}
	if fmt.Sprint(entry["tab"]) != "7" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
}

func TestWithWindowTabSkipsInvalidTab(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	WithWindowTab(ctx, 0, schema.InvalidTabID).Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["tab"]; ok {
		t.Fatalf("did not expect tab field for invalid id: %+v", entry)
	}
}

func TestContextWithWindowLoggerDeduplicates(t *testing.T) {
	capture := &logCapture{}
	ctx := ContextWithWindowLogger(context.Background(), newCaptureLogger(capture), 1)
	WithWindow(ctx, 1).Info("hello")

	line := capture.buf.String()
	if n := bytes.Count([]byte(line), []byte(`"window"`)); n != 1 {
		t.Fatalf("expected a single window field, got %d in %s", n, line)
	}
}

func TestCopyContextFields(t *testing.T) {
	src := ContextWithTab(ContextWithWindow(context.Background(), 3), schema.TabID(11))
	dst := CopyContextFields(context.Background(), src)
	if got, _ := dst.Value(windowKey).(int); got != 3 {
		t.Fatalf("expected window 3, got %d", got)
	}
	if got, _ := dst.Value(tabKey).(schema.TabID); got != 11 {
		t.Fatalf("expected tab 11, got %d", got)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
