package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}
	// nil dispatcher is safe to use
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherAssignsSortableIDs(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "token_issued", Timestamp: at})
	}
	d.Close()

	var prev string
	for i := 0; i < 3; i++ {
		ev := <-sink.Events()
		id, err := ulid.ParseStrict(ev.ID)
		if err != nil {
			t.Fatalf("event id %q is not a ulid: %v", ev.ID, err)
		}
		if ulid.Time(id.Time()).UnixMilli() != at.UnixMilli() {
			t.Fatalf("ulid time %v does not match event timestamp", ulid.Time(id.Time()))
		}
		if prev != "" && ev.ID <= prev {
			t.Fatalf("ids must increase: %s then %s", prev, ev.ID)
		}
		prev = ev.ID
	}
}

func TestDispatcherKeepsCallerID(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Emit(context.Background(), Event{ID: "fixed", EventType: "logout"})
	d.Close()

	if ev := <-sink.Events(); ev.ID != "fixed" || ev.Timestamp.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

type blockingSink struct{ gate chan struct{} }

func (s *blockingSink) Emit(context.Context, Event) { <-s.gate }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_failed"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink")
	}
	close(sink.gate)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{ID: "a", EventType: "token_issued", Subject: "42", Success: true})
	sink.Emit(context.Background(), Event{ID: "b", EventType: "refresh_reuse_detected", Subject: "42", Error: "reuse_detected"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if ev.EventType != "refresh_reuse_detected" || ev.Error != "reuse_detected" || ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{ID: "1", EventType: "token_issued", Success: true})
	sink.Emit(context.Background(), Event{ID: "2", EventType: "refresh_failed", Error: "expired"})

	out := buf.String()
	if !strings.Contains(out, `"level":"INFO"`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("expected INFO and WARN records, got %s", out)
	}
	if !strings.Contains(out, `"error":"expired"`) {
		t.Fatalf("expected error attribute, got %s", out)
	}
}
