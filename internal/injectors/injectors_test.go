package injectors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loopwork/beacon/pkg/models"
)

type staticInjector struct {
	name   string
	system string
	resume []models.CheckpointMessage
	err    error
}

func (s staticInjector) Name() string { return s.name }

func (s staticInjector) InjectSystemContext(context.Context, Context) (string, error) {
	return s.system, s.err
}

func (s staticInjector) InjectResumeContext(context.Context, Context) ([]models.CheckpointMessage, error) {
	return s.resume, s.err
}

func TestPipelineConcatenatesInOrder(t *testing.T) {
	p := NewPipeline(nil,
		staticInjector{name: "one", system: "first"},
		staticInjector{name: "two", system: ""},
		staticInjector{name: "three", system: "third"},
	)
	got := p.SystemContext(context.Background(), Context{})
	if got != "first\n\nthird" {
		t.Fatalf("system context = %q", got)
	}
	if names := p.Names(); len(names) != 3 || names[0] != "one" {
		t.Fatalf("names = %v", names)
	}
}

func TestPipelineSkipsFailingInjector(t *testing.T) {
	p := NewPipeline(nil,
		staticInjector{name: "ok", system: "kept"},
		staticInjector{name: "broken", system: "lost", err: errors.New("read failed")},
	)
	if got := p.SystemContext(context.Background(), Context{}); got != "kept" {
		t.Fatalf("system context = %q", got)
	}
	if got := p.ResumeContext(context.Background(), Context{}); got != nil {
		t.Fatalf("resume context = %+v", got)
	}
}

func TestPipelineResumeAppendsInOrder(t *testing.T) {
	p := NewPipeline(nil,
		staticInjector{name: "a", resume: []models.CheckpointMessage{{Role: "system", Content: "one"}}},
		staticInjector{name: "b", resume: []models.CheckpointMessage{{Role: "system", Content: "two"}}},
	)
	got := p.ResumeContext(context.Background(), Context{})
	if len(got) != 2 || got[0].Content != "one" || got[1].Content != "two" {
		t.Fatalf("resume context = %+v", got)
	}
}

func TestDatetimeSystemContext(t *testing.T) {
	at := time.Date(2025, time.January, 24, 14, 30, 0, 0, time.UTC)
	got, err := Datetime{}.InjectSystemContext(context.Background(), Context{
		Timezone: "UTC",
		Now:      at,
	})
	if err != nil {
		t.Fatalf("InjectSystemContext: %v", err)
	}
	want := "Current date and time: Friday, January 24th, 2025 - 14:30 (UTC)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDatetimeUnknownTimezoneFallsBackToUTC(t *testing.T) {
	at := time.Date(2025, time.March, 1, 9, 5, 0, 0, time.UTC)
	got, _ := Datetime{}.InjectSystemContext(context.Background(), Context{
		Timezone: "Nowhere/Invalid",
		Now:      at,
	})
	if !strings.Contains(got, "March 1st, 2025 - 09:05 (UTC)") {
		t.Fatalf("got %q", got)
	}
}

func TestOrdinalSuffix(t *testing.T) {
	cases := map[int]string{
		1: "st", 2: "nd", 3: "rd", 4: "th",
		11: "th", 12: "th", 13: "th",
		21: "st", 22: "nd", 23: "rd", 31: "st",
	}
	for day, want := range cases {
		if got := ordinalSuffix(day); got != want {
			t.Errorf("ordinalSuffix(%d) = %q, want %q", day, got, want)
		}
	}
}

func TestDatetimeResumeMessage(t *testing.T) {
	at := time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)
	messages, err := Datetime{}.InjectResumeContext(context.Background(), Context{
		Timezone: "UTC",
		Now:      at,
	})
	if err != nil || len(messages) != 1 {
		t.Fatalf("resume = %+v, %v", messages, err)
	}
	if messages[0].Role != "system" || !strings.HasPrefix(messages[0].Content, "Session resumed at:") {
		t.Fatalf("message = %+v", messages[0])
	}
	if messages[0].Timestamp != at.UnixMilli() {
		t.Fatalf("timestamp = %d", messages[0].Timestamp)
	}
}
