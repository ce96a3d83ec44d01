package main

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/router"
	"taskboard/view"
)

type recordingSender struct{ sent []domain.Outbound }

func (s *recordingSender) Send(msg domain.Outbound) { s.sent = append(s.sent, msg) }

type countingConnector struct{ n int }

func (c *countingConnector) Connect() { c.n++ }

type stubCreator struct {
	task domain.Task
	err  error
}

func (s stubCreator) CreateTask(ctx context.Context, fields url.Values) (domain.Task, error) {
	return s.task, s.err
}

func newTestConsole(creator router.Creator) (*console, *recordingSender, *countingConnector, *bytes.Buffer) {
	logger, _ := test.NewNullLogger()
	sender := &recordingSender{}
	conn := &countingConnector{}
	out := &bytes.Buffer{}
	dash := view.New()
	return &console{
		router:  router.New(dash, sender, logger),
		dash:    dash,
		conn:    conn,
		creator: creator,
		out:     out,
	}, sender, conn, out
}

func TestApiFor(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:9000/ws/task/":     "http://localhost:9000/api/tasks",
		"wss://board.example.com/ws/task/": "https://board.example.com/api/tasks",
	}
	for in, want := range cases {
		if got := apiFor(in); got != want {
			t.Fatalf("apiFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConsoleCommands(t *testing.T) {
	task := domain.Task{ID: "7", Title: "Deliver", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, sender, conn, out := newTestConsole(stubCreator{task: task})
	ctx := context.Background()

	for _, line := range []string{"new", "create high Deliver now", "cancel 7", "states 7", "connect", "bogus"} {
		if !c.exec(ctx, line) {
			t.Fatalf("%q should not quit", line)
		}
	}
	if c.exec(ctx, "quit") {
		t.Fatal("quit should stop the console")
	}

	if len(sender.sent) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(sender.sent))
	}
	if _, ok := sender.sent[0].(domain.CreateTask); !ok {
		t.Fatalf("expected CREATE_TASK first, got %T", sender.sent[0])
	}
	if m, ok := sender.sent[1].(domain.CancelTask); !ok || m.ID != "7" {
		t.Fatalf("unexpected cancel %+v", sender.sent[1])
	}
	if m, ok := sender.sent[2].(domain.ListStates); !ok || m.ID != "7" {
		t.Fatalf("unexpected list states %+v", sender.sent[2])
	}
	if conn.n != 1 {
		t.Fatalf("expected one connect, got %d", conn.n)
	}
	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Fatalf("missing unknown command message in %q", out.String())
	}
}

func TestConsoleShowsValidationErrors(t *testing.T) {
	verr := &router.ValidationError{Fields: []router.FieldMessages{{Field: "title", Messages: []string{"This field is required."}}}}
	c, sender, _, out := newTestConsole(stubCreator{err: verr})

	c.exec(context.Background(), "create high x")
	if len(sender.sent) != 0 {
		t.Fatal("nothing should be sent when the form is rejected")
	}
	if !strings.Contains(out.String(), "error: title: This field is required.") {
		t.Fatalf("missing form error in %q", out.String())
	}
	if strings.Contains(out.String(), "create failed") {
		t.Fatal("validation errors are shown on the form, not as failures")
	}
}
