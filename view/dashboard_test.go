package view

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"taskboard/domain"
)

func strPtr(s string) *string { return &s }

func TestAppendTaskKeepsDuplicates(t *testing.T) {
	d := New()
	task := domain.Task{ID: "1", Title: "one"}
	d.AppendTask(task)
	d.AppendTask(task)
	rows := d.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.State != "New" || !r.Cancellable {
			t.Fatalf("unexpected row %+v", r)
		}
	}
}

func TestSetStateDropsCancel(t *testing.T) {
	d := New()
	d.AppendTask(domain.Task{ID: "1", Title: "one"})
	d.AppendTask(domain.Task{ID: "2", Title: "two"})
	if n := d.SetState("2", "Accepted"); n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}
	r, ok := d.Row("2")
	if !ok || r.State != "Accepted" || r.Cancellable {
		t.Fatalf("unexpected row %+v", r)
	}
	r, _ = d.Row("1")
	if r.State != "New" || !r.Cancellable {
		t.Fatalf("other row changed: %+v", r)
	}
	if n := d.SetState("missing", "Accepted"); n != 0 {
		t.Fatalf("expected no rows updated, got %d", n)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	d := New()
	d.AppendTask(domain.Task{ID: "1"})
	d.AppendTask(domain.Task{ID: "2"})
	if n := d.Remove("1"); n != 1 {
		t.Fatalf("expected 1 removal, got %d", n)
	}
	if n := d.Remove("1"); n != 0 {
		t.Fatalf("expected no removal, got %d", n)
	}
	rows := d.Rows()
	if len(rows) != 1 || rows[0].ID != "2" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestShowStatesReplacesPanel(t *testing.T) {
	d := New()
	d.ShowStates("old", []domain.StateRecord{{State: "new"}, {State: "accepted"}, {State: "completed"}})
	d.ShowStates("Fix bug", []domain.StateRecord{{State: "Open", By: strPtr("alice")}, {State: "Reviewed"}})
	p := d.States()
	if !p.Visible || p.Title != "Fix bug" || len(p.Cards) != 2 {
		t.Fatalf("unexpected panel %+v", p)
	}
	if p.Cards[0].Number != 1 || p.Cards[0].By != "alice" || p.Cards[1].Number != 2 || p.Cards[1].By != "" {
		t.Fatalf("unexpected cards %+v", p.Cards)
	}
}

func TestGridKeepsOrder(t *testing.T) {
	var records []domain.StateRecord
	for _, s := range []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6"} {
		records = append(records, domain.StateRecord{State: s})
	}
	d := New()
	d.ShowStates("t", records)
	grid := d.States().Grid(CardsPerRow)
	if len(grid) != 3 || len(grid[0]) != 3 || len(grid[1]) != 3 || len(grid[2]) != 1 {
		t.Fatalf("unexpected grid shape %+v", grid)
	}
	i := 0
	for _, line := range grid {
		for _, c := range line {
			if c.State != records[i].State {
				t.Fatalf("card %d is %s, want %s", i, c.State, records[i].State)
			}
			i++
		}
	}
}

func TestFormLifecycle(t *testing.T) {
	d := New()
	d.OpenForm("title")
	d.FailForm([]FieldError{{Field: "title", Message: "This field is required."}}, "title")
	f := d.Form()
	if !f.Open || f.Focus != "title" || len(f.Errors) != 1 {
		t.Fatalf("unexpected form %+v", f)
	}
	d.ResetForm()
	if f := d.Form(); f.Open || len(f.Errors) != 0 {
		t.Fatalf("expected closed form, got %+v", f)
	}
}

func TestRender(t *testing.T) {
	d := New()
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	d.AppendTask(domain.Task{ID: "1", Title: "Deliver", CreatedAt: at})
	d.AppendTask(domain.Task{ID: "2", Title: "Pick up", CreatedAt: at})
	d.SetState("2", "Accepted")
	d.ShowStates("Deliver", []domain.StateRecord{{State: "new", At: at, By: strPtr("alice")}})

	var buf bytes.Buffer
	format := func(time.Time) string { return "T" }
	if err := Render(&buf, d, format); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Deliver", "New", "list-states,cancel", "Accepted", `States of "Deliver"`, "State - 1: new at T by alice"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	lines := strings.Split(out, "\n")
	for _, l := range lines {
		if strings.HasPrefix(l, "2 ") && strings.Contains(l, "cancel") {
			t.Fatalf("accepted task still cancellable: %q", l)
		}
	}
}
