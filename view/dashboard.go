// Package view holds the in-memory model of the task dashboard: the task
// table, the state-list panel and the create-task form.
package view

import (
	"slices"
	"sync"
	"time"

	"taskboard/domain"
)

// Row is one entry of the task table.
type Row struct {
	ID        domain.TaskID
	Title     string
	State     string
	CreatedAt time.Time
	// Cancellable is the cancel button. It goes away once any state update
	// for the task has been reconciled.
	Cancellable bool
}

// StateCard renders one state record. Number starts at 1.
type StateCard struct {
	Number int
	State  string
	At     time.Time
	By     string
}

// StatePanel is the state-list modal.
type StatePanel struct {
	Title   string
	Cards   []StateCard
	Visible bool
}

// Grid groups the cards into rows of perRow for layout. The cards keep their
// order and none are dropped.
func (p StatePanel) Grid(perRow int) [][]StateCard {
	if perRow <= 0 {
		perRow = 1
	}
	grid := make([][]StateCard, 0, (len(p.Cards)+perRow-1)/perRow)
	for start := 0; start < len(p.Cards); start += perRow {
		end := min(start+perRow, len(p.Cards))
		grid = append(grid, p.Cards[start:end:end])
	}
	return grid
}

// FieldError is one validation message shown under a form field.
type FieldError struct {
	Field   string
	Message string
}

// Form is the create-task modal.
type Form struct {
	Open   bool
	Errors []FieldError
	Focus  string
}

// Dashboard is the view model. Its methods are safe for concurrent use so
// renderers can take snapshots while the router mutates it.
type Dashboard struct {
	mu    sync.RWMutex
	rows  []Row
	panel StatePanel
	form  Form
}

// New creates an empty dashboard with the form and state panel hidden.
func New() *Dashboard {
	return &Dashboard{}
}

// AppendTask adds a row for t in the initial New state. Rows are never
// deduplicated.
func (d *Dashboard) AppendTask(t domain.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = append(d.rows, Row{
		ID:          t.ID,
		Title:       t.Title,
		State:       domain.DisplayState(domain.StateNew),
		CreatedAt:   t.CreatedAt,
		Cancellable: true,
	})
}

// SetState updates the label of every row for id and removes their cancel
// button. It returns the number of rows touched.
func (d *Dashboard) SetState(id domain.TaskID, label string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for i := range d.rows {
		if d.rows[i].ID != id {
			continue
		}
		d.rows[i].State = label
		d.rows[i].Cancellable = false
		n++
	}
	return n
}

// Remove deletes every row for id and returns how many were removed.
func (d *Dashboard) Remove(id domain.TaskID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := len(d.rows)
	d.rows = slices.DeleteFunc(d.rows, func(r Row) bool { return r.ID == id })
	return before - len(d.rows)
}

// ShowStates replaces the state panel with records, in the order given, and
// makes it visible.
func (d *Dashboard) ShowStates(title string, records []domain.StateRecord) {
	cards := make([]StateCard, 0, len(records))
	for i, r := range records {
		cards = append(cards, StateCard{
			Number: i + 1,
			State:  r.State,
			At:     r.At,
			By:     r.Actor(),
		})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panel = StatePanel{Title: title, Cards: cards, Visible: true}
}

// HideStates closes the state panel.
func (d *Dashboard) HideStates() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panel.Visible = false
}

// Rows returns a copy of the task table.
func (d *Dashboard) Rows() []Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.rows)
}

// Row returns the first row for id.
func (d *Dashboard) Row(id domain.TaskID) (Row, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// States returns a copy of the state panel.
func (d *Dashboard) States() StatePanel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p := d.panel
	p.Cards = slices.Clone(p.Cards)
	return p
}

// OpenForm shows the create form with focus on the first field.
func (d *Dashboard) OpenForm(focus string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.form = Form{Open: true, Focus: focus}
}

// FailForm keeps the form open with errs displayed and focus on the given field.
func (d *Dashboard) FailForm(errs []FieldError, focus string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.form = Form{Open: true, Errors: slices.Clone(errs), Focus: focus}
}

// ResetForm clears and closes the form.
func (d *Dashboard) ResetForm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.form = Form{}
}

// Form returns a copy of the create form.
func (d *Dashboard) Form() Form {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f := d.form
	f.Errors = slices.Clone(f.Errors)
	return f
}
