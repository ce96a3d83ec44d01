package view

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// CardsPerRow is how many state cards share one line of the state panel.
const CardsPerRow = 3

// DateFormatter turns a timestamp into display text.
type DateFormatter func(time.Time) string

// FormatDate is the default DateFormatter.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 2, 2006 15:04")
}

// Render writes the task table, and the state panel when visible, to w.
func Render(w io.Writer, d *Dashboard, format DateFormatter) error {
	if format == nil {
		format = FormatDate
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "ID\tTITLE\tSTATE\tCREATED\tACTIONS")
	for _, r := range d.Rows() {
		actions := "list-states"
		if r.Cancellable {
			actions += ",cancel"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Title, r.State, format(r.CreatedAt), actions)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	panel := d.States()
	if panel.Visible {
		fmt.Fprintf(w, "\nStates of %q\n", panel.Title)
		for _, line := range panel.Grid(CardsPerRow) {
			for i, c := range line {
				if i > 0 {
					fmt.Fprint(w, " | ")
				}
				fmt.Fprintf(w, "State - %d: %s at %s by %s", c.Number, c.State, format(c.At), c.By)
			}
			fmt.Fprintln(w)
		}
	}

	form := d.Form()
	for _, fe := range form.Errors {
		fmt.Fprintf(w, "error: %s: %s\n", fe.Field, fe.Message)
	}
	return nil
}
