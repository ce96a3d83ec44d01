package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"taskboard/domain"
	"taskboard/router"
	"taskboard/view"
)

const usage = `commands:
  new                          open the create form
  create <priority> <title>    submit the create form
  cancel <id>                  cancel a task
  states <id>                  list the states of a task
  close                        hide the state list
  connect                      reconnect and re-join
  quit`

type connector interface {
	Connect()
}

// console runs operator commands against the router and redraws the view.
type console struct {
	router  *router.Router
	dash    *view.Dashboard
	conn    connector
	creator router.Creator

	mu  sync.Mutex
	out io.Writer
}

func (c *console) render() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	_ = view.Render(c.out, c.dash, view.FormatDate)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// exec runs one command line. It reports false once the operator quits.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		c.render()
		return true
	}
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return false
	case "help":
		c.printf("%s\n", usage)
	case "new":
		c.router.OpenForm()
		c.render()
	case "create":
		if len(args) < 2 {
			c.printf("usage: create <priority> <title>\n")
			return true
		}
		form := url.Values{"priority": {args[0]}, "title": {strings.Join(args[1:], " ")}}
		err := c.router.SubmitTask(ctx, c.creator, form)
		var verr *router.ValidationError
		if err != nil && !errors.As(err, &verr) {
			c.printf("create failed: %v\n", err)
		}
		c.render()
	case "cancel", "states":
		if len(args) != 1 {
			c.printf("usage: %s <id>\n", cmd)
			return true
		}
		id := domain.TaskID(args[0])
		if cmd == "cancel" {
			c.router.CancelTask(ctx, id)
		} else {
			c.router.ListStates(ctx, id)
		}
	case "close":
		c.dash.HideStates()
		c.render()
	case "connect":
		c.conn.Connect()
	default:
		c.printf("unknown command %q, try help\n", cmd)
	}
	return true
}
