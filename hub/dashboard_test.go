package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/channel"
	"taskboard/domain"
	"taskboard/router"
	"taskboard/view"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestDashboardAgainstHub drives the dashboard client stack against a real
// hub: create, accept by a delivery person, list states and cancel.
func TestDashboardAgainstHub(t *testing.T) {
	th := newTestHub(t, startMiniredis(t))

	logger, _ := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	dash := view.New()
	var r *router.Router
	mgr, err := channel.New(channel.Config{
		URL:    wsURL(th.srv),
		Group:  domain.GroupStoreManager,
		Token:  token(t, "alice"),
		Logger: logger,
	}, channel.DispatcherFunc(func(ctx context.Context, payload json.RawMessage) {
		r.Dispatch(ctx, payload)
	}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	r = router.New(dash, mgr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "open connection", func() bool { return mgr.State() == channel.Open })
	waitFor(t, "join", func() bool { return th.hub.groups.size(personalGroup(domain.GroupStoreManager, "alice")) == 1 })

	creator := &router.HTTPCreator{URL: th.srv.URL + "/api/tasks", Token: token(t, "alice")}

	r.OpenForm()
	err = r.SubmitTask(ctx, creator, url.Values{"title": {""}, "priority": {"high"}})
	var verr *router.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if form := dash.Form(); !form.Open || len(form.Errors) != 1 || form.Errors[0].Field != "title" {
		t.Fatalf("unexpected form %+v", form)
	}

	if err := r.SubmitTask(ctx, creator, url.Values{"title": {"Fix bug"}, "priority": {"high"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "new row", func() bool { return len(dash.Rows()) == 1 })
	row := dash.Rows()[0]
	if row.ID != "1" || row.Title != "Fix bug" || row.State != "New" || !row.Cancellable {
		t.Fatalf("unexpected row %+v", row)
	}
	if dash.Form().Open {
		t.Fatal("form should be closed after a successful submit")
	}

	dave := th.dial(t, "dave")
	dave.send(domain.Join{Group: domain.GroupDeliveryPerson})
	dave.expect(domain.EventNewTask)
	dave.send(domain.AcceptTask{ID: "1"})
	waitFor(t, "accepted state", func() bool {
		row, ok := dash.Row("1")
		return ok && row.State == "Accepted"
	})
	if row, _ := dash.Row("1"); row.Cancellable {
		t.Fatal("cancel action should be gone after a state update")
	}

	r.ListStates(ctx, "1")
	waitFor(t, "state panel", func() bool { return dash.States().Visible })
	panel := dash.States()
	if panel.Title != "Fix bug" || len(panel.Cards) != 2 || panel.Cards[1].State != "accepted" || panel.Cards[1].By != "dave" {
		t.Fatalf("unexpected panel %+v", panel)
	}

	r.CancelTask(ctx, "1")
	waitFor(t, "row removal", func() bool { return len(dash.Rows()) == 0 })
}
