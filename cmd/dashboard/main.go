package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"taskboard/channel"
	"taskboard/domain"
	"taskboard/internal/config"
	"taskboard/router"
	"taskboard/view"
)

func main() {
	config.ConfigureLogging()
	log.SetOutput(os.Stderr)

	endpoint := os.Getenv("TASKBOARD_URL")
	secure := config.Bool("TASKBOARD_SECURE", false)
	host := os.Getenv("TASKBOARD_HOST")
	if endpoint == "" {
		if host == "" {
			log.Fatal("missing TASKBOARD_URL or TASKBOARD_HOST")
		}
		endpoint = channel.EndpointFor(host, secure)
	}
	apiURL := os.Getenv("TASKBOARD_API")
	if apiURL == "" {
		apiURL = apiFor(endpoint)
	}
	token := os.Getenv("TASKBOARD_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dash := view.New()
	c := &console{dash: dash, out: os.Stdout, creator: &router.HTTPCreator{URL: apiURL, Token: token}}
	mgr, err := channel.New(channel.Config{
		URL:            endpoint,
		Group:          domain.GroupStoreManager,
		Token:          token,
		ReconnectDelay: config.Duration("TASKBOARD_RECONNECT_DELAY", channel.DefaultReconnectDelay),
	}, channel.DispatcherFunc(func(ctx context.Context, payload json.RawMessage) {
		c.router.Dispatch(ctx, payload)
		c.render()
	}))
	if err != nil {
		log.Fatalf("channel: %v", err)
	}
	c.conn = mgr
	c.router = router.New(dash, mgr, log.StandardLogger())

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	c.printf("%s\n", usage)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || !c.exec(ctx, line) {
				break loop
			}
		}
	}
	stop()
	<-done
}

// apiFor derives the create endpoint from the websocket endpoint.
func apiFor(endpoint string) string {
	u := strings.Replace(endpoint, "ws://", "http://", 1)
	u = strings.Replace(u, "wss://", "https://", 1)
	if i := strings.Index(u, "/ws/"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSuffix(u, "/") + "/api/tasks"
}
