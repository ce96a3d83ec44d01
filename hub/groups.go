package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/internal/consts"
)

// groupFor maps a JOIN marker to its shared group.
func groupFor(marker string) (string, bool) {
	switch marker {
	case domain.GroupStoreManager:
		return consts.GroupStoreManager, true
	case domain.GroupDeliveryPerson:
		return consts.GroupDeliveryPerson, true
	}
	return "", false
}

// personalGroup is the group of one user in one role.
func personalGroup(marker, user string) string {
	return "user-" + marker + "-" + user
}

// groups tracks which local sessions belong to which group.
type groups struct {
	mu      sync.RWMutex
	members map[string]map[*session]struct{}
}

func newGroups() *groups {
	return &groups{members: make(map[string]map[*session]struct{})}
}

func (g *groups) add(name string, s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[name]
	if !ok {
		m = make(map[*session]struct{})
		g.members[name] = m
	}
	m[s] = struct{}{}
}

func (g *groups) removeAll(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, m := range g.members {
		delete(m, s)
		if len(m) == 0 {
			delete(g.members, name)
		}
	}
}

func (g *groups) size(name string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[name])
}

// deliver queues frame on every local member of the group.
func (g *groups) deliver(name string, frame []byte) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for s := range g.members[name] {
		s.enqueue(frame)
	}
	return len(g.members[name])
}

// groupSend publishes frame to every member of the group across hub
// instances. Without redis, or when publishing fails, only local sessions
// receive it.
func (h *Hub) groupSend(ctx context.Context, group string, frame []byte) {
	if h.rdb == nil {
		h.groups.deliver(group, frame)
		return
	}
	if err := h.rdb.Publish(ctx, consts.GroupChannelPrefix+group, frame).Err(); err != nil {
		h.logger.WithError(err).WithField("group", group).Error("publish failed, delivering locally")
		h.groups.deliver(group, frame)
	}
}

// Run relays group messages published by any hub instance to the local
// sessions until ctx is cancelled. The subscription is re-established after
// a pause whenever it drops.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		h.markReady()
		<-ctx.Done()
		return ctx.Err()
	}
	pattern := consts.GroupChannelPrefix + "*"
	for {
		sub := h.rdb.PSubscribe(ctx, pattern)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.WithError(err).Error("subscribe failed")
		} else {
			h.markReady()
			h.relay(ctx, sub.Channel())
			sub.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Error("pubsub channel closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.resubscribeDelay):
		}
	}
}

func (h *Hub) relay(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			group := strings.TrimPrefix(msg.Channel, consts.GroupChannelPrefix)
			n := h.groups.deliver(group, []byte(msg.Payload))
			h.logger.WithFields(log.Fields{"group": group, "sessions": n}).Debug("group message relayed")
		}
	}
}
