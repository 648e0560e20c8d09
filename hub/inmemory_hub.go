package hub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"

	"github.com/luma/pubsub/resp"
)

type pattern struct {
	glob glob.Glob
	subs map[string]Subscriber
}

type subscriptions struct {
	channels map[string]struct{}
	patterns map[string]struct{}
}

func (s *subscriptions) count() int {
	return len(s.channels) + len(s.patterns)
}

type InmemoryHub struct {
	mu sync.Mutex

	channels map[string]map[string]Subscriber
	patterns map[string]*pattern
	subs     map[string]*subscriptions

	published uint64

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryHub() *InmemoryHub {
	return &InmemoryHub{
		channels: make(map[string]map[string]Subscriber),
		patterns: make(map[string]*pattern),
		subs:     make(map[string]*subscriptions),
		stop:     make(chan struct{}),
	}
}

func (h *InmemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRunning() {
		close(h.stop)
	}

	h.channels = make(map[string]map[string]Subscriber)
	h.patterns = make(map[string]*pattern)
	h.subs = make(map[string]*subscriptions)

	return nil
}

func (h *InmemoryHub) Subscribe(sub Subscriber, channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.stateFor(sub)
	state.channels[channel] = struct{}{}

	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]Subscriber)
		h.channels[channel] = subs
	}
	subs[sub.ID()] = sub

	return state.count()
}

func (h *InmemoryHub) Unsubscribe(sub Subscriber, channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.channels[channel]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}

	state, ok := h.subs[sub.ID()]
	if !ok {
		return 0
	}

	delete(state.channels, channel)
	return h.forgetIfIdle(sub.ID(), state)
}

func (h *InmemoryHub) PSubscribe(sub Subscriber, expr string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.patterns[expr]
	if !ok {
		g, err := compilePattern(expr)
		if err != nil {
			return 0, fmt.Errorf("Failed to compile pattern '%s': %w", expr, err)
		}

		p = &pattern{glob: g, subs: make(map[string]Subscriber)}
		h.patterns[expr] = p
	}
	p.subs[sub.ID()] = sub

	state := h.stateFor(sub)
	state.patterns[expr] = struct{}{}

	return state.count(), nil
}

func (h *InmemoryHub) PUnsubscribe(sub Subscriber, expr string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.patterns[expr]; ok {
		delete(p.subs, sub.ID())
		if len(p.subs) == 0 {
			delete(h.patterns, expr)
		}
	}

	state, ok := h.subs[sub.ID()]
	if !ok {
		return 0
	}

	delete(state.patterns, expr)
	return h.forgetIfIdle(sub.ID(), state)
}

func (h *InmemoryHub) Channels(sub Subscriber) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.subs[sub.ID()]
	if !ok {
		return nil
	}

	return sortedKeys(state.channels)
}

func (h *InmemoryHub) Patterns(sub Subscriber) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.subs[sub.ID()]
	if !ok {
		return nil
	}

	return sortedKeys(state.patterns)
}

// Publish pushes a message to every subscriber of channel and a pmessage to
// every subscriber of a matching pattern. A subscriber that matches more
// than once receives more than one push.
func (h *InmemoryHub) Publish(channel string, payload []byte) (receivers int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isRunning() {
		return 0, ErrClosed
	}

	h.published++

	message := resp.Array{resp.Bulk(string(resp.KindMessage)), resp.Bulk(channel), resp.BulkString(payload)}
	for _, sub := range h.channels[channel] {
		if perr := sub.Push(message); perr != nil {
			err = multierr.Append(err, fmt.Errorf("Failed to push to %s: %w", sub.ID(), perr))
			continue
		}
		receivers++
	}

	for expr, p := range h.patterns {
		if !p.glob.Match(channel) {
			continue
		}

		pmessage := resp.Array{
			resp.Bulk(string(resp.KindPMessage)),
			resp.Bulk(expr),
			resp.Bulk(channel),
			resp.BulkString(payload),
		}

		for _, sub := range p.subs {
			if perr := sub.Push(pmessage); perr != nil {
				err = multierr.Append(err, fmt.Errorf("Failed to push to %s: %w", sub.ID(), perr))
				continue
			}
			receivers++
		}
	}

	return receivers, err
}

// Remove drops every subscription held by sub.
func (h *InmemoryHub) Remove(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.subs[sub.ID()]
	if !ok {
		return
	}

	for channel := range state.channels {
		if subs, ok := h.channels[channel]; ok {
			delete(subs, sub.ID())
			if len(subs) == 0 {
				delete(h.channels, channel)
			}
		}
	}

	for expr := range state.patterns {
		if p, ok := h.patterns[expr]; ok {
			delete(p.subs, sub.ID())
			if len(p.subs) == 0 {
				delete(h.patterns, expr)
			}
		}
	}

	delete(h.subs, sub.ID())
}

type stat struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns a JSON document describing the hub
//
//   {"subscribers":2,"published":10,"channels":[{"name":"news","subscribers":2}],"patterns":[]}
func (h *InmemoryHub) Stats() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := sjson.SetBytes([]byte("{}"), "subscribers", len(h.subs))
	if err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "published", h.published); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetRawBytes(doc, "channels", []byte("[]")); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetRawBytes(doc, "patterns", []byte("[]")); err != nil {
		return nil, err
	}

	channels := make([]string, 0, len(h.channels))
	for channel := range h.channels {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	for _, channel := range channels {
		doc, err = sjson.SetBytes(doc, "channels.-1", stat{Name: channel, Subscribers: len(h.channels[channel])})
		if err != nil {
			return nil, err
		}
	}

	patterns := make([]string, 0, len(h.patterns))
	for expr := range h.patterns {
		patterns = append(patterns, expr)
	}
	sort.Strings(patterns)

	for _, expr := range patterns {
		doc, err = sjson.SetBytes(doc, "patterns.-1", stat{Name: expr, Subscribers: len(h.patterns[expr].subs)})
		if err != nil {
			return nil, err
		}
	}

	return doc, nil
}

// stateFor must be called with the lock held.
func (h *InmemoryHub) stateFor(sub Subscriber) *subscriptions {
	state, ok := h.subs[sub.ID()]
	if !ok {
		state = &subscriptions{
			channels: make(map[string]struct{}),
			patterns: make(map[string]struct{}),
		}
		h.subs[sub.ID()] = state
	}

	return state
}

// forgetIfIdle must be called with the lock held.
func (h *InmemoryHub) forgetIfIdle(id string, state *subscriptions) int {
	count := state.count()
	if count == 0 {
		delete(h.subs, id)
	}

	return count
}

// isRunning returns true if Close has not been called
func (h *InmemoryHub) isRunning() bool {
	select {
	case <-h.stop:
		return false

	default:
		return true
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

var _ Hub = (*InmemoryHub)(nil)
