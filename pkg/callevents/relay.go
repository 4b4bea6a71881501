// Package callevents relays the browser widget's call events (transcript updates, talk turns,
// call end) to anyone watching the call, in arrival order. Payloads are passed through
// verbatim.
package callevents

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Topic = "call-events"

type Type string

const (
	TypeCallStarted       Type = "call_started"
	TypeUpdate            Type = "update"
	TypeAgentStartTalking Type = "agent_start_talking"
	TypeAgentStopTalking  Type = "agent_stop_talking"
	TypeCallEnded         Type = "call_ended"
	TypeError             Type = "error"
)

var knownTypes = map[Type]bool{
	TypeCallStarted:       true,
	TypeUpdate:            true,
	TypeAgentStartTalking: true,
	TypeAgentStopTalking:  true,
	TypeCallEnded:         true,
	TypeError:             true,
}

func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !knownTypes[t] {
		return "", errors.Errorf("unknown call event type %q", s)
	}
	return t, nil
}

type Event struct {
	CallID     string          `json:"call_id"`
	Seq        uint64          `json:"seq"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

const viewerBuffer = 64

// seqRetention is how long a call's sequence counter outlives its last event. Late events
// after call_ended keep counting.
const seqRetention = 12 * time.Hour

type callSeq struct {
	n        uint64
	lastSeen time.Time
}

type viewer struct {
	ch chan Event
}

// Relay publishes events to a watermill topic and fans consumed events out to viewers.
type Relay struct {
	pub message.Publisher
	sub message.Subscriber

	seqMu     sync.Mutex
	seq       map[string]*callSeq
	lastPrune time.Time

	viewersMu sync.RWMutex
	viewers   map[string]map[*viewer]struct{}

	running     chan struct{}
	runningOnce sync.Once
}

func NewRelay(pub message.Publisher, sub message.Subscriber) *Relay {
	return &Relay{
		pub:     pub,
		sub:     sub,
		seq:     map[string]*callSeq{},
		viewers: map[string]map[*viewer]struct{}{},
		running: make(chan struct{}),
	}
}

// Running is closed once Run has subscribed to the topic.
func (r *Relay) Running() <-chan struct{} {
	return r.running
}

// Publish stamps an event with the next sequence number of its call and publishes it.
// Events of one call are published one at a time, so sequence order is publish order.
func (r *Relay) Publish(ctx context.Context, callID string, typ Type, payload json.RawMessage) (Event, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Event{}, errors.New("missing call id")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Event{}, errors.New("call event payload is not valid JSON")
	}

	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	cs, ok := r.seq[callID]
	if !ok {
		cs = &callSeq{}
	}
	now := time.Now()
	ev := Event{
		CallID:     callID,
		Seq:        cs.n + 1,
		Type:       typ,
		Payload:    payload,
		ReceivedAt: now.UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return Event{}, errors.Wrap(err, "marshal call event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("call_id", callID)
	msg.SetContext(ctx)
	if err := r.pub.Publish(Topic, msg); err != nil {
		return Event{}, errors.Wrap(err, "publish call event")
	}
	cs.n = ev.Seq
	cs.lastSeen = now
	r.seq[callID] = cs
	r.pruneSeq(now)
	return ev, nil
}

// pruneSeq drops counters of calls idle for longer than seqRetention. Callers hold seqMu.
func (r *Relay) pruneSeq(now time.Time) {
	if now.Sub(r.lastPrune) < time.Minute {
		return
	}
	r.lastPrune = now
	for id, cs := range r.seq {
		if now.Sub(cs.lastSeen) > seqRetention {
			delete(r.seq, id)
		}
	}
}

// Run consumes the topic until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.sub.Subscribe(ctx, Topic)
	if err != nil {
		return errors.Wrap(err, "subscribe call events")
	}
	r.runningOnce.Do(func() { close(r.running) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg *message.Message) {
	defer msg.Ack()
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed call event")
		return
	}
	l := log.Debug()
	if ev.Type == TypeCallEnded || ev.Type == TypeError {
		l = log.Info()
	}
	l.Str("call_id", ev.CallID).Uint64("seq", ev.Seq).Str("type", string(ev.Type)).Msg("call event")

	r.viewersMu.RLock()
	defer r.viewersMu.RUnlock()
	for v := range r.viewers[ev.CallID] {
		select {
		case v.ch <- ev:
		default:
			log.Warn().Str("call_id", ev.CallID).Uint64("seq", ev.Seq).Msg("call event viewer is not keeping up, dropping event")
		}
	}
}

// Watch registers a viewer for callID. The returned cancel function must be called to
// release it; it closes the channel.
func (r *Relay) Watch(callID string) (<-chan Event, func()) {
	v := &viewer{ch: make(chan Event, viewerBuffer)}
	r.viewersMu.Lock()
	if r.viewers[callID] == nil {
		r.viewers[callID] = map[*viewer]struct{}{}
	}
	r.viewers[callID][v] = struct{}{}
	r.viewersMu.Unlock()

	var once sync.Once
	return v.ch, func() {
		once.Do(func() {
			r.viewersMu.Lock()
			delete(r.viewers[callID], v)
			if len(r.viewers[callID]) == 0 {
				delete(r.viewers, callID)
			}
			r.viewersMu.Unlock()
			close(v.ch)
		})
	}
}

func (r *Relay) Viewers(callID string) int {
	r.viewersMu.RLock()
	defer r.viewersMu.RUnlock()
	return len(r.viewers[callID])
}
