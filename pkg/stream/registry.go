package stream

import (
	"encoding/json"
	"sort"
	"sync"
)

// HandlerID identifies one subscription on a stream. IDs are allocated from a
// per-registry counter, start at 1 and are never reused.
type HandlerID uint64

// Callback receives the raw JSON content of a dispatched frame.
// Lifecycle close callbacks receive nil.
type Callback func(content json.RawMessage)

type topicKind uint8

const (
	topicEvent topicKind = iota
	topicOpen
	topicClose
)

// Topic is the key subscriptions are registered under. Application events and
// connection lifecycle signals live in separate namespaces, so no event name
// can collide with a lifecycle topic.
type Topic struct {
	kind topicKind
	name string
}

// Lifecycle topics.
var (
	OpenTopic  = Topic{kind: topicOpen}
	CloseTopic = Topic{kind: topicClose}
)

// EventTopic returns the topic for an application event name.
func EventTopic(name string) Topic {
	return Topic{kind: topicEvent, name: name}
}

// IsLifecycle reports whether t is a connection lifecycle topic.
func (t Topic) IsLifecycle() bool {
	return t.kind != topicEvent
}

// String returns a readable form of the topic for logs.
func (t Topic) String() string {
	switch t.kind {
	case topicOpen:
		return "<open>"
	case topicClose:
		return "<close>"
	default:
		return t.name
	}
}

// Registry maps handler IDs to topics and callbacks.
// It is safe for concurrent use; callbacks run without the lock held.
type Registry struct {
	mu        sync.Mutex
	next      HandlerID
	callbacks map[HandlerID]Callback
	byTopic   map[Topic]map[HandlerID]struct{}
	topicOf   map[HandlerID]Topic

	// onPanic is called when a callback panics during Dispatch.
	onPanic func(id HandlerID, topic Topic, recovered any)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		callbacks: make(map[HandlerID]Callback),
		byTopic:   make(map[Topic]map[HandlerID]struct{}),
		topicOf:   make(map[HandlerID]Topic),
	}
}

// SetPanicHandler installs fn to be called when a callback panics.
// Without a handler, the panic is recovered and discarded.
func (r *Registry) SetPanicHandler(fn func(id HandlerID, topic Topic, recovered any)) {
	r.mu.Lock()
	r.onPanic = fn
	r.mu.Unlock()
}

// Add registers cb under topic and returns its new HandlerID.
func (r *Registry) Add(topic Topic, cb Callback) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := r.next

	r.callbacks[id] = cb
	set, ok := r.byTopic[topic]
	if !ok {
		set = make(map[HandlerID]struct{})
		r.byTopic[topic] = set
	}
	set[id] = struct{}{}
	r.topicOf[id] = topic

	return id
}

// Reserve allocates a HandlerID without registering anything.
// Used when a callback is satisfied immediately instead of being stored.
func (r *Registry) Reserve() HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	return r.next
}

// Remove deletes the subscription with the given id.
// Unknown ids are ignored, so Remove is idempotent.
func (r *Registry) Remove(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.callbacks, id)
	topic, ok := r.topicOf[id]
	if !ok {
		return
	}
	if set := r.byTopic[topic]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byTopic, topic)
		}
	}
	delete(r.topicOf, id)
}

// Has reports whether id is a live subscription.
func (r *Registry) Has(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.callbacks[id]
	return ok
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// Count returns the number of live subscriptions for topic.
func (r *Registry) Count(topic Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTopic[topic])
}

type entry struct {
	id HandlerID
	cb Callback
}

// snapshot copies the callbacks registered under topic, ordered by id.
func (r *Registry) snapshot(topic Topic) ([]entry, func(HandlerID, Topic, any)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byTopic[topic]
	if len(set) == 0 {
		return nil, r.onPanic
	}
	entries := make([]entry, 0, len(set))
	for id := range set {
		entries = append(entries, entry{id: id, cb: r.callbacks[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries, r.onPanic
}

// Dispatch invokes every callback registered under topic at the moment
// Dispatch starts, in subscription order, and returns how many ran.
// Subscriptions added or removed by a callback do not affect the current pass.
func (r *Registry) Dispatch(topic Topic, content json.RawMessage) int {
	entries, onPanic := r.snapshot(topic)
	for _, e := range entries {
		invoke(e, topic, content, onPanic)
	}
	return len(entries)
}

func invoke(e entry, topic Topic, content json.RawMessage, onPanic func(HandlerID, Topic, any)) {
	defer func() {
		if rec := recover(); rec != nil && onPanic != nil {
			onPanic(e.id, topic, rec)
		}
	}()
	e.cb(content)
}

// Reset releases every subscription. The id counter keeps its value so
// later ids never repeat earlier ones.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = make(map[HandlerID]Callback)
	r.byTopic = make(map[Topic]map[HandlerID]struct{})
	r.topicOf = make(map[HandlerID]Topic)
}
