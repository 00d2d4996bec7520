// bus.go
package bus

import (
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is a single element in a topic path. Strings and ints are used in
// practice; any comparable value works as a trie key.
type Token = any

// Topic is a sequence of tokens.
type Topic []Token

const (
	wildOne = "+" // exactly one level
	wildAll = "#" // zero or more trailing levels
)

// T builds a topic from tokens.
func T(tokens ...Token) Topic { return Topic(tokens) }

func (t Topic) Len() int        { return len(t) }
func (t Topic) At(i int) Token  { return t[i] }
func (t Topic) Append(tokens ...Token) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	return append(out, tokens...)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// NewMessage builds a message. Retained messages with a nil payload clear
// the retained value at that topic.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic   Topic
	ch      chan *Message
	conn    *Connection // owning connection
	dropped atomic.Uint64
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// Dropped counts messages evicted from a full queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok Token, create bool) *node {
	if c, ok := n.children[tok]; ok {
		return c
	}
	if !create {
		return nil
	}
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.Mutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// addSubscription inserts a subscription (filter) into the trie and delivers
// every retained message the filter matches.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	var retained []*Message
	collectRetained(b.root, sub.topic, &retained)
	for _, m := range retained {
		deliver(sub, m)
	}
}

// collectRetained walks the stored (concrete) topics matching filter.
func collectRetained(n *node, filter Topic, out *[]*Message) {
	if len(filter) == 0 {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch filter[0] {
	case wildAll:
		collectAll(n, out)
	case wildOne:
		for tok, c := range n.children {
			if isWild(tok) {
				continue
			}
			collectRetained(c, filter[1:], out)
		}
	default:
		if c := n.child(filter[0], false); c != nil {
			collectRetained(c, filter[1:], out)
		}
	}
}

func collectAll(n *node, out *[]*Message) {
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for tok, c := range n.children {
		if isWild(tok) {
			continue
		}
		collectAll(c, out)
	}
}

func isWild(tok Token) bool { return tok == wildOne || tok == wildAll }

// Publish delivers a message to all subscribers whose filter matches its topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[*Subscription]struct{})
	matchSubs(b.root, msg.Topic, func(s *Subscription) {
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		deliver(s, msg)
	})

	if !msg.Retained {
		return
	}
	n := b.root
	for _, tok := range msg.Topic {
		n = n.child(tok, msg.Payload != nil)
		if n == nil {
			return
		}
	}
	if msg.Payload == nil {
		n.retained = nil
	} else {
		n.retained = msg
	}
}

func matchSubs(n *node, topic Topic, fn func(*Subscription)) {
	if c := n.child(wildAll, false); c != nil {
		for _, s := range c.subs {
			fn(s)
		}
	}
	if len(topic) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.child(topic[0], false); c != nil {
		matchSubs(c, topic[1:], fn)
	}
	if c := n.child(wildOne, false); c != nil {
		matchSubs(c, topic[1:], fn)
	}
}

// deliver never blocks: when the queue is full the oldest message is dropped.
func deliver(sub *Subscription, msg *Message) {
	for {
		select {
		case sub.ch <- msg:
			return
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
	}
}

// unsubscribe removes a subscription from the trie and prunes empty nodes.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.topic))
	for _, t := range sub.topic {
		c := n.child(t, false)
		if c == nil {
			return
		}
		stack = append(stack, n)
		n = c
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.topic[i]
		c := parent.children[key]
		if len(c.subs) != 0 || len(c.children) != 0 || c.retained != nil {
			break
		}
		delete(parent.children, key)
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Subscribe registers a subscription owned by this connection. Filters may
// use "+" for one level and a trailing "#" for any remaining levels.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	return c.SubscribeQueue(topic, c.bus.qLen)
}

// SubscribeQueue is Subscribe with its own queue length.
func (c *Connection) SubscribeQueue(topic Topic, qLen int) *Subscription {
	if qLen < 1 {
		qLen = 1
	}
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions of this connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
