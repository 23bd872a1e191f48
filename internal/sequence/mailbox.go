package sequence

import (
	"context"
	"errors"
	"sync"

	logx "timeanchor/pkg/logx"
)

var (
	ErrNoReplyChannel = errors.New("reply channel not open")
	ErrReplyDropped   = errors.New("reply channel full")
)

// Message is one of UpsertMessage, DeleteMessage, RequestMessage.
type Message interface{ message() }

type UpsertMessage struct {
	Sequences []Sequence `json:"sequences"`
}

type DeleteMessage struct {
	IDs []string `json:"ids"`
}

// RequestMessage asks for the sequences matching IDs (all when empty); the
// result is delivered on the reply channel named ReplyTo.
type RequestMessage struct {
	IDs     []string `json:"ids,omitempty"`
	ReplyTo string   `json:"replyTo"`
}

func (UpsertMessage) message()  {}
func (DeleteMessage) message()  {}
func (RequestMessage) message() {}

// Replies routes request results to named channels. A requester opens its
// channel before sending a RequestMessage and closes it when done.
type Replies struct {
	mu  sync.Mutex
	chs map[string]chan []Sequence
}

func NewReplies() *Replies {
	return &Replies{chs: map[string]chan []Sequence{}}
}

// Open registers name and returns its receive side. Opening an already open
// name replaces (and closes) the previous channel.
func (r *Replies) Open(name string, buffer int) (<-chan []Sequence, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []Sequence, buffer)
	r.mu.Lock()
	if old, ok := r.chs[name]; ok {
		close(old)
	}
	r.chs[name] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if cur, ok := r.chs[name]; ok && cur == ch {
				delete(r.chs, name)
				close(ch)
			}
		})
	}
}

// Deliver sends list to name without blocking.
func (r *Replies) Deliver(name string, list []Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chs[name]
	if !ok {
		return ErrNoReplyChannel
	}
	select {
	case ch <- list:
		return nil
	default:
		return ErrReplyDropped
	}
}

// Mailbox serves library operations received as messages on an explicit queue.
type Mailbox struct {
	lib     *Library
	replies *Replies
	in      chan Message
	log     logx.Logger
}

func NewMailbox(lib *Library, replies *Replies, buffer int, log logx.Logger) *Mailbox {
	if buffer <= 0 {
		buffer = 32
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if replies == nil {
		replies = NewReplies()
	}
	return &Mailbox{lib: lib, replies: replies, in: make(chan Message, buffer), log: log}
}

func (m *Mailbox) Replies() *Replies { return m.replies }

// Send enqueues msg, blocking until there is room or ctx is done.
func (m *Mailbox) Send(ctx context.Context, msg Message) error {
	select {
	case m.in <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve processes queued messages until ctx is done.
func (m *Mailbox) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.in:
			if err := m.Handle(ctx, msg); err != nil {
				m.log.Warn("sequence message failed", logx.Err(err))
			}
		}
	}
}

// Handle processes one message synchronously.
func (m *Mailbox) Handle(ctx context.Context, msg Message) error {
	switch v := msg.(type) {
	case UpsertMessage:
		_, err := m.lib.Upsert(ctx, v.Sequences)
		return err
	case DeleteMessage:
		_, err := m.lib.Delete(ctx, v.IDs)
		return err
	case RequestMessage:
		return m.replies.Deliver(v.ReplyTo, m.lib.Get(v.IDs...))
	default:
		return errors.New("unknown sequence message")
	}
}
