// Package broadcast fans the supervised process's output out to live log
// subscribers. A single loop owns the subscriber set; all other code talks to
// it via register/unregister/submit messages, so the set needs no lock.
package broadcast

import (
	"fmt"
	"io"

	"github.com/devplane/devplane/internal/metrics"
)

// Message is one log line with its stream classification.
type Message struct {
	Text  string
	IsErr bool
}

// DefaultSubscriberBuffer bounds each subscriber's channel. A subscriber
// whose buffer is full has messages dropped rather than stalling the
// producer or its peers.
const DefaultSubscriberBuffer = 16

// Subscriber is one registered log stream consumer.
type Subscriber struct {
	ch chan Message
}

// Lines returns the subscriber's delivery channel. It is closed on
// unregistration.
func (s *Subscriber) Lines() <-chan Message { return s.ch }

// Broadcaster multiplexes submitted lines to all registered subscribers and
// mirrors every line to the process's own stdout/stderr (and any configured
// rotating mirror), so container-level logs stay complete with zero
// subscribers.
type Broadcaster struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	messages   chan Message
	stop       chan struct{}

	mirrorOut io.Writer
	mirrorErr io.Writer
}

// New builds a Broadcaster mirroring to out and errOut. Run must be started
// exactly once; the loop has no terminal state short of process exit
// (Close exists for tests).
func New(out, errOut io.Writer) *Broadcaster {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	return &Broadcaster{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		messages:   make(chan Message, 256),
		stop:       make(chan struct{}),
		mirrorOut:  out,
		mirrorErr:  errOut,
	}
}

// Run is the coordinating loop. It is the only goroutine that touches the
// subscriber set.
func (b *Broadcaster) Run() {
	subs := make(map[*Subscriber]struct{})
	for {
		select {
		case s := <-b.register:
			subs[s] = struct{}{}
			metrics.SetSubscribers(len(subs))
		case s := <-b.unregister:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
				metrics.SetSubscribers(len(subs))
			}
		case msg := <-b.messages:
			for s := range subs {
				select {
				case s.ch <- msg:
				default:
					// Full buffer: prefer availability over completeness.
					metrics.IncLogDrop()
				}
			}
			b.mirror(msg)
		case <-b.stop:
			for s := range subs {
				close(s.ch)
			}
			metrics.SetSubscribers(0)
			return
		}
	}
}

func (b *Broadcaster) mirror(msg Message) {
	if msg.IsErr {
		_, _ = fmt.Fprintln(b.mirrorErr, msg.Text)
		return
	}
	_, _ = fmt.Fprintln(b.mirrorOut, msg.Text)
}

// Register creates and registers a new subscriber with the default buffer.
func (b *Broadcaster) Register() *Subscriber {
	s := &Subscriber{ch: make(chan Message, DefaultSubscriberBuffer)}
	select {
	case b.register <- s:
	case <-b.stop:
		close(s.ch)
	}
	return s
}

// Unregister removes s and closes its channel. Safe to call more than once.
func (b *Broadcaster) Unregister(s *Subscriber) {
	select {
	case b.unregister <- s:
	case <-b.stop:
	}
}

// Submit queues one line for fan-out. Lines submitted before a subscriber
// registers are never delivered to it retroactively.
func (b *Broadcaster) Submit(text string, isErr bool) {
	metrics.IncLogLine(isErr)
	select {
	case b.messages <- Message{Text: text, IsErr: isErr}:
	case <-b.stop:
	}
}

// Submitf formats and submits a non-error system line.
func (b *Broadcaster) Submitf(format string, args ...any) {
	b.Submit(fmt.Sprintf(format, args...), false)
}

// Close terminates the loop and closes all subscriber channels. Production
// code never calls it; the loop lives for the process lifetime.
func (b *Broadcaster) Close() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
}
