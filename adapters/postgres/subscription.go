package postgres

import (
	"sync"
	"time"

	"github.com/lib/pq"
)

// Reconnect bounds for the notification listener.
const (
	listenerMinReconnect = 100 * time.Millisecond
	listenerMaxReconnect = 10 * time.Second
)

// notifier turns NOTIFY messages sent by Append into AppendSignal wake-ups.
// Notifications are hints: a subscription still reads the log itself, so a
// lost notification only delays delivery until the next poll.
type notifier struct {
	listener *pq.Listener

	mu     sync.Mutex
	signal chan struct{}

	stop chan struct{}
	done chan struct{}
}

// startNotifier starts listening when WithNotifications was given.
func (a *PostgresAdapter) startNotifier() {
	if a.listenDSN == "" {
		return
	}

	logger := a.logger
	listener := pq.NewListener(a.listenDSN, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("notification listener error", "event", int(ev), "error", err)
			}
		})

	if err := listener.Listen(a.channel()); err != nil {
		a.logger.Warn("notifications unavailable, falling back to polling",
			"channel", a.channel(),
			"error", err)
		_ = listener.Close()
		return
	}

	n := &notifier{
		listener: listener,
		signal:   make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go n.run()
	a.notifier = n
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case _, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; commits may have been
			// missed, so it wakes subscribers too.
			n.broadcast()
		}
	}
}

func (n *notifier) current() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.signal
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.signal)
	n.signal = make(chan struct{})
}

func (n *notifier) close() {
	close(n.stop)
	_ = n.listener.Close()
	<-n.done
	n.broadcast()
}

// AppendSignal returns a channel closed after the next commit seen through
// LISTEN/NOTIFY. Without WithNotifications it returns nil, which never fires,
// and subscriptions rely on polling alone.
func (a *PostgresAdapter) AppendSignal() <-chan struct{} {
	if a.notifier == nil {
		return nil
	}
	return a.notifier.current()
}
