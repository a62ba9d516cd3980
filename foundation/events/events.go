// Package events allows for the registering and receiving of events.
package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Prefix marks the event messages meant for subscribers. Everything else the
// blockchain packages emit is only logged.
const Prefix = "viewer: "

// pingInterval is how often an idle websocket is pinged.
const pingInterval = time.Second

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	m  map[string]chan string
	mu sync.RWMutex
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// A message is dropped if the receiver is not ready, so the buffer
	// gives a slow websocket write some room.
	const messageBuffer = 100

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Count returns the number of registered receivers.
func (evt *Events) Count() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}

// Send signals a message to every registered channel. Only messages carrying
// the Prefix are delivered, with the prefix stripped. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	msg, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return
	}

	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Stream registers id and writes every event to the websocket connection
// until the connection fails or the events are shut down.
func (evt *Events) Stream(conn *websocket.Conn, id string) error {
	ch := evt.Acquire(id)
	defer evt.Release(id)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return nil
			}

			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
