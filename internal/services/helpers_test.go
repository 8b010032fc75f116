package services

import (
	"io"
	"log/slog"
	"sync"

	"sankeyhub/pkg/contracts/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type broadcastEvent struct {
	messageType events.MessageType
	data        interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *recordingBroadcaster) Broadcast(messageType events.MessageType, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{messageType: messageType, data: data})
}

func (b *recordingBroadcaster) count(messageType events.MessageType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.messageType == messageType {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) last() (broadcastEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return broadcastEvent{}, false
	}
	return b.events[len(b.events)-1], true
}
