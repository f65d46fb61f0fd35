package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventPostVoted   = "post-voted"
	RealtimeEventPostDeleted = "post-deleted"
	realtimeEventHeartbeat   = "heartbeat"
	realtimeHeartbeatPeriod  = 25 * time.Second
	realtimeBufferSize       = 16
)

// RealtimeMessage notifies a post owner about activity on one of their posts.
type RealtimeMessage struct {
	UserID    string
	EventType string
	PostID    string
	Score     int
	Timestamp time.Time
}

type realtimePayload struct {
	PostID    string `json:"post_id"`
	Score     *int   `json:"score,omitempty"`
	Timestamp int64  `json:"timestamp_ms"`
}

func (m RealtimeMessage) payload() realtimePayload {
	payload := realtimePayload{PostID: m.PostID, Timestamp: m.Timestamp.UnixMilli()}
	if m.EventType == RealtimeEventPostVoted {
		score := m.Score
		payload.Score = &score
	}
	return payload
}

// RealtimeDispatcher fans messages out to the open event streams of each owner.
// Slow subscribers drop messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if d == nil || message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[message.UserID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the open streams of a user.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, userID)
	}
}
