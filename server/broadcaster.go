package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"insightfeed/models"
)

// Broadcaster fans feed snapshots out to SSE clients
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.FeedState
	closed  bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.FeedState),
	}
}

// Broadcast sends state to every client without blocking. A client whose
// buffer is full misses the snapshot, the next one supersedes it anyway.
func (b *Broadcaster) Broadcast(state models.FeedState) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- state:
		default:
			log.Warnf("Client channel full, skipping feed snapshot for client: %v", id)
		}
	}
}

// AddClient registers a client channel under key
func (b *Broadcaster) AddClient(key string, client chan models.FeedState) bool {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return false
	}
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
	return true
}

// RemoveClient closes and forgets the client channel under key
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
		log.WithFields(log.Fields{
			"key":   key,
			"count": len(b.clients),
		}).Info("Removed client from broadcaster")
	}
}

// Count returns the number of connected clients
func (b *Broadcaster) Count() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
	b.closed = true
}
