package services

import (
	"log"
	"sync"

	"pillpal/internal/models"
)

// FeedRecorder observes reminder feed traffic
type FeedRecorder interface {
	RecordFeedConnect()
	RecordFeedDisconnect()
	RecordFeedMessage(msgType string)
}

// ConnectionManager manages the open reminder feed connections and fans
// reminder notices out to them
type ConnectionManager struct {
	connections map[string]*models.FeedConnection
	mutex       sync.RWMutex
	recorder    FeedRecorder
	forward     []func(models.ReminderNotice)
}

// NewConnectionManager creates a new connection manager. recorder may be nil.
func NewConnectionManager(recorder FeedRecorder) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.FeedConnection),
		recorder:    recorder,
	}
}

// Forward registers a sink that receives every locally raised notice,
// such as the cross-replica publisher
func (cm *ConnectionManager) Forward(fn func(models.ReminderNotice)) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.forward = append(cm.forward, fn)
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.FeedConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	if cm.recorder != nil {
		cm.recorder.RecordFeedConnect()
	}
	log.Printf("✅ [FEED] Connection added: %s (Total: %d)", conn.ConnID, len(cm.connections))
}

// Remove removes a connection and closes its write channel
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		close(conn.WriteChan)
		delete(cm.connections, connID)
		if cm.recorder != nil {
			cm.recorder.RecordFeedDisconnect()
		}
		log.Printf("❌ [FEED] Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.FeedConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Notify shows a notice on every connected device and hands it to the
// forward sinks. It never blocks: a client whose buffer is full misses
// the notice.
func (cm *ConnectionManager) Notify(notice models.ReminderNotice) {
	cm.Deliver(notice)

	cm.mutex.RLock()
	forward := cm.forward
	cm.mutex.RUnlock()
	for _, fn := range forward {
		fn(notice)
	}
}

// Deliver writes a notice to local connections only. Used for notices
// relayed from other replicas.
func (cm *ConnectionManager) Deliver(notice models.ReminderNotice) {
	cm.Broadcast(models.ServerMessage{Type: "notice", Notice: &notice})
}

// PreferencesChanged tells every connected device about new preferences
func (cm *ConnectionManager) PreferencesChanged(prefs models.Preferences) {
	cm.Broadcast(models.ServerMessage{Type: "preferences_updated", Preferences: &prefs})
}

// Broadcast writes msg to every local connection without blocking
func (cm *ConnectionManager) Broadcast(msg models.ServerMessage) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	delivered := 0
	for id, conn := range cm.connections {
		select {
		case conn.WriteChan <- msg:
			delivered++
			if cm.recorder != nil {
				cm.recorder.RecordFeedMessage(msg.Type)
			}
		default:
			log.Printf("⚠️  [FEED] Write buffer full for %s, dropping %s message", id, msg.Type)
		}
	}
	return delivered
}
