package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"pillpal/internal/models"
	"pillpal/internal/services"
)

const (
	feedReadTimeout  = 90 * time.Second
	feedPingInterval = 30 * time.Second
	feedWriteBuffer  = 32
	feedActionLimit  = 10 * time.Second
)

// ReminderFeedHandler streams reminder notices to the user's devices and
// accepts dose actions from notification buttons
type ReminderFeedHandler struct {
	connManager *services.ConnectionManager
	doses       DoseService
	today       func() string
}

// NewReminderFeedHandler creates a new reminder feed handler. today returns
// the current calendar day used for the catch-up snapshot.
func NewReminderFeedHandler(connManager *services.ConnectionManager, doses DoseService, today func() string) *ReminderFeedHandler {
	return &ReminderFeedHandler{connManager: connManager, doses: doses, today: today}
}

// Handle handles a new WebSocket connection
func (h *ReminderFeedHandler) Handle(c *websocket.Conn) {
	deviceID, _ := c.Locals("device_id").(string)
	clientIP, _ := c.Locals("client_ip").(string)

	done := make(chan struct{})

	conn := &models.FeedConnection{
		ConnID:    uuid.New().String(),
		Subject:   deviceID,
		ClientIP:  clientIP,
		Conn:      c,
		WriteChan: make(chan models.ServerMessage, feedWriteBuffer),
		CreatedAt: time.Now(),
	}

	h.connManager.Add(conn)
	defer func() {
		close(done)
		h.connManager.Remove(conn.ConnID)
	}()

	c.SetReadDeadline(time.Now().Add(feedReadTimeout))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	conn.WriteChan <- models.ServerMessage{
		Type:    "connected",
		Message: "Reminder feed connected",
	}

	// Devices that connect late still see the doses awaiting an answer
	for _, inst := range h.doses.List(h.today()) {
		if inst.State != models.DoseStateNotified && inst.State != models.DoseStateSnoozed {
			continue
		}
		inst := inst
		select {
		case conn.WriteChan <- models.ServerMessage{Type: "dose_updated", Instance: &inst}:
		default:
		}
	}

	h.readLoop(conn)
}

// pingLoop sends periodic pings to keep the WebSocket connection alive
func (h *ReminderFeedHandler) pingLoop(conn *models.FeedConnection, done <-chan struct{}) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.Mutex.Lock()
			err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			conn.Mutex.Unlock()
			if err != nil {
				log.Printf("⚠️  [FEED] Ping failed for %s: %v", conn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop drains the write channel until the connection is removed
func (h *ReminderFeedHandler) writeLoop(conn *models.FeedConnection) {
	for msg := range conn.WriteChan {
		conn.Mutex.Lock()
		err := conn.Conn.WriteJSON(msg)
		conn.Mutex.Unlock()
		if err != nil {
			log.Printf("❌ [FEED] Write error for %s: %v", conn.ConnID, err)
			return
		}
	}
}

// readLoop handles incoming messages from the client
func (h *ReminderFeedHandler) readLoop(conn *models.FeedConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [FEED] Panic in readLoop: %v", r)
		}
	}()

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️  [FEED] Read error for %s: %v", conn.ConnID, err)
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		var msg models.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(conn, models.ServerMessage{Type: "error", Message: "Invalid message format"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.reply(conn, models.ServerMessage{Type: "pong"})
		case "dose_action":
			h.reply(conn, h.handleAction(msg))
		default:
			log.Printf("⚠️  [FEED] Unknown message type from %s: %s", conn.ConnID, msg.Type)
		}
	}
}

// handleAction applies a notification button press. The result goes to the
// sender only; other devices learn about it through the next notice.
func (h *ReminderFeedHandler) handleAction(msg models.ClientMessage) models.ServerMessage {
	id, err := models.ParseDoseInstanceID(msg.InstanceID)
	if err != nil {
		return models.ServerMessage{Type: "error", Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), feedActionLimit)
	defer cancel()

	var inst models.DoseInstance
	switch msg.Action {
	case "taken":
		inst, err = h.doses.ConfirmTaken(ctx, id)
	case "skip":
		inst, err = h.doses.Skip(ctx, id)
	case "snooze":
		inst, err = h.doses.Snooze(ctx, id)
	default:
		return models.ServerMessage{Type: "error", Message: "Unknown action " + msg.Action}
	}
	if err != nil {
		_, message := doseErrorStatus(err)
		return models.ServerMessage{Type: "error", Message: message, Instance: instanceOrNil(inst)}
	}
	return models.ServerMessage{Type: "dose_updated", Instance: &inst}
}

func (h *ReminderFeedHandler) reply(conn *models.FeedConnection, msg models.ServerMessage) {
	select {
	case conn.WriteChan <- msg:
	default:
		log.Printf("⚠️  [FEED] Write buffer full for %s, dropping %s reply", conn.ConnID, msg.Type)
	}
}
