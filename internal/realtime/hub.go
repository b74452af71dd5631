// Package realtime fans board snapshots out to live connections. A Hub keeps
// the connections of this process grouped by board; a RedisRelay carries
// updates between processes.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

const (
	EventBoardUpdate = "board:update"
	EventJoined      = "joined"
	EventError       = "error"

	// ActionBoardDeleted is a control update: subscribers of the board are
	// released and nothing is sent to them.
	ActionBoardDeleted = "board:deleted"
)

// Update is a fresh board snapshot tagged with the mutation that produced it.
type Update struct {
	BoardID      string          `json:"boardId"`
	Action       string          `json:"action"`
	Version      int64           `json:"version"`
	OriginUserID string          `json:"originUserId,omitempty"`
	ExcludeConn  string          `json:"excludeConn,omitempty"`
	Board        json.RawMessage `json:"board,omitempty"`
	Lists        json.RawMessage `json:"lists,omitempty"`
}

// Publisher hands an update to every subscriber of its board.
type Publisher interface {
	Publish(ctx context.Context, update Update) error
}

// Frame is the envelope written to a connection.
type Frame struct {
	Event string `json:"event"`
	Seq   int64  `json:"seq,omitempty"`
	Data  any    `json:"data"`
}

type updateData struct {
	Board             json.RawMessage `json:"board"`
	Lists             json.RawMessage `json:"lists"`
	Action            string          `json:"action"`
	Version           int64           `json:"version"`
	OriginatingUserID string          `json:"originatingUserId,omitempty"`
}

// Client is one live connection. The transport drains Send and writes each
// message to the wire.
type Client struct {
	ID     string
	UserID string

	send      chan []byte
	closeOnce sync.Once

	mu      sync.Mutex
	boardID string
}

func (c *Client) Send() <-chan []byte {
	return c.send
}

// BoardID returns the board the connection is subscribed to, if any.
func (c *Client) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

func (c *Client) setBoard(boardID string) {
	c.mu.Lock()
	c.boardID = boardID
	c.mu.Unlock()
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

type Hub struct {
	log        *logrus.Logger
	bufferSize int

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	seq atomic.Int64
}

func NewHub(logger *logrus.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		log:        logger,
		bufferSize: bufferSize,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
	}
}

func (h *Hub) Register(id, userID string) *Client {
	c := &Client{ID: id, UserID: userID, send: make(chan []byte, h.bufferSize)}
	h.mu.Lock()
	h.clients[id] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"conn_id": id, "user_id": userID, "clients": total}).Debug("realtime client registered")
	return c
}

// Unregister removes the client from its room and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	total := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"conn_id": c.ID, "clients": total}).Debug("realtime client unregistered")
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	h.leaveLocked(c)
	c.close()
}

// Join subscribes c to boardID, releasing any board it was subscribed to.
func (h *Hub) Join(c *Client, boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	h.leaveLocked(c)
	room, ok := h.rooms[boardID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[boardID] = room
	}
	room[c.ID] = c
	c.setBoard(boardID)
}

func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	h.leaveLocked(c)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client) {
	boardID := c.BoardID()
	if boardID == "" {
		return
	}
	if room, ok := h.rooms[boardID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
	}
	c.setBoard("")
}

// Subscribers reports how many connections of this process watch boardID.
func (h *Hub) Subscribers(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[boardID])
}

// CloseRoom releases every subscription to boardID without notifying.
func (h *Hub) CloseRoom(boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.rooms[boardID] {
		c.setBoard("")
	}
	delete(h.rooms, boardID)
}

func (h *Hub) Publish(_ context.Context, update Update) error {
	h.Deliver(update)
	return nil
}

// Deliver writes update to the board's local subscribers and returns how many
// received it. Clients whose queue is full are disconnected; they recover by
// reloading the board when they reconnect.
func (h *Hub) Deliver(update Update) int {
	if update.Action == ActionBoardDeleted {
		h.CloseRoom(update.BoardID)
		return 0
	}

	frame := Frame{
		Event: EventBoardUpdate,
		Seq:   h.seq.Add(1),
		Data: updateData{
			Board:             update.Board,
			Lists:             update.Lists,
			Action:            update.Action,
			Version:           update.Version,
			OriginatingUserID: update.OriginUserID,
		},
	}
	payload, err := sonic.Marshal(frame)
	if err != nil {
		h.log.WithError(err).WithField("board_id", update.BoardID).Error("encode board update")
		return 0
	}

	delivered := 0
	var slow []*Client
	h.mu.RLock()
	for id, c := range h.rooms[update.BoardID] {
		if id == update.ExcludeConn {
			continue
		}
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithFields(logrus.Fields{"conn_id": c.ID, "board_id": update.BoardID}).Warn("realtime send queue full, disconnecting client")
		h.Unregister(c)
	}
	return delivered
}

// SendTo queues a single event for one connection.
func (h *Hub) SendTo(c *Client, event string, data any) bool {
	payload, err := sonic.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("encode frame")
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}
