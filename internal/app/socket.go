package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"

	"taskboard/internal/realtime"
	"taskboard/internal/rbac"
	"taskboard/internal/store"
	"taskboard/internal/util"
)

// Events a live connection may send.
const (
	EventJoinBoard  = "join-board"
	EventLeaveBoard = "leave-board"
	EventCardMove   = "card:move"
	EventCardCreate = "card:create"
	EventListCreate = "list:create"
)

const socketWriteTimeout = 10 * time.Second

// inboundFrame keeps the payload undecoded until the event is known.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	BoardID string `json:"boardId"`
}

// SocketGateway serves live connections. A connection authenticates with a
// bearer token at handshake, joins one board at a time and then receives
// every board:update of that board.
type SocketGateway struct {
	service *Service
	hub     *realtime.Hub
	log     *logrus.Logger
}

func NewSocketGateway(service *Service, hub *realtime.Hub, logger *logrus.Logger) *SocketGateway {
	return &SocketGateway{service: service, hub: hub, log: logger}
}

func (g *SocketGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		g.reject(w, unauthenticated("Authentication error"))
		return
	}
	session, err := g.service.Authenticate(r.Context(), token)
	if err != nil {
		g.reject(w, err)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	session.ConnID = util.NewID("conn")
	client := g.hub.Register(session.ConnID, session.UserID)
	logger := g.log.WithFields(logrus.Fields{"conn_id": session.ConnID, "user_id": session.UserID})
	logger.Info("live connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.writeLoop(conn, client, logger)
	}()

	g.readLoop(ctx, conn, client, session, logger)

	cancel()
	g.hub.Unregister(client)
	<-done
	_ = conn.Close()
	logger.Info("live connection closed")
}

func (g *SocketGateway) reject(w http.ResponseWriter, err error) {
	status, code, message, _ := mapError(err)
	payload, _ := sonic.Marshal(map[string]any{"code": code, "message": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeLoop drains the client's queue. The queue is closed when the hub drops
// the client, which also ends the connection.
func (g *SocketGateway) writeLoop(conn net.Conn, client *realtime.Client, logger *logrus.Entry) {
	for msg := range client.Send() {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := wsutil.WriteServerMessage(conn, ws.OpText, msg); err != nil {
			logger.WithError(err).Debug("live connection write failed")
			_ = conn.Close()
			for range client.Send() {
			}
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "")))
	_ = conn.Close()
}

func (g *SocketGateway) readLoop(ctx context.Context, conn net.Conn, client *realtime.Client, session Session, logger *logrus.Entry) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, net.ErrClosed) {
				logger.WithError(err).Debug("live connection read failed")
			}
			return
		}
		if op != ws.OpText {
			continue
		}
		var frame inboundFrame
		if err := sonic.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			g.sendError(client, "Malformed message")
			continue
		}
		g.dispatch(ctx, client, session, frame, logger)
	}
}

func (g *SocketGateway) dispatch(ctx context.Context, client *realtime.Client, session Session, frame inboundFrame, logger *logrus.Entry) {
	switch frame.Event {
	case EventJoinBoard:
		boardID := joinTarget(frame.Data)
		if boardID == "" {
			g.sendError(client, "Board not found")
			return
		}
		if err := g.service.canAccess(ctx, session, boardID); err != nil {
			g.sendFailure(client, err, logger)
			return
		}
		g.hub.Join(client, boardID)
		g.hub.SendTo(client, realtime.EventJoined, joinPayload{BoardID: boardID})
		logger.WithField("board_id", boardID).Debug("joined board")

	case EventLeaveBoard:
		g.hub.Leave(client)

	case EventCardMove:
		boardID := client.BoardID()
		if boardID == "" {
			g.sendError(client, "Not in a board")
			return
		}
		var input MoveCardInput
		if err := sonic.Unmarshal(frame.Data, &input); err != nil {
			g.sendError(client, "Invalid card")
			return
		}
		if owner, err := g.service.boardOfCard(ctx, input.CardID); err != nil || owner != boardID {
			g.sendError(client, "Invalid card")
			return
		}
		if _, err := g.service.MoveCard(ctx, session, input); err != nil {
			g.sendFailure(client, err, logger)
		}

	case EventCardCreate:
		boardID := client.BoardID()
		if boardID == "" {
			g.sendError(client, "Not in a board")
			return
		}
		var input CreateCardInput
		if err := sonic.Unmarshal(frame.Data, &input); err != nil {
			g.sendError(client, "Invalid list")
			return
		}
		if owner, err := g.service.boardOfList(ctx, input.ListID); err != nil || owner != boardID {
			g.sendError(client, "Invalid list")
			return
		}
		if _, _, err := g.service.CreateCard(ctx, withoutConn(session), input); err != nil {
			g.sendFailure(client, err, logger)
		}

	case EventListCreate:
		boardID := client.BoardID()
		if boardID == "" {
			g.sendError(client, "Not in a board")
			return
		}
		var input CreateListInput
		if err := sonic.Unmarshal(frame.Data, &input); err != nil {
			g.sendError(client, "Invalid list")
			return
		}
		if _, _, err := g.service.CreateList(ctx, withoutConn(session), boardID, input); err != nil {
			g.sendFailure(client, err, logger)
		}

	default:
		g.sendError(client, "Unknown event")
	}
}

// withoutConn drops the connection id so the broadcast reaches the sender
// as well.
func withoutConn(session Session) Session {
	session.ConnID = ""
	return session
}

// joinTarget accepts either a bare board id or {"boardId": ...}.
func joinTarget(raw []byte) string {
	var id string
	if err := sonic.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var payload joinPayload
	if err := sonic.Unmarshal(raw, &payload); err == nil {
		return strings.TrimSpace(payload.BoardID)
	}
	return ""
}

func (g *SocketGateway) sendError(client *realtime.Client, message string) {
	g.hub.SendTo(client, realtime.EventError, map[string]string{"message": message})
}

func (g *SocketGateway) sendFailure(client *realtime.Client, err error, logger *logrus.Entry) {
	status, _, message, _ := mapError(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("live event failed")
	}
	g.sendError(client, message)
}

func (s *Service) canAccess(ctx context.Context, session Session, boardID string) error {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return orNotFound(err, "Board not found")
	}
	return authorize(board, session.UserID, rbac.ActionRead)
}

func (s *Service) boardOfCard(ctx context.Context, cardID string) (string, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return "", orNotFound(err, "Card not found")
	}
	return card.BoardID, nil
}

func (s *Service) boardOfList(ctx context.Context, listID string) (string, error) {
	list, err := s.store.GetList(ctx, listID)
	if errors.Is(err, store.ErrNotFound) {
		return "", notFound("List not found")
	}
	if err != nil {
		return "", err
	}
	return list.BoardID, nil
}
