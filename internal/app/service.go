package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/internal/attachments"
	"taskboard/internal/cache"
	"taskboard/internal/config"
	"taskboard/internal/email"
	"taskboard/internal/ordering"
	"taskboard/internal/rbac"
	"taskboard/internal/realtime"
	"taskboard/internal/search"
	"taskboard/internal/store"
)

// Action labels attached to every broadcast.
const (
	ActionBoardUpdated = "board:updated"
	ActionBoardDeleted = realtime.ActionBoardDeleted
	ActionListCreated  = "list:created"
	ActionListUpdated  = "list:updated"
	ActionListDeleted  = "list:deleted"
	ActionCardCreated  = "card:created"
	ActionCardUpdated  = "card:updated"
	ActionCardDeleted  = "card:deleted"
	ActionCardMoved    = "card:moved"
	ActionCommentAdded = "comment:added"
	ActionMemberAdded  = "member:added"
)

const (
	tracerName          = "taskboard/internal/app"
	defaultSearchLimit  = 20
	snapshotCacheWindow = 2 * time.Second
)

type snapshotCache interface {
	Get(ctx context.Context, boardID string) (cache.Entry, bool, error)
	Set(ctx context.Context, boardID string, entry cache.Entry) (bool, error)
	Invalidate(ctx context.Context, boardID string) error
}

type mailer interface {
	IsConfigured() bool
	SendBoardInvite(to string, data email.BoardInviteData) error
}

// Pinger is a dependency that reports its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the optional collaborators of a Service. Nil members switch the
// matching feature off.
type Deps struct {
	Cache     snapshotCache
	Search    *search.Service
	Blobs     attachments.BlobStore
	Mailer    mailer
	Tracer    trace.Tracer
	Readiness map[string]Pinger
}

type Service struct {
	cfg       config.Config
	store     store.Store
	publisher realtime.Publisher
	cache     snapshotCache
	search    *search.Service
	blobs     attachments.BlobStore
	mailer    mailer
	tracer    trace.Tracer
	readiness map[string]Pinger
	log       *logrus.Logger
	now       func() time.Time
}

func New(cfg config.Config, dataStore store.Store, publisher realtime.Publisher, deps Deps, logger *logrus.Logger) *Service {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		publisher: publisher,
		cache:     deps.Cache,
		search:    deps.Search,
		blobs:     deps.Blobs,
		mailer:    deps.Mailer,
		tracer:    tracer,
		readiness: deps.Readiness,
		log:       logger,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings the store and every optional dependency registered for
// readiness and returns the failures by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	for name, p := range s.readiness {
		checks[name] = p.Ping(ctx)
	}
	return checks
}

// errNoChange ends a mutation successfully without bumping the version or
// broadcasting.
var errNoChange = errors.New("no change")

// mutation describes one write against a board.
type mutation struct {
	op      string
	action  string
	boardID string
	session Session
	need    rbac.Action
	// excludeConn keeps the broadcast away from the connection that
	// originated the change.
	excludeConn string
}

// mutate runs fn while holding the board's lock, bumps the board version,
// reloads the aggregate inside the same unit of work and verifies card
// density before committing. After commit the snapshot is cached and
// broadcast once.
func (s *Service) mutate(ctx context.Context, m mutation, fn func(ctx context.Context, q store.Queries, board store.Board) error) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "board."+m.op, trace.WithAttributes(
		attribute.String("board.id", m.boardID),
		attribute.String("board.action", m.action),
	))
	defer span.End()

	var snap Snapshot
	unchanged := false
	err := s.store.WithBoardLock(ctx, m.boardID, func(q store.Queries) error {
		board, err := q.GetBoard(ctx, m.boardID)
		if err != nil {
			return orNotFound(err, "Board not found")
		}
		if err := authorize(board, m.session.UserID, m.need); err != nil {
			return err
		}
		if err := fn(ctx, q, board); err != nil {
			return err
		}
		if _, err := q.TouchBoard(ctx, m.boardID); err != nil {
			return fmt.Errorf("touch board: %w", err)
		}
		snap, err = loadSnapshot(ctx, q, m.boardID)
		if err != nil {
			return err
		}
		if err := ordering.Verify(snap.placements()); err != nil {
			return fmt.Errorf("board %s: %w", m.boardID, err)
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		unchanged = true
		snap, err = loadSnapshot(ctx, s.store, m.boardID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logFailure(err, m)
		return Snapshot{}, err
	}
	span.SetAttributes(attribute.Int64("board.version", snap.Board.Version))
	if unchanged {
		return snap, nil
	}

	s.cacheSnapshot(ctx, snap)
	s.broadcast(ctx, m, snap)
	return snap, nil
}

func (s *Service) logFailure(err error, m mutation) {
	if status, _, _, _ := mapError(err); status < 500 {
		return
	}
	s.log.WithError(err).WithFields(logrus.Fields{
		"board_id": m.boardID,
		"action":   m.action,
		"user_id":  m.session.UserID,
	}).Error("board mutation failed")
}

func (s *Service) broadcast(ctx context.Context, m mutation, snap Snapshot) {
	board, err := sonic.Marshal(snap.Board)
	if err != nil {
		s.log.WithError(err).WithField("board_id", m.boardID).Error("encode board for broadcast")
		return
	}
	lists, err := sonic.Marshal(snap.Lists)
	if err != nil {
		s.log.WithError(err).WithField("board_id", m.boardID).Error("encode lists for broadcast")
		return
	}
	update := realtime.Update{
		BoardID:      m.boardID,
		Action:       m.action,
		Version:      snap.Board.Version,
		OriginUserID: m.session.UserID,
		ExcludeConn:  m.excludeConn,
		Board:        board,
		Lists:        lists,
	}
	if err := s.publisher.Publish(ctx, update); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"board_id": m.boardID, "action": m.action}).Warn("broadcast board update")
	}
}

func (s *Service) cacheSnapshot(ctx context.Context, snap Snapshot) {
	if s.cache == nil {
		return
	}
	payload, err := sonic.Marshal(snap)
	if err != nil {
		s.log.WithError(err).WithField("board_id", snap.Board.ID).Warn("encode snapshot for cache")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotCacheWindow)
	defer cancel()
	if _, err := s.cache.Set(ctx, snap.Board.ID, cache.Entry{Version: snap.Board.Version, Payload: payload}); err != nil {
		s.log.WithError(err).WithField("board_id", snap.Board.ID).Warn("cache snapshot")
	}
}

// Board returns the aggregate of a board the caller can read. A cached
// snapshot is served only when it carries the board's current version.
func (s *Service) Board(ctx context.Context, session Session, boardID string) (Snapshot, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return Snapshot{}, orNotFound(err, "Board not found")
	}
	if err := authorize(board, session.UserID, rbac.ActionRead); err != nil {
		return Snapshot{}, err
	}
	if s.cache != nil {
		entry, ok, err := s.cache.Get(ctx, boardID)
		if err != nil {
			s.log.WithError(err).WithField("board_id", boardID).Warn("read snapshot cache")
		}
		if ok && entry.Version == board.Version {
			var snap Snapshot
			if err := sonic.Unmarshal(entry.Payload, &snap); err == nil {
				return snap, nil
			}
		}
	}
	snap, err := loadSnapshot(ctx, s.store, boardID)
	if err != nil {
		return Snapshot{}, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// Search finds cards of a board the caller can read.
func (s *Service) Search(ctx context.Context, session Session, boardID, text string, limit int) (search.Response, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return search.Response{}, orNotFound(err, "Board not found")
	}
	if err := authorize(board, session.UserID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if limit <= 0 || limit > 100 {
		limit = defaultSearchLimit
	}
	q := search.Query{Text: text, BoardID: boardID, Limit: limit}
	if s.search == nil {
		results, total, err := search.NewStoreFTS(s.store).Search(ctx, q)
		if err != nil {
			return search.Response{}, err
		}
		if results == nil {
			results = []search.Result{}
		}
		return search.Response{Results: results, Total: total, Query: text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func cardRecord(card CardView) search.CardRecord {
	labels := make([]string, 0, len(card.Labels))
	for _, l := range card.Labels {
		labels = append(labels, l.Name)
	}
	return search.CardRecord{
		ID:          card.ID,
		BoardID:     card.BoardID,
		ListID:      card.ListID,
		Title:       card.Title,
		Description: card.Description,
		Labels:      labels,
	}
}

func (s *Service) indexCards(snap Snapshot, ids ...string) {
	if s.search == nil {
		return
	}
	records := make([]search.CardRecord, 0, len(ids))
	for _, id := range ids {
		if card, ok := snap.Card(id); ok {
			records = append(records, cardRecord(card))
		}
	}
	s.search.IndexCards(records...)
}

func (s *Service) unindexCards(ids ...string) {
	if s.search == nil {
		return
	}
	s.search.DeleteCards(ids...)
}
