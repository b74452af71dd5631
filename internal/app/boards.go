package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/internal/email"
	"taskboard/internal/rbac"
	"taskboard/internal/realtime"
	"taskboard/internal/store"
	"taskboard/internal/util"
)

const defaultBackground = "#0079bf"

type BoardSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Background  string    `json:"background"`
	OwnerID     string    `json:"ownerId"`
	MemberCount int       `json:"memberCount"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateBoardInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Background  string `json:"background"`
}

type UpdateBoardInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Background  *string `json:"background"`
}

type AddMemberInput struct {
	Email string `json:"email"`
}

func validateTitle(field, title string, max int) (string, error) {
	title = strings.TrimSpace(title)
	if n := utf8.RuneCountInString(title); n < 1 || n > max {
		return "", validationError(fmt.Sprintf("%s must be 1-%d characters", field, max), map[string]any{"field": strings.ToLower(field)})
	}
	return title, nil
}

func validateText(field, text string, max int) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > max {
		return "", validationError(fmt.Sprintf("%s must be at most %d characters", field, max), map[string]any{"field": strings.ToLower(field)})
	}
	return text, nil
}

func (s *Service) ListBoards(ctx context.Context, session Session) ([]BoardSummary, error) {
	boards, err := s.store.ListBoardsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]BoardSummary, 0, len(boards))
	for _, b := range boards {
		out = append(out, BoardSummary{
			ID:          b.ID,
			Title:       b.Title,
			Description: b.Description,
			Background:  b.Background,
			OwnerID:     b.OwnerID,
			MemberCount: len(b.Members),
			Version:     b.Version,
			UpdatedAt:   b.UpdatedAt,
		})
	}
	return out, nil
}

// CreateBoard makes the caller owner and first member of a new board.
func (s *Service) CreateBoard(ctx context.Context, session Session, input CreateBoardInput) (Snapshot, error) {
	title, err := validateTitle("Title", input.Title, 100)
	if err != nil {
		return Snapshot{}, err
	}
	description, err := validateText("Description", input.Description, 500)
	if err != nil {
		return Snapshot{}, err
	}
	background := strings.TrimSpace(input.Background)
	if background == "" {
		background = defaultBackground
	}
	board := store.Board{
		ID:          util.NewID("brd"),
		Title:       title,
		Description: description,
		Background:  background,
		OwnerID:     session.UserID,
		Members:     []string{session.UserID},
	}

	ctx, span := s.tracer.Start(ctx, "board.Create", trace.WithAttributes(attribute.String("board.id", board.ID)))
	defer span.End()
	if err := s.store.InsertBoard(ctx, board); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, fmt.Errorf("create board: %w", err)
	}
	snap, err := loadSnapshot(ctx, s.store, board.ID)
	if err != nil {
		return Snapshot{}, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (s *Service) UpdateBoard(ctx context.Context, session Session, boardID string, input UpdateBoardInput) (Snapshot, error) {
	if input.Title == nil && input.Description == nil && input.Background == nil {
		return Snapshot{}, validationError("Nothing to update", nil)
	}
	var title, description, background string
	var err error
	if input.Title != nil {
		if title, err = validateTitle("Title", *input.Title, 100); err != nil {
			return Snapshot{}, err
		}
	}
	if input.Description != nil {
		if description, err = validateText("Description", *input.Description, 500); err != nil {
			return Snapshot{}, err
		}
	}
	if input.Background != nil {
		if background = strings.TrimSpace(*input.Background); background == "" {
			return Snapshot{}, validationError("Background must not be empty", map[string]any{"field": "background"})
		}
	}

	m := mutation{op: "Update", action: ActionBoardUpdated, boardID: boardID, session: session, need: rbac.ActionWrite}
	return s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		if input.Title != nil {
			board.Title = title
		}
		if input.Description != nil {
			board.Description = description
		}
		if input.Background != nil {
			board.Background = background
		}
		return q.UpdateBoard(ctx, board)
	})
}

// DeleteBoard removes the board with its lists, cards, comments and
// attachments. Live subscribers are released without a snapshot.
func (s *Service) DeleteBoard(ctx context.Context, session Session, boardID string) error {
	ctx, span := s.tracer.Start(ctx, "board.Delete", trace.WithAttributes(
		attribute.String("board.id", boardID),
		attribute.String("board.action", ActionBoardDeleted),
	))
	defer span.End()

	var cardIDs, objectKeys []string
	err := s.store.WithBoardLock(ctx, boardID, func(q store.Queries) error {
		board, err := q.GetBoard(ctx, boardID)
		if err != nil {
			return orNotFound(err, "Board not found")
		}
		if err := authorize(board, session.UserID, rbac.ActionDelete); err != nil {
			return err
		}
		cards, err := q.ListCards(ctx, boardID)
		if err != nil {
			return err
		}
		for _, c := range cards {
			cardIDs = append(cardIDs, c.ID)
		}
		atts, err := q.ListAttachments(ctx, boardID)
		if err != nil {
			return err
		}
		for _, a := range atts {
			objectKeys = append(objectKeys, a.ObjectKey)
		}
		return q.DeleteBoard(ctx, boardID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logFailure(err, mutation{boardID: boardID, action: ActionBoardDeleted, session: session})
		return err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, boardID); err != nil {
			s.log.WithError(err).WithField("board_id", boardID).Warn("evict snapshot cache")
		}
	}
	s.unindexCards(cardIDs...)
	if err := s.publisher.Publish(ctx, realtime.Update{BoardID: boardID, Action: ActionBoardDeleted, OriginUserID: session.UserID}); err != nil {
		s.log.WithError(err).WithField("board_id", boardID).Warn("release board subscribers")
	}
	s.removeBlobs(ctx, objectKeys...)
	return nil
}

// AddMember adds the user registered under input.Email to the board and
// sends them an invite email when SMTP is configured.
func (s *Service) AddMember(ctx context.Context, session Session, boardID string, input AddMemberInput) (Snapshot, error) {
	address := strings.ToLower(strings.TrimSpace(input.Email))
	if !strings.Contains(address, "@") {
		return Snapshot{}, validationError("A valid email is required", map[string]any{"field": "email"})
	}

	var invitee store.User
	m := mutation{op: "AddMember", action: ActionMemberAdded, boardID: boardID, session: session, need: rbac.ActionInvite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		user, err := q.GetUserByEmail(ctx, address)
		if err != nil {
			return orNotFound(err, "User not found")
		}
		if err := q.AddBoardMember(ctx, board.ID, user.ID); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return conflict("User is already a member of this board", nil)
			}
			return err
		}
		invitee = user
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.sendInvite(invitee, session, snap.Board)
	return snap, nil
}

func (s *Service) sendInvite(invitee store.User, session Session, board BoardView) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	data := email.BoardInviteData{
		InviteeName: invitee.Username,
		InviterName: session.Username,
		BoardTitle:  board.Title,
		BoardURL:    strings.TrimRight(s.cfg.AppURL, "/") + "/board/" + url.PathEscape(board.ID),
	}
	go func() {
		if err := s.mailer.SendBoardInvite(invitee.Email, data); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"board_id": board.ID, "user_id": invitee.ID}).Warn("send board invite")
		}
	}()
}
