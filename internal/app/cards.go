package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"taskboard/internal/attachments"
	"taskboard/internal/ordering"
	"taskboard/internal/rbac"
	"taskboard/internal/store"
	"taskboard/internal/util"
)

type CreateCardInput struct {
	ListID      string `json:"listId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateCardInput is a partial edit. DueDate distinguishes an absent field
// from an explicit null, which clears the date.
type UpdateCardInput struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	DueDate     json.RawMessage `json:"dueDate"`
	Assignees   *[]string       `json:"assignees"`
	Labels      *[]store.Label  `json:"labels"`
}

// MoveCardInput places a card at NewPosition of the destination list's final
// order. Every field is required.
type MoveCardInput struct {
	CardID            string `json:"cardId"`
	SourceListID      string `json:"sourceListId"`
	DestinationListID string `json:"destinationListId"`
	NewPosition       *int   `json:"newPosition"`
}

type AddCommentInput struct {
	Text string `json:"text"`
}

// UploadInput is an attachment being added to a card.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) CreateCard(ctx context.Context, session Session, input CreateCardInput) (Snapshot, CardView, error) {
	if strings.TrimSpace(input.ListID) == "" {
		return Snapshot{}, CardView{}, validationError("listId is required", map[string]any{"field": "listId"})
	}
	title, err := validateTitle("Title", input.Title, 200)
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	description, err := validateText("Description", input.Description, 2000)
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	list, err := s.store.GetList(ctx, input.ListID)
	if err != nil {
		return Snapshot{}, CardView{}, orNotFound(err, "List not found")
	}

	cardID := util.NewID("crd")
	m := mutation{op: "CreateCard", action: ActionCardCreated, boardID: list.BoardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		if _, err := q.GetList(ctx, list.ID); err != nil {
			return orNotFound(err, "List not found")
		}
		highest, err := q.MaxCardPosition(ctx, list.ID)
		if err != nil {
			return err
		}
		return q.InsertCard(ctx, store.Card{
			ID:          cardID,
			BoardID:     board.ID,
			ListID:      list.ID,
			Title:       title,
			Description: description,
			Position:    ordering.NextPosition(highest),
		})
	})
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	s.indexCards(snap, cardID)
	card, _ := snap.Card(cardID)
	return snap, card, nil
}

func (s *Service) UpdateCard(ctx context.Context, session Session, cardID string, input UpdateCardInput) (Snapshot, CardView, error) {
	patch, err := cardPatch(input)
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return Snapshot{}, CardView{}, orNotFound(err, "Card not found")
	}

	m := mutation{op: "UpdateCard", action: ActionCardUpdated, boardID: card.BoardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		if patch.Assignees != nil {
			for _, id := range *patch.Assignees {
				if !board.HasMember(id) {
					return validationError("Assignees must be board members", map[string]any{"userId": id})
				}
			}
		}
		if err := q.UpdateCard(ctx, cardID, patch); err != nil {
			return orNotFound(err, "Card not found")
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	s.indexCards(snap, cardID)
	view, _ := snap.Card(cardID)
	return snap, view, nil
}

func cardPatch(input UpdateCardInput) (store.CardPatch, error) {
	var patch store.CardPatch
	empty := true
	if input.Title != nil {
		title, err := validateTitle("Title", *input.Title, 200)
		if err != nil {
			return patch, err
		}
		patch.Title, empty = &title, false
	}
	if input.Description != nil {
		description, err := validateText("Description", *input.Description, 2000)
		if err != nil {
			return patch, err
		}
		patch.Description, empty = &description, false
	}
	if raw := bytes.TrimSpace(input.DueDate); len(raw) > 0 {
		empty = false
		if bytes.Equal(raw, []byte("null")) {
			patch.ClearDueDate = true
		} else {
			due, err := parseDueDate(raw)
			if err != nil {
				return patch, err
			}
			patch.DueDate = &due
		}
	}
	if input.Assignees != nil {
		seen := make(map[string]struct{})
		assignees := make([]string, 0, len(*input.Assignees))
		for _, id := range *input.Assignees {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			assignees = append(assignees, id)
		}
		patch.Assignees, empty = &assignees, false
	}
	if input.Labels != nil {
		labels := make([]store.Label, 0, len(*input.Labels))
		for _, l := range *input.Labels {
			name := strings.TrimSpace(l.Name)
			if name == "" || utf8.RuneCountInString(name) > 50 {
				return patch, validationError("Label names must be 1-50 characters", map[string]any{"field": "labels"})
			}
			labels = append(labels, store.Label{Name: name, Color: strings.TrimSpace(l.Color)})
		}
		patch.Labels, empty = &labels, false
	}
	if empty {
		return patch, validationError("Nothing to update", nil)
	}
	return patch, nil
}

func parseDueDate(raw []byte) (time.Time, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, validationError("dueDate must be a date string or null", map[string]any{"field": "dueDate"})
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationError("dueDate must be an RFC 3339 timestamp or YYYY-MM-DD", map[string]any{"field": "dueDate"})
}

func validateMove(input MoveCardInput) error {
	var missing []string
	if strings.TrimSpace(input.CardID) == "" {
		missing = append(missing, "cardId")
	}
	if strings.TrimSpace(input.SourceListID) == "" {
		missing = append(missing, "sourceListId")
	}
	if strings.TrimSpace(input.DestinationListID) == "" {
		missing = append(missing, "destinationListId")
	}
	if input.NewPosition == nil {
		missing = append(missing, "newPosition")
	}
	if len(missing) > 0 {
		return validationError("Missing move fields", map[string]any{"fields": missing})
	}
	if *input.NewPosition < 0 {
		return validationError("newPosition must be a non-negative integer", map[string]any{"field": "newPosition"})
	}
	return nil
}

// MoveCard relocates a card within or across lists of one board and repairs
// the positions of its siblings in the same unit of work. A call arriving
// over a live connection is not echoed back to that connection.
func (s *Service) MoveCard(ctx context.Context, session Session, input MoveCardInput) (Snapshot, error) {
	if err := validateMove(input); err != nil {
		return Snapshot{}, err
	}
	card, err := s.store.GetCard(ctx, input.CardID)
	if err != nil {
		return Snapshot{}, orNotFound(err, "Card not found")
	}

	m := mutation{
		op:          "MoveCard",
		action:      ActionCardMoved,
		boardID:     card.BoardID,
		session:     session,
		need:        rbac.ActionWrite,
		excludeConn: session.ConnID,
	}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		card, err := q.GetCard(ctx, input.CardID)
		if err != nil {
			return orNotFound(err, "Card not found")
		}
		if card.ListID != input.SourceListID {
			return conflict("Card is no longer in the source list", map[string]any{"listId": card.ListID})
		}
		dest, err := q.GetList(ctx, input.DestinationListID)
		if err != nil || dest.BoardID != board.ID {
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			return notFound("List not found")
		}
		destCount, err := q.CountCards(ctx, dest.ID)
		if err != nil {
			return err
		}
		plan := ordering.PlanMove(card.ID, card.ListID, dest.ID, card.Position, destCount, *input.NewPosition)
		if plan.NoOp() {
			return errNoChange
		}
		for _, shift := range plan.Shifts {
			if err := q.ShiftCards(ctx, shift); err != nil {
				return err
			}
		}
		return q.PlaceCard(ctx, card.ID, dest.ID, plan.NewPosition)
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.indexCards(snap, input.CardID)
	return snap, nil
}

// DeleteCard removes a card and closes the gap it leaves in its list.
func (s *Service) DeleteCard(ctx context.Context, session Session, cardID string) (Snapshot, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return Snapshot{}, orNotFound(err, "Card not found")
	}
	var objectKeys []string
	m := mutation{op: "DeleteCard", action: ActionCardDeleted, boardID: card.BoardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		card, err := q.GetCard(ctx, cardID)
		if err != nil {
			return orNotFound(err, "Card not found")
		}
		atts, err := q.ListAttachments(ctx, board.ID)
		if err != nil {
			return err
		}
		for _, a := range atts {
			if a.CardID == cardID {
				objectKeys = append(objectKeys, a.ObjectKey)
			}
		}
		if err := q.DeleteCard(ctx, cardID); err != nil {
			return orNotFound(err, "Card not found")
		}
		return q.ShiftCards(ctx, ordering.PlanRemoval(card.ListID, card.ID, card.Position))
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.unindexCards(cardID)
	s.removeBlobs(ctx, objectKeys...)
	return snap, nil
}

// AddComment appends a comment and returns the card with resolved authors.
func (s *Service) AddComment(ctx context.Context, session Session, cardID string, input AddCommentInput) (Snapshot, CardView, error) {
	text, err := validateTitle("Comment", input.Text, 1000)
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return Snapshot{}, CardView{}, orNotFound(err, "Card not found")
	}
	m := mutation{op: "AddComment", action: ActionCommentAdded, boardID: card.BoardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		if _, err := q.GetCard(ctx, cardID); err != nil {
			return orNotFound(err, "Card not found")
		}
		return q.InsertComment(ctx, store.Comment{
			ID:        util.NewID("cmt"),
			CardID:    cardID,
			BoardID:   board.ID,
			UserID:    session.UserID,
			Text:      text,
			CreatedAt: s.now().UTC(),
		})
	})
	if err != nil {
		return Snapshot{}, CardView{}, err
	}
	view, _ := snap.Card(cardID)
	return snap, view, nil
}

func (s *Service) attachmentsEnabled() error {
	if s.blobs == nil {
		return domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachments are not configured", nil)
	}
	return nil
}

// AddAttachment stores the blob first and records its metadata on the card.
// The blob is removed again when the card changed underneath.
func (s *Service) AddAttachment(ctx context.Context, session Session, cardID string, upload UploadInput) (Snapshot, CardView, error) {
	if err := s.attachmentsEnabled(); err != nil {
		return Snapshot{}, CardView{}, err
	}
	filename := attachments.SanitizeFilename(upload.Filename)
	if filename == "" {
		return Snapshot{}, CardView{}, validationError("A file name is required", map[string]any{"field": "file"})
	}
	if upload.Size <= 0 || upload.Size > attachments.MaxSize {
		return Snapshot{}, CardView{}, validationError("Attachments must be between 1 byte and 10 MB", map[string]any{"field": "file"})
	}
	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return Snapshot{}, CardView{}, orNotFound(err, "Card not found")
	}
	board, err := s.store.GetBoard(ctx, card.BoardID)
	if err != nil {
		return Snapshot{}, CardView{}, orNotFound(err, "Board not found")
	}
	if err := authorize(board, session.UserID, rbac.ActionWrite); err != nil {
		return Snapshot{}, CardView{}, err
	}

	attachmentID := util.NewID("att")
	key := attachments.ObjectKey(board.ID, cardID, attachmentID, filename)
	if err := s.blobs.Put(ctx, key, upload.Body, upload.Size, contentType); err != nil {
		return Snapshot{}, CardView{}, err
	}

	m := mutation{op: "AddAttachment", action: ActionCardUpdated, boardID: board.ID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		if _, err := q.GetCard(ctx, cardID); err != nil {
			return orNotFound(err, "Card not found")
		}
		return q.InsertAttachment(ctx, store.Attachment{
			ID:          attachmentID,
			CardID:      cardID,
			BoardID:     board.ID,
			Filename:    filename,
			ContentType: contentType,
			Size:        upload.Size,
			ObjectKey:   key,
			UploadedBy:  session.UserID,
			CreatedAt:   s.now().UTC(),
		})
	})
	if err != nil {
		s.removeBlobs(ctx, key)
		return Snapshot{}, CardView{}, err
	}
	view, _ := snap.Card(cardID)
	return snap, view, nil
}

// AttachmentURL returns a short-lived download link for an attachment of a
// board the caller can read.
func (s *Service) AttachmentURL(ctx context.Context, session Session, attachmentID string) (string, error) {
	if err := s.attachmentsEnabled(); err != nil {
		return "", err
	}
	att, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", orNotFound(err, "Attachment not found")
	}
	board, err := s.store.GetBoard(ctx, att.BoardID)
	if err != nil {
		return "", orNotFound(err, "Board not found")
	}
	if err := authorize(board, session.UserID, rbac.ActionRead); err != nil {
		return "", err
	}
	link, err := s.blobs.URL(ctx, att.ObjectKey, att.Filename)
	if errors.Is(err, attachments.ErrNotFound) {
		return "", notFound("Attachment not found")
	}
	if err != nil {
		return "", err
	}
	return link, nil
}

func (s *Service) removeBlobs(ctx context.Context, keys ...string) {
	if s.blobs == nil || len(keys) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.blobs.Remove(ctx, key); err != nil && !errors.Is(err, attachments.ErrNotFound) {
			s.log.WithError(err).WithFields(logrus.Fields{"object_key": key}).Warn("remove attachment blob")
		}
	}
}
