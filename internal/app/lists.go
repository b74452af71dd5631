package app

import (
	"context"

	"taskboard/internal/ordering"
	"taskboard/internal/rbac"
	"taskboard/internal/store"
	"taskboard/internal/util"
)

type CreateListInput struct {
	Title string `json:"title"`
}

type RenameListInput struct {
	Title string `json:"title"`
}

// CreateList appends a list after the board's last list.
func (s *Service) CreateList(ctx context.Context, session Session, boardID string, input CreateListInput) (Snapshot, ListView, error) {
	title, err := validateTitle("Title", input.Title, 100)
	if err != nil {
		return Snapshot{}, ListView{}, err
	}
	listID := util.NewID("lst")
	m := mutation{op: "CreateList", action: ActionListCreated, boardID: boardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		highest, err := q.MaxListPosition(ctx, board.ID)
		if err != nil {
			return err
		}
		return q.InsertList(ctx, store.List{
			ID:       listID,
			BoardID:  board.ID,
			Title:    title,
			Position: ordering.NextPosition(highest),
		})
	})
	if err != nil {
		return Snapshot{}, ListView{}, err
	}
	return snap, findList(snap, listID), nil
}

func (s *Service) RenameList(ctx context.Context, session Session, listID string, input RenameListInput) (Snapshot, ListView, error) {
	title, err := validateTitle("Title", input.Title, 100)
	if err != nil {
		return Snapshot{}, ListView{}, err
	}
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return Snapshot{}, ListView{}, orNotFound(err, "List not found")
	}
	m := mutation{op: "RenameList", action: ActionListUpdated, boardID: list.BoardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, _ store.Board) error {
		if err := q.RenameList(ctx, listID, title); err != nil {
			return orNotFound(err, "List not found")
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, ListView{}, err
	}
	return snap, findList(snap, listID), nil
}

// DeleteList removes a list and its cards. Positions of the remaining lists
// are left as they are; only their relative order matters.
func (s *Service) DeleteList(ctx context.Context, session Session, listID string) (Snapshot, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return Snapshot{}, orNotFound(err, "List not found")
	}
	var cardIDs, objectKeys []string
	m := mutation{op: "DeleteList", action: ActionListDeleted, boardID: list.BoardID, session: session, need: rbac.ActionWrite}
	snap, err := s.mutate(ctx, m, func(ctx context.Context, q store.Queries, board store.Board) error {
		cards, err := q.ListCards(ctx, board.ID)
		if err != nil {
			return err
		}
		doomed := make(map[string]struct{})
		for _, c := range cards {
			if c.ListID == listID {
				cardIDs = append(cardIDs, c.ID)
				doomed[c.ID] = struct{}{}
			}
		}
		atts, err := q.ListAttachments(ctx, board.ID)
		if err != nil {
			return err
		}
		for _, a := range atts {
			if _, ok := doomed[a.CardID]; ok {
				objectKeys = append(objectKeys, a.ObjectKey)
			}
		}
		if err := q.DeleteList(ctx, listID); err != nil {
			return orNotFound(err, "List not found")
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.unindexCards(cardIDs...)
	s.removeBlobs(ctx, objectKeys...)
	return snap, nil
}

func findList(snap Snapshot, listID string) ListView {
	for _, l := range snap.Lists {
		if l.ID == listID {
			return l
		}
	}
	return ListView{}
}
