package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskboard/internal/ordering"
)

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("board members include owner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		owner, _ := seedBoard(t, s)

		boards, err := s.ListBoardsForUser(ctx, owner.ID)
		if err != nil {
			t.Fatalf("list boards: %v", err)
		}
		if len(boards) != 1 {
			t.Fatalf("expected 1 board, got %d", len(boards))
		}
		if !boards[0].HasMember(owner.ID) || len(boards[0].Members) != 1 {
			t.Fatalf("expected owner as sole member, got %v", boards[0].Members)
		}
	})

	t.Run("duplicate member", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		owner, board := seedBoard(t, s)
		if err := s.AddBoardMember(ctx, board.ID, owner.ID); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("missing entities", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.GetBoard(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("board: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetList(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("list: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetCard(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("card: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetUserByEmail(ctx, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("user: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("shift and place card", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, board := seedBoard(t, s)
		list := seedList(t, s, board.ID, "todo", 0)
		ids := []string{"card_a", "card_b", "card_c"}
		for i, id := range ids {
			seedCard(t, s, board.ID, list.ID, id, i)
		}

		// Move card_c to the head of the list.
		move := ordering.PlanMove("card_c", list.ID, list.ID, 2, 3, 0)
		err := s.WithBoardLock(ctx, board.ID, func(q Queries) error {
			for _, shift := range move.Shifts {
				if err := q.ShiftCards(ctx, shift); err != nil {
					return err
				}
			}
			return q.PlaceCard(ctx, move.CardID, move.DestListID, move.NewPosition)
		})
		if err != nil {
			t.Fatalf("move: %v", err)
		}

		cards, err := s.ListCards(ctx, board.ID)
		if err != nil {
			t.Fatalf("list cards: %v", err)
		}
		got := map[string]int{}
		for _, c := range cards {
			got[c.ID] = c.Position
		}
		want := map[string]int{"card_c": 0, "card_a": 1, "card_b": 2}
		for id, pos := range want {
			if got[id] != pos {
				t.Fatalf("%s: expected position %d, got %d", id, pos, got[id])
			}
		}
	})

	t.Run("failed unit of work is discarded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, board := seedBoard(t, s)
		list := seedList(t, s, board.ID, "todo", 0)
		seedCard(t, s, board.ID, list.ID, "card_a", 0)
		seedCard(t, s, board.ID, list.ID, "card_b", 1)

		boom := errors.New("boom")
		err := s.WithBoardLock(ctx, board.ID, func(q Queries) error {
			if err := q.ShiftCards(ctx, ordering.PlanRemoval(list.ID, "card_a", 0)); err != nil {
				return err
			}
			if err := q.DeleteCard(ctx, "card_a"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		cards, err := s.ListCards(ctx, board.ID)
		if err != nil {
			t.Fatalf("list cards: %v", err)
		}
		if len(cards) != 2 || cards[0].ID != "card_a" || cards[0].Position != 0 || cards[1].Position != 1 {
			t.Fatalf("expected untouched cards, got %+v", cards)
		}
	})

	t.Run("delete list cascades cards", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, board := seedBoard(t, s)
		list := seedList(t, s, board.ID, "todo", 0)
		seedCard(t, s, board.ID, list.ID, "card_a", 0)

		if err := s.DeleteList(ctx, list.ID); err != nil {
			t.Fatalf("delete list: %v", err)
		}
		if _, err := s.GetCard(ctx, "card_a"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected card to be removed, got %v", err)
		}
	})

	t.Run("touch board bumps version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, board := seedBoard(t, s)
		v, err := s.TouchBoard(ctx, board.ID)
		if err != nil {
			t.Fatalf("touch: %v", err)
		}
		if v != 2 {
			t.Fatalf("expected version 2, got %d", v)
		}
	})

	t.Run("card patch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		owner, board := seedBoard(t, s)
		list := seedList(t, s, board.ID, "todo", 0)
		seedCard(t, s, board.ID, list.ID, "card_a", 0)

		title := "renamed"
		due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		assignees := []string{owner.ID}
		labels := []Label{{Name: "bug", Color: "red"}}
		if err := s.UpdateCard(ctx, "card_a", CardPatch{Title: &title, DueDate: &due, Assignees: &assignees, Labels: &labels}); err != nil {
			t.Fatalf("update card: %v", err)
		}
		card, err := s.GetCard(ctx, "card_a")
		if err != nil {
			t.Fatalf("get card: %v", err)
		}
		if card.Title != "renamed" || card.DueDate == nil || !card.DueDate.Equal(due) {
			t.Fatalf("unexpected card %+v", card)
		}
		if len(card.Assignees) != 1 || len(card.Labels) != 1 || card.Labels[0].Name != "bug" {
			t.Fatalf("unexpected card collections %+v", card)
		}

		if err := s.UpdateCard(ctx, "card_a", CardPatch{ClearDueDate: true}); err != nil {
			t.Fatalf("clear due date: %v", err)
		}
		card, _ = s.GetCard(ctx, "card_a")
		if card.DueDate != nil {
			t.Fatalf("expected due date cleared, got %v", card.DueDate)
		}
	})

	t.Run("search cards", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, board := seedBoard(t, s)
		list := seedList(t, s, board.ID, "todo", 0)
		seedCard(t, s, board.ID, list.ID, "card_a", 0)

		cards, err := s.SearchCards(ctx, board.ID, "card_a", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(cards) != 1 {
			t.Fatalf("expected one hit, got %d", len(cards))
		}
	})

	t.Run("concurrent appends stay dense", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, board := seedBoard(t, s)
		list := seedList(t, s, board.ID, "todo", 0)

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.WithBoardLock(ctx, board.ID, func(q Queries) error {
					maxPos, err := q.MaxCardPosition(ctx, list.ID)
					if err != nil {
						return err
					}
					return q.InsertCard(ctx, Card{
						ID:       "card_" + strings.Repeat("x", i+1),
						BoardID:  board.ID,
						ListID:   list.ID,
						Title:    "card",
						Position: ordering.NextPosition(maxPos),
					})
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		cards, err := s.ListCards(ctx, board.ID)
		if err != nil {
			t.Fatalf("list cards: %v", err)
		}
		placements := make([]ordering.Placement, 0, len(cards))
		for _, c := range cards {
			placements = append(placements, ordering.Placement{ID: c.ID, ListID: c.ListID, Position: c.Position})
		}
		if err := ordering.Verify(placements, list.ID); err != nil {
			t.Fatalf("positions not dense: %v", err)
		}
		if len(cards) != n {
			t.Fatalf("expected %d cards, got %d", n, len(cards))
		}
	})
}

func seedBoard(t *testing.T, s Store) (User, Board) {
	t.Helper()
	ctx := context.Background()
	owner := User{ID: "user_owner", Username: "owner", Email: "owner@example.com"}
	if err := s.InsertUser(ctx, owner); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	board := Board{ID: "board_1", Title: "Roadmap", Background: "#0079bf", OwnerID: owner.ID}
	if err := s.InsertBoard(ctx, board); err != nil {
		t.Fatalf("insert board: %v", err)
	}
	stored, err := s.GetBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	return owner, stored
}

func seedList(t *testing.T, s Store, boardID, title string, pos int) List {
	t.Helper()
	list := List{ID: "list_" + title, BoardID: boardID, Title: title, Position: pos}
	if err := s.InsertList(context.Background(), list); err != nil {
		t.Fatalf("insert list: %v", err)
	}
	return list
}

func seedCard(t *testing.T, s Store, boardID, listID, id string, pos int) {
	t.Helper()
	card := Card{ID: id, BoardID: boardID, ListID: listID, Title: id, Position: pos}
	if err := s.InsertCard(context.Background(), card); err != nil {
		t.Fatalf("insert card: %v", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TASKBOARD_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TASKBOARD_TEST_DATABASE_URL is not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		if err := resetPublicSchema(ctx, db); err != nil {
			t.Fatalf("reset schema: %v", err)
		}
		if _, err := ApplyMigrations(ctx, db, os.DirFS(filepath.Join("..", "..", "db", "migrations"))); err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
		return NewPostgresStore(db)
	})
}
