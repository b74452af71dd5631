package store

import (
	"context"
	"errors"

	"taskboard/internal/ordering"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Queries is the read and write surface shared by a store and the unit of
// work handed out by WithBoardLock.
type Queries interface {
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]User, error)
	InsertUser(ctx context.Context, user User) error

	GetBoard(ctx context.Context, boardID string) (Board, error)
	ListBoardsForUser(ctx context.Context, userID string) ([]Board, error)
	InsertBoard(ctx context.Context, board Board) error
	UpdateBoard(ctx context.Context, board Board) error
	AddBoardMember(ctx context.Context, boardID, userID string) error
	// TouchBoard increments the board version and returns the new value.
	TouchBoard(ctx context.Context, boardID string) (int64, error)
	DeleteBoard(ctx context.Context, boardID string) error

	GetList(ctx context.Context, listID string) (List, error)
	ListLists(ctx context.Context, boardID string) ([]List, error)
	// MaxListPosition returns -1 for a board without lists.
	MaxListPosition(ctx context.Context, boardID string) (int, error)
	InsertList(ctx context.Context, list List) error
	RenameList(ctx context.Context, listID, title string) error
	DeleteList(ctx context.Context, listID string) error

	GetCard(ctx context.Context, cardID string) (Card, error)
	ListCards(ctx context.Context, boardID string) ([]Card, error)
	CountCards(ctx context.Context, listID string) (int, error)
	// MaxCardPosition returns -1 for an empty list.
	MaxCardPosition(ctx context.Context, listID string) (int, error)
	InsertCard(ctx context.Context, card Card) error
	UpdateCard(ctx context.Context, cardID string, patch CardPatch) error
	PlaceCard(ctx context.Context, cardID, listID string, position int) error
	ShiftCards(ctx context.Context, shift ordering.Shift) error
	DeleteCard(ctx context.Context, cardID string) error
	SearchCards(ctx context.Context, boardID, query string, limit int) ([]Card, error)

	InsertComment(ctx context.Context, comment Comment) error
	ListComments(ctx context.Context, boardID string) ([]Comment, error)
	InsertAttachment(ctx context.Context, attachment Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (Attachment, error)
	ListAttachments(ctx context.Context, boardID string) ([]Attachment, error)
}

type Store interface {
	Queries
	// WithBoardLock runs fn as one atomic unit holding the board's exclusive
	// lock. Writes made through q are discarded when fn returns an error.
	WithBoardLock(ctx context.Context, boardID string, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}
