package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"taskboard/internal/ordering"
	"taskboard/internal/store"
)

// UserSummary is the display-safe view of a user.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type BoardView struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Background  string        `json:"background"`
	Owner       UserSummary   `json:"owner"`
	Members     []UserSummary `json:"members"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type ListView struct {
	ID       string     `json:"id"`
	BoardID  string     `json:"boardId"`
	Title    string     `json:"title"`
	Position int        `json:"position"`
	Cards    []CardView `json:"cards"`
}

type CommentView struct {
	ID        string      `json:"id"`
	User      UserSummary `json:"user"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

type AttachmentView struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CardView struct {
	ID          string           `json:"id"`
	BoardID     string           `json:"boardId"`
	ListID      string           `json:"listId"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Position    int              `json:"position"`
	Assignees   []UserSummary    `json:"assignees"`
	Labels      []store.Label    `json:"labels"`
	DueDate     *time.Time       `json:"dueDate"`
	Comments    []CommentView    `json:"comments"`
	Attachments []AttachmentView `json:"attachments"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Snapshot is the fully resolved state of one board.
type Snapshot struct {
	Board BoardView  `json:"board"`
	Lists []ListView `json:"lists"`
}

// Card finds a card in the snapshot.
func (s Snapshot) Card(cardID string) (CardView, bool) {
	for _, list := range s.Lists {
		for _, card := range list.Cards {
			if card.ID == cardID {
				return card, true
			}
		}
	}
	return CardView{}, false
}

// placements lists where every card of the snapshot sits.
func (s Snapshot) placements() []ordering.Placement {
	var out []ordering.Placement
	for _, list := range s.Lists {
		for _, card := range list.Cards {
			out = append(out, ordering.Placement{ID: card.ID, ListID: card.ListID, Position: card.Position})
		}
	}
	return out
}

func attachmentURL(attachmentID string) string {
	return "/api/attachments/" + attachmentID
}

// loadSnapshot assembles the board with its lists and cards. The card order of
// every list is derived from the cards' own list and position fields.
func loadSnapshot(ctx context.Context, q store.Queries, boardID string) (Snapshot, error) {
	board, err := q.GetBoard(ctx, boardID)
	if err != nil {
		return Snapshot{}, orNotFound(err, "Board not found")
	}
	lists, err := q.ListLists(ctx, boardID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load lists: %w", err)
	}
	cards, err := q.ListCards(ctx, boardID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cards: %w", err)
	}
	comments, err := q.ListComments(ctx, boardID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load comments: %w", err)
	}
	attachments, err := q.ListAttachments(ctx, boardID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load attachments: %w", err)
	}

	userIDs := map[string]struct{}{board.OwnerID: {}}
	for _, id := range board.Members {
		userIDs[id] = struct{}{}
	}
	for _, card := range cards {
		for _, id := range card.Assignees {
			userIDs[id] = struct{}{}
		}
	}
	for _, comment := range comments {
		userIDs[comment.UserID] = struct{}{}
	}
	ids := make([]string, 0, len(userIDs))
	for id := range userIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	users, err := q.GetUsers(ctx, ids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load users: %w", err)
	}
	summaries := make(map[string]UserSummary, len(users))
	for _, u := range users {
		summaries[u.ID] = UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
	}
	summary := func(id string) UserSummary {
		if s, ok := summaries[id]; ok {
			return s
		}
		return UserSummary{ID: id}
	}

	commentsByCard := make(map[string][]CommentView)
	for _, c := range comments {
		commentsByCard[c.CardID] = append(commentsByCard[c.CardID], CommentView{
			ID:        c.ID,
			User:      summary(c.UserID),
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		})
	}
	attachmentsByCard := make(map[string][]AttachmentView)
	for _, a := range attachments {
		attachmentsByCard[a.CardID] = append(attachmentsByCard[a.CardID], AttachmentView{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			URL:         attachmentURL(a.ID),
			UploadedBy:  a.UploadedBy,
			CreatedAt:   a.CreatedAt,
		})
	}

	cardsByList := make(map[string][]CardView)
	for _, card := range cards {
		assignees := make([]UserSummary, 0, len(card.Assignees))
		for _, id := range card.Assignees {
			assignees = append(assignees, summary(id))
		}
		labels := card.Labels
		if labels == nil {
			labels = []store.Label{}
		}
		view := CardView{
			ID:          card.ID,
			BoardID:     card.BoardID,
			ListID:      card.ListID,
			Title:       card.Title,
			Description: card.Description,
			Position:    card.Position,
			Assignees:   assignees,
			Labels:      labels,
			DueDate:     card.DueDate,
			Comments:    commentsByCard[card.ID],
			Attachments: attachmentsByCard[card.ID],
			CreatedAt:   card.CreatedAt,
			UpdatedAt:   card.UpdatedAt,
		}
		if view.Comments == nil {
			view.Comments = []CommentView{}
		}
		if view.Attachments == nil {
			view.Attachments = []AttachmentView{}
		}
		cardsByList[card.ListID] = append(cardsByList[card.ListID], view)
	}

	snap := Snapshot{
		Board: BoardView{
			ID:          board.ID,
			Title:       board.Title,
			Description: board.Description,
			Background:  board.Background,
			Owner:       summary(board.OwnerID),
			Members:     make([]UserSummary, 0, len(board.Members)),
			Version:     board.Version,
			CreatedAt:   board.CreatedAt,
			UpdatedAt:   board.UpdatedAt,
		},
		Lists: make([]ListView, 0, len(lists)),
	}
	for _, id := range board.Members {
		snap.Board.Members = append(snap.Board.Members, summary(id))
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	for _, list := range lists {
		listCards := cardsByList[list.ID]
		sort.SliceStable(listCards, func(i, j int) bool { return listCards[i].Position < listCards[j].Position })
		if listCards == nil {
			listCards = []CardView{}
		}
		snap.Lists = append(snap.Lists, ListView{
			ID:       list.ID,
			BoardID:  list.BoardID,
			Title:    list.Title,
			Position: list.Position,
			Cards:    listCards,
		})
	}
	return snap, nil
}
