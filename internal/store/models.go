package store

import "time"

type User struct {
	ID        string
	Username  string
	Email     string
	Avatar    string
	CreatedAt time.Time
}

type Board struct {
	ID          string
	Title       string
	Description string
	Background  string
	OwnerID     string
	// Members always contains OwnerID.
	Members   []string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Board) HasMember(userID string) bool {
	if userID == b.OwnerID {
		return true
	}
	for _, id := range b.Members {
		if id == userID {
			return true
		}
	}
	return false
}

type List struct {
	ID        string
	BoardID   string
	Title     string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Card struct {
	ID          string
	BoardID     string
	ListID      string
	Title       string
	Description string
	Position    int
	Assignees   []string
	Labels      []Label
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CardPatch carries the optional fields of a card edit. A nil field is left
// untouched; ClearDueDate removes the due date.
type CardPatch struct {
	Title        *string
	Description  *string
	DueDate      *time.Time
	ClearDueDate bool
	Assignees    *[]string
	Labels       *[]Label
}

type Comment struct {
	ID        string
	CardID    string
	BoardID   string
	UserID    string
	Text      string
	CreatedAt time.Time
}

type Attachment struct {
	ID          string
	CardID      string
	BoardID     string
	Filename    string
	ContentType string
	Size        int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}
