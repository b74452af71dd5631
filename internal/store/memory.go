package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskboard/internal/ordering"
)

// MemoryStore keeps everything in process. It backs local development and
// tests; a unit of work runs against a private copy of the state and only
// the entities it touched are merged back on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemState(),
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

type memState struct {
	users       map[string]User
	boards      map[string]Board
	lists       map[string]List
	cards       map[string]Card
	comments    map[string]Comment
	attachments map[string]Attachment
}

func newMemState() *memState {
	return &memState{
		users:       make(map[string]User),
		boards:      make(map[string]Board),
		lists:       make(map[string]List),
		cards:       make(map[string]Card),
		comments:    make(map[string]Comment),
		attachments: make(map[string]Attachment),
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.boards {
		out.boards[k] = cloneBoard(v)
	}
	for k, v := range st.lists {
		out.lists[k] = v
	}
	for k, v := range st.cards {
		out.cards[k] = cloneCard(v)
	}
	for k, v := range st.comments {
		out.comments[k] = v
	}
	for k, v := range st.attachments {
		out.attachments[k] = v
	}
	return out
}

func cloneBoard(b Board) Board {
	b.Members = append([]string(nil), b.Members...)
	return b
}

func cloneCard(c Card) Card {
	c.Assignees = append([]string(nil), c.Assignees...)
	c.Labels = append([]Label(nil), c.Labels...)
	if c.DueDate != nil {
		due := *c.DueDate
		c.DueDate = &due
	}
	return c
}

type entityKind int

const (
	kindUser entityKind = iota
	kindBoard
	kindList
	kindCard
	kindComment
	kindAttachment
)

type entityKey struct {
	kind entityKind
	id   string
}

// memQueries implements Queries over one memState. touched records every
// entity written so a transaction can merge it back; it is nil when the view
// operates on the live state directly.
type memQueries struct {
	st      *memState
	now     func() time.Time
	touched map[entityKey]struct{}
}

func (m memQueries) touch(kind entityKind, id string) {
	if m.touched != nil {
		m.touched[entityKey{kind: kind, id: id}] = struct{}{}
	}
}

func (s *MemoryStore) live() memQueries {
	return memQueries{st: s.state, now: s.now}
}

func (s *MemoryStore) boardLock(boardID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[boardID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[boardID] = l
	}
	return l
}

func (s *MemoryStore) WithBoardLock(ctx context.Context, boardID string, fn func(q Queries) error) error {
	lock := s.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := memQueries{st: s.state.clone(), now: s.now, touched: make(map[entityKey]struct{})}
	s.mu.RUnlock()

	if err := fn(staged); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range staged.touched {
		s.merge(staged.st, key)
	}
	return nil
}

func (s *MemoryStore) merge(from *memState, key entityKey) {
	to := s.state
	switch key.kind {
	case kindUser:
		mergeEntry(to.users, from.users, key.id)
	case kindBoard:
		mergeEntry(to.boards, from.boards, key.id)
	case kindList:
		mergeEntry(to.lists, from.lists, key.id)
	case kindCard:
		mergeEntry(to.cards, from.cards, key.id)
	case kindComment:
		mergeEntry(to.comments, from.comments, key.id)
	case kindAttachment:
		mergeEntry(to.attachments, from.attachments, key.id)
	}
}

func mergeEntry[V any](to, from map[string]V, id string) {
	if v, ok := from[id]; ok {
		to[id] = v
		return
	}
	delete(to, id)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- memQueries ---

func (m memQueries) GetUser(_ context.Context, userID string) (User, error) {
	user, ok := m.st.users[userID]
	if !ok {
		return User{}, fmt.Errorf("user: %w", ErrNotFound)
	}
	return user, nil
}

func (m memQueries) GetUserByEmail(_ context.Context, email string) (User, error) {
	email = strings.TrimSpace(email)
	for _, user := range m.st.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, fmt.Errorf("user: %w", ErrNotFound)
}

func (m memQueries) GetUsers(_ context.Context, userIDs []string) ([]User, error) {
	users := make([]User, 0, len(userIDs))
	for _, id := range userIDs {
		if user, ok := m.st.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (m memQueries) InsertUser(_ context.Context, user User) error {
	if _, ok := m.st.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrDuplicate)
	}
	for _, existing := range m.st.users {
		if strings.EqualFold(existing.Email, strings.TrimSpace(user.Email)) {
			return fmt.Errorf("user email %s: %w", user.Email, ErrDuplicate)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	m.st.users[user.ID] = user
	m.touch(kindUser, user.ID)
	return nil
}

func (m memQueries) GetBoard(_ context.Context, boardID string) (Board, error) {
	board, ok := m.st.boards[boardID]
	if !ok {
		return Board{}, fmt.Errorf("board: %w", ErrNotFound)
	}
	return cloneBoard(board), nil
}

func (m memQueries) ListBoardsForUser(_ context.Context, userID string) ([]Board, error) {
	boards := make([]Board, 0)
	for _, board := range m.st.boards {
		if board.HasMember(userID) {
			boards = append(boards, cloneBoard(board))
		}
	}
	sort.Slice(boards, func(i, j int) bool {
		if !boards[i].UpdatedAt.Equal(boards[j].UpdatedAt) {
			return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
		}
		return boards[i].ID < boards[j].ID
	})
	return boards, nil
}

func (m memQueries) InsertBoard(_ context.Context, board Board) error {
	if _, ok := m.st.boards[board.ID]; ok {
		return fmt.Errorf("board %s: %w", board.ID, ErrDuplicate)
	}
	members := []string{board.OwnerID}
	for _, id := range board.Members {
		if id != board.OwnerID {
			members = append(members, id)
		}
	}
	board.Members = members
	board.Version = 1
	now := m.now()
	board.CreatedAt, board.UpdatedAt = now, now
	m.st.boards[board.ID] = board
	m.touch(kindBoard, board.ID)
	return nil
}

func (m memQueries) UpdateBoard(_ context.Context, board Board) error {
	existing, ok := m.st.boards[board.ID]
	if !ok {
		return fmt.Errorf("board: %w", ErrNotFound)
	}
	existing.Title = board.Title
	existing.Description = board.Description
	existing.Background = board.Background
	existing.UpdatedAt = m.now()
	m.st.boards[board.ID] = existing
	m.touch(kindBoard, board.ID)
	return nil
}

func (m memQueries) AddBoardMember(_ context.Context, boardID, userID string) error {
	board, ok := m.st.boards[boardID]
	if !ok {
		return fmt.Errorf("board: %w", ErrNotFound)
	}
	if board.HasMember(userID) {
		return fmt.Errorf("board member %s: %w", userID, ErrDuplicate)
	}
	board.Members = append(append([]string(nil), board.Members...), userID)
	m.st.boards[boardID] = board
	m.touch(kindBoard, boardID)
	return nil
}

func (m memQueries) TouchBoard(_ context.Context, boardID string) (int64, error) {
	board, ok := m.st.boards[boardID]
	if !ok {
		return 0, fmt.Errorf("board: %w", ErrNotFound)
	}
	board.Version++
	board.UpdatedAt = m.now()
	m.st.boards[boardID] = board
	m.touch(kindBoard, boardID)
	return board.Version, nil
}

func (m memQueries) DeleteBoard(_ context.Context, boardID string) error {
	if _, ok := m.st.boards[boardID]; !ok {
		return fmt.Errorf("board: %w", ErrNotFound)
	}
	delete(m.st.boards, boardID)
	m.touch(kindBoard, boardID)
	for id, list := range m.st.lists {
		if list.BoardID == boardID {
			delete(m.st.lists, id)
			m.touch(kindList, id)
		}
	}
	for id, card := range m.st.cards {
		if card.BoardID == boardID {
			m.dropCard(id)
		}
	}
	return nil
}

func (m memQueries) GetList(_ context.Context, listID string) (List, error) {
	list, ok := m.st.lists[listID]
	if !ok {
		return List{}, fmt.Errorf("list: %w", ErrNotFound)
	}
	return list, nil
}

func (m memQueries) ListLists(_ context.Context, boardID string) ([]List, error) {
	lists := make([]List, 0)
	for _, list := range m.st.lists {
		if list.BoardID == boardID {
			lists = append(lists, list)
		}
	}
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].Position != lists[j].Position {
			return lists[i].Position < lists[j].Position
		}
		return lists[i].CreatedAt.Before(lists[j].CreatedAt)
	})
	return lists, nil
}

func (m memQueries) MaxListPosition(_ context.Context, boardID string) (int, error) {
	highest := -1
	for _, list := range m.st.lists {
		if list.BoardID == boardID && list.Position > highest {
			highest = list.Position
		}
	}
	return highest, nil
}

func (m memQueries) InsertList(_ context.Context, list List) error {
	if _, ok := m.st.lists[list.ID]; ok {
		return fmt.Errorf("list %s: %w", list.ID, ErrDuplicate)
	}
	now := m.now()
	list.CreatedAt, list.UpdatedAt = now, now
	m.st.lists[list.ID] = list
	m.touch(kindList, list.ID)
	return nil
}

func (m memQueries) RenameList(_ context.Context, listID, title string) error {
	list, ok := m.st.lists[listID]
	if !ok {
		return fmt.Errorf("list: %w", ErrNotFound)
	}
	list.Title = title
	list.UpdatedAt = m.now()
	m.st.lists[listID] = list
	m.touch(kindList, listID)
	return nil
}

func (m memQueries) DeleteList(_ context.Context, listID string) error {
	if _, ok := m.st.lists[listID]; !ok {
		return fmt.Errorf("list: %w", ErrNotFound)
	}
	delete(m.st.lists, listID)
	m.touch(kindList, listID)
	for id, card := range m.st.cards {
		if card.ListID == listID {
			m.dropCard(id)
		}
	}
	return nil
}

func (m memQueries) GetCard(_ context.Context, cardID string) (Card, error) {
	card, ok := m.st.cards[cardID]
	if !ok {
		return Card{}, fmt.Errorf("card: %w", ErrNotFound)
	}
	return cloneCard(card), nil
}

func sortCards(cards []Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].ListID != cards[j].ListID {
			return cards[i].ListID < cards[j].ListID
		}
		return cards[i].Position < cards[j].Position
	})
}

func (m memQueries) ListCards(_ context.Context, boardID string) ([]Card, error) {
	cards := make([]Card, 0)
	for _, card := range m.st.cards {
		if card.BoardID == boardID {
			cards = append(cards, cloneCard(card))
		}
	}
	sortCards(cards)
	return cards, nil
}

func (m memQueries) SearchCards(_ context.Context, boardID, query string, limit int) ([]Card, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(strings.ToLower(query))
	cards := make([]Card, 0)
	if len(terms) == 0 {
		return cards, nil
	}
	for _, card := range m.st.cards {
		if card.BoardID != boardID {
			continue
		}
		text := strings.ToLower(card.Title + " " + card.Description)
		matched := true
		for _, term := range terms {
			if !strings.Contains(text, term) {
				matched = false
				break
			}
		}
		if matched {
			cards = append(cards, cloneCard(card))
		}
	}
	sortCards(cards)
	if len(cards) > limit {
		cards = cards[:limit]
	}
	return cards, nil
}

func (m memQueries) CountCards(_ context.Context, listID string) (int, error) {
	count := 0
	for _, card := range m.st.cards {
		if card.ListID == listID {
			count++
		}
	}
	return count, nil
}

func (m memQueries) MaxCardPosition(_ context.Context, listID string) (int, error) {
	highest := -1
	for _, card := range m.st.cards {
		if card.ListID == listID && card.Position > highest {
			highest = card.Position
		}
	}
	return highest, nil
}

func (m memQueries) InsertCard(_ context.Context, card Card) error {
	if _, ok := m.st.cards[card.ID]; ok {
		return fmt.Errorf("card %s: %w", card.ID, ErrDuplicate)
	}
	if _, ok := m.st.lists[card.ListID]; !ok {
		return fmt.Errorf("list: %w", ErrNotFound)
	}
	now := m.now()
	card.CreatedAt, card.UpdatedAt = now, now
	m.st.cards[card.ID] = cloneCard(card)
	m.touch(kindCard, card.ID)
	return nil
}

func (m memQueries) UpdateCard(_ context.Context, cardID string, patch CardPatch) error {
	card, ok := m.st.cards[cardID]
	if !ok {
		return fmt.Errorf("card: %w", ErrNotFound)
	}
	if patch.Title != nil {
		card.Title = *patch.Title
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.ClearDueDate {
		card.DueDate = nil
	} else if patch.DueDate != nil {
		due := *patch.DueDate
		card.DueDate = &due
	}
	if patch.Assignees != nil {
		card.Assignees = append([]string(nil), (*patch.Assignees)...)
	}
	if patch.Labels != nil {
		card.Labels = append([]Label(nil), (*patch.Labels)...)
	}
	card.UpdatedAt = m.now()
	m.st.cards[cardID] = card
	m.touch(kindCard, cardID)
	return nil
}

func (m memQueries) PlaceCard(_ context.Context, cardID, listID string, position int) error {
	card, ok := m.st.cards[cardID]
	if !ok {
		return fmt.Errorf("card: %w", ErrNotFound)
	}
	card.ListID = listID
	card.Position = position
	card.UpdatedAt = m.now()
	m.st.cards[cardID] = card
	m.touch(kindCard, cardID)
	return nil
}

func (m memQueries) ShiftCards(_ context.Context, shift ordering.Shift) error {
	for id, card := range m.st.cards {
		if card.ListID != shift.ListID || id == shift.ExcludeID || !shift.Covers(card.Position) {
			continue
		}
		card.Position += shift.Delta
		card.UpdatedAt = m.now()
		m.st.cards[id] = card
		m.touch(kindCard, id)
	}
	return nil
}

func (m memQueries) DeleteCard(_ context.Context, cardID string) error {
	if _, ok := m.st.cards[cardID]; !ok {
		return fmt.Errorf("card: %w", ErrNotFound)
	}
	m.dropCard(cardID)
	return nil
}

// dropCard removes a card together with its comments and attachments.
func (m memQueries) dropCard(cardID string) {
	delete(m.st.cards, cardID)
	m.touch(kindCard, cardID)
	for id, c := range m.st.comments {
		if c.CardID == cardID {
			delete(m.st.comments, id)
			m.touch(kindComment, id)
		}
	}
	for id, a := range m.st.attachments {
		if a.CardID == cardID {
			delete(m.st.attachments, id)
			m.touch(kindAttachment, id)
		}
	}
}

func (m memQueries) InsertComment(_ context.Context, comment Comment) error {
	if _, ok := m.st.cards[comment.CardID]; !ok {
		return fmt.Errorf("card: %w", ErrNotFound)
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = m.now()
	}
	m.st.comments[comment.ID] = comment
	m.touch(kindComment, comment.ID)
	return nil
}

func (m memQueries) ListComments(_ context.Context, boardID string) ([]Comment, error) {
	comments := make([]Comment, 0)
	for _, c := range m.st.comments {
		if c.BoardID == boardID {
			comments = append(comments, c)
		}
	}
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
	return comments, nil
}

func (m memQueries) InsertAttachment(_ context.Context, a Attachment) error {
	if _, ok := m.st.cards[a.CardID]; !ok {
		return fmt.Errorf("card: %w", ErrNotFound)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.st.attachments[a.ID] = a
	m.touch(kindAttachment, a.ID)
	return nil
}

func (m memQueries) GetAttachment(_ context.Context, attachmentID string) (Attachment, error) {
	a, ok := m.st.attachments[attachmentID]
	if !ok {
		return Attachment{}, fmt.Errorf("attachment: %w", ErrNotFound)
	}
	return a, nil
}

func (m memQueries) ListAttachments(_ context.Context, boardID string) ([]Attachment, error) {
	items := make([]Attachment, 0)
	for _, a := range m.st.attachments {
		if a.BoardID == boardID {
			items = append(items, a)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// --- MemoryStore outside a unit of work ---

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetUser(ctx, userID)
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetUserByEmail(ctx, email)
}

func (s *MemoryStore) GetUsers(ctx context.Context, userIDs []string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetUsers(ctx, userIDs)
}

func (s *MemoryStore) InsertUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().InsertUser(ctx, user)
}

func (s *MemoryStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetBoard(ctx, boardID)
}

func (s *MemoryStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().ListBoardsForUser(ctx, userID)
}

func (s *MemoryStore) InsertBoard(ctx context.Context, board Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().InsertBoard(ctx, board)
}

func (s *MemoryStore) UpdateBoard(ctx context.Context, board Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().UpdateBoard(ctx, board)
}

func (s *MemoryStore) AddBoardMember(ctx context.Context, boardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().AddBoardMember(ctx, boardID, userID)
}

func (s *MemoryStore) TouchBoard(ctx context.Context, boardID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().TouchBoard(ctx, boardID)
}

func (s *MemoryStore) DeleteBoard(ctx context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().DeleteBoard(ctx, boardID)
}

func (s *MemoryStore) GetList(ctx context.Context, listID string) (List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetList(ctx, listID)
}

func (s *MemoryStore) ListLists(ctx context.Context, boardID string) ([]List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().ListLists(ctx, boardID)
}

func (s *MemoryStore) MaxListPosition(ctx context.Context, boardID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().MaxListPosition(ctx, boardID)
}

func (s *MemoryStore) InsertList(ctx context.Context, list List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().InsertList(ctx, list)
}

func (s *MemoryStore) RenameList(ctx context.Context, listID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().RenameList(ctx, listID, title)
}

func (s *MemoryStore) DeleteList(ctx context.Context, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().DeleteList(ctx, listID)
}

func (s *MemoryStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetCard(ctx, cardID)
}

func (s *MemoryStore) ListCards(ctx context.Context, boardID string) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().ListCards(ctx, boardID)
}

func (s *MemoryStore) SearchCards(ctx context.Context, boardID, query string, limit int) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().SearchCards(ctx, boardID, query, limit)
}

func (s *MemoryStore) CountCards(ctx context.Context, listID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().CountCards(ctx, listID)
}

func (s *MemoryStore) MaxCardPosition(ctx context.Context, listID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().MaxCardPosition(ctx, listID)
}

func (s *MemoryStore) InsertCard(ctx context.Context, card Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().InsertCard(ctx, card)
}

func (s *MemoryStore) UpdateCard(ctx context.Context, cardID string, patch CardPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().UpdateCard(ctx, cardID, patch)
}

func (s *MemoryStore) PlaceCard(ctx context.Context, cardID, listID string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().PlaceCard(ctx, cardID, listID, position)
}

func (s *MemoryStore) ShiftCards(ctx context.Context, shift ordering.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().ShiftCards(ctx, shift)
}

func (s *MemoryStore) DeleteCard(ctx context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().DeleteCard(ctx, cardID)
}

func (s *MemoryStore) InsertComment(ctx context.Context, comment Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().InsertComment(ctx, comment)
}

func (s *MemoryStore) ListComments(ctx context.Context, boardID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().ListComments(ctx, boardID)
}

func (s *MemoryStore) InsertAttachment(ctx context.Context, a Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live().InsertAttachment(ctx, a)
}

func (s *MemoryStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().GetAttachment(ctx, attachmentID)
}

func (s *MemoryStore) ListAttachments(ctx context.Context, boardID string) ([]Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live().ListAttachments(ctx, boardID)
}

var _ Store = (*MemoryStore)(nil)
