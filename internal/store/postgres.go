package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/internal/ordering"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	pgQueries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithBoardLock opens a transaction and takes a transaction-scoped advisory
// lock keyed by the board id, so concurrent mutations of one board execute
// one after another while other boards proceed in parallel.
func (s *PostgresStore) WithBoardLock(ctx context.Context, boardID string, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin board tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, boardID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock board %s: %w", boardID, err)
	}
	if err := fn(pgQueries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit board tx: %w", err)
	}
	return nil
}

type pgQueries struct {
	q querier
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("read %s: %w", what, err)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// --- users ---

func (p pgQueries) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := p.q.QueryRowContext(ctx, `
		SELECT id, username, email, avatar, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.Avatar, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "user")
	}
	return user, nil
}

func (p pgQueries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := p.q.QueryRowContext(ctx, `
		SELECT id, username, email, avatar, created_at FROM users WHERE LOWER(email)=LOWER($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.Username, &user.Email, &user.Avatar, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "user")
	}
	return user, nil
}

func (p pgQueries) GetUsers(ctx context.Context, userIDs []string) ([]User, error) {
	users := make([]User, 0, len(userIDs))
	if len(userIDs) == 0 {
		return users, nil
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, username, email, avatar, created_at FROM users WHERE id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Avatar, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (p pgQueries) InsertUser(ctx context.Context, user User) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, avatar) VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, strings.TrimSpace(user.Email), user.Avatar)
	if isUniqueViolation(err) {
		return fmt.Errorf("user email %s: %w", user.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// --- boards ---

const boardColumns = `
	b.id, b.title, b.description, b.background, b.owner_id, b.version, b.created_at, b.updated_at,
	COALESCE((
		SELECT jsonb_agg(m.user_id ORDER BY m.added_at, m.user_id)
		FROM board_members m WHERE m.board_id = b.id
	), '[]'::jsonb)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (Board, error) {
	var board Board
	var membersRaw []byte
	if err := row.Scan(
		&board.ID,
		&board.Title,
		&board.Description,
		&board.Background,
		&board.OwnerID,
		&board.Version,
		&board.CreatedAt,
		&board.UpdatedAt,
		&membersRaw,
	); err != nil {
		return Board{}, err
	}
	if err := json.Unmarshal(membersRaw, &board.Members); err != nil {
		return Board{}, fmt.Errorf("decode board members: %w", err)
	}
	return board, nil
}

func (p pgQueries) GetBoard(ctx context.Context, boardID string) (Board, error) {
	board, err := scanBoard(p.q.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards b WHERE b.id=$1`, boardID))
	if err != nil {
		return Board{}, notFound(err, "board")
	}
	return board, nil
}

func (p pgQueries) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+boardColumns+`
		FROM boards b
		WHERE EXISTS (SELECT 1 FROM board_members bm WHERE bm.board_id = b.id AND bm.user_id = $1)
		ORDER BY b.updated_at DESC, b.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func (p pgQueries) InsertBoard(ctx context.Context, board Board) error {
	if _, err := p.q.ExecContext(ctx, `
		INSERT INTO boards (id, title, description, background, owner_id, version)
		VALUES ($1, $2, $3, $4, $5, 1)
	`, board.ID, board.Title, board.Description, board.Background, board.OwnerID); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	members := append([]string{board.OwnerID}, board.Members...)
	for _, userID := range members {
		if _, err := p.q.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id) VALUES ($1, $2)
			ON CONFLICT (board_id, user_id) DO NOTHING
		`, board.ID, userID); err != nil {
			return fmt.Errorf("insert board member: %w", err)
		}
	}
	return nil
}

func (p pgQueries) UpdateBoard(ctx context.Context, board Board) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE boards SET title=$2, description=$3, background=$4, updated_at=NOW() WHERE id=$1
	`, board.ID, board.Title, board.Description, board.Background)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return requireAffected(res, "board")
}

func (p pgQueries) AddBoardMember(ctx context.Context, boardID, userID string) error {
	res, err := p.q.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id) VALUES ($1, $2)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, boardID, userID)
	if err != nil {
		return fmt.Errorf("add board member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add board member rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("board member %s: %w", userID, ErrDuplicate)
	}
	return nil
}

func (p pgQueries) TouchBoard(ctx context.Context, boardID string) (int64, error) {
	var version int64
	err := p.q.QueryRowContext(ctx, `
		UPDATE boards SET version = version + 1, updated_at = NOW() WHERE id=$1 RETURNING version
	`, boardID).Scan(&version)
	if err != nil {
		return 0, notFound(err, "board")
	}
	return version, nil
}

func (p pgQueries) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireAffected(res, "board")
}

// --- lists ---

func scanList(row rowScanner) (List, error) {
	var list List
	err := row.Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt, &list.UpdatedAt)
	return list, err
}

func (p pgQueries) GetList(ctx context.Context, listID string) (List, error) {
	list, err := scanList(p.q.QueryRowContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at FROM lists WHERE id=$1
	`, listID))
	if err != nil {
		return List{}, notFound(err, "list")
	}
	return list, nil
}

func (p pgQueries) ListLists(ctx context.Context, boardID string) ([]List, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at
		FROM lists WHERE board_id=$1
		ORDER BY position, created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	lists := make([]List, 0)
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return lists, nil
}

func (p pgQueries) MaxListPosition(ctx context.Context, boardID string) (int, error) {
	var pos int
	if err := p.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) FROM lists WHERE board_id=$1`, boardID).Scan(&pos); err != nil {
		return 0, fmt.Errorf("max list position: %w", err)
	}
	return pos, nil
}

func (p pgQueries) InsertList(ctx context.Context, list List) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO lists (id, board_id, title, position) VALUES ($1, $2, $3, $4)
	`, list.ID, list.BoardID, list.Title, list.Position)
	if err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	return nil
}

func (p pgQueries) RenameList(ctx context.Context, listID, title string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE lists SET title=$2, updated_at=NOW() WHERE id=$1`, listID, title)
	if err != nil {
		return fmt.Errorf("rename list: %w", err)
	}
	return requireAffected(res, "list")
}

// DeleteList removes the list and, through the cascade, its cards.
func (p pgQueries) DeleteList(ctx context.Context, listID string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return requireAffected(res, "list")
}

// --- cards ---

const cardColumns = `id, board_id, list_id, title, description, position, assignees, labels, due_date, created_at, updated_at`

func scanCard(row rowScanner) (Card, error) {
	var card Card
	var assigneesRaw, labelsRaw []byte
	var due sql.NullTime
	if err := row.Scan(
		&card.ID,
		&card.BoardID,
		&card.ListID,
		&card.Title,
		&card.Description,
		&card.Position,
		&assigneesRaw,
		&labelsRaw,
		&due,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return Card{}, err
	}
	if err := json.Unmarshal(assigneesRaw, &card.Assignees); err != nil {
		return Card{}, fmt.Errorf("decode card assignees: %w", err)
	}
	if err := json.Unmarshal(labelsRaw, &card.Labels); err != nil {
		return Card{}, fmt.Errorf("decode card labels: %w", err)
	}
	if due.Valid {
		t := due.Time
		card.DueDate = &t
	}
	return card, nil
}

func (p pgQueries) queryCards(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	cards := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

func (p pgQueries) GetCard(ctx context.Context, cardID string) (Card, error) {
	card, err := scanCard(p.q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id=$1`, cardID))
	if err != nil {
		return Card{}, notFound(err, "card")
	}
	return card, nil
}

func (p pgQueries) ListCards(ctx context.Context, boardID string) ([]Card, error) {
	return p.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE board_id=$1 ORDER BY list_id, position`, boardID)
}

func (p pgQueries) SearchCards(ctx context.Context, boardID, query string, limit int) ([]Card, error) {
	if limit <= 0 {
		limit = 20
	}
	return p.queryCards(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE board_id=$1 AND fts @@ plainto_tsquery('simple', $2)
		ORDER BY ts_rank(fts, plainto_tsquery('simple', $2)) DESC, position
		LIMIT $3
	`, boardID, query, limit)
}

func (p pgQueries) CountCards(ctx context.Context, listID string) (int, error) {
	var count int
	if err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE list_id=$1`, listID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return count, nil
}

func (p pgQueries) MaxCardPosition(ctx context.Context, listID string) (int, error) {
	var pos int
	if err := p.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) FROM cards WHERE list_id=$1`, listID).Scan(&pos); err != nil {
		return 0, fmt.Errorf("max card position: %w", err)
	}
	return pos, nil
}

func encodeJSON(v any, what string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(raw), nil
}

func (p pgQueries) InsertCard(ctx context.Context, card Card) error {
	assignees := card.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	labels := card.Labels
	if labels == nil {
		labels = []Label{}
	}
	encodedAssignees, err := encodeJSON(assignees, "card assignees")
	if err != nil {
		return err
	}
	encodedLabels, err := encodeJSON(labels, "card labels")
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO cards (id, board_id, list_id, title, description, position, assignees, labels, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
	`, card.ID, card.BoardID, card.ListID, card.Title, card.Description, card.Position, encodedAssignees, encodedLabels, card.DueDate)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (p pgQueries) UpdateCard(ctx context.Context, cardID string, patch CardPatch) error {
	sets := []string{"updated_at=NOW()"}
	args := []any{cardID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.ClearDueDate {
		sets = append(sets, "due_date=NULL")
	} else if patch.DueDate != nil {
		add("due_date", *patch.DueDate)
	}
	if patch.Assignees != nil {
		assignees := *patch.Assignees
		if assignees == nil {
			assignees = []string{}
		}
		encoded, err := encodeJSON(assignees, "card assignees")
		if err != nil {
			return err
		}
		add("assignees", encoded)
		sets[len(sets)-1] += "::jsonb"
	}
	if patch.Labels != nil {
		labels := *patch.Labels
		if labels == nil {
			labels = []Label{}
		}
		encoded, err := encodeJSON(labels, "card labels")
		if err != nil {
			return err
		}
		add("labels", encoded)
		sets[len(sets)-1] += "::jsonb"
	}

	res, err := p.q.ExecContext(ctx, `UPDATE cards SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return requireAffected(res, "card")
}

func (p pgQueries) PlaceCard(ctx context.Context, cardID, listID string, position int) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE cards SET list_id=$2, position=$3, updated_at=NOW() WHERE id=$1
	`, cardID, listID, position)
	if err != nil {
		return fmt.Errorf("place card: %w", err)
	}
	return requireAffected(res, "card")
}

func (p pgQueries) ShiftCards(ctx context.Context, shift ordering.Shift) error {
	_, err := p.q.ExecContext(ctx, `
		UPDATE cards
		SET position = position + $2, updated_at = NOW()
		WHERE list_id = $1
			AND id <> $3
			AND position >= $4
			AND ($5::int < 0 OR position <= $5::int)
	`, shift.ListID, shift.Delta, shift.ExcludeID, shift.Min, shift.Max)
	if err != nil {
		return fmt.Errorf("shift cards in list %s: %w", shift.ListID, err)
	}
	return nil
}

func (p pgQueries) DeleteCard(ctx context.Context, cardID string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return requireAffected(res, "card")
}

// --- comments and attachments ---

func (p pgQueries) InsertComment(ctx context.Context, comment Comment) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO card_comments (id, card_id, board_id, user_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.CardID, comment.BoardID, comment.UserID, comment.Text, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (p pgQueries) ListComments(ctx context.Context, boardID string) ([]Comment, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, card_id, board_id, user_id, text, created_at
		FROM card_comments WHERE board_id=$1
		ORDER BY created_at, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.CardID, &c.BoardID, &c.UserID, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func (p pgQueries) InsertAttachment(ctx context.Context, a Attachment) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO card_attachments (id, card_id, board_id, filename, content_type, size_bytes, object_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.CardID, a.BoardID, a.Filename, a.ContentType, a.Size, a.ObjectKey, a.UploadedBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (p pgQueries) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var a Attachment
	err := p.q.QueryRowContext(ctx, `
		SELECT id, card_id, board_id, filename, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM card_attachments WHERE id=$1
	`, attachmentID).Scan(&a.ID, &a.CardID, &a.BoardID, &a.Filename, &a.ContentType, &a.Size, &a.ObjectKey, &a.UploadedBy, &a.CreatedAt)
	if err != nil {
		return Attachment{}, notFound(err, "attachment")
	}
	return a, nil
}

func (p pgQueries) ListAttachments(ctx context.Context, boardID string) ([]Attachment, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, card_id, board_id, filename, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM card_attachments WHERE board_id=$1
		ORDER BY created_at, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.CardID, &a.BoardID, &a.Filename, &a.ContentType, &a.Size, &a.ObjectKey, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

var _ Store = (*PostgresStore)(nil)
