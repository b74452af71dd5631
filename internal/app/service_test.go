package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"taskboard/internal/attachments"
	"taskboard/internal/cache"
	"taskboard/internal/config"
	"taskboard/internal/email"
	"taskboard/internal/ordering"
	"taskboard/internal/realtime"
	"taskboard/internal/store"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []realtime.Update
}

func (p *recordingPublisher) Publish(_ context.Context, update realtime.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *recordingPublisher) all() []realtime.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Update(nil), p.updates...)
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.updates = nil
	p.mu.Unlock()
}

type recordingMailer struct {
	sent chan email.BoardInviteData
	to   chan string
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{sent: make(chan email.BoardInviteData, 4), to: make(chan string, 4)}
}

func (m *recordingMailer) IsConfigured() bool { return true }

func (m *recordingMailer) SendBoardInvite(to string, data email.BoardInviteData) error {
	m.to <- to
	m.sent <- data
	return nil
}

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	pub      *recordingPublisher
	logs     *test.Hook
	owner    Session
	member   Session
	outsider Session
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret: "test-secret",
		AccessTTL: time.Hour,
		AppURL:    "http://localhost:3000",
	}
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	mem := store.NewMemoryStore()
	pub := &recordingPublisher{}
	fx := &fixture{
		svc:   New(testConfig(), mem, pub, deps, logger),
		store: mem,
		pub:   pub,
		logs:  hook,
	}
	ctx := context.Background()
	for _, u := range []store.User{
		{ID: "usr_owner", Username: "owner", Email: "owner@example.com"},
		{ID: "usr_member", Username: "member", Email: "member@example.com"},
		{ID: "usr_outsider", Username: "outsider", Email: "outsider@example.com"},
	} {
		require.NoError(t, mem.InsertUser(ctx, u))
	}
	fx.owner = Session{UserID: "usr_owner", Username: "owner"}
	fx.member = Session{UserID: "usr_member", Username: "member"}
	fx.outsider = Session{UserID: "usr_outsider", Username: "outsider"}
	return fx
}

func (fx *fixture) board(t *testing.T) string {
	t.Helper()
	snap, err := fx.svc.CreateBoard(context.Background(), fx.owner, CreateBoardInput{Title: "Roadmap"})
	require.NoError(t, err)
	return snap.Board.ID
}

func (fx *fixture) list(t *testing.T, boardID, title string) string {
	t.Helper()
	_, list, err := fx.svc.CreateList(context.Background(), fx.owner, boardID, CreateListInput{Title: title})
	require.NoError(t, err)
	return list.ID
}

func (fx *fixture) cards(t *testing.T, listID string, titles ...string) map[string]string {
	t.Helper()
	ids := make(map[string]string, len(titles))
	for _, title := range titles {
		_, card, err := fx.svc.CreateCard(context.Background(), fx.owner, CreateCardInput{ListID: listID, Title: title})
		require.NoError(t, err)
		ids[title] = card.ID
	}
	return ids
}

func intPtr(v int) *int { return &v }

// order renders a list as "Title@position" in snapshot order.
func order(snap Snapshot, listID string) []string {
	out := []string{}
	for _, l := range snap.Lists {
		if l.ID != listID {
			continue
		}
		for _, c := range l.Cards {
			out = append(out, fmt.Sprintf("%s@%d", c.Title, c.Position))
		}
	}
	return out
}

func statusOf(err error) int {
	status, _, _, _ := mapError(err)
	return status
}

func TestCreateBoardMakesOwnerAMember(t *testing.T) {
	fx := newFixture(t, Deps{})
	snap, err := fx.svc.CreateBoard(context.Background(), fx.owner, CreateBoardInput{Title: "  Roadmap  "})
	require.NoError(t, err)

	assert.Equal(t, "Roadmap", snap.Board.Title)
	assert.Equal(t, defaultBackground, snap.Board.Background)
	assert.Equal(t, "usr_owner", snap.Board.Owner.ID)
	require.Len(t, snap.Board.Members, 1)
	assert.Equal(t, UserSummary{ID: "usr_owner", Username: "owner"}, snap.Board.Members[0])
	assert.Empty(t, snap.Lists)
}

func TestCreateBoardValidation(t *testing.T) {
	fx := newFixture(t, Deps{})
	cases := []CreateBoardInput{
		{Title: ""},
		{Title: strings.Repeat("x", 101)},
		{Title: "ok", Description: strings.Repeat("d", 501)},
	}
	for _, input := range cases {
		_, err := fx.svc.CreateBoard(context.Background(), fx.owner, input)
		assert.Equal(t, http.StatusBadRequest, statusOf(err))
	}
}

func TestMoveWithinListUpwards(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B", "C")

	snap, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["C"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C@0", "A@1", "B@2"}, order(snap, listID))
}

func TestMoveWithinListDownwards(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B", "C", "D")

	snap, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["A"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@0", "C@1", "A@2", "D@3"}, order(snap, listID))
}

func TestMoveAcrossLists(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	l1 := fx.list(t, boardID, "L1")
	l2 := fx.list(t, boardID, "L2")
	ids := fx.cards(t, l1, "A", "B")
	fx.cards(t, l2, "C")

	snap, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["A"], SourceListID: l1, DestinationListID: l2, NewPosition: intPtr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@0"}, order(snap, l1))
	assert.Equal(t, []string{"C@0", "A@1"}, order(snap, l2))

	card, ok := snap.Card(ids["A"])
	require.True(t, ok)
	assert.Equal(t, l2, card.ListID)
}

func TestMoveClampsTargetIndex(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	l1 := fx.list(t, boardID, "L1")
	l2 := fx.list(t, boardID, "L2")
	ids := fx.cards(t, l1, "A", "B")
	fx.cards(t, l2, "C")

	snap, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["A"], SourceListID: l1, DestinationListID: l1, NewPosition: intPtr(40),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@0", "A@1"}, order(snap, l1))

	snap, err = fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["B"], SourceListID: l1, DestinationListID: l2, NewPosition: intPtr(40),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@0"}, order(snap, l1))
	assert.Equal(t, []string{"C@0", "B@1"}, order(snap, l2))
}

func TestNoOpMoveChangesNothing(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B", "C")
	before, err := fx.svc.Board(context.Background(), fx.owner, boardID)
	require.NoError(t, err)
	fx.pub.reset()

	snap, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["B"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@0", "B@1", "C@2"}, order(snap, listID))
	assert.Equal(t, before.Board.Version, snap.Board.Version)
	assert.Empty(t, fx.pub.all())
}

func TestMoveRejectsStaleSourceList(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	l1 := fx.list(t, boardID, "L1")
	l2 := fx.list(t, boardID, "L2")
	ids := fx.cards(t, l1, "A")

	_, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["A"], SourceListID: l2, DestinationListID: l2, NewPosition: intPtr(0),
	})
	assert.Equal(t, http.StatusConflict, statusOf(err))
}

func TestMoveRejectsListOfAnotherBoard(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardA := fx.board(t)
	boardB := fx.board(t)
	l1 := fx.list(t, boardA, "L1")
	foreign := fx.list(t, boardB, "Foreign")
	ids := fx.cards(t, l1, "A")

	_, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: ids["A"], SourceListID: l1, DestinationListID: foreign, NewPosition: intPtr(0),
	})
	require.Error(t, err)
	_, _, message, _ := mapError(err)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
	assert.Equal(t, "List not found", message)

	snap, err := fx.svc.Board(context.Background(), fx.owner, boardA)
	require.NoError(t, err)
	assert.Equal(t, []string{"A@0"}, order(snap, l1))
}

func TestMoveValidation(t *testing.T) {
	fx := newFixture(t, Deps{})
	cases := []MoveCardInput{
		{},
		{CardID: "c", SourceListID: "s", DestinationListID: "d"},
		{CardID: "c", SourceListID: "s", DestinationListID: "d", NewPosition: intPtr(-1)},
	}
	for _, input := range cases {
		_, err := fx.svc.MoveCard(context.Background(), fx.owner, input)
		assert.Equal(t, http.StatusBadRequest, statusOf(err))
	}
	_, err := fx.svc.MoveCard(context.Background(), fx.owner, MoveCardInput{
		CardID: "crd_missing", SourceListID: "s", DestinationListID: "d", NewPosition: intPtr(0),
	})
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestDeleteCardClosesGap(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B", "C")

	snap, err := fx.svc.DeleteCard(context.Background(), fx.owner, ids["B"])
	require.NoError(t, err)
	assert.Equal(t, []string{"A@0", "C@1"}, order(snap, listID))
}

func TestCreateCardAppendsAtTail(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "Empty")

	snap, first, err := fx.svc.CreateCard(context.Background(), fx.owner, CreateCardInput{ListID: listID, Title: "first"})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, []string{"first@0"}, order(snap, listID))

	_, second, err := fx.svc.CreateCard(context.Background(), fx.owner, CreateCardInput{ListID: listID, Title: "second"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position)
}

func TestOutsiderIsForbiddenAndNothingChanges(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B")
	before, err := fx.svc.Board(ctx, fx.owner, boardID)
	require.NoError(t, err)
	fx.pub.reset()

	attempts := map[string]func() error{
		"create card": func() error {
			_, _, err := fx.svc.CreateCard(ctx, fx.outsider, CreateCardInput{ListID: listID, Title: "x"})
			return err
		},
		"create list": func() error {
			_, _, err := fx.svc.CreateList(ctx, fx.outsider, boardID, CreateListInput{Title: "x"})
			return err
		},
		"move card": func() error {
			_, err := fx.svc.MoveCard(ctx, fx.outsider, MoveCardInput{CardID: ids["A"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(1)})
			return err
		},
		"delete card": func() error {
			_, err := fx.svc.DeleteCard(ctx, fx.outsider, ids["A"])
			return err
		},
		"edit card": func() error {
			title := "x"
			_, _, err := fx.svc.UpdateCard(ctx, fx.outsider, ids["A"], UpdateCardInput{Title: &title})
			return err
		},
		"rename list": func() error {
			_, _, err := fx.svc.RenameList(ctx, fx.outsider, listID, RenameListInput{Title: "x"})
			return err
		},
		"delete list": func() error {
			_, err := fx.svc.DeleteList(ctx, fx.outsider, listID)
			return err
		},
		"comment": func() error {
			_, _, err := fx.svc.AddComment(ctx, fx.outsider, ids["A"], AddCommentInput{Text: "x"})
			return err
		},
		"read board": func() error {
			_, err := fx.svc.Board(ctx, fx.outsider, boardID)
			return err
		},
	}
	for name, attempt := range attempts {
		assert.Equal(t, http.StatusForbidden, statusOf(attempt()), name)
	}

	after, err := fx.svc.Board(ctx, fx.owner, boardID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, fx.pub.all())
}

func TestEveryMutationBroadcastsOnce(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	require.Empty(t, fx.pub.all())

	expect := func(action string, run func() error) {
		t.Helper()
		fx.pub.reset()
		require.NoError(t, run())
		updates := fx.pub.all()
		require.Len(t, updates, 1, action)
		assert.Equal(t, action, updates[0].Action)
		assert.Equal(t, boardID, updates[0].BoardID)
		assert.NotEmpty(t, updates[0].Board)
		assert.NotEmpty(t, updates[0].Lists)
	}

	var listID, otherList, cardID string
	expect(ActionListCreated, func() error {
		_, list, err := fx.svc.CreateList(ctx, fx.owner, boardID, CreateListInput{Title: "L"})
		listID = list.ID
		return err
	})
	expect(ActionListCreated, func() error {
		_, list, err := fx.svc.CreateList(ctx, fx.owner, boardID, CreateListInput{Title: "Other"})
		otherList = list.ID
		return err
	})
	expect(ActionListUpdated, func() error {
		_, _, err := fx.svc.RenameList(ctx, fx.owner, listID, RenameListInput{Title: "Todo"})
		return err
	})
	expect(ActionCardCreated, func() error {
		_, card, err := fx.svc.CreateCard(ctx, fx.owner, CreateCardInput{ListID: listID, Title: "A"})
		cardID = card.ID
		return err
	})
	expect(ActionCardUpdated, func() error {
		desc := "details"
		_, _, err := fx.svc.UpdateCard(ctx, fx.owner, cardID, UpdateCardInput{Description: &desc})
		return err
	})
	expect(ActionCardMoved, func() error {
		_, err := fx.svc.MoveCard(ctx, fx.owner, MoveCardInput{CardID: cardID, SourceListID: listID, DestinationListID: otherList, NewPosition: intPtr(0)})
		return err
	})
	expect(ActionCommentAdded, func() error {
		_, _, err := fx.svc.AddComment(ctx, fx.owner, cardID, AddCommentInput{Text: "looks good"})
		return err
	})
	expect(ActionMemberAdded, func() error {
		_, err := fx.svc.AddMember(ctx, fx.owner, boardID, AddMemberInput{Email: "member@example.com"})
		return err
	})
	expect(ActionBoardUpdated, func() error {
		title := "Renamed"
		_, err := fx.svc.UpdateBoard(ctx, fx.member, boardID, UpdateBoardInput{Title: &title})
		return err
	})
	expect(ActionCardDeleted, func() error {
		_, err := fx.svc.DeleteCard(ctx, fx.owner, cardID)
		return err
	})
	expect(ActionListDeleted, func() error {
		_, err := fx.svc.DeleteList(ctx, fx.owner, otherList)
		return err
	})
}

func TestBroadcastCarriesVersionAndOrigin(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B")
	fx.pub.reset()

	live := fx.owner
	live.ConnID = "conn_1"
	snap, err := fx.svc.MoveCard(ctx, live, MoveCardInput{CardID: ids["B"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(0)})
	require.NoError(t, err)

	updates := fx.pub.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "conn_1", updates[0].ExcludeConn)
	assert.Equal(t, "usr_owner", updates[0].OriginUserID)
	assert.Equal(t, snap.Board.Version, updates[0].Version)

	fx.pub.reset()
	_, _, err = fx.svc.CreateCard(ctx, live, CreateCardInput{ListID: listID, Title: "C"})
	require.NoError(t, err)
	updates = fx.pub.all()
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].ExcludeConn)
}

func TestVersionIncreasesWithEveryMutation(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	snap, err := fx.svc.Board(ctx, fx.owner, boardID)
	require.NoError(t, err)
	last := snap.Board.Version

	listID := fx.list(t, boardID, "L")
	for i := 0; i < 3; i++ {
		snap, _, err := fx.svc.CreateCard(ctx, fx.owner, CreateCardInput{ListID: listID, Title: fmt.Sprintf("card %d", i)})
		require.NoError(t, err)
		assert.Greater(t, snap.Board.Version, last)
		last = snap.Board.Version
	}
}

func TestDeleteListKeepsSiblingListPositions(t *testing.T) {
	fx := newFixture(t, Deps{})
	boardID := fx.board(t)
	fx.list(t, boardID, "L0")
	l1 := fx.list(t, boardID, "L1")
	fx.list(t, boardID, "L2")
	fx.cards(t, l1, "A", "B")

	snap, err := fx.svc.DeleteList(context.Background(), fx.owner, l1)
	require.NoError(t, err)
	require.Len(t, snap.Lists, 2)
	assert.Equal(t, 0, snap.Lists[0].Position)
	assert.Equal(t, 2, snap.Lists[1].Position)

	cards, err := fx.store.ListCards(context.Background(), boardID)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestAddMember(t *testing.T) {
	mailer := newRecordingMailer()
	fx := newFixture(t, Deps{Mailer: mailer})
	ctx := context.Background()
	boardID := fx.board(t)

	_, err := fx.svc.AddMember(ctx, fx.owner, boardID, AddMemberInput{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	snap, err := fx.svc.AddMember(ctx, fx.owner, boardID, AddMemberInput{Email: "Member@Example.com"})
	require.NoError(t, err)
	require.Len(t, snap.Board.Members, 2)
	assert.Equal(t, "usr_member", snap.Board.Members[1].ID)

	select {
	case to := <-mailer.to:
		assert.Equal(t, "member@example.com", to)
		data := <-mailer.sent
		assert.Equal(t, "Roadmap", data.BoardTitle)
		assert.Equal(t, "owner", data.InviterName)
		assert.Equal(t, "http://localhost:3000/board/"+boardID, data.BoardURL)
	case <-time.After(2 * time.Second):
		t.Fatal("invite email not sent")
	}

	_, err = fx.svc.AddMember(ctx, fx.owner, boardID, AddMemberInput{Email: "member@example.com"})
	assert.Equal(t, http.StatusConflict, statusOf(err))

	_, err = fx.svc.AddMember(ctx, fx.outsider, boardID, AddMemberInput{Email: "outsider@example.com"})
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	// members may now act on the board
	_, _, err = fx.svc.CreateList(ctx, fx.member, boardID, CreateListInput{Title: "From member"})
	require.NoError(t, err)
}

func TestDeleteBoardIsOwnerOnly(t *testing.T) {
	blobs := attachments.NewMemoryStore("http://blobs.local")
	fx := newFixture(t, Deps{Blobs: blobs})
	ctx := context.Background()
	boardID := fx.board(t)
	_, err := fx.svc.AddMember(ctx, fx.owner, boardID, AddMemberInput{Email: "member@example.com"})
	require.NoError(t, err)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A")
	_, card, err := fx.svc.AddAttachment(ctx, fx.owner, ids["A"], UploadInput{Filename: "plan.txt", Size: 5, Body: strings.NewReader("hello")})
	require.NoError(t, err)
	require.Len(t, card.Attachments, 1)
	att, err := fx.store.GetAttachment(ctx, card.Attachments[0].ID)
	require.NoError(t, err)

	err = fx.svc.DeleteBoard(ctx, fx.member, boardID)
	assert.Equal(t, http.StatusForbidden, statusOf(err))
	_, _, message, _ := mapError(err)
	assert.Equal(t, "Only the owner can delete this board", message)

	fx.pub.reset()
	require.NoError(t, fx.svc.DeleteBoard(ctx, fx.owner, boardID))
	updates := fx.pub.all()
	require.Len(t, updates, 1)
	assert.Equal(t, ActionBoardDeleted, updates[0].Action)

	_, err = fx.svc.Board(ctx, fx.owner, boardID)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
	_, err = fx.store.GetCard(ctx, ids["A"])
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, ok := blobs.Object(att.ObjectKey)
	assert.False(t, ok)
}

func TestUpdateCard(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A")

	assignees := []string{"usr_outsider"}
	_, _, err := fx.svc.UpdateCard(ctx, fx.owner, ids["A"], UpdateCardInput{Assignees: &assignees})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	assignees = []string{"usr_owner", "usr_owner"}
	labels := []store.Label{{Name: "bug", Color: "#eb5a46"}}
	_, card, err := fx.svc.UpdateCard(ctx, fx.owner, ids["A"], UpdateCardInput{
		Assignees: &assignees,
		Labels:    &labels,
		DueDate:   []byte(`"2026-11-01"`),
	})
	require.NoError(t, err)
	require.Len(t, card.Assignees, 1)
	assert.Equal(t, "owner", card.Assignees[0].Username)
	assert.Equal(t, labels, card.Labels)
	require.NotNil(t, card.DueDate)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), *card.DueDate)

	_, card, err = fx.svc.UpdateCard(ctx, fx.owner, ids["A"], UpdateCardInput{DueDate: []byte(`null`)})
	require.NoError(t, err)
	assert.Nil(t, card.DueDate)
	assert.Len(t, card.Labels, 1)

	_, _, err = fx.svc.UpdateCard(ctx, fx.owner, ids["A"], UpdateCardInput{})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, _, err = fx.svc.UpdateCard(ctx, fx.owner, ids["A"], UpdateCardInput{DueDate: []byte(`"soon"`)})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestCommentsResolveAuthors(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A")

	_, _, err := fx.svc.AddComment(ctx, fx.owner, ids["A"], AddCommentInput{Text: ""})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, _, err = fx.svc.AddComment(ctx, fx.owner, ids["A"], AddCommentInput{Text: strings.Repeat("c", 1001)})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, card, err := fx.svc.AddComment(ctx, fx.owner, ids["A"], AddCommentInput{Text: "first"})
	require.NoError(t, err)
	require.Len(t, card.Comments, 1)
	assert.Equal(t, "owner", card.Comments[0].User.Username)
	assert.Equal(t, "first", card.Comments[0].Text)
}

func TestAttachments(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without blob store", func(t *testing.T) {
		fx := newFixture(t, Deps{})
		boardID := fx.board(t)
		ids := fx.cards(t, fx.list(t, boardID, "L"), "A")
		_, _, err := fx.svc.AddAttachment(ctx, fx.owner, ids["A"], UploadInput{Filename: "a.txt", Size: 1, Body: strings.NewReader("a")})
		assert.Equal(t, http.StatusServiceUnavailable, statusOf(err))
	})

	t.Run("upload, link and cleanup", func(t *testing.T) {
		blobs := attachments.NewMemoryStore("http://blobs.local")
		fx := newFixture(t, Deps{Blobs: blobs})
		boardID := fx.board(t)
		ids := fx.cards(t, fx.list(t, boardID, "L"), "A")

		_, card, err := fx.svc.AddAttachment(ctx, fx.owner, ids["A"], UploadInput{
			Filename:    "../Design Notes.pdf",
			ContentType: "application/pdf",
			Size:        3,
			Body:        bytes.NewReader([]byte("pdf")),
		})
		require.NoError(t, err)
		require.Len(t, card.Attachments, 1)
		view := card.Attachments[0]
		assert.Equal(t, "Design_Notes.pdf", view.Filename)
		assert.Equal(t, "/api/attachments/"+view.ID, view.URL)

		link, err := fx.svc.AttachmentURL(ctx, fx.owner, view.ID)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(link, "http://blobs.local/"))

		_, err = fx.svc.AttachmentURL(ctx, fx.outsider, view.ID)
		assert.Equal(t, http.StatusForbidden, statusOf(err))

		att, err := fx.store.GetAttachment(ctx, view.ID)
		require.NoError(t, err)
		_, ok := blobs.Object(att.ObjectKey)
		require.True(t, ok)

		_, err = fx.svc.DeleteCard(ctx, fx.owner, ids["A"])
		require.NoError(t, err)
		_, ok = blobs.Object(att.ObjectKey)
		assert.False(t, ok)
	})

	t.Run("rejects oversized uploads", func(t *testing.T) {
		fx := newFixture(t, Deps{Blobs: attachments.NewMemoryStore("http://blobs.local")})
		boardID := fx.board(t)
		ids := fx.cards(t, fx.list(t, boardID, "L"), "A")
		_, _, err := fx.svc.AddAttachment(ctx, fx.owner, ids["A"], UploadInput{Filename: "big.bin", Size: attachments.MaxSize + 1, Body: strings.NewReader("")})
		assert.Equal(t, http.StatusBadRequest, statusOf(err))
	})
}

func TestConcurrentMovesStayDense(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	l1 := fx.list(t, boardID, "L1")
	l2 := fx.list(t, boardID, "L2")
	ids := fx.cards(t, l1, "A", "B", "C", "D", "E", "F")

	titles := []string{"A", "B", "C", "D", "E", "F"}
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 48; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cardID := ids[titles[i%len(titles)]]
			card, err := fx.store.GetCard(ctx, cardID)
			if err != nil {
				errs <- err
				return
			}
			dest := l1
			if i%2 == 0 {
				dest = l2
			}
			_, err = fx.svc.MoveCard(ctx, fx.owner, MoveCardInput{
				CardID:            cardID,
				SourceListID:      card.ListID,
				DestinationListID: dest,
				NewPosition:       intPtr(i % 5),
			})
			if err != nil && statusOf(err) != http.StatusConflict {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected move error: %v", err)
	}

	snap, err := fx.svc.Board(ctx, fx.owner, boardID)
	require.NoError(t, err)
	require.NoError(t, ordering.Verify(snap.placements(), l1, l2))
	assert.Len(t, snap.placements(), len(titles))
}

func TestMutationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	fx := newFixture(t, Deps{Tracer: provider.Tracer("test")})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	ids := fx.cards(t, listID, "A", "B")

	_, err := fx.svc.MoveCard(ctx, fx.owner, MoveCardInput{CardID: ids["B"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(0)})
	require.NoError(t, err)
	_, err = fx.svc.MoveCard(ctx, fx.outsider, MoveCardInput{CardID: ids["B"], SourceListID: listID, DestinationListID: listID, NewPosition: intPtr(1)})
	require.Error(t, err)

	var moves []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "board.MoveCard" {
			moves = append(moves, span)
		}
	}
	require.Len(t, moves, 2)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range moves[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, boardID, attrs["board.id"].AsString())
	assert.Equal(t, ActionCardMoved, attrs["board.action"].AsString())
	assert.Equal(t, "Error", moves[1].Status().Code.String())
}

func TestSnapshotCacheServesOnlyCurrentVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	snapshots := cache.NewSnapshotStoreWithClient(client, time.Minute)

	fx := newFixture(t, Deps{Cache: snapshots})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	created, _, err := fx.svc.CreateCard(ctx, fx.owner, CreateCardInput{ListID: listID, Title: "A"})
	require.NoError(t, err)

	entry, ok, err := snapshots.Get(ctx, boardID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.Board.Version, entry.Version)

	cached, err := fx.svc.Board(ctx, fx.owner, boardID)
	require.NoError(t, err)
	assert.Equal(t, created.Board.Version, cached.Board.Version)
	assert.Equal(t, []string{"A@0"}, order(cached, listID))

	// a write that bypasses the service leaves the cached entry stale
	require.NoError(t, fx.store.WithBoardLock(ctx, boardID, func(q store.Queries) error {
		if err := q.RenameList(ctx, listID, "Renamed"); err != nil {
			return err
		}
		_, err := q.TouchBoard(ctx, boardID)
		return err
	}))

	fresh, err := fx.svc.Board(ctx, fx.owner, boardID)
	require.NoError(t, err)
	assert.Greater(t, fresh.Board.Version, created.Board.Version)
	assert.Equal(t, "Renamed", fresh.Lists[0].Title)

	require.NoError(t, fx.svc.DeleteBoard(ctx, fx.owner, boardID))
	_, ok, err = snapshots.Get(ctx, boardID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchFallsBackToStore(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()
	boardID := fx.board(t)
	listID := fx.list(t, boardID, "L")
	fx.cards(t, listID, "Fix login bug", "Write docs")

	resp, err := fx.svc.Search(ctx, fx.owner, boardID, "login", 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Fix login bug", resp.Results[0].Title)

	_, err = fx.svc.Search(ctx, fx.outsider, boardID, "login", 0)
	assert.Equal(t, http.StatusForbidden, statusOf(err))
}

func TestAuthenticate(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()

	token, err := fx.svc.IssueToken(ctx, "usr_member")
	require.NoError(t, err)
	session, err := fx.svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, Session{UserID: "usr_member", Username: "member"}, session)

	_, err = fx.svc.Authenticate(ctx, "garbage")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	_, err = fx.svc.IssueToken(ctx, "usr_missing")
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestCreateUser(t *testing.T) {
	fx := newFixture(t, Deps{})
	ctx := context.Background()

	user, err := fx.svc.CreateUser(ctx, CreateUserInput{Username: "dana", Email: " Dana@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", user.Email)

	_, err = fx.svc.CreateUser(ctx, CreateUserInput{Username: "dana2", Email: "dana@example.com"})
	assert.Equal(t, http.StatusConflict, statusOf(err))
	_, err = fx.svc.CreateUser(ctx, CreateUserInput{Username: "", Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestServerErrorsAreLogged(t *testing.T) {
	fx := newFixture(t, Deps{})
	fx.svc.logFailure(errors.New("disk on fire"), mutation{boardID: "brd_1", action: ActionCardMoved})
	fx.svc.logFailure(forbidden("Access denied"), mutation{boardID: "brd_1", action: ActionCardMoved})

	entries := fx.logs.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "brd_1", entries[0].Data["board_id"])
}
