package sqlite

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSchemaSeedsGeneralRoom(t *testing.T) {
	s := newTestStore(t)

	room, err := s.GetRoomByID(context.Background(), GeneralRoomID)
	if err != nil {
		t.Fatalf("General room missing: %v", err)
	}
	if room.Name != "General" || room.OwnerID != nil {
		t.Fatalf("unexpected General room: %+v", room)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ID != created.ID || got.Username != "alice" || got.IsGuest {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGuestUserExcludedFromUsernameLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	guest, err := s.CreateGuestUser(ctx, "0123456789abcdef")
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	if !guest.IsGuest || guest.Username != "guest_01234567" {
		t.Fatalf("unexpected guest: %+v", guest)
	}

	if _, err := s.GetUserByUsername(ctx, guest.Username); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("guest must not resolve by username, got %v", err)
	}
}

func TestCreateRoomAddsOwnerMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	room, err := s.CreateRoom(ctx, "backend", owner.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.OwnerID == nil || *room.OwnerID != owner.ID {
		t.Fatalf("unexpected owner: %+v", room)
	}

	member, err := s.IsMember(ctx, owner.ID, room.ID)
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Fatal("owner must be a member of the created room")
	}
}

func TestMembershipLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.CreateUser(ctx, "alice", "hash")
	bob, _ := s.CreateUser(ctx, "bob", "hash")
	room, err := s.CreateRoom(ctx, "backend", alice.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if member, _ := s.IsMember(ctx, bob.ID, room.ID); member {
		t.Fatal("bob should not be a member yet")
	}

	if err := s.AddMember(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// Adding twice is a no-op.
	if err := s.AddMember(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("re-add member: %v", err)
	}
	if member, _ := s.IsMember(ctx, bob.ID, room.ID); !member {
		t.Fatal("bob should be a member")
	}

	if err := s.RemoveMember(ctx, bob.ID, room.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if member, _ := s.IsMember(ctx, bob.ID, room.ID); member {
		t.Fatal("bob should no longer be a member")
	}
}

func TestListRoomsIncludesGeneralAndMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.CreateUser(ctx, "alice", "hash")
	bob, _ := s.CreateUser(ctx, "bob", "hash")

	if _, err := s.CreateRoom(ctx, "alice-room", alice.ID); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := s.CreateRoom(ctx, "bob-room", bob.ID); err != nil {
		t.Fatalf("create room: %v", err)
	}

	rooms, err := s.ListRooms(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}

	var names []string
	for _, r := range rooms {
		names = append(names, r.Name)
	}
	if len(names) != 2 || names[0] != "General" || names[1] != "alice-room" {
		t.Fatalf("unexpected rooms for alice: %v", names)
	}
}

func TestRecentMessagesNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.CreateUser(ctx, "alice", "hash")
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		msg := &store.Message{
			RoomID:    GeneralRoomID,
			UserID:    alice.ID,
			Username:  alice.Username,
			Text:      "m" + strconv.Itoa(i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
		if msg.ID == 0 {
			t.Fatal("SaveMessage must backfill the id")
		}
	}

	got, err := s.RecentMessages(ctx, GeneralRoomID, 3)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Text != "m9" || got[1].Text != "m8" || got[2].Text != "m7" {
		t.Fatalf("unexpected order: %q %q %q", got[0].Text, got[1].Text, got[2].Text)
	}
	if got[0].Username != "alice" || got[0].RoomID != GeneralRoomID {
		t.Fatalf("unexpected message fields: %+v", got[0])
	}
}

func TestRecentMessagesEmptyRoom(t *testing.T) {
	s := newTestStore(t)

	got, err := s.RecentMessages(context.Background(), GeneralRoomID, 100)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
}
