package board_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Tyrowin/gobulletin/internal/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, store *board.Store, name string) (*board.Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	sess := board.NewSession(name, "conn-"+name, "127.0.0.1:0", conn)
	_, err := store.Register(sess, "lobby", 2)
	require.NoError(t, err)
	return sess, conn
}

func TestStoreRegister(t *testing.T) {
	store := board.NewStore(defaultGroups)

	alice, _ := register(t, store, "alice")

	got, ok := store.Session("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)
	assert.Equal(t, []string{"lobby"}, store.SessionGroups(alice))

	members, err := store.Members("lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestStoreRegisterUsernameInUse(t *testing.T) {
	store := board.NewStore(defaultGroups)
	register(t, store, "bob")

	dup := board.NewSession("bob", "conn-2", "", newFakeConn())
	_, err := store.Register(dup, "lobby", 2)
	require.ErrorIs(t, err, board.ErrUsernameInUse)

	var protoErr *board.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "bob", protoErr.Detail)
	assert.Empty(t, store.SessionGroups(dup))

	members, err := store.Members("lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestStoreRegisterSnapshotsRecentMessages(t *testing.T) {
	store := board.NewStore(defaultGroups, board.WithClock(fixedClock))
	alice, _ := register(t, store, "alice")
	for i := 1; i <= 3; i++ {
		_, err := store.Post(alice, "lobby", fmt.Sprintf("s%d", i), "")
		require.NoError(t, err)
	}

	bob := board.NewSession("bob", "conn-bob", "", newFakeConn())
	welcome, err := store.Register(bob, "lobby", 2)
	require.NoError(t, err)

	assert.Equal(t, "lobby", welcome.Group)
	assert.Equal(t, []string{"alice", "bob"}, welcome.Members)
	require.Len(t, welcome.Recent, 2)
	assert.Equal(t, int64(2), welcome.Recent[0].ID)
	assert.Equal(t, int64(3), welcome.Recent[1].ID)
}

func TestStoreRegisterWithoutDefaultGroup(t *testing.T) {
	store := board.NewStore([]string{"games"})
	sess := board.NewSession("alice", "c", "", newFakeConn())

	welcome, err := store.Register(sess, "lobby", 2)
	require.NoError(t, err)
	assert.Empty(t, welcome.Group)
	assert.Empty(t, store.SessionGroups(sess))
}

func TestStoreDeregister(t *testing.T) {
	store := board.NewStore(defaultGroups)
	alice, _ := register(t, store, "alice")
	register(t, store, "bob")

	joined, err := store.Join(alice, "games")
	require.NoError(t, err)
	require.True(t, joined)

	left := store.Deregister(alice)
	assert.Equal(t, []string{"games", "lobby"}, left)

	_, ok := store.Session("alice")
	assert.False(t, ok)
	for _, group := range []string{"lobby", "games"} {
		members, err := store.Members(group)
		require.NoError(t, err)
		assert.NotContains(t, members, "alice", group)
	}
	assert.Empty(t, store.SessionGroups(alice))

	assert.Nil(t, store.Deregister(alice), "second deregister must be a no-op")
}

func TestStoreDeregisterIgnoresStaleSession(t *testing.T) {
	store := board.NewStore(defaultGroups)
	live, _ := register(t, store, "alice")

	stale := board.NewSession("alice", "old", "", newFakeConn())
	assert.Nil(t, store.Deregister(stale))

	got, ok := store.Session("alice")
	require.True(t, ok)
	assert.Same(t, live, got)
}

func TestStoreJoinLeaveSymmetry(t *testing.T) {
	store := board.NewStore(defaultGroups)
	alice, _ := register(t, store, "alice")

	joined, err := store.Join(alice, "cs")
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = store.Join(alice, "cs")
	require.NoError(t, err)
	assert.False(t, joined, "second join reports already a member")

	assert.Equal(t, []string{"cs", "lobby"}, store.SessionGroups(alice))
	members, err := store.Members("cs")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	require.NoError(t, store.Leave(alice, "cs"))
	assert.Equal(t, []string{"lobby"}, store.SessionGroups(alice))
	members, err = store.Members("cs")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.ErrorIs(t, store.Leave(alice, "cs"), board.ErrNotInGroup)
	_, err = store.Join(alice, "Lobby")
	require.ErrorIs(t, err, board.ErrUnknownGroup, "group names are case-sensitive")
}

func TestStoreGroupNamesSorted(t *testing.T) {
	store := board.NewStore([]string{"music", "lobby", "cs", "lobby"})
	assert.Equal(t, []string{"cs", "lobby", "music"}, store.GroupNames())
	assert.True(t, store.HasGroup("cs"))
	assert.False(t, store.HasGroup("CS"))
}

func TestStorePostRequiresMembership(t *testing.T) {
	store := board.NewStore(defaultGroups)
	alice, _ := register(t, store, "alice")

	_, err := store.Post(alice, "games", "hi", "there")
	require.ErrorIs(t, err, board.ErrNotInGroup)

	_, err = store.Post(alice, "nowhere", "hi", "there")
	require.ErrorIs(t, err, board.ErrUnknownGroup)

	assert.Equal(t, int64(0), store.Stats().LastMessageID)
}

func TestStoreMessageLookup(t *testing.T) {
	store := board.NewStore(defaultGroups, board.WithClock(fixedClock))
	alice, _ := register(t, store, "alice")
	_, err := store.Join(alice, "games")
	require.NoError(t, err)

	first, err := store.Post(alice, "lobby", "one", "body one")
	require.NoError(t, err)
	second, err := store.Post(alice, "games", "two", "body two")
	require.NoError(t, err)

	got, err := store.Message(alice, "lobby", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, fixedTime, got.CreatedAt)

	_, err = store.Message(alice, "lobby", second.ID)
	require.ErrorIs(t, err, board.ErrMessageNotFound, "ids belong to exactly one group")
}

func TestStoreMessageIDsGloballyIncreasing(t *testing.T) {
	store := board.NewStore(defaultGroups)

	const posters = 8
	const postsEach = 50

	sessions := make([]*board.Session, posters)
	for i := range sessions {
		sess, _ := register(t, store, fmt.Sprintf("user%d", i))
		for _, group := range defaultGroups {
			_, err := store.Join(sess, group)
			require.NoError(t, err)
		}
		sessions[i] = sess
	}

	var (
		mu  sync.Mutex
		ids = make(map[int64]bool)
		wg  sync.WaitGroup
	)
	wg.Add(posters)
	for i, sess := range sessions {
		go func(i int, sess *board.Session) {
			defer wg.Done()
			for j := 0; j < postsEach; j++ {
				group := defaultGroups[(i+j)%len(defaultGroups)]
				msg, err := store.Post(sess, group, "subject", "body")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, ids[msg.ID], "duplicate id %d", msg.ID)
				ids[msg.ID] = true
				mu.Unlock()
			}
		}(i, sess)
	}
	wg.Wait()

	require.Len(t, ids, posters*postsEach)
	assert.Equal(t, int64(posters*postsEach), store.Stats().LastMessageID)

	for _, group := range defaultGroups {
		msgs, err := store.History(sessions[0], group, posters*postsEach)
		require.NoError(t, err)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].ID, msgs[i-1].ID, "append order must match id order in %s", group)
		}
	}
}

func TestStoreHistory(t *testing.T) {
	store := board.NewStore(defaultGroups)
	alice, _ := register(t, store, "alice")
	for i := 1; i <= 5; i++ {
		_, err := store.Post(alice, "lobby", fmt.Sprintf("s%d", i), "")
		require.NoError(t, err)
	}

	tests := []struct {
		name string
		n    int
		want []int64
	}{
		{name: "last three", n: 3, want: []int64{3, 4, 5}},
		{name: "exactly all", n: 5, want: []int64{1, 2, 3, 4, 5}},
		{name: "more than available", n: 100, want: []int64{1, 2, 3, 4, 5}},
		{name: "one", n: 1, want: []int64{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := store.History(alice, "lobby", tt.n)
			require.NoError(t, err)
			got := make([]int64, 0, len(msgs))
			for _, m := range msgs {
				got = append(got, m.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreRecipients(t *testing.T) {
	store := board.NewStore(defaultGroups)
	alice, _ := register(t, store, "alice")
	bob, _ := register(t, store, "bob")

	recipients, ok := store.Recipients("lobby", "alice")
	require.True(t, ok)
	assert.Equal(t, []*board.Session{bob}, recipients)

	recipients, ok = store.Recipients("lobby", "")
	require.True(t, ok)
	assert.Equal(t, []*board.Session{alice, bob}, recipients)

	recipients, ok = store.Recipients("games", "")
	require.True(t, ok)
	assert.Empty(t, recipients)

	_, ok = store.Recipients("missing", "")
	assert.False(t, ok)
}

func TestStoreStats(t *testing.T) {
	store := board.NewStore([]string{"lobby", "games"})
	alice, _ := register(t, store, "alice")
	_, err := store.Post(alice, "lobby", "s", "b")
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, int64(1), stats.LastMessageID)
	assert.Equal(t, []board.GroupStats{
		{Name: "games", Members: 0, Messages: 0},
		{Name: "lobby", Members: 1, Messages: 1},
	}, stats.Groups)
}
