package board

import (
	"cmp"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Store owns every piece of mutable shared state: the live sessions by
// username, the groups by name and the global message id counter.
//
// A single mutex guards all of it. Every exported method is one atomic,
// invariant-preserving operation and never performs network I/O while the
// lock is held.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	groups   map[string]*Group
	lastID   int64
	clock    func() time.Time
}

// StoreOption customizes a Store at construction time.
type StoreOption func(*Store)

// WithClock replaces the clock used to stamp new messages.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates a store with the given groups pre-created. Groups are
// never created or removed afterwards. Duplicate names are collapsed.
func NewStore(groupNames []string, opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		groups:   make(map[string]*Group, len(groupNames)),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, name := range lo.Uniq(groupNames) {
		s.groups[name] = newGroup(name)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Welcome is the snapshot taken while registering a session: the default
// group it was added to, that group's most recent messages and its members.
type Welcome struct {
	Group   string
	Recent  []Message
	Members []string
}

// Register makes sess visible under its username, adds it to defaultGroup
// (when that group exists) and snapshots the group's last recent messages
// and member list, all in one locked section.
func (s *Store) Register(sess *Session, defaultGroup string, recent int) (Welcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.sessions[sess.Username]; taken {
		return Welcome{}, newError(CodeUsernameInUse, sess.Username)
	}
	s.sessions[sess.Username] = sess

	g, ok := s.groups[defaultGroup]
	if !ok {
		return Welcome{}, nil
	}
	s.addMember(g, sess)

	return Welcome{
		Group:   g.Name,
		Recent:  lastMessages(g, recent),
		Members: sortedMembers(g),
	}, nil
}

// Deregister removes sess and every membership it holds. It returns the
// sorted names of the groups the session was removed from. Calling it for a
// session that is not registered returns nil.
func (s *Store) Deregister(sess *Session) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.sessions[sess.Username]; !ok || current != sess {
		return nil
	}
	delete(s.sessions, sess.Username)

	left := lo.Keys(sess.groups)
	for _, name := range left {
		if g, ok := s.groups[name]; ok {
			s.removeMember(g, sess)
		}
	}
	slices.Sort(left)
	return left
}

// Session returns the live session registered under username.
func (s *Store) Session(username string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[username]
	return sess, ok
}

// HasGroup reports whether a group with that exact name was pre-created.
func (s *Store) HasGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.groups[name]
	return ok
}

// GroupNames returns every group name in lexicographic order.
func (s *Store) GroupNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := lo.Keys(s.groups)
	slices.Sort(names)
	return names
}

// SessionGroups returns the sorted names of the groups sess belongs to.
func (s *Store) SessionGroups(sess *Session) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := lo.Keys(sess.groups)
	slices.Sort(names)
	return names
}

// Join adds sess to the group. It reports false without error when the
// session already was a member.
func (s *Store) Join(sess *Session, group string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.group(group)
	if err != nil {
		return false, err
	}
	if isMember(g, sess) {
		return false, nil
	}
	s.addMember(g, sess)
	return true, nil
}

// Leave removes sess from the group.
func (s *Store) Leave(sess *Session, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.group(group)
	if err != nil {
		return err
	}
	if !isMember(g, sess) {
		return newError(CodeNotInGroup, group)
	}
	s.removeMember(g, sess)
	return nil
}

// Members returns the sorted member usernames of the group. Membership is
// not required to ask.
func (s *Store) Members(group string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	return sortedMembers(g), nil
}

// Post appends a new message from sess to the group. The id allocation and
// the append happen in the same locked section, so concurrent posts never
// interleave.
func (s *Store) Post(sess *Session, group, subject, body string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.memberGroup(sess, group)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        s.allocateMessageID(),
		Sender:    sess.Username,
		Subject:   subject,
		Body:      body,
		CreatedAt: s.clock(),
	}
	g.messages = append(g.messages, msg)
	return msg, nil
}

// Message returns the message with the given id from the group.
func (s *Store) Message(sess *Session, group string, id int64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.memberGroup(sess, group)
	if err != nil {
		return Message{}, err
	}

	// Messages are appended in id order.
	i := sort.Search(len(g.messages), func(i int) bool {
		return g.messages[i].ID >= id
	})
	if i == len(g.messages) || g.messages[i].ID != id {
		return Message{}, newError(CodeMessageNotFound, group+":"+strconv.FormatInt(id, 10))
	}
	return g.messages[i], nil
}

// History returns up to the n most recent messages of the group in
// ascending id order.
func (s *Store) History(sess *Session, group string, n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.memberGroup(sess, group)
	if err != nil {
		return nil, err
	}
	return lastMessages(g, n), nil
}

// Recipients resolves the group's members to live sessions, skipping
// exclude and any member without a live session. It reports false when the
// group does not exist.
func (s *Store) Recipients(group, exclude string) ([]*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return nil, false
	}
	return lo.FilterMap(sortedMembers(g), func(username string, _ int) (*Session, bool) {
		if username == exclude {
			return nil, false
		}
		sess, live := s.sessions[username]
		return sess, live
	}), true
}

// GroupStats summarizes one group.
type GroupStats struct {
	Name     string `json:"name"`
	Members  int    `json:"members"`
	Messages int    `json:"messages"`
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Sessions      int          `json:"sessions"`
	LastMessageID int64        `json:"last_message_id"`
	Groups        []GroupStats `json:"groups"`
}

// Stats returns a consistent snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := lo.MapToSlice(s.groups, func(name string, g *Group) GroupStats {
		return GroupStats{Name: name, Members: len(g.members), Messages: len(g.messages)}
	})
	slices.SortFunc(groups, func(a, b GroupStats) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return Stats{
		Sessions:      len(s.sessions),
		LastMessageID: s.lastID,
		Groups:        groups,
	}
}

// The helpers below must only be called with s.mu held.

func (s *Store) group(name string) (*Group, error) {
	g, ok := s.groups[name]
	if !ok {
		return nil, newError(CodeUnknownGroup, name)
	}
	return g, nil
}

func (s *Store) memberGroup(sess *Session, name string) (*Group, error) {
	g, err := s.group(name)
	if err != nil {
		return nil, err
	}
	if !isMember(g, sess) {
		return nil, newError(CodeNotInGroup, name)
	}
	return g, nil
}

func (s *Store) allocateMessageID() int64 {
	s.lastID++
	return s.lastID
}

func (s *Store) addMember(g *Group, sess *Session) {
	g.members[sess.Username] = struct{}{}
	sess.groups[g.Name] = struct{}{}
}

func (s *Store) removeMember(g *Group, sess *Session) {
	delete(g.members, sess.Username)
	delete(sess.groups, g.Name)
}

func isMember(g *Group, sess *Session) bool {
	_, ok := g.members[sess.Username]
	return ok
}

func sortedMembers(g *Group) []string {
	members := lo.Keys(g.members)
	slices.Sort(members)
	return members
}

func lastMessages(g *Group, n int) []Message {
	if n <= 0 {
		return nil
	}
	start := max(len(g.messages)-n, 0)
	return slices.Clone(g.messages[start:])
}
