// Package history keeps the two conversation memories the arbiter reads:
// a shared transcript per channel and a private exchange log per participant.
package history

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dotsetgreg/addressbot/pkg/logger"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Utterance is one line of a channel transcript.
type Utterance struct {
	Speaker       string
	Text          string
	Clarification bool
}

// UserTurn is one entry of a participant's private exchange with the bot.
type UserTurn struct {
	Role          Role
	Text          string
	Clarification bool
}

// Limits bound both sequences. When a sequence grows past Max it is replaced
// by its last Trim entries. Max <= 0 disables the bound.
type Limits struct {
	ChannelMax  int
	ChannelTrim int
	UserMax     int
	UserTrim    int
}

func DefaultLimits() Limits {
	return Limits{
		ChannelMax:  100,
		ChannelTrim: 20,
		UserMax:     200,
		UserTrim:    64,
	}
}

// Labels name the two roles when a user window is rendered.
type Labels struct {
	Participant string
	Assistant   string
}

// Store owns every channel and user sequence. Sequences are created on first
// reference and live as long as the Store.
type Store struct {
	limits   Limits
	labels   Labels
	channels *shardedMap[Utterance]
	users    *shardedMap[UserTurn]
}

func NewStore(limits Limits, labels Labels) *Store {
	if labels.Participant == "" {
		labels.Participant = "user"
	}
	if labels.Assistant == "" {
		labels.Assistant = "bot"
	}
	return &Store{
		limits:   limits,
		labels:   labels,
		channels: newShardedMap[Utterance](),
		users:    newShardedMap[UserTurn](),
	}
}

func (s *Store) AssistantLabel() string {
	return s.labels.Assistant
}

// RecordChannel appends an utterance to the channel transcript.
func (s *Store) RecordChannel(channelID, speaker, text string) {
	s.recordChannel(channelID, Utterance{Speaker: speaker, Text: text})
}

// RecordChannelClarification appends a bot-authored clarification question.
func (s *Store) RecordChannelClarification(channelID, text string) {
	s.recordChannel(channelID, Utterance{Speaker: s.labels.Assistant, Text: text, Clarification: true})
}

func (s *Store) recordChannel(channelID string, u Utterance) {
	seq := s.channels.getOrCreate(channelID)
	if n, compacted := seq.push(s.limits.ChannelMax, s.limits.ChannelTrim, u); compacted {
		logger.DebugCF("history", "Channel history compacted", map[string]any{
			"channel_id": channelID,
			"kept":       n,
		})
	}
}

// RecordUser appends a single turn to the participant's log.
func (s *Store) RecordUser(userID string, role Role, text string) {
	seq := s.users.getOrCreate(userID)
	seq.push(s.limits.UserMax, s.limits.UserTrim, UserTurn{Role: role, Text: text})
}

// RecordExchange appends a user turn and the bot turn that answered it as
// one unit, so concurrent writers never interleave inside the pair.
func (s *Store) RecordExchange(userID, userText, botText string, clarification bool) {
	seq := s.users.getOrCreate(userID)
	if n, compacted := seq.push(s.limits.UserMax, s.limits.UserTrim,
		UserTurn{Role: RoleUser, Text: userText},
		UserTurn{Role: RoleBot, Text: botText, Clarification: clarification},
	); compacted {
		logger.DebugCF("history", "User history compacted", map[string]any{
			"user_id": userID,
			"kept":    n,
		})
	}
}

// WindowChannel renders the last turns*2 channel entries as "speaker: text",
// oldest first.
func (s *Store) WindowChannel(channelID string, turns int) []string {
	seq, ok := s.channels.get(channelID)
	if !ok || turns <= 0 {
		return []string{}
	}
	recent := seq.tail(turns * 2)
	out := make([]string, len(recent))
	for i, u := range recent {
		out[i] = fmt.Sprintf("%s: %s", u.Speaker, u.Text)
	}
	return out
}

// WindowUser renders the last turns*2 entries of a participant's log with
// roles mapped to the configured labels.
func (s *Store) WindowUser(userID string, turns int) []string {
	seq, ok := s.users.get(userID)
	if !ok || turns <= 0 {
		return []string{}
	}
	recent := seq.tail(turns * 2)
	out := make([]string, len(recent))
	for i, t := range recent {
		label := s.labels.Participant
		if t.Role == RoleBot {
			label = s.labels.Assistant
		}
		out[i] = fmt.Sprintf("%s: %s", label, t.Text)
	}
	return out
}

// LastBotTurn returns the text of the most recent bot turn toward userID.
func (s *Store) LastBotTurn(userID string) string {
	t, ok := s.lastBotTurn(userID)
	if !ok {
		return ""
	}
	return t.Text
}

func (s *Store) lastBotTurn(userID string) (UserTurn, bool) {
	seq, ok := s.users.get(userID)
	if !ok {
		return UserTurn{}, false
	}
	return seq.findLast(func(t UserTurn) bool { return t.Role == RoleBot })
}

// AwaitingConfirmation reports whether a clarification question is the open
// question for this participant: either the bot's last turn toward them was
// one, or the newest bot line in the channel was one (someone else may be
// answering on the original asker's behalf).
func (s *Store) AwaitingConfirmation(userID, channelID string) bool {
	if t, ok := s.lastBotTurn(userID); ok && t.Clarification {
		return true
	}
	seq, ok := s.channels.get(channelID)
	if !ok {
		return false
	}
	assistant := s.labels.Assistant
	u, ok := seq.findLast(func(u Utterance) bool { return u.Speaker == assistant })
	return ok && u.Clarification
}

func (s *Store) ChannelEntries(channelID string) []Utterance {
	seq, ok := s.channels.get(channelID)
	if !ok {
		return []Utterance{}
	}
	return seq.tail(-1)
}

func (s *Store) UserEntries(userID string) []UserTurn {
	seq, ok := s.users.get(userID)
	if !ok {
		return []UserTurn{}
	}
	return seq.tail(-1)
}

func (s *Store) ChannelLen(channelID string) int {
	seq, ok := s.channels.get(channelID)
	if !ok {
		return 0
	}
	return seq.size()
}

func (s *Store) UserLen(userID string) int {
	seq, ok := s.users.get(userID)
	if !ok {
		return 0
	}
	return seq.size()
}

// Stats reports how many sequences of each kind exist.
func (s *Store) Stats() map[string]int {
	return map[string]int{
		"channels": s.channels.count(),
		"users":    s.users.count(),
	}
}

// sequence is one append-only, batch-compacted log.
type sequence[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *sequence[T]) push(limit, trim int, items ...T) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, items...)
	if limit <= 0 || len(q.items) <= limit {
		return len(q.items), false
	}
	if trim <= 0 || trim > limit {
		trim = limit
	}
	kept := make([]T, trim)
	copy(kept, q.items[len(q.items)-trim:])
	q.items = kept
	return len(q.items), true
}

// tail copies the last n items; n < 0 copies everything.
func (q *sequence[T]) tail(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n < 0 || n > len(q.items) {
		n = len(q.items)
	}
	out := make([]T, n)
	copy(out, q.items[len(q.items)-n:])
	return out
}

func (q *sequence[T]) findLast(match func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := len(q.items) - 1; i >= 0; i-- {
		if match(q.items[i]) {
			return q.items[i], true
		}
	}
	var zero T
	return zero, false
}

func (q *sequence[T]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

const shardCount = 32

type shard[T any] struct {
	mu   sync.RWMutex
	seqs map[string]*sequence[T]
}

// shardedMap spreads keys over independently locked shards so appends to
// different channels or users rarely touch the same lock.
type shardedMap[T any] struct {
	shards [shardCount]*shard[T]
}

func newShardedMap[T any]() *shardedMap[T] {
	m := &shardedMap[T]{}
	for i := range m.shards {
		m.shards[i] = &shard[T]{seqs: make(map[string]*sequence[T])}
	}
	return m
}

func (m *shardedMap[T]) shardFor(key string) *shard[T] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *shardedMap[T]) get(key string) (*sequence[T], bool) {
	sh := m.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	seq, ok := sh.seqs[key]
	return seq, ok
}

func (m *shardedMap[T]) getOrCreate(key string) *sequence[T] {
	if seq, ok := m.get(key); ok {
		return seq
	}
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if seq, ok := sh.seqs[key]; ok {
		return seq
	}
	seq := &sequence[T]{}
	sh.seqs[key] = seq
	return seq
}

func (m *shardedMap[T]) count() int {
	total := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		total += len(sh.seqs)
		sh.mu.RUnlock()
	}
	return total
}
