package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/samthomson/universed-sub001/internal/community"
	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/shardqueue"
	"github.com/samthomson/universed-sub001/internal/source"
	"github.com/samthomson/universed-sub001/internal/store"
)

// ErrChannelNotOpen is returned for operations on a channel that has not
// been opened (or was closed).
var ErrChannelNotOpen = errors.New("stream: channel not open")

// State is a channel stream's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Config tunes the manager.
type Config struct {
	// ReconcileWindow bounds how far apart an optimistic message and its
	// authoritative echo may be timestamped and still match.
	ReconcileWindow time.Duration
	// OptimisticTimeout is how long a pending send waits for its echo before
	// being marked unconfirmed.
	OptimisticTimeout time.Duration
	// HistoryLimit caps the historical fetch per channel.
	HistoryLimit int
	// DefaultChannel is the channel that accepts events without a channel tag.
	DefaultChannel string
}

func (c *Config) applyDefaults() {
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = 30 * time.Second
	}
	if c.OptimisticTimeout <= 0 {
		c.OptimisticTimeout = 10 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
	if c.DefaultChannel == "" {
		c.DefaultChannel = protocol.DefaultChannelID
	}
}

// channelStream is one open channel. Its msgs slice and state are mutated
// only by jobs running on the channel's shard (single-writer discipline);
// the manager mutex makes those mutations visible to concurrent readers.
type channelStream struct {
	key         string
	communityID string
	channelID   string

	state     State
	msgs      []Message
	matched   map[string]struct{} // authoritative IDs consumed by reconciliation
	cancelSub func()
}

// Manager owns every open channel stream.
type Manager struct {
	store       *store.Store
	src         source.Source
	exec        *shardqueue.ShardExecutor
	communities *community.Resolver
	log         zerolog.Logger
	clock       func() time.Time
	cfg         Config

	mu       sync.RWMutex
	channels map[string]*channelStream
	visible  bool
}

// NewManager constructs a Manager. clock is injectable for tests; nil means
// time.Now.
func NewManager(st *store.Store, src source.Source, exec *shardqueue.ShardExecutor, communities *community.Resolver, log zerolog.Logger, cfg Config, clock func() time.Time) *Manager {
	cfg.applyDefaults()
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store:       st,
		src:         src,
		exec:        exec,
		communities: communities,
		log:         log,
		clock:       clock,
		cfg:         cfg,
		channels:    make(map[string]*channelStream),
		visible:     true,
	}
}

func channelKey(communityID, channelID string) string {
	return communityID + "\x00" + channelID
}

// Open loads a channel's history and, when the view is visible, attaches its
// live subscription. Idempotent: opening an already-open channel is a no-op.
// A failing historical query degrades to whatever the event store already
// has rather than failing the open.
func (m *Manager) Open(ctx context.Context, communityID, channelID string) error {
	key := channelKey(communityID, channelID)

	m.mu.Lock()
	if _, exists := m.channels[key]; exists {
		m.mu.Unlock()
		return nil
	}
	cs := &channelStream{
		key:         key,
		communityID: communityID,
		channelID:   channelID,
		state:       StateLoading,
		matched:     make(map[string]struct{}),
	}
	m.channels[key] = cs
	visible := m.visible
	m.mu.Unlock()

	history := m.fetchHistory(ctx, cs)

	// Install the historical list on the channel's shard so it serializes
	// with any concurrent sends. Merging (not plain insertion) lets a
	// history-delivered echo reconcile a pending optimistic send.
	err := m.exec.Submit(ctx, key, shardqueue.JobFunc(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, me := range history {
			m.mergeLocked(cs, me)
		}
		if visible {
			cs.state = StateLive
		} else {
			cs.state = StateSuspended
		}
		return nil
	}))
	if err != nil {
		m.mu.Lock()
		delete(m.channels, key)
		m.mu.Unlock()
		return err
	}

	if visible {
		m.attachSubscription(cs)
	}
	return nil
}

// Close cancels the channel's subscription and forgets its state.
func (m *Manager) Close(communityID, channelID string) {
	m.mu.Lock()
	cs, ok := m.channels[channelKey(communityID, channelID)]
	if ok {
		delete(m.channels, cs.key)
	}
	m.mu.Unlock()
	if ok && cs.cancelSub != nil {
		cs.cancelSub()
	}
}

// CloseAll tears down every open channel. Used on engine shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := make([]*channelStream, 0, len(m.channels))
	for _, cs := range m.channels {
		channels = append(channels, cs)
	}
	m.channels = make(map[string]*channelStream)
	m.mu.Unlock()
	for _, cs := range channels {
		if cs.cancelSub != nil {
			cs.cancelSub()
		}
	}
}

// Messages returns a copy of the channel's current ordered list.
func (m *Manager) Messages(communityID, channelID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.channels[channelKey(communityID, channelID)]
	if !ok {
		return nil
	}
	out := make([]Message, len(cs.msgs))
	copy(out, cs.msgs)
	return out
}

// ChannelState reports the stream state for a channel; StateIdle when not
// open.
func (m *Manager) ChannelState(communityID, channelID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.channels[channelKey(communityID, channelID)]
	if !ok {
		return StateIdle
	}
	return cs.state
}

// SendOptimistic appends a provisional message so the UI shows it without
// waiting on the network, and arms the confirmation timeout. It returns the
// message's LocalID.
func (m *Manager) SendOptimistic(ctx context.Context, communityID, channelID, authorKey, content string) (string, error) {
	key := channelKey(communityID, channelID)
	m.mu.RLock()
	cs, ok := m.channels[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrChannelNotOpen
	}

	localID := uuid.NewString()
	now := m.clock()
	msg := Message{
		LocalID:         localID,
		AuthorKey:       authorKey,
		CommunityID:     communityID,
		ChannelID:       channelID,
		Content:         content,
		CreatedAt:       nostr.Timestamp(now.Unix()),
		IsOptimistic:    true,
		SendState:       SendPending,
		FirstObservedAt: now,
	}
	err := m.exec.Submit(ctx, key, shardqueue.JobFunc(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		cs.msgs = append(cs.msgs, msg)
		sortMessages(cs.msgs)
		return nil
	}))
	if err != nil {
		return "", err
	}

	time.AfterFunc(m.cfg.OptimisticTimeout, func() {
		_ = m.exec.Submit(context.Background(), key, shardqueue.JobFunc(func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i := range cs.msgs {
				if cs.msgs[i].LocalID == localID && cs.msgs[i].SendState == SendPending {
					cs.msgs[i].SendState = SendUnconfirmed
					optimisticUnconfirmedTotal.Inc()
					m.log.Debug().Str("local_id", localID).Msg("optimistic message unconfirmed")
					break
				}
			}
			return nil
		}))
	})
	return localID, nil
}

// Flush blocks until all previously submitted mutations for the channel
// have run, by pushing a barrier job through its shard.
func (m *Manager) Flush(ctx context.Context, communityID, channelID string) error {
	return m.exec.Barrier(ctx, channelKey(communityID, channelID))
}

// Suspend tears down every live subscription while keeping channel state, for
// when the view is hidden: no bandwidth is spent on content not being
// viewed.
func (m *Manager) Suspend() {
	m.mu.Lock()
	m.visible = false
	var cancels []func()
	for _, cs := range m.channels {
		if cs.state == StateLive {
			cs.state = StateSuspended
			if cs.cancelSub != nil {
				cancels = append(cancels, cs.cancelSub)
				cs.cancelSub = nil
			}
		}
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Resume re-fetches missed history and re-attaches live subscriptions for
// every suspended channel.
func (m *Manager) Resume(ctx context.Context) {
	m.mu.Lock()
	m.visible = true
	var resumed []*channelStream
	for _, cs := range m.channels {
		if cs.state == StateSuspended {
			resumed = append(resumed, cs)
		}
	}
	m.mu.Unlock()

	for _, cs := range resumed {
		history := m.fetchHistory(ctx, cs)
		_ = m.exec.Submit(ctx, cs.key, shardqueue.JobFunc(func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			// Catch-up runs through the reconciling merge: an echo that
			// arrived while suspended must still confirm its pending send
			// instead of duplicating it.
			for _, me := range history {
				m.mergeLocked(cs, me)
			}
			cs.state = StateLive
			return nil
		}))
		m.attachSubscription(cs)
	}
}

// ---------------------------------------------------------------
// fetch / subscribe / merge
// ---------------------------------------------------------------

// fetchHistory queries the source, admits valid events into the store, and
// returns the channel's validated message events for merging. On query
// failure it falls back to the store's cached events (fail soft).
func (m *Manager) fetchHistory(ctx context.Context, cs *channelStream) []*protocol.MessageEvent {
	filters := nostr.Filters{m.historyFilter(cs)}
	events, err := m.src.Query(ctx, filters)
	if err != nil {
		m.log.Warn().Err(err).Str("channel", cs.channelID).Msg("historical fetch failed, serving cached events")
	}
	for _, ev := range events {
		if protocol.Valid(ev) {
			m.store.Admit(ev)
		} else {
			messagesDroppedTotal.WithLabelValues("malformed").Inc()
		}
	}

	// Derive from the store rather than the raw response so cached events
	// survive a failed fetch and duplicates collapse.
	var out []*protocol.MessageEvent
	for _, ev := range m.store.ByKindAndTag(protocol.KindChannelMessage, "a", cs.communityID) {
		me, ok := m.accept(cs, ev)
		if !ok {
			continue
		}
		out = append(out, me)
	}
	return out
}

func (m *Manager) historyFilter(cs *channelStream) nostr.Filter {
	tags := nostr.TagMap{"a": []string{cs.communityID}}
	// The default channel cannot be filtered relay-side by tag because its
	// messages may omit the channel tag entirely.
	if cs.channelID != m.cfg.DefaultChannel {
		tags["t"] = []string{cs.channelID}
	}
	return nostr.Filter{
		Kinds: []int{protocol.KindChannelMessage},
		Tags:  tags,
		Limit: m.cfg.HistoryLimit,
	}
}

// attachSubscription opens the live subscription with since=now, so nothing
// the historical fetch returned is re-delivered, and pumps every event
// through validation onto the channel's shard.
func (m *Manager) attachSubscription(cs *channelStream) {
	since := nostr.Now()
	filter := m.historyFilter(cs)
	filter.Since = &since
	filter.Limit = 0

	subCtx, cancel := context.WithCancel(context.Background())
	ch, cancelSub, err := m.src.Subscribe(subCtx, nostr.Filters{filter})
	if err != nil {
		cancel()
		m.log.Warn().Err(err).Str("channel", cs.channelID).Msg("live subscription failed")
		return
	}

	m.mu.Lock()
	cs.cancelSub = func() {
		cancelSub()
		cancel()
	}
	m.mu.Unlock()

	go func() {
		for ev := range ch {
			m.deliver(cs, ev)
		}
	}()
}

// deliver validates one live event and merges it on the channel's shard.
func (m *Manager) deliver(cs *channelStream, ev *nostr.Event) {
	if ev == nil {
		return
	}
	if !protocol.Valid(ev) {
		messagesDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	m.store.Admit(ev)
	me, ok := m.accept(cs, ev)
	if !ok {
		return
	}
	err := m.exec.Submit(context.Background(), cs.key, shardqueue.JobFunc(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.mergeLocked(cs, me)
		return nil
	}))
	if err != nil {
		// The event is safe in the store; only this channel's live view
		// missed it, and the next history merge recovers it.
		messagesDroppedTotal.WithLabelValues("backpressure").Inc()
		m.log.Warn().Err(err).Str("channel", cs.channelID).Str("event", me.ID).Msg("live event dropped, channel queue full")
	}
}

// accept applies the channel message validator: correct kind and community,
// exact channel tag for non-default channels, untagged events only into the
// default channel, replies excluded from the main feed, and takedowns
// honoured.
func (m *Manager) accept(cs *channelStream, ev *nostr.Event) (*protocol.MessageEvent, bool) {
	me, ok := protocol.ParseMessage(ev)
	if !ok {
		messagesDroppedTotal.WithLabelValues("malformed").Inc()
		return nil, false
	}
	if me.CommunityID != cs.communityID {
		messagesDroppedTotal.WithLabelValues("wrong_community").Inc()
		return nil, false
	}
	if me.IsReply {
		// Replies render in the thread view, not the main feed.
		messagesDroppedTotal.WithLabelValues("reply").Inc()
		return nil, false
	}
	if me.ChannelID == "" {
		if cs.channelID != m.cfg.DefaultChannel {
			messagesDroppedTotal.WithLabelValues("wrong_channel").Inc()
			return nil, false
		}
	} else if me.ChannelID != cs.channelID {
		// Relay-side filters are not trustworthy; re-check the exact tag.
		messagesDroppedTotal.WithLabelValues("wrong_channel").Inc()
		return nil, false
	}
	if m.takenDown(ev) {
		messagesDroppedTotal.WithLabelValues("deleted").Inc()
		return nil, false
	}
	return me, true
}

// takenDown reports whether ev was deleted by its author or by someone with
// moderation capability in the community.
func (m *Manager) takenDown(ev *nostr.Event) bool {
	dels := m.store.ByKindAndTag(protocol.KindDeletion, "e", ev.ID)
	if len(dels) == 0 {
		return false
	}
	addr := protocol.FirstTag(ev, "a")
	c, _ := m.communities.Resolve(addr)
	for _, del := range dels {
		if del.PubKey == ev.PubKey {
			return true
		}
		if c != nil && (del.PubKey == c.CreatorKey || c.IsModerator(del.PubKey)) {
			return true
		}
	}
	return false
}

// mergeLocked merges one validated authoritative message into the list,
// reconciling against a pending optimistic send when one matches. Caller
// holds m.mu and runs on the channel's shard.
func (m *Manager) mergeLocked(cs *channelStream, me *protocol.MessageEvent) {
	if _, used := cs.matched[me.ID]; used {
		return
	}
	for i := range cs.msgs {
		if cs.msgs[i].ID == me.ID {
			return // duplicate delivery
		}
	}

	if idx, ok := m.reconcileTarget(cs, me); ok {
		msg := &cs.msgs[idx]
		msg.ID = me.ID
		msg.CreatedAt = me.CreatedAt
		msg.IsOptimistic = false
		msg.SendState = SendConfirmed
		// FirstObservedAt and LocalID survive so animations stay stable.
		cs.matched[me.ID] = struct{}{}
		sortMessages(cs.msgs)
		optimisticReconciledTotal.Inc()
		return
	}

	cs.insertLocked(Message{
		ID:              me.ID,
		AuthorKey:       me.AuthorKey,
		CommunityID:     cs.communityID,
		ChannelID:       cs.channelID,
		Content:         me.Content,
		CreatedAt:       me.CreatedAt,
		FirstObservedAt: m.clock(),
	})
	sortMessages(cs.msgs)
}

// reconcileTarget finds the oldest optimistic message matching the incoming
// event on author, content, and the bounded timestamp window. Matching an
// unconfirmed message is allowed: a late echo still confirms it.
func (m *Manager) reconcileTarget(cs *channelStream, me *protocol.MessageEvent) (int, bool) {
	window := nostr.Timestamp(m.cfg.ReconcileWindow / time.Second)
	for i := range cs.msgs {
		msg := &cs.msgs[i]
		if !msg.IsOptimistic || msg.SendState == SendConfirmed {
			continue
		}
		if msg.AuthorKey != me.AuthorKey || msg.Content != me.Content {
			continue
		}
		delta := me.CreatedAt - msg.CreatedAt
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			return i, true
		}
	}
	return 0, false
}

// insertLocked appends msg unless its authoritative ID is already present.
// Caller holds m.mu.
func (cs *channelStream) insertLocked(msg Message) {
	if msg.ID != "" {
		for i := range cs.msgs {
			if cs.msgs[i].ID == msg.ID {
				return
			}
		}
		if _, used := cs.matched[msg.ID]; used {
			return
		}
	}
	cs.msgs = append(cs.msgs, msg)
	messagesMergedTotal.Inc()
}
