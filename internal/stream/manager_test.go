package stream

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samthomson/universed-sub001/internal/community"
	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/shardqueue"
	"github.com/samthomson/universed-sub001/internal/source"
	"github.com/samthomson/universed-sub001/internal/store"
)

const pizzaID = "34550:alice:pizza"

type harness struct {
	store *store.Store
	src   *source.StaticSource
	exec  *shardqueue.ShardExecutor
	mgr   *Manager
}

func newHarness(t *testing.T, cfg Config, seed ...*nostr.Event) *harness {
	t.Helper()
	st := store.New()
	src := source.NewStaticSource(seed...)
	exec := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2, QueueSize: 64})
	t.Cleanup(exec.Stop)
	mgr := NewManager(st, src, exec, community.NewResolver(st), zerolog.Nop(), cfg, nil)
	t.Cleanup(mgr.CloseAll)
	return &harness{store: st, src: src, exec: exec, mgr: mgr}
}

func msgEvent(id, author, content string, ts nostr.Timestamp, channel string) *nostr.Event {
	tags := nostr.Tags{{"a", pizzaID}}
	if channel != "" {
		tags = append(tags, nostr.Tag{"t", channel})
	}
	return &nostr.Event{
		ID: id, PubKey: author, Kind: protocol.KindChannelMessage,
		CreatedAt: ts, Tags: tags, Content: content,
	}
}

// eventually polls cond until it holds or the deadline passes. Live delivery
// runs through a subscription goroutine plus a shard job, so assertions on it
// cannot be immediate.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOpen_LoadsHistoryInOrder(t *testing.T) {
	h := newHarness(t, Config{},
		msgEvent("m2", "bob", "second", 200, ""),
		msgEvent("m1", "alice", "first", 100, ""),
		msgEvent("m3", "carol", "third", 300, "general"),
	)

	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	msgs := h.mgr.Messages(pizzaID, "general")
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.Equal(t, StateLive, h.mgr.ChannelState(pizzaID, "general"))
}

func TestOpen_IsIdempotent(t *testing.T) {
	h := newHarness(t, Config{}, msgEvent("m1", "alice", "hi", 100, ""))

	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	assert.Len(t, h.mgr.Messages(pizzaID, "general"), 1)
}

func TestChannelIsolation(t *testing.T) {
	h := newHarness(t, Config{},
		msgEvent("m1", "alice", "untagged", 100, ""),
		msgEvent("m2", "bob", "tagged general", 200, "general"),
		msgEvent("m3", "carol", "for sale", 300, "marketplace"),
	)

	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "marketplace"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "marketplace"))

	general := h.mgr.Messages(pizzaID, "general")
	require.Len(t, general, 2)
	// Untagged messages land in the default channel only.
	assert.Equal(t, "untagged", general[0].Content)
	assert.Equal(t, "tagged general", general[1].Content)

	market := h.mgr.Messages(pizzaID, "marketplace")
	require.Len(t, market, 1)
	assert.Equal(t, "for sale", market[0].Content)
}

func TestOpen_ExcludesRepliesAndOtherCommunities(t *testing.T) {
	reply := msgEvent("m2", "bob", "a reply", 200, "")
	reply.Tags = append(reply.Tags, nostr.Tag{"e", "m1"})
	other := &nostr.Event{
		ID: "m3", PubKey: "carol", Kind: protocol.KindChannelMessage, CreatedAt: 300,
		Tags: nostr.Tags{{"a", "34550:dave:other"}}, Content: "elsewhere",
	}
	h := newHarness(t, Config{}, msgEvent("m1", "alice", "root", 100, ""), reply, other)

	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	msgs := h.mgr.Messages(pizzaID, "general")
	require.Len(t, msgs, 1)
	assert.Equal(t, "root", msgs[0].Content)
}

func TestOpen_HonoursAuthorDeletion(t *testing.T) {
	h := newHarness(t, Config{},
		msgEvent("m1", "alice", "oops", 100, ""),
		msgEvent("m2", "bob", "stays", 150, ""),
	)
	h.store.Admit(&nostr.Event{
		ID: "del", PubKey: "alice", Kind: protocol.KindDeletion, CreatedAt: 200,
		Tags: nostr.Tags{{"e", "m1"}},
	})

	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	msgs := h.mgr.Messages(pizzaID, "general")
	require.Len(t, msgs, 1)
	assert.Equal(t, "stays", msgs[0].Content)
}

func TestLiveDelivery(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	h.src.Publish(msgEvent("live1", "bob", "hello", nostr.Now(), "general"))

	eventually(t, func() bool {
		return len(h.mgr.Messages(pizzaID, "general")) == 1
	}, "live event never merged")
	assert.Equal(t, "hello", h.mgr.Messages(pizzaID, "general")[0].Content)
}

func TestLiveDelivery_UntaggedGoesToDefaultChannel(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	h.src.Publish(msgEvent("wrong", "bob", "misdelivered", nostr.Now(), ""))
	h.src.Publish(msgEvent("right", "bob", "on topic", nostr.Now(), "general"))

	eventually(t, func() bool {
		return len(h.mgr.Messages(pizzaID, "general")) >= 1
	}, "tagged live event never merged")

	// The untagged event matched the default channel; both belong in general.
	eventually(t, func() bool {
		return len(h.mgr.Messages(pizzaID, "general")) == 2
	}, "untagged event not delivered to default channel")
}

func TestSendOptimistic_ReconcilesWithEcho(t *testing.T) {
	h := newHarness(t, Config{OptimisticTimeout: time.Minute})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	localID, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "ship it")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	msgs := h.mgr.Messages(pizzaID, "general")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsOptimistic)
	assert.Equal(t, SendPending, msgs[0].SendState)
	firstObserved := msgs[0].FirstObservedAt

	h.src.Publish(msgEvent("echo", "me", "ship it", nostr.Now(), "general"))

	eventually(t, func() bool {
		m := h.mgr.Messages(pizzaID, "general")
		return len(m) == 1 && m[0].SendState == SendConfirmed
	}, "echo never reconciled")

	m := h.mgr.Messages(pizzaID, "general")[0]
	assert.Equal(t, "echo", m.ID)
	assert.Equal(t, localID, m.LocalID)
	assert.False(t, m.IsOptimistic)
	assert.Equal(t, firstObserved, m.FirstObservedAt)
}

func TestSendOptimistic_MatchesAtMostOnce(t *testing.T) {
	h := newHarness(t, Config{OptimisticTimeout: time.Minute})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	_, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "gm")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	// Two distinct authoritative events with identical author and content:
	// one confirms the pending send, the other is a genuinely separate message.
	h.src.Publish(msgEvent("echo1", "me", "gm", nostr.Now(), "general"))
	h.src.Publish(msgEvent("echo2", "me", "gm", nostr.Now(), "general"))

	eventually(t, func() bool {
		return len(h.mgr.Messages(pizzaID, "general")) == 2
	}, "expected one reconciled plus one new message")

	confirmed := 0
	for _, m := range h.mgr.Messages(pizzaID, "general") {
		if m.SendState == SendConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestSendOptimistic_NoMatchOutsideWindow(t *testing.T) {
	h := newHarness(t, Config{OptimisticTimeout: time.Minute, ReconcileWindow: 30 * time.Second})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	_, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "old news")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	h.src.Publish(msgEvent("stale", "me", "old news", nostr.Now()+120, "general"))

	eventually(t, func() bool {
		return len(h.mgr.Messages(pizzaID, "general")) == 2
	}, "out-of-window event should insert, not reconcile")
	for _, m := range h.mgr.Messages(pizzaID, "general") {
		if m.ID == "stale" {
			assert.False(t, m.IsOptimistic)
		}
	}
}

func TestSendOptimistic_TimesOutToUnconfirmed(t *testing.T) {
	h := newHarness(t, Config{OptimisticTimeout: 50 * time.Millisecond})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	_, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "anyone there")
	require.NoError(t, err)

	eventually(t, func() bool {
		m := h.mgr.Messages(pizzaID, "general")
		return len(m) == 1 && m[0].SendState == SendUnconfirmed
	}, "pending send never became unconfirmed")
	// Unconfirmed messages stay in the list.
	assert.Len(t, h.mgr.Messages(pizzaID, "general"), 1)
}

func TestSendOptimistic_LateEchoConfirmsUnconfirmed(t *testing.T) {
	h := newHarness(t, Config{OptimisticTimeout: 20 * time.Millisecond})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	_, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "slow relay")
	require.NoError(t, err)
	eventually(t, func() bool {
		m := h.mgr.Messages(pizzaID, "general")
		return len(m) == 1 && m[0].SendState == SendUnconfirmed
	}, "send never timed out")

	h.src.Publish(msgEvent("late", "me", "slow relay", nostr.Now(), "general"))

	eventually(t, func() bool {
		m := h.mgr.Messages(pizzaID, "general")
		return len(m) == 1 && m[0].SendState == SendConfirmed
	}, "late echo should still confirm")
}

func TestSendOptimistic_ChannelNotOpen(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "hello")
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}

func TestSuspendResume(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	h.mgr.Suspend()
	assert.Equal(t, StateSuspended, h.mgr.ChannelState(pizzaID, "general"))

	// Published while suspended: no live subscription, but the event stays in
	// the source's history for the resume re-fetch.
	h.src.Publish(msgEvent("missed", "bob", "while away", nostr.Now(), "general"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.mgr.Messages(pizzaID, "general"))

	h.mgr.Resume(context.Background())
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	eventually(t, func() bool {
		return h.mgr.ChannelState(pizzaID, "general") == StateLive
	}, "channel not live after resume")
	msgs := h.mgr.Messages(pizzaID, "general")
	require.Len(t, msgs, 1)
	assert.Equal(t, "while away", msgs[0].Content)

	// And the re-attached subscription delivers new events.
	h.src.Publish(msgEvent("fresh", "carol", "back online", nostr.Now(), "general"))
	eventually(t, func() bool {
		return len(h.mgr.Messages(pizzaID, "general")) == 2
	}, "live delivery broken after resume")
}

func TestOpenWhileHidden_StaysSuspended(t *testing.T) {
	h := newHarness(t, Config{}, msgEvent("m1", "alice", "history", 100, ""))
	h.mgr.Suspend()

	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	assert.Equal(t, StateSuspended, h.mgr.ChannelState(pizzaID, "general"))
	assert.Len(t, h.mgr.Messages(pizzaID, "general"), 1)
}

func TestSuspendResume_ReconcilesPendingSend(t *testing.T) {
	h := newHarness(t, Config{OptimisticTimeout: time.Minute})
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	localID, err := h.mgr.SendOptimistic(context.Background(), pizzaID, "general", "me", "ship it")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	// Echo arrives while the view is hidden: the catch-up fetch on resume is
	// the only path that can deliver it.
	h.mgr.Suspend()
	h.src.Publish(msgEvent("echo", "me", "ship it", nostr.Now(), "general"))

	h.mgr.Resume(context.Background())
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	msgs := h.mgr.Messages(pizzaID, "general")
	require.Len(t, msgs, 1, "echo must reconcile the pending send, not duplicate it")
	assert.Equal(t, "echo", msgs[0].ID)
	assert.Equal(t, localID, msgs[0].LocalID)
	assert.False(t, msgs[0].IsOptimistic)
	assert.Equal(t, SendConfirmed, msgs[0].SendState)
}

func TestDeliver_CountsBackpressureDrops(t *testing.T) {
	st := store.New()
	src := source.NewStaticSource()
	exec := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 1, QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	t.Cleanup(exec.Stop)
	mgr := NewManager(st, src, exec, community.NewResolver(st), zerolog.Nop(), Config{}, nil)
	t.Cleanup(mgr.CloseAll)

	require.NoError(t, mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, mgr.Flush(context.Background(), pizzaID, "general"))
	mgr.mu.RLock()
	cs := mgr.channels[channelKey(pizzaID, "general")]
	mgr.mu.RUnlock()
	require.NotNil(t, cs)

	// Wedge the channel's single shard: one running job plus a full buffer.
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, exec.Submit(context.Background(), cs.key, shardqueue.JobFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started
	require.NoError(t, exec.Submit(context.Background(), cs.key, shardqueue.JobFunc(func(context.Context) error {
		return nil
	})))

	before := testutil.ToFloat64(messagesDroppedTotal.WithLabelValues("backpressure"))
	mgr.deliver(cs, msgEvent("bp", "bob", "overflow", nostr.Now(), "general"))
	after := testutil.ToFloat64(messagesDroppedTotal.WithLabelValues("backpressure"))

	assert.Equal(t, before+1, after, "backpressure drop must be counted")
	assert.Empty(t, mgr.Messages(pizzaID, "general"))
	// The event itself is safe in the store for the next history merge.
	_, admitted := st.Get("bp")
	assert.True(t, admitted)
}

func TestClose_ForgetsChannel(t *testing.T) {
	h := newHarness(t, Config{}, msgEvent("m1", "alice", "hi", 100, ""))
	require.NoError(t, h.mgr.Open(context.Background(), pizzaID, "general"))
	require.NoError(t, h.mgr.Flush(context.Background(), pizzaID, "general"))

	h.mgr.Close(pizzaID, "general")
	assert.Equal(t, StateIdle, h.mgr.ChannelState(pizzaID, "general"))
	assert.Nil(t, h.mgr.Messages(pizzaID, "general"))
}
