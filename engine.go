// Package engine ingests signed events from partially-trusted relays and
// derives a consistent local view of communities, membership, channel
// permissions, and chat messages. Clients never mutate remote state through
// it; every state change is itself an event that the engine later observes
// and merges back in.
package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/samthomson/universed-sub001/internal/community"
	"github.com/samthomson/universed-sub001/internal/membership"
	"github.com/samthomson/universed-sub001/internal/permission"
	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/refresh"
	"github.com/samthomson/universed-sub001/internal/shardqueue"
	"github.com/samthomson/universed-sub001/internal/source"
	"github.com/samthomson/universed-sub001/internal/store"
	"github.com/samthomson/universed-sub001/internal/stream"
)

// directoryRefresh names the background refresh of all slow-changing
// directory state: community definitions, member lists, join/leave requests,
// folders, spaces, permission policies, and deletions.
const directoryRefresh = "directory"

var directoryKinds = []int{
	protocol.KindCommunityDefinition,
	protocol.KindApprovedMembers,
	protocol.KindDeclinedMembers,
	protocol.KindBannedMembers,
	protocol.KindJoinRequest,
	protocol.KindLeaveRequest,
	protocol.KindChannelFolder,
	protocol.KindSpace,
	protocol.KindChannelPermission,
	protocol.KindDeletion,
}

// Engine is the application-facing read model. Construct with New, tear
// down with Close.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	clock   func() time.Time
	execCfg *shardqueue.Config

	store       *store.Store
	src         source.Source
	exec        *shardqueue.ShardExecutor
	communities *community.Resolver
	memberships *membership.Resolver
	permissions *permission.Resolver
	streams     *stream.Manager
	refresher   *refresh.Orchestrator

	relaySrc   *source.RelaySource // nil when a custom source is injected
	closedOnce uint32
}

// New constructs an Engine. Either cfg.Relays or WithSource must provide an
// event source.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()

	e := &Engine{
		cfg:   cfg,
		log:   zerolog.New(os.Stdout).With().Str("service", "universed-engine").Timestamp().Logger(),
		clock: time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.src == nil {
		if len(cfg.Relays) == 0 {
			return nil, fmt.Errorf("no event source: configure relays or inject one with WithSource")
		}
		e.relaySrc = source.NewRelaySource(cfg.Relays, cfg.QueryTimeout, e.log)
		e.src = e.relaySrc
	}
	e.src = source.WithDebugLogging(e.src)

	execCfg := shardqueue.Config{}
	if e.execCfg != nil {
		execCfg = *e.execCfg
	}
	execCfg.ErrorHandler = func(err error) {
		e.log.Warn().Err(err).Msg("channel job failed")
	}
	e.exec = shardqueue.NewShardExecutor(execCfg)

	e.store = store.New()
	e.communities = community.NewResolver(e.store)
	e.memberships = membership.NewResolver(e.store, e.communities)
	e.permissions = permission.NewResolver(e.store, e.communities, e.memberships)
	e.streams = stream.NewManager(e.store, e.src, e.exec, e.communities, e.log, stream.Config{
		ReconcileWindow:   cfg.ReconcileWindow,
		OptimisticTimeout: cfg.OptimisticTimeout,
		HistoryLimit:      cfg.HistoryLimit,
		DefaultChannel:    cfg.DefaultChannel,
	}, e.clock)

	e.refresher = refresh.New(cfg.RefreshInterval, cfg.RefreshTimeout, e.log, e.clock)
	e.refresher.Register(directoryRefresh, e.fetchDirectory)
	e.refresher.Run(cfg.RefreshInterval)

	return e, nil
}

// Close stops background work and releases subscriptions. Safe to call
// multiple times.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapUint32(&e.closedOnce, 0, 1) {
		return nil
	}
	e.refresher.Stop()
	e.streams.CloseAll()
	e.exec.Stop()
	if e.relaySrc != nil {
		e.relaySrc.Close()
	}
	return nil
}

func (e *Engine) closed() bool { return atomic.LoadUint32(&e.closedOnce) == 1 }

// Bootstrap synchronously fetches directory state once, bounded by ctx.
// Callers that cannot render a loading state use it before first reads;
// everything also works lazily via background refresh.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if e.closed() {
		return ErrClosed
	}
	return e.fetchDirectory(ctx)
}

// fetchDirectory queries the source for every directory kind and admits
// whatever validates. Malformed events are dropped silently and counted.
func (e *Engine) fetchDirectory(ctx context.Context) error {
	events, err := e.src.Query(ctx, nostr.Filters{{Kinds: directoryKinds}})
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.admit(ev)
	}
	return nil
}

func (e *Engine) admit(ev *nostr.Event) {
	if !protocol.Valid(ev) {
		eventsDroppedTotal.Inc()
		return
	}
	if e.store.Admit(ev) {
		eventsAdmittedTotal.WithLabelValues(strconv.Itoa(ev.Kind)).Inc()
	}
}

// ------------------------------------------------------------------
// Read model
// ------------------------------------------------------------------

// GetCommunity returns the community for the address-form ID. Absence is a
// normal result; a stale or empty directory triggers a background refresh
// that never blocks this call.
func (e *Engine) GetCommunity(ctx context.Context, communityID string) (*Community, bool) {
	c, ok := e.communities.Resolve(communityID)
	if !ok || e.refresher.Stale(directoryRefresh) {
		e.refresher.Trigger(directoryRefresh)
	}
	return c, ok
}

// ListCommunities returns every known community sorted by name.
func (e *Engine) ListCommunities(ctx context.Context) []*Community {
	if e.refresher.Stale(directoryRefresh) {
		e.refresher.Trigger(directoryRefresh)
	}
	return e.communities.List()
}

// Folders returns the community's channel folders in display order.
func (e *Engine) Folders(ctx context.Context, communityID string) []Grouping {
	return e.communities.Folders(communityID)
}

// Spaces returns the community's spaces in display order.
func (e *Engine) Spaces(ctx context.Context, communityID string) []Grouping {
	return e.communities.Spaces(communityID)
}

// GetMembership derives userKey's membership status in the community.
func (e *Engine) GetMembership(ctx context.Context, communityID, userKey string) MembershipStatus {
	return e.memberships.Status(communityID, userKey)
}

// CanAccessChannel checks the local user's access to a channel. Fails
// closed while contributing state is absent.
func (e *Engine) CanAccessChannel(ctx context.Context, communityID, channelID string, access AccessType) Decision {
	return e.permissions.Can(communityID, channelID, e.cfg.LocalKey, access)
}

// CanAccess is CanAccessChannel for an arbitrary user key.
func (e *Engine) CanAccess(ctx context.Context, communityID, channelID, userKey string, access AccessType) Decision {
	return e.permissions.Can(communityID, channelID, userKey, access)
}

// ------------------------------------------------------------------
// Message streams
// ------------------------------------------------------------------

// OpenChannel loads a channel's history and attaches its live subscription.
func (e *Engine) OpenChannel(ctx context.Context, communityID, channelID string) error {
	if e.closed() {
		return ErrClosed
	}
	return e.streams.Open(ctx, communityID, channelID)
}

// CloseChannel cancels the channel's subscription and drops its state.
func (e *Engine) CloseChannel(communityID, channelID string) {
	e.streams.Close(communityID, channelID)
}

// GetMessages returns the channel's current merged, ordered message list.
func (e *Engine) GetMessages(communityID, channelID string) []Message {
	return e.streams.Messages(communityID, channelID)
}

// GetChannelState reports the channel's stream lifecycle state.
func (e *Engine) GetChannelState(communityID, channelID string) ChannelState {
	return e.streams.ChannelState(communityID, channelID)
}

// SendOptimisticMessage appends a provisional message for the local user and
// returns its LocalID. The channel must be open and the local user must have
// write access; publication to relays is the caller's concern (the engine
// reconciles the echo when it arrives).
func (e *Engine) SendOptimisticMessage(ctx context.Context, communityID, channelID, content string) (string, error) {
	if e.closed() {
		return "", ErrClosed
	}
	if e.cfg.LocalKey == "" {
		return "", ErrNoIdentity
	}
	if d := e.permissions.Can(communityID, channelID, e.cfg.LocalKey, AccessWrite); !d.Allowed {
		return "", fmt.Errorf("%w: %s", ErrNotAuthorized, d.Reason)
	}
	return e.streams.SendOptimistic(ctx, communityID, channelID, e.cfg.LocalKey, content)
}

// Flush blocks until every previously submitted mutation for the channel
// has been applied, by running a barrier job through its serialized queue.
func (e *Engine) Flush(ctx context.Context, communityID, channelID string) error {
	return e.streams.Flush(ctx, communityID, channelID)
}

// SetVisible suspends live subscriptions when the view is hidden and
// re-establishes them (with a catch-up fetch) when it becomes visible.
func (e *Engine) SetVisible(ctx context.Context, visible bool) {
	if visible {
		e.streams.Resume(ctx)
	} else {
		e.streams.Suspend()
	}
}
