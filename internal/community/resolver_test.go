package community

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/store"
)

const pizzaID = "34550:alice:pizza"

func definition(id string, ts nostr.Timestamp, name string) *nostr.Event {
	return &nostr.Event{
		ID: id, PubKey: "alice", Kind: protocol.KindCommunityDefinition, CreatedAt: ts,
		Tags: nostr.Tags{
			{"d", "pizza"},
			{"name", name},
			{"p", "bob", "moderator"},
		},
	}
}

func TestResolve_NewestDefinitionWins(t *testing.T) {
	st := store.New()
	r := NewResolver(st)

	st.Admit(definition("old", 100, "Old Name"))
	st.Admit(definition("new", 200, "New Name"))

	c, ok := r.Resolve(pizzaID)
	require.True(t, ok)
	assert.Equal(t, "New Name", c.Name)
	assert.Equal(t, "alice", c.CreatorKey)
	assert.True(t, c.IsModerator("bob"))
	assert.False(t, c.IsModerator("alice"))
}

func TestResolve_AdmissionOrderIrrelevant(t *testing.T) {
	build := func(order []*nostr.Event) *Community {
		st := store.New()
		r := NewResolver(st)
		for _, e := range order {
			st.Admit(e)
		}
		c, ok := r.Resolve(pizzaID)
		require.True(t, ok)
		return c
	}

	a := definition("aaa", 100, "A")
	b := definition("bbb", 100, "B") // same timestamp: smaller id wins
	c := definition("ccc", 90, "C")

	first := build([]*nostr.Event{a, b, c})
	second := build([]*nostr.Event{c, b, a})
	assert.Equal(t, first, second)
	assert.Equal(t, "A", first.Name)
}

func TestResolve_AbsentIsNotAnError(t *testing.T) {
	r := NewResolver(store.New())
	c, ok := r.Resolve(pizzaID)
	assert.False(t, ok)
	assert.Nil(t, c)

	// malformed id
	c, ok = r.Resolve("garbage")
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestResolve_WrongAuthorDoesNotMatch(t *testing.T) {
	st := store.New()
	r := NewResolver(st)
	st.Admit(definition("a", 100, "Pizza"))

	// same identifier, different creator: a different community
	_, ok := r.Resolve("34550:mallory:pizza")
	assert.False(t, ok)
}

func TestResolve_SelfDeletionRetracts(t *testing.T) {
	st := store.New()
	r := NewResolver(st)
	st.Admit(definition("a", 100, "Pizza"))
	st.Admit(&nostr.Event{
		ID: "del", PubKey: "alice", Kind: protocol.KindDeletion, CreatedAt: 150,
		Tags: nostr.Tags{{"e", "a"}, {"k", "34550"}},
	})

	_, ok := r.Resolve(pizzaID)
	assert.False(t, ok, "deleted definition must not resolve")
}

func TestResolve_DeletionByOtherAuthorIgnored(t *testing.T) {
	st := store.New()
	r := NewResolver(st)
	st.Admit(definition("a", 100, "Pizza"))
	st.Admit(&nostr.Event{
		ID: "del", PubKey: "mallory", Kind: protocol.KindDeletion, CreatedAt: 150,
		Tags: nostr.Tags{{"e", "a"}},
	})

	_, ok := r.Resolve(pizzaID)
	assert.True(t, ok, "only the author can delete their definition")
}

func TestList_GroupsByCompoundKey(t *testing.T) {
	st := store.New()
	r := NewResolver(st)
	st.Admit(definition("a", 100, "Zeta"))
	st.Admit(&nostr.Event{
		ID: "b", PubKey: "carol", Kind: protocol.KindCommunityDefinition, CreatedAt: 100,
		Tags: nostr.Tags{{"d", "books"}, {"name", "Books"}},
	})

	all := r.List()
	require.Len(t, all, 2)
	// sorted by name
	assert.Equal(t, "Books", all[0].Name)
	assert.Equal(t, "Zeta", all[1].Name)
}

func folder(id, slug string, ts nostr.Timestamp, content string) *nostr.Event {
	return &nostr.Event{
		ID: id, PubKey: "alice", Kind: protocol.KindChannelFolder, CreatedAt: ts,
		Content: content,
		Tags:    nostr.Tags{{"d", slug}, {"a", pizzaID}},
	}
}

func TestFolders_OrderedByPositionThenName(t *testing.T) {
	st := store.New()
	r := NewResolver(st)
	st.Admit(folder("f1", "zeta", 100, `{"name":"Zeta","position":1}`))
	st.Admit(folder("f2", "alpha", 100, `{"name":"Alpha","position":1}`))
	st.Admit(folder("f3", "first", 100, `{"name":"First","position":0}`))

	got := r.Folders(pizzaID)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"First", "Alpha", "Zeta"}, []string{got[0].Name, got[1].Name, got[2].Name})
}

func TestFolders_ReplaceableBySlug(t *testing.T) {
	st := store.New()
	r := NewResolver(st)
	st.Admit(folder("f1", "disc", 100, `{"name":"Old","position":0}`))
	st.Admit(folder("f2", "disc", 200, `{"name":"Renamed","position":0}`))

	got := r.Folders(pizzaID)
	require.Len(t, got, 1)
	assert.Equal(t, "Renamed", got[0].Name)
}
