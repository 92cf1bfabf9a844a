package types

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func TestTagHelpers(t *testing.T) {
	evt := &nostr.Event{Tags: nostr.Tags{
		{TagEvent, "e1"},
		{TagPubKey, "p1"},
		{TagEvent, "e2", "wss://relay"},
		{TagEvent},
	}}

	assert.Equal(t, []string{"e1", "e2"}, TagValues(evt, TagEvent))
	assert.Nil(t, TagValues(evt, TagD))

	v, ok := FirstTagValue(evt, TagPubKey)
	assert.True(t, ok)
	assert.Equal(t, "p1", v)

	_, ok = FirstTagValue(evt, TagD)
	assert.False(t, ok)
}

func TestReplaceableKinds(t *testing.T) {
	tests := []struct {
		kind          int
		replaceable   bool
		parameterized bool
	}{
		{KindMetadata, true, false},
		{KindTextNote, false, false},
		{KindFollowList, true, false},
		{KindDeletion, false, false},
		{10002, true, false},
		{20000, false, false},
		{KindNodeAnnouncement, false, true},
		{40000, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.replaceable, IsReplaceable(tt.kind), "kind %d", tt.kind)
		assert.Equal(t, tt.parameterized, IsParameterizedReplaceable(tt.kind), "kind %d", tt.kind)
	}
}
