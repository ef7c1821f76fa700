package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageType(t *testing.T) {
	mt, err := ParseMessageType("")
	require.NoError(t, err)
	assert.Equal(t, TypeText, mt)

	mt, err = ParseMessageType(" IMAGE ")
	require.NoError(t, err)
	assert.Equal(t, TypeImage, mt)

	_, err = ParseMessageType("system")
	assert.Error(t, err)
	_, err = ParseMessageType("sticker")
	assert.Error(t, err)
}

func TestTypeForContentType(t *testing.T) {
	assert.Equal(t, TypeImage, TypeForContentType("image/png"))
	assert.Equal(t, TypeVideo, TypeForContentType("video/mp4"))
	assert.Equal(t, TypeAudio, TypeForContentType("audio/mpeg"))
	assert.Equal(t, TypeDocument, TypeForContentType("application/pdf"))
	assert.Equal(t, TypeFile, TypeForContentType("application/zip"))
}

func TestClampPage(t *testing.T) {
	p, s := ClampPage(-3, 0)
	assert.Equal(t, 0, p)
	assert.Equal(t, 1, s)

	p, s = ClampPage(2, 500)
	assert.Equal(t, 2, p)
	assert.Equal(t, MaxPageSize, s)

	p, s = ClampPage(1<<62, MaxPageSize)
	assert.Equal(t, MaxPage, p)
	assert.Positive(t, p*s)
}

func TestSortedSetAndMembership(t *testing.T) {
	g := &Group{
		Members: SortedSet("carol", "alice", " bob ", "alice", ""),
		Admins:  SortedSet("alice"),
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, g.Members)
	assert.True(t, g.HasMember("bob"))
	assert.False(t, g.HasMember("dave"))
	assert.True(t, g.IsAdmin("alice"))
	assert.False(t, g.IsAdmin("bob"))
}

func TestDirectMessageOrdering(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &DirectMessage{ID: "a", Timestamp: ts}
	b := &DirectMessage{ID: "b", Timestamp: ts}
	c := &DirectMessage{ID: "0", Timestamp: ts.Add(time.Second)}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c))
}

func TestParseGroupTypeAndPriority(t *testing.T) {
	gt, err := ParseGroupType("department")
	require.NoError(t, err)
	assert.Equal(t, GroupDepartment, gt)

	gt, err = ParseGroupType("")
	require.NoError(t, err)
	assert.Equal(t, GroupCustom, gt)

	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	_, err = ParseNotificationType("spam")
	assert.Error(t, err)
}
