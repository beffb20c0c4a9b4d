package chatlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleSkipsUnfilledSlot(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "hi"))
	answer := cl.AddMessage(NewValue(RoleAssistant, "hey"))
	slot := cl.AddAlternative(answer.ID, nil)
	require.NotNil(t, slot)

	set := cl.NthAlternatives(1)
	require.Equal(t, 2, set.Len())

	// the speculative slot is dropped instead of cycled onto
	got := cl.CycleAlternatives(slot.ID, CycleNext)
	require.NotNil(t, got)
	assert.Equal(t, "hey", got.Value.Text())
	assert.Equal(t, 1, set.Len())
	_, ok := cl.Get(slot.ID)
	assert.False(t, ok)

	// with the slot gone, cycling loops on the one real message
	got = cl.CycleAlternatives(answer.ID, CycleNext)
	require.NotNil(t, got)
	assert.Equal(t, answer.ID, got.ID)
}

func TestCycleAwayFromLoneSlotDetachesSet(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "hi"))
	slot := cl.AddMessage(nil)

	assert.Nil(t, cl.CycleAlternatives(slot.ID, CycleNext))
	assert.Equal(t, 1, cl.Len())
	assert.Nil(t, cl.LastMessage().Children)
}

func TestCycleUnknownIDIsNoop(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "hi"))
	assert.Nil(t, cl.CycleAlternatives(NewNodeID(), CycleNext))
}

func TestActiveIndexReclampsOnRemoval(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "q"))
	a := cl.AddMessage(NewValue(RoleAssistant, "a"))
	b := cl.AddAlternative(a.ID, NewValue(RoleAssistant, "b"))
	c := cl.AddAlternative(a.ID, NewValue(RoleAssistant, "c"))

	set := cl.NthAlternatives(1)
	require.Equal(t, 3, set.Len())
	require.Equal(t, c, set.GetActive())

	// removing before the cursor shifts it left, same message stays active
	require.True(t, cl.DeleteMessage(a.ID))
	assert.Equal(t, c, set.GetActive())

	// removing the active tail clamps onto the new last element
	require.True(t, cl.DeleteMessage(c.ID))
	assert.Equal(t, b, set.GetActive())
}

func TestAddAlternativeClearsSiblingCaches(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "q"))
	a := cl.AddMessage(NewValue(RoleAssistant, "a"))
	a.SetCache("rendered-a")
	require.NotNil(t, a.Cache())

	// the sibling indicator of a changes, its artifact is stale
	cl.AddAlternative(a.ID, NewValue(RoleAssistant, "b"))
	assert.Nil(t, a.Cache())
}

func TestCycleClearsSetCaches(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "q"))
	a := cl.AddMessage(NewValue(RoleAssistant, "a"))
	b := cl.AddAlternative(a.ID, NewValue(RoleAssistant, "b"))

	a.SetCache("rendered-a")
	b.SetCache("rendered-b")

	cl.CycleAlternatives(b.ID, CycleNext)
	assert.Nil(t, a.Cache())
	assert.Nil(t, b.Cache())
}

func TestMutationsClearOwnCache(t *testing.T) {
	cl := NewChatlog()
	msg := cl.AddMessage(NewValue(RoleAssistant, "a"))

	msg.SetCache("artifact")
	cl.AppendContent(msg.ID, " more")
	assert.Nil(t, msg.Cache())

	msg.SetCache("artifact")
	cl.SetContent(msg.ID, "replaced")
	assert.Nil(t, msg.Cache())

	msg.SetCache("artifact")
	cl.UpdateMetadata(msg.ID, func(md *Metadata) { md.Model = "m" })
	assert.Nil(t, msg.Cache())
}

func TestSlotRefusesCache(t *testing.T) {
	cl := NewChatlog()
	cl.AddMessage(NewValue(RoleUser, "q"))
	slot := cl.AddMessage(nil)

	slot.SetCache("artifact")
	assert.Nil(t, slot.Cache())
}
