package chatlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearLog(t *testing.T, texts ...string) *Chatlog {
	t.Helper()
	roles := []Role{RoleSystem, RoleUser, RoleAssistant}
	cl := NewChatlog()
	for i, text := range texts {
		role := roles[0]
		if i > 0 {
			role = roles[1+(i+1)%2]
		}
		require.NotNil(t, cl.AddMessage(NewValue(role, text)))
	}
	return cl
}

func pathTexts(cl *Chatlog) []string {
	var texts []string
	for _, v := range cl.ActiveValues() {
		texts = append(texts, v.Text())
	}
	return texts
}

func TestAddMessageGrowsActivePath(t *testing.T) {
	cl := NewChatlog()
	assert.Nil(t, cl.Root())
	assert.Nil(t, cl.FirstMessage())
	assert.Nil(t, cl.LastMessage())

	system := cl.AddMessage(NewValue(RoleSystem, "be brief"))
	require.NotNil(t, system)
	assert.Equal(t, system, cl.FirstMessage())
	assert.Equal(t, system, cl.LastMessage())

	user := cl.AddMessage(NewValue(RoleUser, "hi"))
	answer := cl.AddMessage(NewValue(RoleAssistant, "hey"))

	assert.Equal(t, []string{"be brief", "hi", "hey"}, pathTexts(cl))
	assert.Equal(t, 3, cl.Len())
	assert.Equal(t, system, cl.FirstMessage())
	assert.Equal(t, answer, cl.LastMessage())

	pos, ok := cl.PositionOf(user.ID)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
}

func TestPositionOfUnknownMessage(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "hey")

	pos, ok := cl.PositionOf(NewNodeID())
	assert.False(t, ok)
	assert.Equal(t, 0, pos)

	// a message that exists but is not on the active path
	user := cl.NthMessage(1)
	alt := cl.AddAlternative(user.ID, NewValue(RoleUser, "hello"))
	require.NotNil(t, alt)

	_, ok = cl.PositionOf(user.ID)
	assert.False(t, ok)
	pos, ok = cl.PositionOf(alt.ID)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
}

func TestAddAlternativeAndCycle(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "first answer")
	answer := cl.LastMessage()

	second := cl.AddAlternative(answer.ID, NewValue(RoleAssistant, "second answer"))
	require.NotNil(t, second)
	assert.Equal(t, []string{"sys", "hi", "second answer"}, pathTexts(cl))

	// forward wraps around
	got := cl.CycleAlternatives(second.ID, CycleNext)
	require.NotNil(t, got)
	assert.Equal(t, "first answer", got.Value.Text())
	assert.Equal(t, []string{"sys", "hi", "first answer"}, pathTexts(cl))

	got = cl.CycleAlternatives(got.ID, CyclePrev)
	require.NotNil(t, got)
	assert.Equal(t, "second answer", got.Value.Text())
}

func TestAddAlternativeUnknownIDIsNoop(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	lenBefore := cl.Len()

	assert.Nil(t, cl.AddAlternative(NewNodeID(), NewValue(RoleUser, "x")))
	assert.Equal(t, lenBefore, cl.Len())
}

func TestBranchesGrowIndependently(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "first answer")
	answer := cl.LastMessage()
	cl.AddMessage(NewValue(RoleUser, "follow-up on first"))

	second := cl.AddAlternative(answer.ID, NewValue(RoleAssistant, "second answer"))
	require.NotNil(t, second)
	cl.AddMessage(NewValue(RoleUser, "follow-up on second"))

	assert.Equal(t,
		[]string{"sys", "hi", "second answer", "follow-up on second"},
		pathTexts(cl))

	// switching back restores the first branch's continuation
	cl.CycleAlternatives(second.ID, CycleNext)
	assert.Equal(t,
		[]string{"sys", "hi", "first answer", "follow-up on first"},
		pathTexts(cl))
}

func TestDeleteMessageDropsSubtree(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "hey")
	user := cl.NthMessage(1)
	cl.AddAlternative(cl.LastMessage().ID, NewValue(RoleAssistant, "hey again"))
	require.Equal(t, 4, cl.Len())

	require.True(t, cl.DeleteMessage(user.ID))

	assert.Equal(t, []string{"sys"}, pathTexts(cl))
	assert.Equal(t, 1, cl.Len())
	_, ok := cl.Get(user.ID)
	assert.False(t, ok)

	// the system message's emptied children set is detached
	assert.Nil(t, cl.FirstMessage().Children)
}

func TestDeleteMessageUnknownIDIsNoop(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	assert.False(t, cl.DeleteMessage(NewNodeID()))
	assert.Equal(t, 2, cl.Len())
}

func TestDeleteLastMessageDetachesRoot(t *testing.T) {
	cl := NewChatlog()
	msg := cl.AddMessage(NewValue(RoleUser, "hi"))

	require.True(t, cl.DeleteMessage(msg.ID))
	assert.Nil(t, cl.Root())
	assert.Equal(t, 0, cl.Len())

	// the tree is usable again afterwards
	require.NotNil(t, cl.AddMessage(NewValue(RoleUser, "fresh start")))
	assert.Equal(t, []string{"fresh start"}, pathTexts(cl))
}

func TestDeleteNthRelinksDescendants(t *testing.T) {
	cl := linearLog(t, "sys", "u1", "a1", "u2", "a2")
	a1 := cl.NthMessage(2)
	require.Equal(t, "a1", a1.Value.Text())

	require.True(t, cl.DeleteNth(2))

	assert.Equal(t, []string{"sys", "u1", "u2", "a2"}, pathTexts(cl))
	_, ok := cl.Get(a1.ID)
	assert.False(t, ok)

	// every former position k+1 subtree now answers at position k
	u2 := cl.NthMessage(2)
	require.NotNil(t, u2)
	assert.Equal(t, "u2", u2.Value.Text())
	pos, ok := cl.PositionOf(u2.ID)
	require.True(t, ok)
	assert.Equal(t, 2, pos)
}

func TestDeleteNthDropsSiblingAlternatives(t *testing.T) {
	cl := linearLog(t, "sys", "u1", "a1")
	a1 := cl.LastMessage()
	cl.AddAlternative(a1.ID, NewValue(RoleAssistant, "a2"))
	cl.AddMessage(NewValue(RoleUser, "u2"))

	require.True(t, cl.DeleteNth(2))

	assert.Equal(t, []string{"sys", "u1", "u2"}, pathTexts(cl))
	// the inactive sibling went away with the branch point
	_, ok := cl.Get(a1.ID)
	assert.False(t, ok)
	assert.Equal(t, 3, cl.Len())
}

func TestDeleteNthAtRoot(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "hey")

	require.True(t, cl.DeleteNth(0))
	assert.Equal(t, []string{"hi", "hey"}, pathTexts(cl))

	pos, ok := cl.PositionOf(cl.FirstMessage().ID)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
}

func TestDeleteNthOutOfRangeIsNoop(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	assert.False(t, cl.DeleteNth(2))
	assert.False(t, cl.DeleteNth(-1))
	assert.Equal(t, 2, cl.Len())
}

func TestAddMessageFillsFrontierSlot(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	slot := cl.AddMessage(nil)
	require.NotNil(t, slot)
	assert.Equal(t, PhaseSlot, slot.Phase())
	assert.Equal(t, 3, cl.Len())

	// the path stops at the slot for transports
	assert.Equal(t, []string{"sys", "hi"}, pathTexts(cl))
	assert.Len(t, cl.ActivePath(), 3)

	filled := cl.AddMessage(NewValue(RoleAssistant, "hey"))
	require.NotNil(t, filled)
	assert.Equal(t, slot.ID, filled.ID)
	assert.Equal(t, 3, cl.Len())
	assert.Equal(t, []string{"sys", "hi", "hey"}, pathTexts(cl))
}

func TestAppendContentStreamsIntoSlot(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	slot := cl.AddMessage(nil)

	require.True(t, cl.AppendContent(slot.ID, "Hel"))
	assert.Equal(t, PhaseFilled, slot.Phase())
	assert.Equal(t, RoleAssistant, slot.Value.Role)

	require.True(t, cl.AppendContent(slot.ID, "lo."))
	assert.Equal(t, "Hello.", slot.Value.Text())

	assert.False(t, cl.AppendContent(NewNodeID(), "lost"))
}

func TestPhaseOf(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	slot := cl.AddMessage(nil)

	phase, ok := cl.PhaseOf(slot.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseSlot, phase)

	require.True(t, cl.AppendContent(slot.ID, "Hel"))
	phase, ok = cl.PhaseOf(slot.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseFilled, phase)

	_, ok = cl.PhaseOf(NewNodeID())
	assert.False(t, ok)
}

func TestSetContentReplacesText(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "hey")
	user := cl.NthMessage(1)

	require.True(t, cl.SetContent(user.ID, "hello there"))
	assert.Equal(t, []string{"sys", "hello there", "hey"}, pathTexts(cl))

	assert.False(t, cl.SetContent(NewNodeID(), "lost"))
}

func TestUpdateMetadataAllocates(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	user := cl.LastMessage()
	require.Nil(t, user.Metadata)

	require.True(t, cl.UpdateMetadata(user.ID, func(md *Metadata) {
		md.Model = "test-model"
		md.Interrupted = true
	}))
	require.NotNil(t, user.Metadata)
	assert.Equal(t, "test-model", user.Metadata.Model)
	assert.True(t, user.Metadata.Interrupted)

	assert.False(t, cl.UpdateMetadata(NewNodeID(), func(md *Metadata) {}))
}

func TestCleanRemovesUnfilledMessages(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "hey")
	answer := cl.LastMessage()

	// a pending turn on an inactive branch and a slot at the frontier
	pending := cl.AddAlternative(answer.ID, PendingValue(RoleAssistant))
	cl.CycleAlternatives(pending.ID, CycleNext)
	cl.AddMessage(NewValue(RoleUser, "follow-up"))
	cl.AddMessage(nil)
	require.Equal(t, 6, cl.Len())

	removed := cl.Clean()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 4, cl.Len())
	assert.Equal(t, []string{"sys", "hi", "hey", "follow-up"}, pathTexts(cl))

	// idempotent
	assert.Equal(t, 0, cl.Clean())
}

func TestCleanRemovesAbandonedSlots(t *testing.T) {
	cl := linearLog(t, "sys", "hi")
	pending := cl.AddMessage(PendingValue(RoleAssistant))
	// an abandoned slot next to a pending turn goes away with it
	require.NotNil(t, cl.AddAlternative(pending.ID, nil))
	require.Equal(t, 4, cl.Len())

	removed := cl.Clean()
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"sys", "hi"}, pathTexts(cl))
}

func TestNthAlternativesStopsAtDeepestSet(t *testing.T) {
	cl := linearLog(t, "sys", "hi", "hey")

	set := cl.NthAlternatives(1)
	require.NotNil(t, set)
	assert.Equal(t, "hi", set.GetActive().Value.Text())

	// beyond the path depth the deepest reachable set is returned
	deep := cl.NthAlternatives(10)
	require.NotNil(t, deep)
	assert.Equal(t, "hey", deep.GetActive().Value.Text())

	assert.Nil(t, NewChatlog().NthAlternatives(0))
}
