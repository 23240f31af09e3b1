package process

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"testing"
)

type kindBehavior struct {
	kind  element.Kind
	state *int
}

func (b *kindBehavior) Kind() element.Kind { return b.kind }

func (b *kindBehavior) CloneBehavior() Behavior {
	v := *b.state
	return &kindBehavior{kind: b.kind, state: &v}
}

func node(id string, kind element.Kind) *Node {
	z := 0
	return &Node{ID: id, Behavior: &kindBehavior{kind: kind, state: &z}}
}

func buildFork(t *testing.T) *Model {
	m := New("fork", "Fork")
	for _, n := range []*Node{
		node("start", element.StartEvent),
		node("split", element.ParallelGateway),
		node("a", element.Task),
		node("b", element.Task),
		node("join", element.ParallelGateway),
		node("end", element.EndEvent),
		node("timeout", element.TimerBoundaryEvent),
		node("late", element.EndEvent),
	} {
		require.NoError(t, m.AddNode(n))
	}
	for _, tr := range []*Transition{
		{ID: "f1", From: "start", To: "split"},
		{ID: "f2", From: "split", To: "a"},
		{ID: "f3", From: "split", To: "b"},
		{ID: "f4", From: "a", To: "join"},
		{ID: "f5", From: "b", To: "join"},
		{ID: "f6", From: "join", To: "end"},
		{ID: "f7", From: "timeout", To: "late"},
	} {
		require.NoError(t, m.AddTransition(tr))
	}
	require.NoError(t, m.Attach("timeout", "a"))
	return m
}

func TestOutgoingAndIncomingKeepDeclarationOrder(t *testing.T) {
	m := buildFork(t)
	out := m.Outgoing("split")
	require.Len(t, out, 2)
	assert.Equal(t, "f2", out[0].ID)
	assert.Equal(t, "f3", out[1].ID)
	in := m.Incoming("join")
	require.Len(t, in, 2)
	assert.Equal(t, "f4", in[0].ID)
	assert.Empty(t, m.Outgoing("end"))
}

func TestInitialNode(t *testing.T) {
	m := buildFork(t)
	n, err := m.InitialNode()
	require.NoError(t, err)
	assert.Equal(t, "start", n.ID)
	require.NoError(t, m.Validate())
}

func TestMissingStartNode(t *testing.T) {
	m := New("nostart", "")
	require.NoError(t, m.AddNode(node("a", element.Task)))
	_, err := m.InitialNode()
	assert.ErrorIs(t, err, errors.ErrMissingStartNode)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, m.Validate(), errors.ErrMissingStartNode)
}

func TestFindStartNodeInSubProcess(t *testing.T) {
	m := New("sub", "")
	require.NoError(t, m.AddNode(node("start", element.StartEvent)))
	sp := node("sp", element.SubProcess)
	sp.Scope = true
	require.NoError(t, m.AddNode(sp))
	inner := node("innerStart", element.StartEvent)
	inner.Parent = "sp"
	require.NoError(t, m.AddNode(inner))

	n, err := m.FindStartNode("sp")
	require.NoError(t, err)
	assert.Equal(t, "innerStart", n.ID)
	assert.Len(t, m.NodesInScope(""), 2)
}

func TestDuplicatesAreRejected(t *testing.T) {
	m := buildFork(t)
	assert.ErrorIs(t, m.AddNode(node("a", element.Task)), errors.ErrInvalidModel)
	assert.ErrorIs(t, m.AddTransition(&Transition{ID: "f1", From: "a", To: "b"}), errors.ErrInvalidModel)
	assert.ErrorIs(t, m.AddTransition(&Transition{ID: "fx", From: "a", To: "missing"}), errors.ErrInvalidModel)
}

func TestFindAttached(t *testing.T) {
	m := buildFork(t)
	att := m.FindAttached("a")
	require.Len(t, att, 1)
	assert.Equal(t, "timeout", att[0].ID)
	assert.Empty(t, m.FindAttached("b"))
}

func TestCanReach(t *testing.T) {
	m := buildFork(t)
	assert.True(t, m.CanReach("a", "join"))
	assert.True(t, m.CanReach("a", "late"))
	assert.False(t, m.CanReach("b", "late"))
	assert.False(t, m.CanReach("end", "start"))
}

func TestCloneDoesNotShareBehaviorState(t *testing.T) {
	m := buildFork(t)
	c := m.Clone()
	orig, _ := m.FindNode("a")
	cl, _ := c.FindNode("a")
	*cl.Behavior.(*kindBehavior).state = 7
	assert.Equal(t, 0, *orig.Behavior.(*kindBehavior).state)
	assert.Equal(t, len(m.Transitions()), len(c.Transitions()))
	assert.Equal(t, "f2", c.Outgoing("split")[0].ID)
}
