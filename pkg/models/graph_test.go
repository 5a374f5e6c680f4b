package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() *Graph {
	return &Graph{
		Nodes: []*Node{
			{ID: "n1", Type: NodeTypeStart},
			{ID: "n2", Type: NodeTypeEmail, Message: &MessageConfig{TemplateID: "welcome"}},
			{ID: "n3", Type: NodeTypeEnd},
		},
		Edges: []Edge{
			{Source: "n1", Target: "n2", Handle: HandleOutput},
			{Source: "n2", Target: "n3", Handle: HandleOutput},
		},
	}
}

func TestGraph_Start(t *testing.T) {
	start, err := linearGraph().Start()
	require.NoError(t, err)
	assert.Equal(t, "n1", start.ID)
}

func TestGraph_Start_NoStartNode(t *testing.T) {
	graph := &Graph{Nodes: []*Node{{ID: "n1", Type: NodeTypeEnd}}}

	_, err := graph.Start()
	require.ErrorIs(t, err, ErrNoStartNode)
}

func TestGraph_Start_MultipleStartNodes(t *testing.T) {
	graph := &Graph{Nodes: []*Node{
		{ID: "n1", Type: NodeTypeStart},
		{ID: "n2", Type: NodeTypeStart},
	}}

	_, err := graph.Start()
	require.ErrorIs(t, err, ErrMultipleStartNodes)
}

func TestGraph_Next(t *testing.T) {
	graph := linearGraph()

	next, ok := graph.Next("n1", HandleOutput)
	require.True(t, ok)
	assert.Equal(t, "n2", next)

	_, ok = graph.Next("n3", HandleOutput)
	assert.False(t, ok)

	_, ok = graph.Next("n1", HandleYes)
	assert.False(t, ok)
}

func TestGraph_HasIncoming(t *testing.T) {
	graph := linearGraph()

	assert.False(t, graph.HasIncoming("n1"))
	assert.True(t, graph.HasIncoming("n2"))
	assert.True(t, graph.HasIncoming("n3"))
}

func TestGraph_Node(t *testing.T) {
	graph := linearGraph()

	node, ok := graph.Node("n2")
	require.True(t, ok)
	assert.Equal(t, NodeTypeEmail, node.Type)

	_, ok = graph.Node("missing")
	assert.False(t, ok)
}
