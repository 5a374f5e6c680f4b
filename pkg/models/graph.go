package models

import (
	"errors"
	"fmt"
	"sync"
)

// EdgeHandle tags the output slot an edge leaves a node from. Linear nodes
// use the plain output handle; branch nodes fan out through yes/no.
type EdgeHandle string

const (
	HandleOutput EdgeHandle = "output"
	HandleYes    EdgeHandle = "yes"
	HandleNo     EdgeHandle = "no"
)

// Edge connects two nodes by id.
type Edge struct {
	Source string     `json:"source"        validate:"required"`
	Target string     `json:"target"        validate:"required"`
	Handle EdgeHandle `json:"source_handle" validate:"required"`
}

// Graph is a journey's node graph. It is read-only at execution time; the
// adjacency index is built once on first traversal.
type Graph struct {
	Nodes []*Node `json:"nodes" validate:"required,min=1"`
	Edges []Edge  `json:"edges"`

	indexOnce sync.Once
	byID      map[string]*Node
	next      map[string]map[EdgeHandle]string
}

var (
	ErrNoStartNode        = errors.New("graph has no start node")
	ErrMultipleStartNodes = errors.New("graph has multiple start nodes")
	ErrDuplicateEdge      = errors.New("duplicate outgoing edge for handle")
)

func (g *Graph) buildIndex() {
	g.byID = make(map[string]*Node, len(g.Nodes))
	for _, node := range g.Nodes {
		g.byID[node.ID] = node
	}

	g.next = make(map[string]map[EdgeHandle]string)
	for _, edge := range g.Edges {
		handles, ok := g.next[edge.Source]
		if !ok {
			handles = make(map[EdgeHandle]string)
			g.next[edge.Source] = handles
		}

		// Last edge wins on duplicates; Validate in pkg/journey rejects
		// such graphs before they reach the executor.
		handles[edge.Handle] = edge.Target
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.indexOnce.Do(g.buildIndex)

	node, ok := g.byID[id]

	return node, ok
}

// Next returns the target of the outgoing edge with the given handle.
func (g *Graph) Next(nodeID string, handle EdgeHandle) (string, bool) {
	g.indexOnce.Do(g.buildIndex)

	handles, ok := g.next[nodeID]
	if !ok {
		return "", false
	}

	target, ok := handles[handle]

	return target, ok
}

// Outgoing returns all outgoing edges of a node keyed by handle.
func (g *Graph) Outgoing(nodeID string) map[EdgeHandle]string {
	g.indexOnce.Do(g.buildIndex)

	return g.next[nodeID]
}

// Start returns the single start node of the graph.
func (g *Graph) Start() (*Node, error) {
	g.indexOnce.Do(g.buildIndex)

	var start *Node

	for _, node := range g.Nodes {
		if node.Type != NodeTypeStart {
			continue
		}

		if start != nil {
			return nil, ErrMultipleStartNodes
		}

		start = node
	}

	if start == nil {
		return nil, ErrNoStartNode
	}

	return start, nil
}

// HasIncoming reports whether any edge targets the node.
func (g *Graph) HasIncoming(nodeID string) bool {
	for _, edge := range g.Edges {
		if edge.Target == nodeID {
			return true
		}
	}

	return false
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph(%d nodes, %d edges)", len(g.Nodes), len(g.Edges))
}
