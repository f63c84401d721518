// Package conversation assembles reply trees from parent-pointer message rows.
package conversation

import (
	"sort"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Node is one message in an assembled thread.
type Node struct {
	Message domain.TicketMessage
	Depth   int
	Replies []*Node
}

// BuildThread arranges messages into reply trees in a single pass over the
// rows. Siblings are ordered by CreatedAt, keeping input order for ties.
// A message whose parent is absent from the input is treated as a root, and
// reply cycles are cut by promoting the earliest unvisited message to a root.
func BuildThread(messages []domain.TicketMessage) []*Node {
	ordered := append([]domain.TicketMessage(nil), messages...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	nodes := make(map[string]*Node, len(ordered))
	for i := range ordered {
		nodes[ordered[i].ID] = &Node{Message: ordered[i]}
	}

	children := make(map[string][]*Node, len(ordered))
	var roots []*Node
	for i := range ordered {
		node := nodes[ordered[i].ID]
		parentID := ordered[i].ParentID
		if parentID == nil || *parentID == "" || *parentID == ordered[i].ID {
			roots = append(roots, node)
			continue
		}
		if _, ok := nodes[*parentID]; !ok {
			roots = append(roots, node)
			continue
		}
		children[*parentID] = append(children[*parentID], node)
	}

	visited := make(map[string]bool, len(ordered))
	walk := func(root *Node) {
		root.Depth = 0
		visited[root.Message.ID] = true
		stack := []*Node{root}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, child := range children[node.Message.ID] {
				if visited[child.Message.ID] {
					continue
				}
				visited[child.Message.ID] = true
				child.Depth = node.Depth + 1
				node.Replies = append(node.Replies, child)
				stack = append(stack, child)
			}
		}
	}

	for _, root := range roots {
		walk(root)
	}
	for i := range ordered {
		node := nodes[ordered[i].ID]
		if visited[node.Message.ID] {
			continue
		}
		roots = append(roots, node)
		walk(node)
	}
	return roots
}

// Flatten lists every node depth-first, in display order.
func Flatten(roots []*Node) []*Node {
	var out []*Node
	stack := make([]*Node, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, node)
		for i := len(node.Replies) - 1; i >= 0; i-- {
			stack = append(stack, node.Replies[i])
		}
	}
	return out
}

// Count returns the number of nodes in the trees rooted at roots.
func Count(roots []*Node) int {
	return len(Flatten(roots))
}
