// Package filetree projects the server's directory listings and file
// events onto an in-memory forest.
package filetree

import (
	"slices"
	"strings"

	"github.com/user/remoteide/internal/protocol"
)

// Node is one file or directory. Nodes reachable from a snapshot are never
// modified; every change produces new nodes along the changed path.
type Node struct {
	Name        string
	Path        string
	IsDirectory bool
	Size        int64
	// Children is nil until the directory has been loaded and empty once
	// it is known to have no entries.
	Children []*Node
	IsLoaded bool
}

func compareNodes(a, b *Node) int {
	if a.IsDirectory != b.IsDirectory {
		if a.IsDirectory {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Name, b.Name)
}

// sortTree orders every level of the forest. The input is left untouched;
// levels that are already in order are shared with the result.
func sortTree(nodes []*Node) ([]*Node, bool) {
	out := nodes
	changed := false
	for i, n := range nodes {
		kids, ok := sortTree(n.Children)
		if !ok {
			continue
		}
		if !changed {
			out = slices.Clone(nodes)
			changed = true
		}
		c := *n
		c.Children = kids
		out[i] = &c
	}
	if !slices.IsSortedFunc(out, compareNodes) {
		if !changed {
			out = slices.Clone(nodes)
			changed = true
		}
		slices.SortStableFunc(out, compareNodes)
	}
	return out, changed
}

func indexOf(nodes []*Node, p string) int {
	return slices.IndexFunc(nodes, func(n *Node) bool { return n.Path == p })
}

func find(nodes []*Node, parts []string) *Node {
	for depth := range parts {
		i := indexOf(nodes, strings.Join(parts[:depth+1], "/"))
		if i < 0 {
			return nil
		}
		if depth == len(parts)-1 {
			return nodes[i]
		}
		nodes = nodes[i].Children
	}
	return nil
}

// upsert inserts or refreshes the node at parts. It reports false when the
// parent is missing or not loaded yet.
func upsert(nodes []*Node, parts []string, depth int, meta protocol.FileMetadata) ([]*Node, bool) {
	p := strings.Join(parts[:depth+1], "/")
	i := indexOf(nodes, p)

	if depth == len(parts)-1 {
		out := slices.Clone(nodes)
		if i >= 0 {
			c := *nodes[i]
			c.Size = meta.Size
			if c.IsDirectory != meta.IsDirectory {
				c.IsDirectory = meta.IsDirectory
				c.Children = nil
				c.IsLoaded = false
			}
			out[i] = &c
			return out, true
		}
		return append(out, &Node{
			Name:        parts[depth],
			Path:        p,
			IsDirectory: meta.IsDirectory,
			Size:        meta.Size,
		}), true
	}

	if i < 0 || !nodes[i].IsDirectory || nodes[i].Children == nil {
		return nodes, false
	}
	kids, ok := upsert(nodes[i].Children, parts, depth+1, meta)
	if !ok {
		return nodes, false
	}
	out := slices.Clone(nodes)
	c := *nodes[i]
	c.Children = kids
	out[i] = &c
	return out, true
}

// remove deletes the node at parts with its subtree.
func remove(nodes []*Node, parts []string, depth int) ([]*Node, bool) {
	p := strings.Join(parts[:depth+1], "/")
	i := indexOf(nodes, p)
	if i < 0 {
		return nodes, false
	}
	if depth == len(parts)-1 {
		out := make([]*Node, 0, len(nodes)-1)
		out = append(out, nodes[:i]...)
		return append(out, nodes[i+1:]...), true
	}
	kids, ok := remove(nodes[i].Children, parts, depth+1)
	if !ok {
		return nodes, false
	}
	out := slices.Clone(nodes)
	c := *nodes[i]
	c.Children = kids
	out[i] = &c
	return out, true
}

// install replaces the children of the directory at parts and marks it
// loaded.
func install(nodes []*Node, parts []string, depth int, children []*Node) ([]*Node, bool) {
	p := strings.Join(parts[:depth+1], "/")
	i := indexOf(nodes, p)
	if i < 0 {
		return nodes, false
	}
	out := slices.Clone(nodes)
	c := *nodes[i]
	if depth == len(parts)-1 {
		c.Children = children
		c.IsLoaded = true
		out[i] = &c
		return out, true
	}
	kids, ok := install(nodes[i].Children, parts, depth+1, children)
	if !ok {
		return nodes, false
	}
	c.Children = kids
	out[i] = &c
	return out, true
}
