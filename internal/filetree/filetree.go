// Package filetree turns flat repository path listings into nested trees.
package filetree

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sprite-ai/repolens/internal/model"
)

// trieNode is the pass-one accumulator. It is discarded after Build.
type trieNode struct {
	name     string
	path     string
	folder   bool
	children map[string]*trieNode
	order    []string // child names in first-appearance order
}

func (n *trieNode) child(name, path string) *trieNode {
	if n.children == nil {
		n.children = make(map[string]*trieNode)
	}
	c, ok := n.children[name]
	if !ok {
		c = &trieNode{name: name, path: path}
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

// Build converts slash-separated paths into an ordered sequence of root
// nodes. Siblings keep the order in which they first appear in paths.
//
// A segment seen as an intermediate component of any path is a folder, even
// if the same path also appears standalone: "a" and "a/b" yield folder "a"
// containing file "b". Empty segments (leading, trailing or doubled
// slashes) are ignored.
func Build(paths []string) []model.TreeNode {
	root := &trieNode{}

	for _, full := range paths {
		parts := splitPath(full)
		current := root
		for i, part := range parts {
			current = current.child(part, strings.Join(parts[:i+1], "/"))
			if i < len(parts)-1 {
				current.folder = true
			}
		}
	}

	return materialize(root)
}

func materialize(n *trieNode) []model.TreeNode {
	nodes := make([]model.TreeNode, 0, len(n.order))
	for _, name := range n.order {
		c := n.children[name]
		node := model.TreeNode{
			Name: c.name,
			Path: c.path,
			Type: model.NodeFile,
		}
		if c.folder {
			node.Type = model.NodeFolder
			node.Children = materialize(c)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	parts := raw[:0:0]
	for _, s := range raw {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// FromEntries builds a tree from the blob entries of a branch listing,
// skipping any path that matches one of the exclude globs.
func FromEntries(entries []model.FileEntry, exclude []string) []model.TreeNode {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type != model.EntryBlob {
			continue
		}
		if Excluded(e.Path, exclude) {
			continue
		}
		paths = append(paths, e.Path)
	}
	return Build(paths)
}

// Excluded reports whether path matches any of the doublestar patterns.
// Malformed patterns never match.
func Excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Walk visits nodes depth-first, parents before children. Returning false
// from fn skips the node's children.
func Walk(nodes []model.TreeNode, fn func(node model.TreeNode, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []model.TreeNode, depth int, fn func(model.TreeNode, int) bool) {
	for _, n := range nodes {
		if fn(n, depth) && n.IsFolder() {
			walk(n.Children, depth+1, fn)
		}
	}
}

// Files returns the paths of every file leaf in walk order.
func Files(nodes []model.TreeNode) []string {
	var files []string
	Walk(nodes, func(n model.TreeNode, _ int) bool {
		if !n.IsFolder() {
			files = append(files, n.Path)
		}
		return true
	})
	return files
}
