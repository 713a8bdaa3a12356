package client

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Node is a file or directory found while scanning the upload targets.
// Directories have a non-nil Children slice.
type Node struct {
	Name      string
	LocalPath string
	Size      int64
	Children  []*Node
}

func (n *Node) IsDir() bool {
	return n.Children != nil
}

// Tree holds one root node per target.
type Tree struct {
	Roots []*Node
}

// Entry is one file to upload: where it lives locally and the relative
// path it is shared under.
type Entry struct {
	LocalPath string
	RelPath   string
	Size      int64
}

// Scan reads every target from disk. Directory contents are read
// recursively; hidden entries and anything that is not a regular file or
// directory are skipped.
func Scan(targets []Target) (*Tree, error) {
	if len(targets) == 0 {
		return nil, ErrNoArgs
	}

	tree := &Tree{Roots: make([]*Node, 0, len(targets))}
	for _, t := range targets {
		var (
			n   *Node
			err error
		)
		if t.IsDir {
			n, err = scanDir(t.Path)
		} else {
			n, err = scanFile(t.Path)
		}
		if err != nil {
			return nil, err
		}
		tree.Roots = append(tree.Roots, n)
	}
	return tree, nil
}

func scanFile(p string) (*Node, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return &Node{Name: filepath.Base(p), LocalPath: p, Size: info.Size()}, nil
}

func scanDir(p string) (*Node, error) {
	dirEntries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}

	dir := &Node{Name: filepath.Base(p), LocalPath: p, Children: []*Node{}}
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		child := filepath.Join(p, de.Name())

		switch {
		case de.IsDir():
			sub, err := scanDir(child)
			if err != nil {
				return nil, err
			}
			dir.Children = append(dir.Children, sub)
		case de.Type().IsRegular():
			info, err := de.Info()
			if err != nil {
				return nil, err
			}
			dir.Children = append(dir.Children, &Node{Name: de.Name(), LocalPath: child, Size: info.Size()})
		}
	}
	return dir, nil
}

// Entries flattens the tree into files with slash-separated relative paths,
// each rooted at the name of the target it came from, sorted by path.
func (t *Tree) Entries() []Entry {
	var out []Entry

	var walk func(n *Node, prefix string)
	walk = func(n *Node, prefix string) {
		rel := path.Join(prefix, n.Name)
		if !n.IsDir() {
			out = append(out, Entry{LocalPath: n.LocalPath, RelPath: rel, Size: n.Size})
			return
		}
		for _, c := range n.Children {
			walk(c, rel)
		}
	}
	for _, r := range t.Roots {
		walk(r, "")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// TotalSize sums the sizes of entries.
func TotalSize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}

// FilterAllowed splits entries by whether the server accepts their
// extension. An empty allow-list keeps everything.
func FilterAllowed(entries []Entry, allowed []string) (kept, skipped []Entry) {
	if len(allowed) == 0 {
		return entries, nil
	}

	set := make(map[string]bool, len(allowed))
	for _, ext := range allowed {
		set[strings.ToLower(ext)] = true
	}

	for _, e := range entries {
		if set[strings.ToLower(path.Ext(e.RelPath))] {
			kept = append(kept, e)
		} else {
			skipped = append(skipped, e)
		}
	}
	return kept, skipped
}
