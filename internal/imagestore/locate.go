package imagestore

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultLocateDepth = 6

// Locate searches dirs breadth first for a regular file named like the base
// of name (case-insensitive) and returns the first match. Directories are
// visited in the order given, then level by level in lexical order, down to
// maxDepth levels below each root.
func Locate(name string, dirs []string, maxDepth int) (string, bool) {
	want := strings.ToLower(filepath.Base(filepath.FromSlash(name)))
	if want == "" || want == "." || want == string(filepath.Separator) {
		return "", false
	}
	if maxDepth <= 0 {
		maxDepth = defaultLocateDepth
	}

	type item struct {
		dir   string
		depth int
	}
	queue := make([]item, 0, len(dirs))
	seen := map[string]bool{}
	for _, d := range dirs {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		queue = append(queue, item{dir: d})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(cur.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.ToLower(e.Name()) == want {
				return filepath.Join(cur.dir, e.Name()), true
			}
		}
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			p := filepath.Join(cur.dir, e.Name())
			if seen[p] {
				continue
			}
			seen[p] = true
			queue = append(queue, item{dir: p, depth: cur.depth + 1})
		}
	}
	return "", false
}
