package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WorkItem is one region file. ID is the absolute path and is what checkpoints record.
type WorkItem struct {
	Path string
	ID   string
}

// Discover lists the files in dir with the given extension in lexical order
func Discover(dir, ext string) ([]WorkItem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", abs, err)
	}

	var items []WorkItem
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		path := filepath.Join(abs, entry.Name())
		items = append(items, WorkItem{Path: path, ID: path})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Remaining returns the items whose ID is not in processed, keeping their order
func Remaining(items []WorkItem, processed []string) []WorkItem {
	done := make(map[string]struct{}, len(processed))
	for _, p := range processed {
		done[p] = struct{}{}
	}

	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if _, ok := done[item.ID]; !ok {
			out = append(out, item)
		}
	}
	return out
}

// Items wraps plain identifiers, used when paths are already absolute
func Items(paths ...string) []WorkItem {
	items := make([]WorkItem, len(paths))
	for i, p := range paths {
		items[i] = WorkItem{Path: p, ID: p}
	}
	return items
}
