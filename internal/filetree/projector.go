package filetree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/user/remoteide/internal/protocol"
)

var (
	ErrNotFound     = errors.New("no such node")
	ErrNotDirectory = errors.New("not a directory")
)

// Sender is the outbound half of the channel.
type Sender interface {
	SendMessage(ctx context.Context, typ string, content any) error
}

// Projector holds the current forest and the expansion state of the
// explorer.
type Projector struct {
	ch  Sender
	log *slog.Logger

	mu       sync.Mutex
	root     string
	forest   []*Node
	expanded map[string]bool
	loading  bool
	onChange []func()
}

func New(ch Sender, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{
		ch:       ch,
		log:      log,
		expanded: make(map[string]bool),
		loading:  true,
	}
}

func (p *Projector) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = append(p.onChange, fn)
	p.mu.Unlock()
}

func (p *Projector) changed() {
	p.mu.Lock()
	fns := slices.Clone(p.onChange)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Root is the absolute workspace root, empty until the first listing.
func (p *Projector) Root() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.root
}

// Normalize turns a server path into a root-relative one without a
// leading slash. "" denotes the root itself.
func (p *Projector) Normalize(s string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.normalizeLocked(s)
}

func (p *Projector) normalizeLocked(s string) string {
	if p.root != "" && p.root != "/" {
		if s == p.root {
			s = ""
		} else if strings.HasPrefix(s, p.root+"/") {
			s = s[len(p.root):]
		}
	}
	return strings.TrimPrefix(path.Clean("/"+s), "/")
}

// Relative is Normalize.
func (p *Projector) Relative(abs string) string {
	return p.Normalize(abs)
}

// Absolute maps a root-relative path back to the server's namespace.
func (p *Projector) Absolute(rel string) string {
	p.mu.Lock()
	root := p.root
	p.mu.Unlock()
	rel = strings.TrimPrefix(rel, "/")
	if root == "" {
		return rel
	}
	if rel == "" {
		return root
	}
	return path.Join(root, rel)
}

func splitPath(rel string) []string {
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

// InstallDirectory applies a DirectoryContent frame. A listing of the root
// replaces the forest; any other listing becomes the children of its
// directory.
func (p *Projector) InstallDirectory(dc protocol.DirectoryContent) {
	p.mu.Lock()
	if p.root == "" && dc.Path != "" {
		p.root = path.Clean(dc.Path)
	}

	children := make([]*Node, 0, len(dc.Content))
	for _, e := range dc.Content {
		rel := p.normalizeLocked(e.Path)
		if rel == "" {
			continue
		}
		children = append(children, &Node{
			Name:        e.Name,
			Path:        rel,
			IsDirectory: e.IsDirectory,
			Size:        e.Size,
		})
	}
	slices.SortStableFunc(children, compareNodes)

	dir := p.normalizeLocked(dc.Path)
	if dir == "" {
		p.forest = children
		p.loading = false
	} else {
		forest, ok := install(p.forest, splitPath(dir), 0, children)
		if !ok {
			p.mu.Unlock()
			p.log.Debug("listing for unknown directory", "path", dir)
			return
		}
		p.forest = forest
	}
	p.mu.Unlock()
	p.changed()
}

// Apply folds a batch of file events into the forest. Either every event
// applies or none does.
func (p *Projector) Apply(events []protocol.FileEvent) error {
	p.mu.Lock()
	forest := p.forest
	for i, ev := range events {
		next, err := p.applyLocked(forest, ev)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("file event %d: %w", i, err)
		}
		forest = next
	}
	forest, _ = sortTree(forest)
	p.forest = forest
	p.mu.Unlock()
	p.changed()
	return nil
}

func (p *Projector) applyLocked(forest []*Node, ev protocol.FileEvent) ([]*Node, error) {
	switch {
	case ev.Created != nil:
		parts, err := p.eventPath(ev.Created.Path)
		if err != nil {
			return nil, err
		}
		return p.insert(forest, parts, ev.Created.Metadata), nil

	case ev.Modified != nil:
		m := ev.Modified
		parts, err := p.eventPath(m.Path)
		if err != nil {
			return nil, err
		}
		exists := find(forest, parts) != nil
		switch {
		case m.ModificationType == protocol.ModName:
			forest, _ = remove(forest, parts, 0)
			return p.insert(forest, parts, m.NewMetadata), nil
		case m.ModificationType == protocol.ModCreate || !exists:
			return p.insert(forest, parts, m.NewMetadata), nil
		case m.ModificationType == protocol.ModRemove:
			forest, _ = remove(forest, parts, 0)
			return forest, nil
		default:
			return p.insert(forest, parts, m.NewMetadata), nil
		}

	case ev.Deleted != nil:
		parts, err := p.eventPath(ev.Deleted.Path)
		if err != nil {
			return nil, err
		}
		forest, _ = remove(forest, parts, 0)
		return forest, nil
	}
	return nil, errors.New("event has no kind")
}

func (p *Projector) insert(forest []*Node, parts []string, meta protocol.FileMetadata) []*Node {
	next, ok := upsert(forest, parts, 0, meta)
	if !ok {
		p.log.Debug("skipping event under unloaded directory", "path", strings.Join(parts, "/"))
		return forest
	}
	return next
}

func (p *Projector) eventPath(s string) ([]string, error) {
	if s == "" {
		return nil, errors.New("empty path")
	}
	rel := p.normalizeLocked(s)
	if rel == "" {
		return nil, fmt.Errorf("event targets the workspace root %q", s)
	}
	return splitPath(rel), nil
}

// Toggle expands or collapses a directory. Expanding a directory that was
// never loaded requests its listing; collapsing keeps what was loaded.
func (p *Projector) Toggle(ctx context.Context, rel string) error {
	rel = p.Normalize(rel)

	p.mu.Lock()
	n := find(p.forest, splitPath(rel))
	if n == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if !n.IsDirectory {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotDirectory, rel)
	}
	if p.expanded[rel] {
		delete(p.expanded, rel)
		p.mu.Unlock()
		p.changed()
		return nil
	}
	p.expanded[rel] = true
	load := !n.IsLoaded
	p.mu.Unlock()
	p.changed()

	if !load {
		return nil
	}
	if err := p.ch.SendMessage(ctx, protocol.TypeGetDirectory, protocol.PathContent{Path: p.Absolute(rel)}); err != nil {
		return fmt.Errorf("load %s: %w", rel, err)
	}
	return nil
}

// Expanded lists the expanded directories in path order.
func (p *Projector) Expanded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.expanded))
	for dir := range p.expanded {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// SetExpanded restores an expansion set. Directories that are not loaded
// are fetched when their parents arrive, see Reload.
func (p *Projector) SetExpanded(dirs []string) {
	p.mu.Lock()
	p.expanded = make(map[string]bool, len(dirs))
	for _, d := range dirs {
		p.expanded[p.normalizeLocked(d)] = true
	}
	p.mu.Unlock()
	p.changed()
}

// Reload requests listings for expanded directories that are present in
// the forest but not loaded, such as after the root was listed again.
func (p *Projector) Reload(ctx context.Context) error {
	p.mu.Lock()
	var want []string
	for dir := range p.expanded {
		if n := find(p.forest, splitPath(dir)); n != nil && n.IsDirectory && !n.IsLoaded {
			want = append(want, dir)
		}
	}
	p.mu.Unlock()
	sort.Strings(want)

	var errs []error
	for _, dir := range want {
		if err := p.ch.SendMessage(ctx, protocol.TypeGetDirectory, protocol.PathContent{Path: p.Absolute(dir)}); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// Load requests the root listing.
func (p *Projector) Load(ctx context.Context) error {
	p.mu.Lock()
	p.loading = true
	p.mu.Unlock()
	if err := p.ch.SendMessage(ctx, protocol.TypeGetDirectory, protocol.PathContent{Path: ""}); err != nil {
		return fmt.Errorf("load root: %w", err)
	}
	return nil
}

// Refresh asks the server to rescan the workspace.
func (p *Projector) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.loading = true
	root := p.root
	p.mu.Unlock()
	p.changed()

	if err := p.ch.SendMessage(ctx, protocol.TypeRefreshDirectory, protocol.PathContent{Path: root}); err != nil {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
		p.changed()
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

func (p *Projector) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Snapshot returns the current forest. Callers must not modify it.
func (p *Projector) Snapshot() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forest
}

func (p *Projector) Find(rel string) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := find(p.forest, splitPath(p.normalizeLocked(rel)))
	return n, n != nil
}

// Walk visits every loaded node depth first in display order. Returning
// an error stops the walk.
func (p *Projector) Walk(fn func(n *Node, depth int) error) error {
	return walk(p.Snapshot(), 0, fn)
}

func walk(nodes []*Node, depth int, fn func(*Node, int) error) error {
	for _, n := range nodes {
		if err := fn(n, depth); err != nil {
			return err
		}
		if err := walk(n.Children, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
