// Package diff encodes document edits as line-level change scripts.
package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/user/remoteide/internal/protocol"
)

// ErrMismatch is returned by Apply when a change script does not fit the
// text it is applied to.
var ErrMismatch = errors.New("diff: change does not match source text")

const (
	surrogateMin = 0xD800
	surrogateMax = 0xDFFF
)

// Change is one run of lines tagged as added, removed or unchanged.
type Change = protocol.Change

// Lines returns the line-partitioned edit script turning oldText into
// newText. Identical inputs produce an empty script.
func Lines(oldText, newText string) []Change {
	if oldText == newText {
		return []Change{}
	}

	index := make(map[string]rune)
	var table []string
	encode := func(text string) []rune {
		var out []rune
		for _, line := range splitLines(text) {
			r, ok := index[line]
			if !ok {
				r = lineRune(len(table))
				index[line] = r
				table = append(table, line)
			}
			out = append(out, r)
		}
		return out
	}
	a, b := encode(oldText), encode(newText)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(a, b, false)

	changes := make([]Change, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		var value strings.Builder
		for _, r := range d.Text {
			value.WriteString(table[runeLine(r)])
		}
		c := Change{Value: value.String()}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			c.Added = true
		case diffmatchpatch.DiffDelete:
			c.Removed = true
		}
		if n := len(changes); n > 0 && changes[n-1].Added == c.Added && changes[n-1].Removed == c.Removed {
			changes[n-1].Value += c.Value
			continue
		}
		changes = append(changes, c)
	}
	return changes
}

// lineRune maps a line number to a rune that survives a string round trip,
// stepping over the surrogate range.
func lineRune(i int) rune {
	if i >= surrogateMin {
		i += surrogateMax - surrogateMin + 1
	}
	return rune(i)
}

func runeLine(r rune) int {
	if r > surrogateMax {
		r -= surrogateMax - surrogateMin + 1
	}
	return int(r)
}

// splitLines cuts text after every newline; a final line without one is
// kept as its own entry.
func splitLines(text string) []string {
	var lines []string
	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)
			break
		}
		lines = append(lines, text[:i+1])
		text = text[i+1:]
	}
	return lines
}

// Apply rebuilds the target text from source and a script produced by Lines.
// An empty script leaves source unchanged.
func Apply(source string, changes []Change) (string, error) {
	if len(changes) == 0 {
		return source, nil
	}
	var out strings.Builder
	out.Grow(len(source))
	rest := source
	for i, c := range changes {
		if c.Added && c.Removed {
			return "", fmt.Errorf("change %d is both added and removed: %w", i, ErrMismatch)
		}
		if c.Added {
			out.WriteString(c.Value)
			continue
		}
		if !strings.HasPrefix(rest, c.Value) {
			return "", fmt.Errorf("change %d: %w", i, ErrMismatch)
		}
		rest = rest[len(c.Value):]
		if !c.Removed {
			out.WriteString(c.Value)
		}
	}
	if rest != "" {
		return "", fmt.Errorf("%d trailing bytes not covered: %w", len(rest), ErrMismatch)
	}
	return out.String(), nil
}
