package artifact

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/autolock/internal/protocol"
)

// KindLine is a verbatim line in a strategy file or template.
const KindLine Kind = "line"

// strategySuffix is appended to every directive the engine must report back.
const strategySuffix = ":strategy="

// reportedFlags mark the directive lines that carry a strategy id.
var reportedFlags = []string{"--lua-desync=", "--dpi-desync="}

// Template is one strategy template file for a protocol family.
type Template struct {
	Protocol protocol.Protocol
	Name     string
	Content  string
}

// NumberedFile is a template with a strategy id on every reported directive.
type NumberedFile struct {
	Protocol protocol.Protocol
	Name     string
	Doc      Document
}

// Range is the inclusive strategy id range a protocol owns. The zero
// Range holds no ids.
type Range struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Contains reports whether id lies in r.
func (r Range) Contains(id int) bool {
	return r.First > 0 && id >= r.First && id <= r.Last
}

// Len is the number of ids in r.
func (r Range) Len() int {
	if r.First == 0 {
		return 0
	}
	return r.Last - r.First + 1
}

// Numbering is the result of Number.
type Numbering struct {
	Files  []NumberedFile
	Ranges map[protocol.Protocol]Range
}

// Valid reports whether strategy belongs to p's id range.
func (n Numbering) Valid(p protocol.Protocol, strategy int) bool {
	return n.Ranges[p].Contains(strategy)
}

// Total is the number of strategies assigned.
func (n Numbering) Total() int {
	total := 0
	for _, r := range n.Ranges {
		total += r.Len()
	}
	return total
}

// Number assigns strategy ids from one counter starting at 1. Templates are
// processed in protocol order (TLS, HTTP, UDP) and, within a protocol, in
// the order given. Comments and blank lines are kept; stale suffixes from a
// previous run are replaced.
func Number(templates []Template) (Numbering, error) {
	ordered := slices.Clone(templates)
	for _, t := range ordered {
		if !t.Protocol.Valid() {
			return Numbering{}, fmt.Errorf("template %s: unknown protocol %q", t.Name, t.Protocol)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return protocolIndex(ordered[i].Protocol) < protocolIndex(ordered[j].Protocol)
	})

	out := Numbering{Ranges: make(map[protocol.Protocol]Range, len(protocol.All))}
	next := 1
	for _, t := range ordered {
		file := NumberedFile{Protocol: t.Protocol, Name: t.Name}
		for _, line := range splitLines(t.Content) {
			if !isReported(line) {
				file.Doc.Add(KindLine, line)
				continue
			}
			file.Doc.Add(KindLine, stripStrategy(line)+strategySuffix+strconv.Itoa(next))

			r := out.Ranges[t.Protocol]
			if r.First == 0 {
				r.First = next
			}
			r.Last = next
			out.Ranges[t.Protocol] = r
			next++
		}
		out.Files = append(out.Files, file)
	}
	return out, nil
}

func protocolIndex(p protocol.Protocol) int {
	return slices.Index(protocol.All, p)
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func isReported(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	for _, flag := range reportedFlags {
		if strings.Contains(trimmed, flag) {
			return true
		}
	}
	return false
}

// stripStrategy removes trailing whitespace and a trailing ":strategy=N".
func stripStrategy(line string) string {
	line = strings.TrimRight(line, " \t")
	i := strings.LastIndex(line, strategySuffix)
	if i < 0 {
		return line
	}
	digits := line[i+len(strategySuffix):]
	if digits == "" {
		return line
	}
	if _, err := strconv.Atoi(digits); err != nil {
		return line
	}
	return line[:i]
}

// Strategy renders a numbered file or template verbatim.
var Strategy = FormatterFunc(func(d Directive) (string, error) {
	if d.Kind != KindLine {
		return "", fmt.Errorf("strategy file: unsupported directive %q", d.Kind)
	}
	if err := wantArgs(d, 1); err != nil {
		return "", err
	}
	return d.Args[0], nil
})
