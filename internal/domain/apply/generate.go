package apply

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines around each hunk.
const DefaultContext = 3

const noNewlineMarker = "\\ No newline at end of file\n"

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// Generate renders a single-file unified diff turning before into after,
// using DefaultContext lines of context. Empty before yields a creation diff
// against /dev/null. Identical inputs yield "".
func Generate(path string, before, after []byte) string {
	return GenerateContext(path, before, after, DefaultContext)
}

// GenerateContext is Generate with an explicit context width.
func GenerateContext(path string, before, after []byte, context int) string {
	if string(before) == string(after) {
		return ""
	}
	if context < 0 {
		context = 0
	}

	ops := lineOps(string(before), string(after))

	var b strings.Builder
	oldHeader, newHeader := "a/"+path, "b/"+path
	if len(before) == 0 {
		oldHeader = "/dev/null"
	}
	if len(after) == 0 {
		newHeader = "/dev/null"
	}
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldHeader, newHeader)

	for _, h := range hunkRanges(ops, context) {
		writeHunk(&b, ops, h[0], h[1])
	}
	return b.String()
}

// lineOps runs a line-mode diff and flattens it into one op per line.
func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = ' '
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// hunkRanges groups changed ops into [start, end) windows. Changes separated
// by more than 2*context unchanged lines land in separate hunks.
func hunkRanges(ops []lineOp, context int) [][2]int {
	var ranges [][2]int
	start, end := -1, -1
	for i, op := range ops {
		if op.kind == ' ' {
			continue
		}
		lo := max(i-context, 0)
		hi := min(i+1+context, len(ops))
		if start >= 0 && lo <= end {
			end = hi
			continue
		}
		if start >= 0 {
			ranges = append(ranges, [2]int{start, end})
		}
		start, end = lo, hi
	}
	if start >= 0 {
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}

func writeHunk(b *strings.Builder, ops []lineOp, start, end int) {
	oldBefore, newBefore := 0, 0
	for _, op := range ops[:start] {
		if op.kind != '+' {
			oldBefore++
		}
		if op.kind != '-' {
			newBefore++
		}
	}
	oldCount, newCount := 0, 0
	for _, op := range ops[start:end] {
		if op.kind != '+' {
			oldCount++
		}
		if op.kind != '-' {
			newCount++
		}
	}

	fmt.Fprintf(b, "@@ -%s +%s @@\n", hunkSpan(oldBefore, oldCount), hunkSpan(newBefore, newCount))
	for _, op := range ops[start:end] {
		b.WriteByte(op.kind)
		b.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			b.WriteString("\n")
			b.WriteString(noNewlineMarker)
		}
	}
}

// hunkSpan formats a range header. An empty range points at the line
// before it, as diff(1) does.
func hunkSpan(before, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", before)
	}
	return fmt.Sprintf("%d,%d", before+1, count)
}

// splitLines splits s after every newline, keeping the terminators.
func splitLines(s string) []string {
	var lines []string
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}
