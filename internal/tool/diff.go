package tool

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContextLines is the number of unchanged lines shown around each hunk.
const diffContextLines = 4

// computeDiff builds a unified diff between two file states plus line-based
// addition/deletion counts.
func computeDiff(before, after, path string) (string, int, int) {
	dmp := diffmatchpatch.New()

	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	return unifiedDiff(diffs, path), additions, deletions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}

type diffLine struct {
	text string
	op   diffmatchpatch.Operation
}

type diffHunk struct {
	startOld, countOld int
	startNew, countNew int
	lines              []diffLine
}

// unifiedDiff renders diffs as a unified patch with context.
func unifiedDiff(diffs []diffmatchpatch.Diff, path string) string {
	hasChanges := false
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return ""
	}

	var allLines []diffLine
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			allLines = append(allLines, diffLine{text: line, op: d.Type})
		}
	}

	var hunks []diffHunk
	var current *diffHunk

	for i, line := range allLines {
		isChange := line.op != diffmatchpatch.DiffEqual

		if isChange {
			if current == nil {
				contextStart := i - diffContextLines
				if contextStart < 0 {
					contextStart = 0
				}

				startOld, startNew := 1, 1
				for j := 0; j < contextStart; j++ {
					switch allLines[j].op {
					case diffmatchpatch.DiffEqual:
						startOld++
						startNew++
					case diffmatchpatch.DiffDelete:
						startOld++
					case diffmatchpatch.DiffInsert:
						startNew++
					}
				}

				current = &diffHunk{startOld: startOld, startNew: startNew}
				for j := contextStart; j < i; j++ {
					current.lines = append(current.lines, allLines[j])
				}
			}
			current.lines = append(current.lines, line)
		} else if current != nil {
			// Close the hunk unless another change follows within range.
			nextChange := -1
			for j := i + 1; j < len(allLines) && j <= i+diffContextLines*2; j++ {
				if allLines[j].op != diffmatchpatch.DiffEqual {
					nextChange = j
					break
				}
			}

			if nextChange != -1 {
				current.lines = append(current.lines, line)
			} else {
				for j := i; j < len(allLines) && j < i+diffContextLines; j++ {
					if allLines[j].op != diffmatchpatch.DiffEqual {
						break
					}
					current.lines = append(current.lines, allLines[j])
				}
				hunks = append(hunks, finishHunk(current))
				current = nil
			}
		}
	}

	if current != nil {
		hunks = append(hunks, finishHunk(current))
	}

	var buf strings.Builder
	buf.WriteString("--- " + path + "\n")
	buf.WriteString("+++ " + path + "\n")

	for _, h := range hunks {
		buf.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", h.startOld, h.countOld, h.startNew, h.countNew))
		for _, line := range h.lines {
			switch line.op {
			case diffmatchpatch.DiffEqual:
				buf.WriteString(" ")
			case diffmatchpatch.DiffDelete:
				buf.WriteString("-")
			case diffmatchpatch.DiffInsert:
				buf.WriteString("+")
			}
			buf.WriteString(line.text)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func finishHunk(h *diffHunk) diffHunk {
	for _, l := range h.lines {
		switch l.op {
		case diffmatchpatch.DiffEqual:
			h.countOld++
			h.countNew++
		case diffmatchpatch.DiffDelete:
			h.countOld++
		case diffmatchpatch.DiffInsert:
			h.countNew++
		}
	}
	return *h
}
