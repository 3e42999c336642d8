package tui

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// VisualWidth returns the display width of text, accounting for multi-byte characters
func VisualWidth(s string) int {
	return runewidth.StringWidth(s)
}

// CleanText strips terminal escape sequences and flattens whitespace so
// payload text cannot break the table layout.
func CleanText(s string) string {
	s = ansi.Strip(s)
	return strings.Join(strings.Fields(s), " ")
}

// Truncate truncates text to maxLen characters (visual width) with optional ellipsis
func Truncate(s string, maxLen int, ellipsis bool) string {
	s = strings.TrimSpace(s)
	if maxLen <= 0 {
		return ""
	}
	if VisualWidth(s) <= maxLen {
		return s
	}
	if ellipsis && maxLen > 3 {
		return runewidth.Truncate(s, maxLen-3, "") + "..."
	}
	return runewidth.Truncate(s, maxLen, "")
}

// TruncateAndPad truncates text with optional ellipsis and pads to exact width
// Used for table cells to maintain consistent column widths
func TruncateAndPad(s string, width int, ellipsis bool) string {
	s = Truncate(s, width, ellipsis)
	if w := VisualWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// TruncateStyled truncates already-styled text without cutting through an
// escape sequence.
func TruncateStyled(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return ansi.Truncate(s, width, "…")
}

// Wrap wraps text to the specified width, breaking on word boundaries when possible
// Long words that exceed width are broken mid-word
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}

	var result strings.Builder
	lineLength := 0
	for _, word := range words {
		wordLen := VisualWidth(word)

		if wordLen > width {
			if lineLength > 0 {
				result.WriteString("\n")
			}
			chunks := breakWord(word, width)
			result.WriteString(strings.Join(chunks, "\n"))
			lineLength = VisualWidth(chunks[len(chunks)-1])
			continue
		}

		switch {
		case lineLength == 0:
			result.WriteString(word)
			lineLength = wordLen
		case lineLength+1+wordLen <= width:
			result.WriteString(" ")
			result.WriteString(word)
			lineLength += 1 + wordLen
		default:
			result.WriteString("\n")
			result.WriteString(word)
			lineLength = wordLen
		}
	}

	return result.String()
}

// breakWord splits word into pieces no wider than width.
func breakWord(word string, width int) []string {
	var chunks []string
	var cur strings.Builder
	curWidth := 0
	for _, r := range word {
		rw := runewidth.RuneWidth(r)
		if curWidth+rw > width && curWidth > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curWidth = 0
		}
		cur.WriteRune(r)
		curWidth += rw
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// SplitLines splits text by newlines, returning empty slice if text is empty
func SplitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

// CompactJSON renders raw on one line for table cells.
func CompactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return CleanText(string(raw))
	}
	return CleanText(buf.String())
}

// IndentJSON renders raw for the detail panel.
func IndentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return ansi.Strip(string(raw))
	}
	return ansi.Strip(buf.String())
}
