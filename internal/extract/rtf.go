package extract

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// rtfSkipped lists destinations whose content is not document text
var rtfSkipped = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true, "pict": true,
	"header": true, "headerl": true, "headerr": true, "headerf": true,
	"footer": true, "footerl": true, "footerr": true, "footerf": true,
	"object": true, "themedata": true, "colorschememapping": true,
	"datastore": true, "latentstyles": true, "listtable": true, "listoverridetable": true,
	"rsidtbl": true, "generator": true, "xmlnstbl": true, "mmathPr": true,
}

// rtfSymbols maps control words to the text they stand for
var rtfSymbols = map[string]string{
	"par": "\n", "line": "\n", "sect": "\n\n", "page": "\n\n", "row": "\n",
	"tab": "\t", "cell": " ",
	"emdash": "—", "endash": "–", "bullet": "•",
	"lquote": "‘", "rquote": "’", "ldblquote": "“", "rdblquote": "”",
	"emspace": " ", "enspace": " ", "qmspace": " ",
}

func extractRTF(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read rtf: %w", err)
	}
	return rtfToText(string(data))
}

type rtfState struct {
	skip   bool
	ucSkip int // characters to drop after a \u escape
}

// rtfToText strips RTF markup. \'hh escapes are decoded as Windows-1252.
func rtfToText(src string) (string, error) {
	if !strings.HasPrefix(strings.TrimSpace(src), "{\\rtf") {
		return "", fmt.Errorf("not an rtf document")
	}

	var (
		out     strings.Builder
		stack   []rtfState
		state   = rtfState{ucSkip: 1}
		pending int // fallback characters still to drop
		decoder = charmap.Windows1252.NewDecoder()
	)

	emit := func(s string) {
		if state.skip {
			return
		}
		if pending > 0 {
			pending--
			return
		}
		out.WriteString(s)
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch c {
		case '{':
			stack = append(stack, state)
			pending = 0
			i++
		case '}':
			if len(stack) > 0 {
				state = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}
			pending = 0
			i++
		case '\\':
			i++
			if i >= len(src) {
				break
			}
			switch next := src[i]; {
			case next == '\\' || next == '{' || next == '}':
				emit(string(next))
				i++
			case next == '~':
				emit(" ")
				i++
			case next == '-' || next == '_':
				i++
			case next == '*':
				state.skip = true
				i++
			case next == '\'':
				if i+2 < len(src) {
					if b, err := strconv.ParseUint(src[i+1:i+3], 16, 8); err == nil {
						if s, err := decoder.String(string([]byte{byte(b)})); err == nil {
							emit(s)
						}
					}
				}
				i += 3
			case next == '\n' || next == '\r':
				emit("\n")
				i++
			case isASCIILetter(next):
				start := i
				for i < len(src) && isASCIILetter(src[i]) {
					i++
				}
				word := src[start:i]

				paramStart := i
				if i < len(src) && src[i] == '-' {
					i++
				}
				for i < len(src) && src[i] >= '0' && src[i] <= '9' {
					i++
				}
				param := src[paramStart:i]
				if i < len(src) && src[i] == ' ' {
					i++
				}

				switch {
				case rtfSkipped[word]:
					state.skip = true
				case word == "uc":
					if n, err := strconv.Atoi(param); err == nil {
						state.ucSkip = n
					}
				case word == "u":
					if n, err := strconv.Atoi(param); err == nil {
						if n < 0 {
							n += 65536
						}
						emit(string(rune(n)))
						pending = state.ucSkip
					}
				default:
					if s, ok := rtfSymbols[word]; ok {
						emit(s)
					}
				}
			default:
				i++
			}
		case '\r', '\n':
			i++
		default:
			emit(src[i : i+1])
			i++
		}
	}

	return out.String(), nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
