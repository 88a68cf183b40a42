package indexer

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// SegmentCode splits source text into ordered chunks of at most maxBytes.
//
// Top-level blocks found by detector are packed greedily; a block that does
// not fit alone is packed line by line, and a line that does not fit alone
// is cut at byte offsets. Consecutive chunks share up to overlapBytes of
// whole lines. A nil detector packs plain lines.
func SegmentCode(text string, maxBytes, overlapBytes int, detector BoundaryDetector) ([]string, error) {
	if err := checkBudget(maxBytes, overlapBytes); err != nil {
		return nil, err
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, nil
	}

	p := newPacker(maxBytes, overlapBytes, "\n", lineTail)

	splitLine := func(unit []string) {
		p.hardSplit(unit[0], false)
	}
	packLines := func(block []string) {
		for _, line := range block {
			p.push([]string{line}, splitLine)
		}
	}

	for _, block := range Blocks(lines, detector) {
		p.push(block, packLines)
	}

	return p.finish(), nil
}

// SegmentDoc splits prose into ordered chunks of at most maxBytes using
// paragraphs as the packing unit. The next chunk starts with the last
// overlapBytes of the previous one, cut on a rune boundary.
func SegmentDoc(text string, maxBytes, overlapBytes int) ([]string, error) {
	if err := checkBudget(maxBytes, overlapBytes); err != nil {
		return nil, err
	}

	const sep = "\n\n"
	p := newPacker(maxBytes, overlapBytes, sep, byteTail(sep))

	splitParagraph := func(unit []string) {
		p.hardSplit(unit[0], true)
	}

	for _, para := range paragraphs(text) {
		p.push([]string{para}, splitParagraph)
	}

	return p.finish(), nil
}

func checkBudget(maxBytes, overlapBytes int) error {
	if maxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}
	if overlapBytes < 0 || overlapBytes >= maxBytes {
		return fmt.Errorf("overlap bytes must be in [0, %d), got %d", maxBytes, overlapBytes)
	}
	return nil
}

// Blocks partitions lines at the boundaries reported by detector. Index 0 is
// always a boundary and blocks without any non-blank line are dropped.
func Blocks(lines []string, detector BoundaryDetector) [][]string {
	starts := []int{0}
	if detector != nil {
		for _, i := range detector.Boundaries(lines) {
			if i > 0 && i < len(lines) {
				starts = append(starts, i)
			}
		}
	}
	sort.Ints(starts)

	var blocks [][]string
	for i, start := range starts {
		if i > 0 && start == starts[i-1] {
			continue
		}
		end := len(lines)
		for _, next := range starts[i+1:] {
			if next > start {
				end = next
				break
			}
		}
		block := lines[start:end]
		if !isBlank(block) {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// packer accumulates parts into chunks joined by sep without exceeding
// maxBytes. tail picks the overlap carried into the next chunk from the
// parts of the chunk just emitted.
type packer struct {
	maxBytes     int
	overlapBytes int
	sep          string
	tail         func(parts []string, budget int) []string

	chunks  []string
	parts   []string
	size    int // len(strings.Join(parts, sep))
	seedLen int // leading parts carried over as overlap
}

func newPacker(maxBytes, overlapBytes int, sep string, tail func([]string, int) []string) *packer {
	return &packer{
		maxBytes:     maxBytes,
		overlapBytes: overlapBytes,
		sep:          sep,
		tail:         tail,
	}
}

// push adds unit to the running chunk, emitting first when it would
// overflow. A unit larger than maxBytes on its own goes to oversize.
func (p *packer) push(unit []string, oversize func([]string)) {
	n := p.joinedSize(unit)
	if p.fits(n) {
		p.append(unit)
		return
	}

	if p.hasFresh() {
		p.emit()
		if p.fits(n) {
			p.append(unit)
			return
		}
	}

	if n <= p.maxBytes {
		p.shrinkSeed(n)
		p.append(unit)
		return
	}

	oversize(unit)
}

// hardSplit cuts text at byte offsets into pieces of at most maxBytes that
// share overlapBytes. Invalid UTF-8 left at a cut is dropped. With keepLast
// the final piece stays open for further packing.
func (p *packer) hardSplit(text string, keepLast bool) {
	p.emit()
	p.reset()

	pieces := splitBytes(text, p.maxBytes, p.overlapBytes)
	for i, piece := range pieces {
		if keepLast && i == len(pieces)-1 {
			p.parts = []string{piece}
			p.size = len(piece)
			return
		}
		piece = strings.TrimRightFunc(piece, unicode.IsSpace)
		if strings.TrimSpace(piece) != "" {
			p.chunks = append(p.chunks, piece)
		}
	}
}

// emit finalizes the running chunk if it holds anything beyond its overlap
// seed, then seeds the next chunk from it.
func (p *packer) emit() {
	if !p.hasFresh() {
		return
	}

	parts := trimTrailingBlank(p.parts)
	last := len(parts) - 1
	parts[last] = strings.TrimRightFunc(parts[last], unicode.IsSpace)
	p.chunks = append(p.chunks, strings.Join(parts, p.sep))

	p.reset()
	if p.overlapBytes > 0 {
		p.seed(p.tail(parts, p.overlapBytes))
	}
}

func (p *packer) finish() []string {
	p.emit()
	p.reset()
	return p.chunks
}

// shrinkSeed drops overlap from the front so that a unit of n bytes fits.
func (p *packer) shrinkSeed(n int) {
	seed := p.parts[:p.seedLen]
	p.reset()

	budget := p.maxBytes - n - len(p.sep)
	if budget > 0 && len(seed) > 0 {
		p.seed(p.tail(seed, budget))
	}
}

func (p *packer) seed(parts []string) {
	p.parts = append([]string(nil), parts...)
	p.size = p.joinedSize(p.parts)
	p.seedLen = len(p.parts)
}

func (p *packer) reset() {
	p.parts = nil
	p.size = 0
	p.seedLen = 0
}

func (p *packer) append(unit []string) {
	if len(p.parts) > 0 {
		p.size += len(p.sep)
	}
	p.parts = append(p.parts, unit...)
	p.size += p.joinedSize(unit)
}

func (p *packer) fits(n int) bool {
	if len(p.parts) == 0 {
		return n <= p.maxBytes
	}
	return p.size+len(p.sep)+n <= p.maxBytes
}

func (p *packer) hasFresh() bool {
	return !isBlank(p.parts[p.seedLen:])
}

func (p *packer) joinedSize(parts []string) int {
	if len(parts) == 0 {
		return 0
	}
	n := len(p.sep) * (len(parts) - 1)
	for _, s := range parts {
		n += len(s)
	}
	return n
}

// lineTail returns the last whole lines whose encoded size, newline
// included, adds up to at most budget.
func lineTail(lines []string, budget int) []string {
	size := 0
	i := len(lines)
	for i > 0 {
		lb := len(lines[i-1]) + 1
		if size+lb > budget {
			break
		}
		size += lb
		i--
	}
	return lines[i:]
}

// byteTail returns a tail function keeping the last budget bytes of the
// joined parts as a single part.
func byteTail(sep string) func([]string, int) []string {
	return func(parts []string, budget int) []string {
		text := strings.Join(parts, sep)
		if len(text) > budget {
			text = text[len(text)-budget:]
		}
		text = strings.TrimLeftFunc(strings.ToValidUTF8(text, ""), unicode.IsSpace)
		if text == "" {
			return nil
		}
		return []string{text}
	}
}

func splitBytes(s string, maxBytes, overlapBytes int) []string {
	step := maxBytes - overlapBytes
	if step <= 0 {
		step = maxBytes
	}

	var pieces []string
	for start := 0; start < len(s); start += step {
		end := min(start+maxBytes, len(s))
		if piece := strings.ToValidUTF8(s[start:end], ""); piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(s) {
			break
		}
	}
	return pieces
}

// splitLines splits text on any line ending. A trailing newline does not
// produce an empty last line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// paragraphs returns maximal runs of non-blank lines, right-trimmed.
func paragraphs(text string) []string {
	var (
		paras   []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			paras = append(paras, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range splitLines(text) {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return paras
}

func trimTrailingBlank(parts []string) []string {
	end := len(parts)
	for end > 0 && strings.TrimSpace(parts[end-1]) == "" {
		end--
	}
	return parts[:end]
}

func isBlank(parts []string) bool {
	for _, s := range parts {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}
