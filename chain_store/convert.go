package chain_store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"ptrscan/chain"
)

// WriteText writes one chain per line in chain text form.
func WriteText(w io.Writer, chains []chain.Chain) error {
	bw := bufio.NewWriter(w)
	for _, c := range chains {
		if _, err := fmt.Fprintln(bw, c.String()); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// ReadText parses a file produced by WriteText. Blank lines and lines
// starting with # are skipped.
func ReadText(r io.Reader) ([]chain.Chain, error) {
	var chains []chain.Chain
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		c, err := chain.ParseChainText(text)
		if err != nil {
			return chains, fmt.Errorf("line %d: %w", line, err)
		}
		chains = append(chains, c)
	}
	if err := sc.Err(); err != nil {
		return chains, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return chains, nil
}

// ConvertToText rewrites a binary scan-result file as text, one chain per
// line. The count of converted chains is returned.
func ConvertToText(src, dst string) (int, error) {
	_, chains, err := LoadChains(src)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := WriteText(f, chains); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return len(chains), nil
}

// LoadAny reads chains from either a binary scan-result file or a text file.
func LoadAny(path string) ([]chain.Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(chainMagic))
	if string(magic) == chainMagic {
		_, chains, err := ReadChains(br)
		if err != nil {
			return nil, err
		}
		return chains, nil
	}
	return ReadText(br)
}

// Intersect returns the chains of a that also appear in b, compared by
// module name, base offset and offsets. The result is sorted and free of
// duplicates.
func Intersect(a, b []chain.Chain) []chain.Chain {
	seen := make(map[string]struct{}, len(b))
	for _, c := range b {
		seen[c.String()] = struct{}{}
	}

	var out []chain.Chain
	for _, c := range a {
		key := c.String()
		if _, ok := seen[key]; ok {
			out = append(out, c)
			delete(seen, key)
		}
	}
	slices.SortFunc(out, chain.Chain.Compare)
	return out
}
