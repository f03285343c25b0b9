package parsers

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/haukened/nullroute/internal/dns/domain"
)

const (
	// maxLineBytes bounds a single source line. Longer lines are skipped.
	maxLineBytes = 1 << 20
	readBufBytes = 64 * 1024
)

// eachLine calls fn for every line of r, numbered from 1, without its line
// ending. A line longer than maxLineBytes is not buffered; fn gets it with
// an empty text and tooLong set. Only a read error other than io.EOF is
// returned.
func eachLine(r io.Reader, fn func(lineNum int, text string, tooLong bool)) (int, error) {
	br := bufio.NewReaderSize(r, readBufBytes)
	var (
		buf     []byte
		tooLong bool
		pending bool
		lineNum int
	)
	flush := func() {
		lineNum++
		fn(lineNum, string(buf), tooLong)
		buf, tooLong, pending = buf[:0], false, false
	}
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if pending {
				flush()
			}
			if errors.Is(err, io.EOF) {
				return lineNum, nil
			}
			return lineNum, err
		}
		pending = true
		switch {
		case tooLong:
		case len(buf)+len(chunk) > maxLineBytes:
			buf, tooLong = buf[:0], true
		default:
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			flush()
		}
	}
}

// nullRouteAddrs are the addresses hosts-format block lists point names at.
var nullRouteAddrs = map[string]struct{}{
	"0.0.0.0":   {},
	"127.0.0.1": {},
	"::":        {},
	"::1":       {},
}

// localhostAliases never get blocked even when a list names them.
var localhostAliases = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

func isNullRoute(tok string) bool {
	_, ok := nullRouteAddrs[tok]
	return ok
}

func isLocalhostAlias(name string) bool {
	_, ok := localhostAliases[name]
	return ok
}

// isValidHostname reports whether a canonical name passes
// domain.ValidateHostname.
func isValidHostname(name string) bool {
	return domain.ValidateHostname(name) == nil
}

// stripLineBOM removes a UTF-8 byte order mark some list publishers prepend.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// stripInlineComment drops everything from the first '#' and trims the rest.
func stripInlineComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
