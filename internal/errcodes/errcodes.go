// Package errcodes resolves module error codes to descriptions.
//
// Tables are plain text: one "code=description" entry per line, codes in
// decimal or 0x-prefixed hex. Blank lines, "#" or ";" comments and "[section]"
// headers are ignored. A "Version=..." entry names the table revision.
package errcodes

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Undefined is returned for codes missing from the table.
const Undefined = "Undefined Error Code"

// Table maps module error codes to descriptions.
type Table struct {
	version string
	entries map[uint32]string
}

// Empty returns a table that knows no codes.
func Empty() *Table {
	return &Table{entries: make(map[uint32]string)}
}

// Load reads a table from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open error codes: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a table from r.
func Parse(r io.Reader) (*Table, error) {
	t := Empty()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == ';' || text[0] == '[' {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		if strings.EqualFold(key, "version") {
			t.version = value
			continue
		}
		code, err := strconv.ParseUint(key, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad code %q: %w", line, key, err)
		}
		t.entries[uint32(code)] = value
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Lookup returns the description of code, or Undefined.
func (t *Table) Lookup(code uint32) string {
	if s, ok := t.entries[code]; ok && s != "" {
		return s
	}
	return Undefined
}

// Version returns the table revision, "(Not Loaded)" for an empty table.
func (t *Table) Version() string {
	if t.version == "" && len(t.entries) == 0 {
		return "(Not Loaded)"
	}
	return t.version
}

// Len returns the number of known codes.
func (t *Table) Len() int {
	return len(t.entries)
}
