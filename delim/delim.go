// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package delim streams semicolon-delimited text files
// into per-record callbacks with bounded memory.
//
// The reader works in large chunks: it fills a buffer,
// splits it into lines keeping the trailing incomplete
// line for the next fill, and chops each line into
// fields honoring simple double-quote grouping. Its
// live working set is one chunk plus the carried tail
// regardless of input size. Gzip- and zstd-compressed
// inputs are decompressed transparently.
package delim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultChunkSize is the read granularity.
const DefaultChunkSize = 8 << 20

// maxLoggedErrors bounds the per-record error log;
// beyond this only the counter advances.
const maxLoggedErrors = 100

// Field describes one schema column.
type Field struct {
	// Name is the canonical header name,
	// matched case-insensitively.
	Name string
	// Alt lists alternative header spellings.
	Alt []string
	// Required marks fields whose absence from
	// the header is a HeaderError.
	Required bool
}

// Schema is the expected header layout of a file.
type Schema struct {
	Fields []Field
	// Strict additionally requires the header fields
	// to appear exactly in schema order with no
	// extras, the way fixed exports are written.
	Strict bool
}

// HeaderError reports a header line that does
// not satisfy the schema.
type HeaderError struct {
	Missing string
	Got     string
}

func (e *HeaderError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("delim: header is missing required field %q", e.Missing)
	}
	return fmt.Sprintf("delim: unexpected header %q", e.Got)
}

// RecordError is one malformed data record.
type RecordError struct {
	Line   int
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("delim: line %d: %s", e.Line, e.Reason)
}

// Stats accumulates over one Run.
type Stats struct {
	// Bytes is the on-disk size consumed,
	// before decompression.
	Bytes int64
	// Digest is the xxhash64 of the on-disk bytes.
	Digest uint64
	// Records is the number of callback invocations.
	Records int
	// Skipped counts records dropped for parse errors.
	Skipped int
	// Errors holds the first errors encountered,
	// capped at maxLoggedErrors; Skipped keeps the
	// true total.
	Errors []RecordError
}

// Reader streams one delimited file.
type Reader struct {
	// Path is the input file. Files ending up being
	// gzip or zstd streams (detected by magic bytes,
	// not extension) are decompressed on the fly.
	Path string
	// Schema describes the expected header.
	Schema Schema
	// Delim is the field separator; ';' if zero.
	Delim byte
	// ChunkSize overrides DefaultChunkSize when > 0.
	ChunkSize int
	// SkipErrors makes malformed records count-and-skip
	// instead of aborting the run.
	SkipErrors bool
}

// Record is the field view passed to the Run callback.
// Fields are positioned by schema index; a nil entry
// means the header did not carry that column. Slices
// alias the read buffer and are only valid during the
// callback.
type Record struct {
	Line   int
	Fields [][]byte
}

// Run streams the file, invoking fn once per valid
// data record in file order. fn returning an error
// aborts the run with that error.
func (r *Reader) Run(fn func(rec *Record) error) (Stats, error) {
	var st Stats
	f, err := os.Open(r.Path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	digest := xxhash.New()
	src, err := decompressed(io.TeeReader(&countReader{r: f, n: &st.Bytes}, digest))
	if err != nil {
		return st, fmt.Errorf("delim: %s: %w", r.Path, err)
	}

	delim := r.Delim
	if delim == 0 {
		delim = ';'
	}
	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	var (
		buf       = make([]byte, chunk)
		tail      []byte
		line      int
		colmap    []int // header position -> schema index, -1 to drop
		fields    = make([][]byte, 0, 16)
		out       = make([][]byte, len(r.Schema.Fields))
		rec       Record
		sawHeader bool
	)
	rec.Fields = out

	process := func(ln []byte) error {
		line++
		ln = trimCR(ln)
		if !sawHeader {
			if len(ln) == 0 {
				return nil
			}
			ln = stripBOM(ln)
			m, err := r.Schema.match(splitFields(ln, delim, fields[:0]))
			if err != nil {
				return err
			}
			colmap = m
			sawHeader = true
			return nil
		}
		if len(ln) == 0 {
			return nil
		}
		fs := splitFields(ln, delim, fields[:0])
		fields = fs
		if len(fs) != len(colmap) {
			return r.recordErr(&st, line, fmt.Sprintf("got %d fields, header has %d", len(fs), len(colmap)))
		}
		for i := range out {
			out[i] = nil
		}
		for i, f := range fs {
			if si := colmap[i]; si >= 0 {
				out[si] = f
			}
		}
		rec.Line = line
		if err := fn(&rec); err != nil {
			var re *RecordError
			if errors.As(err, &re) {
				return r.recordErr(&st, line, re.Reason)
			}
			return err
		}
		st.Records++
		return nil
	}

	for {
		n, rerr := io.ReadFull(src, buf)
		data := buf[:n]
		if len(tail) > 0 {
			data = append(tail, data...)
			tail = tail[:0]
		}
		eof := rerr == io.EOF || rerr == io.ErrUnexpectedEOF
		if rerr != nil && !eof {
			return st, rerr
		}
		for {
			nl := bytes.IndexByte(data, '\n')
			if nl < 0 {
				break
			}
			if err := process(data[:nl]); err != nil {
				return st, err
			}
			data = data[nl+1:]
		}
		if eof {
			if len(data) > 0 {
				if err := process(data); err != nil {
					return st, err
				}
			}
			break
		}
		// keep the incomplete final line; it must survive
		// the next buffer fill, so it cannot alias buf
		tail = append(tail[:0], data...)
	}
	if !sawHeader {
		return st, &HeaderError{Got: "(empty file)"}
	}
	st.Digest = digest.Sum64()
	return st, nil
}

// Err wraps reason into the error type that Run's
// callback may return to have the current record
// skipped (under SkipErrors) instead of aborting.
func Err(reason string) error {
	return &RecordError{Reason: reason}
}

// Errf is Err with formatting.
func Errf(format string, args ...any) error {
	return &RecordError{Reason: fmt.Sprintf(format, args...)}
}

func (r *Reader) recordErr(st *Stats, line int, reason string) error {
	if !r.SkipErrors {
		return &RecordError{Line: line, Reason: reason}
	}
	st.Skipped++
	if len(st.Errors) < maxLoggedErrors {
		st.Errors = append(st.Errors, RecordError{Line: line, Reason: reason})
	}
	return nil
}

// match maps header positions to schema indices.
func (s *Schema) match(hdr [][]byte) ([]int, error) {
	names := make([]string, len(hdr))
	for i, h := range hdr {
		names[i] = strings.ToLower(strings.TrimSpace(string(h)))
	}
	if s.Strict {
		if len(names) != len(s.Fields) {
			return nil, &HeaderError{Got: strings.Join(names, ";")}
		}
		m := make([]int, len(names))
		for i, f := range s.Fields {
			if !f.accepts(names[i]) {
				return nil, &HeaderError{Got: strings.Join(names, ";")}
			}
			m[i] = i
		}
		return m, nil
	}
	m := make([]int, len(names))
	seen := make([]bool, len(s.Fields))
	for i, n := range names {
		m[i] = -1
		for j := range s.Fields {
			if !seen[j] && s.Fields[j].accepts(n) {
				m[i] = j
				seen[j] = true
				break
			}
		}
	}
	for j, f := range s.Fields {
		if f.Required && !seen[j] {
			return nil, &HeaderError{Missing: f.Name}
		}
	}
	return m, nil
}

func (f *Field) accepts(name string) bool {
	if strings.EqualFold(f.Name, name) {
		return true
	}
	for _, a := range f.Alt {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// splitFields chops line on delim, honoring double-quote
// grouping with "" as an escaped quote. Fields without
// escapes alias line; only escaped fields allocate.
func splitFields(line []byte, delim byte, dst [][]byte) [][]byte {
	i := 0
	for {
		field, next := scanField(line, i, delim)
		dst = append(dst, field)
		if next < 0 {
			return dst
		}
		i = next
	}
}

// scanField parses the field starting at offset i.
// next is the offset just past the field's trailing
// delimiter, or -1 when the field ends the line.
func scanField(line []byte, i int, delim byte) (field []byte, next int) {
	if i >= len(line) {
		return line[len(line):], -1
	}
	if line[i] != '"' {
		if k := bytes.IndexByte(line[i:], delim); k >= 0 {
			return line[i : i+k], i + k + 1
		}
		return line[i:], -1
	}
	// quoted field
	var buf []byte // non-nil once an escape was seen
	j := i + 1
	start := j
	for j < len(line) {
		if line[j] != '"' {
			j++
			continue
		}
		if j+1 < len(line) && line[j+1] == '"' {
			buf = append(buf, line[start:j]...)
			buf = append(buf, '"')
			j += 2
			start = j
			continue
		}
		// closing quote
		if buf == nil {
			field = line[start:j]
		} else {
			field = append(buf, line[start:j]...)
		}
		j++
		if j >= len(line) {
			return field, -1
		}
		if line[j] == delim {
			return field, j + 1
		}
		// stray bytes after the closing quote:
		// take them verbatim up to the delimiter
		if k := bytes.IndexByte(line[j:], delim); k >= 0 {
			return append(append([]byte(nil), field...), line[j:j+k]...), j + k + 1
		}
		return append(append([]byte(nil), field...), line[j:]...), -1
	}
	// unterminated quote: field is the rest of the line
	return append(buf, line[start:]...), -1
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xef, 0xbb, 0xbf})
}

// decompressed sniffs gzip and zstd magic bytes and
// wraps r accordingly.
func decompressed(r io.Reader) (io.Reader, error) {
	var magic [4]byte
	n, err := io.ReadFull(r, magic[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	head := io.MultiReader(bytes.NewReader(magic[:n]), r)
	switch {
	case n >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(head)
	case n >= 4 && magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd:
		zr, err := zstd.NewReader(head)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return head, nil
}

type countReader struct {
	r io.Reader
	n *int64
}

func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}
