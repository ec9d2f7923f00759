// Package fasta is a minimal FASTA reader for genome and query inputs.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is a single FASTA entry.
type Record struct {
	ID   string // first whitespace-delimited token after '>'
	Desc string // remainder of the header line, may be empty
	Seq  []byte
}

// Read parses every record in the file at path.
func Read(path string) ([]Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	recs, err := parse(fh)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return recs, nil
}

func parse(r io.Reader) ([]Record, error) {
	var (
		recs []Record
		cur  *Record
	)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		eof := err == io.EOF
		if err != nil && !eof {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 && line[0] == '>' {
			if cur != nil {
				recs = append(recs, *cur)
			}
			header := string(line[1:])
			fields := strings.Fields(header)
			if len(fields) == 0 {
				return nil, fmt.Errorf("empty FASTA header")
			}
			cur = &Record{ID: fields[0]}
			if rest := strings.TrimSpace(strings.TrimPrefix(header, fields[0])); rest != "" {
				cur.Desc = rest
			}
		} else if len(line) > 0 {
			if cur == nil {
				return nil, fmt.Errorf("sequence data before first header")
			}
			cur.Seq = append(cur.Seq, line...)
		}
		if eof {
			break
		}
	}
	if cur != nil {
		recs = append(recs, *cur)
	}
	return recs, nil
}

// IsFasta reports whether the first line of the file starts with '>'.
// Binary files (including BLAST database volumes) report false.
func IsFasta(path string) bool {
	fh, err := os.Open(path)
	if err != nil {
		return false
	}
	defer fh.Close()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(fh, buf); err != nil {
		return false
	}
	return buf[0] == '>'
}
