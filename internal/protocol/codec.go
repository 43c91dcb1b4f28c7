// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ContentType is the media type of a chunk stream.
const ContentType = "application/x-ndjson"

// =============================================================================
// ENCODER
// =============================================================================

// Flusher is implemented by writers that buffer, such as http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Encoder writes one chunk per line and flushes after each write so that
// the client sees every chunk as soon as it is produced.
type Encoder struct {
	mu    sync.Mutex
	w     io.Writer
	f     Flusher
	count int
	err   error
}

// NewEncoder creates an encoder. If w implements Flusher it is flushed after
// every chunk.
func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(Flusher)
	return &Encoder{w: w, f: f}
}

// Encode writes c as a single line. After the first write error every
// subsequent call returns that error.
func (e *Encoder) Encode(c Chunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}

	line, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal %s chunk: %w", c.Kind, err)
	}
	line = append(line, '\n')

	if _, err := e.w.Write(line); err != nil {
		e.err = err
		return err
	}
	if e.f != nil {
		e.f.Flush()
	}
	e.count++
	return nil
}

// Count returns the number of chunks written.
func (e *Encoder) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// =============================================================================
// DECODER
// =============================================================================

// ErrMalformed is wrapped by errors for lines that are not valid chunks.
var ErrMalformed = errors.New("malformed chunk")

// Decoder splits a body on newlines and parses each line as a chunk.
// Lines may be arbitrarily long.
type Decoder struct {
	r       *bufio.Reader
	skipped int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next chunk. Blank lines are ignored; lines that do not
// parse are skipped and counted. It returns io.EOF at a clean end of input
// and io.ErrUnexpectedEOF when the body ends in the middle of a line that
// cannot be parsed.
func (d *Decoder) Next() (Chunk, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			c, perr := parseLine(line)
			if perr == nil {
				return c, nil
			}
			if err != nil {
				return Chunk{}, io.ErrUnexpectedEOF
			}
			d.skipped++
			continue
		}

		if err != nil {
			return Chunk{}, err
		}
	}
}

// Skipped returns how many malformed lines were dropped.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func parseLine(line []byte) (Chunk, error) {
	var c Chunk
	if err := json.Unmarshal(line, &c); err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Kind == "" {
		return Chunk{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	return c, nil
}
