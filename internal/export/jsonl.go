// ABOUTME: Writes and reads event partitions as JSON lines
// ABOUTME: Optionally zstd-compressed for archival

package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/2389/agentworld/internal/event"
)

// WriteEventsJSONL writes one event per line. With compress the stream is
// zstd-encoded.
func WriteEventsJSONL(w io.Writer, events []*event.Event, compress bool) (err error) {
	out := w
	if compress {
		enc, encErr := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if encErr != nil {
			return fmt.Errorf("creating zstd encoder: %w", encErr)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		out = enc
	}

	bw := bufio.NewWriterSize(out, 64*1024)
	jenc := json.NewEncoder(bw)
	for _, e := range events {
		if err := jenc.Encode(e); err != nil {
			return fmt.Errorf("encoding event %s: %w", e.ID, err)
		}
	}
	return bw.Flush()
}

// ReadEventsJSONL reads events written by WriteEventsJSONL.
func ReadEventsJSONL(r io.Reader, compressed bool) ([]*event.Event, error) {
	in := r
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		in = dec
	}

	var out []*event.Event
	jdec := json.NewDecoder(bufio.NewReader(in))
	for {
		var e event.Event
		err := jdec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", len(out)+1, err)
		}
		out = append(out, &e)
	}
}
