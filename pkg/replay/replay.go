// Package replay reads and writes replay logs: the sent requests of a
// sequence in a line-oriented text format that can be re-sent later.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/vikasavnish/seqfuzz/pkg/sequences"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

const (
	requestMarker       = "-> "
	directiveMarker     = "! "
	producerDelayKey    = "producer_timing_delay"
	asyncWaitKey        = "max_async_wait_time"
	previousResponseTag = "PREVIOUS RESPONSE: "
	commentMarker       = "#"
)

// Entry is one replayable request.
type Entry struct {
	Request             string
	ProducerTimingDelay time.Duration
	MaxAsyncWaitTime    time.Duration
	PreviousResponse    string
}

// Log is a parsed replay log.
type Log struct {
	Header  []string
	Entries []Entry
}

// FromSequence converts a rendered sequence's sent data into entries.
func FromSequence(seq *sequences.Sequence) []Entry {
	entries := make([]Entry, 0, len(seq.SentRequestData))
	for _, d := range seq.SentRequestData {
		e := Entry{
			Request:             d.RenderedData,
			ProducerTimingDelay: d.ProducerTimingDelay,
			MaxAsyncWaitTime:    d.MaxAsyncWaitTime,
		}
		if d.Response != nil {
			e.PreviousResponse = d.Response.Raw
			if e.PreviousResponse == "" {
				e.PreviousResponse = "HTTP/1.1 " + d.Response.Status() + " " + d.Response.Reason + "\r\n\r\n" + d.Response.Body
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func escape(s string) string {
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
}

func unescape(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(s)
}

// Write writes header lines as "#" comments followed by the entries.
func Write(w io.Writer, header []string, entries []Entry) error {
	bw := bufio.NewWriter(w)
	if len(header) > 0 {
		fmt.Fprintln(bw, commentMarker+strings.Repeat("#", 79))
		for _, line := range header {
			fmt.Fprintln(bw, commentMarker+" "+line)
		}
		fmt.Fprintln(bw, commentMarker+strings.Repeat("#", 79))
		fmt.Fprintln(bw)
	}
	for _, e := range entries {
		fmt.Fprintln(bw, requestMarker+escape(e.Request))
		if s := seconds(e.ProducerTimingDelay); s > 0 {
			fmt.Fprintf(bw, "%s%s %d\n", directiveMarker, producerDelayKey, s)
		}
		if s := seconds(e.MaxAsyncWaitTime); s > 0 {
			fmt.Fprintf(bw, "%s%s %d\n", directiveMarker, asyncWaitKey, s)
		}
		fmt.Fprintf(bw, "%s'%s'\n", previousResponseTag, escape(e.PreviousResponse))
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

func seconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s == 0 && d > 0 {
		return 1
	}
	return s
}

// Parse reads a replay log.
func Parse(r io.Reader) (*Log, error) {
	log := &Log{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var current *Entry
	flush := func() {
		if current != nil {
			log.Entries = append(log.Entries, *current)
			current = nil
		}
	}

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, requestMarker):
			flush()
			current = &Entry{Request: unescape(strings.TrimPrefix(line, requestMarker))}

		case strings.HasPrefix(line, directiveMarker):
			if current == nil {
				return nil, fmt.Errorf("line %d: directive before any request", lineNo)
			}
			key, value, _ := strings.Cut(strings.TrimPrefix(line, directiveMarker), " ")
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
			}
			switch key {
			case producerDelayKey:
				current.ProducerTimingDelay = time.Duration(n) * time.Second
			case asyncWaitKey:
				current.MaxAsyncWaitTime = time.Duration(n) * time.Second
			default:
				return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, key)
			}

		case strings.HasPrefix(line, previousResponseTag):
			if current == nil {
				return nil, fmt.Errorf("line %d: response before any request", lineNo)
			}
			resp := strings.TrimPrefix(line, previousResponseTag)
			resp = strings.TrimSuffix(strings.TrimPrefix(resp, "'"), "'")
			current.PreviousResponse = unescape(resp)

		case strings.HasPrefix(line, commentMarker):
			if current == nil && len(log.Entries) == 0 {
				text := strings.TrimSpace(strings.TrimLeft(line, "#"))
				if text != "" {
					log.Header = append(log.Header, text)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay log: %w", err)
	}
	flush()
	return log, nil
}

// Run re-sends every entry in order, honoring recorded producer delays
// and async waits, and returns the responses received. A request that
// gets no response stops the replay.
func Run(ctx context.Context, tr transport.Transport, log *Log, pollInterval time.Duration) ([]*transport.Response, error) {
	responses := make([]*transport.Response, 0, len(log.Entries))
	for i, e := range log.Entries {
		resp, err := tr.Send(ctx, e.Request)
		if err != nil {
			return responses, fmt.Errorf("replay request %d: %w", i+1, err)
		}
		responses = append(responses, resp)

		if e.MaxAsyncWaitTime > 0 {
			if _, err := sequences.WaitForResource(ctx, tr, resp, e.MaxAsyncWaitTime, pollInterval); err != nil {
				return responses, err
			}
		} else if e.ProducerTimingDelay > 0 {
			select {
			case <-ctx.Done():
				return responses, ctx.Err()
			case <-time.After(e.ProducerTimingDelay):
			}
		}
	}
	return responses, nil
}
