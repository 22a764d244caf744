// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/uoe-chat/internal/store"
)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes streamed answer text to a line-oriented terminal as
// it arrives.
//
// Store subscribers run on the mutating goroutine and must not block, so the
// subscriber only records the latest text and wakes the writer goroutine.
type streamPrinter struct {
	w io.Writer

	mu      sync.Mutex
	version uint64
	latest  string
	printed string

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	unsubscribe func()
}

// newStreamPrinter subscribes to st and starts writing to w.
// Call finish exactly once.
func newStreamPrinter(w io.Writer, st *store.Store) *streamPrinter {
	p := &streamPrinter{
		w:    w,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.unsubscribe = st.Subscribe(func(s store.State) {
		if !s.IsStreaming {
			return
		}
		p.mu.Lock()
		if s.Version < p.version {
			p.mu.Unlock()
			return
		}
		p.version = s.Version
		p.latest = s.StreamingContent
		p.mu.Unlock()
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})
	go p.loop()
	return p
}

func (p *streamPrinter) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

// flush writes whatever arrived since the last write.
func (p *streamPrinter) flush() {
	p.mu.Lock()
	latest := p.latest
	p.mu.Unlock()

	// Streamed content only grows within one answer.
	if len(latest) > len(p.printed) && strings.HasPrefix(latest, p.printed) {
		_, _ = io.WriteString(p.w, latest[len(p.printed):])
		p.printed = latest
	}
}

// finish stops streaming output and reconciles it with the final answer.
// When the final text extends what was printed only the remainder is
// written; otherwise (a fallback replaced the stream) the full answer
// follows on a fresh line. An empty final leaves the partial text as is.
func (p *streamPrinter) finish(final string) {
	p.unsubscribe()
	close(p.stop)
	<-p.done

	switch {
	case final == "":
	case strings.HasPrefix(final, p.printed):
		_, _ = io.WriteString(p.w, final[len(p.printed):])
	default:
		if p.printed != "" {
			fmt.Fprintln(p.w)
		}
		_, _ = io.WriteString(p.w, final)
	}
	if p.printed != "" || final != "" {
		fmt.Fprintln(p.w)
	}
}
