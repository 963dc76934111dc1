package plans

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// readDocument loads the durable document. An absent file is an empty
// store, not an error.
func readDocument(path string) (document, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(document), nil
	}
	if err != nil {
		return nil, err
	}
	doc := make(document)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// snapshot serializes the document for the writer. Indented so the file
// stays hand-inspectable.
func snapshot(doc document) []byte {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		// document is map/struct only, marshal cannot fail in practice
		panic(err)
	}
	return data
}

type saveReq struct {
	data []byte
	done chan error
}

// writer is the single goroutine that owns the durable file. Saves are
// linearized through its channel; each carries a promise resolved after
// the temp-write-then-rename lands. Consecutive pending saves are
// coalesced into one write of the newest snapshot.
type writer struct {
	path string
	reqs chan saveReq
	done chan struct{}
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newWriter(path string, log zerolog.Logger) *writer {
	w := &writer{
		path: path,
		reqs: make(chan saveReq, 64),
		done: make(chan struct{}),
		log:  log,
	}
	go w.run()
	return w
}

func (w *writer) save(data []byte) <-chan error {
	req := saveReq{data: data, done: make(chan error, 1)}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		req.done <- fmt.Errorf("plan writer closed")
		return req.done
	}
	w.reqs <- req
	w.mu.Unlock()
	return req.done
}

func (w *writer) run() {
	defer close(w.done)
	for req := range w.reqs {
		waiting := []saveReq{req}
		// fold in everything already queued; the newest snapshot wins
		for drained := false; !drained; {
			select {
			case more, ok := <-w.reqs:
				if !ok {
					drained = true
					continue
				}
				waiting = append(waiting, more)
				req = more
			default:
				drained = true
			}
		}

		err := w.write(req.data)
		if err != nil {
			w.log.Error().Err(err).Str("path", w.path).Msg("plan save failed, will retry on next mutation")
		}
		for _, wr := range waiting {
			wr.done <- err
		}
	}
}

func (w *writer) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(w.path, bytes.NewReader(data))
}

// close drains the queue and stops the goroutine.
func (w *writer) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.reqs)
	w.mu.Unlock()
	<-w.done
	return nil
}
