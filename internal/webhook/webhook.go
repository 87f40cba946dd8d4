// Package webhook implements the single-endpoint HTTP ingress: it
// validates, bounds, and parses pushed updates before handing the parsed
// tree off to a configured callback.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxBodySize is the hard accumulation ceiling; anything beyond this
	// yields 413, but only after the full body has been drained so the
	// connection closes cleanly.
	MaxBodySize = 512 * 1024

	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	contentTypeJSON = "application/json"

	minPoolSize = 1
	maxPoolSize = 64
)

// UpdateCallback receives the parsed JSON tree of a successfully validated
// webhook body. It assumes ownership of tree and must not block for long;
// the caller holds no lock while invoking it, but the server's in-flight
// concurrency is bounded by Config.Threads.
type UpdateCallback func(tree any)

// Config carries the bounds-checked sizing for one ingress server.
type Config struct {
	Port      int
	Threads   int    // concurrent in-flight request cap
	PoolSize  int    // buffer pool size, clamped to [1, 64]
	Secret    string // empty disables the shared-secret check
}

// Server is a process-wide HTTP server exposing exactly one endpoint,
// POST /webhook.
type Server struct {
	cfg    Config
	pool   *bufferPool
	update UpdateCallback
	log    zerolog.Logger
	sem    chan struct{}

	httpSrv *http.Server
}

func New(cfg Config, update UpdateCallback, log zerolog.Logger) *Server {
	threads := cfg.Threads
	if threads < 1 {
		threads = 4
	}
	return &Server{
		cfg:    cfg,
		pool:   newBufferPool(cfg.PoolSize),
		update: update,
		log:    log,
		sem:    make(chan struct{}, threads),
	}
}

// Start binds the listener and serves in the background until Stop or
// ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handle)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("webhook: bind port %d: %w", s.cfg.Port, err)
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("webhook: listening")

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("webhook: serve error")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.log.Info().Msg("webhook: stopped")
	return err
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	log := s.log.With().Str("request_id", reqID).Logger()

	if r.Method != http.MethodPost || r.URL.Path != "/webhook" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if s.cfg.Secret != "" {
		hdr := r.Header.Get(secretHeader)
		if !constantTimeEqual(hdr, s.cfg.Secret) {
			log.Warn().Msg("webhook: secret mismatch")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	ct := r.Header.Get("Content-Type")
	if len(ct) < len(contentTypeJSON) || !strings.EqualFold(ct[:len(contentTypeJSON)], contentTypeJSON) {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		return
	}

	buf, pooled := s.pool.acquire()
	defer s.pool.release(buf, pooled)

	oversized, err := accumulate(buf, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if oversized {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if buf.Len() > 0 {
		var tree any
		if err := json.Unmarshal(buf.Bytes(), &tree); err == nil {
			if s.update != nil {
				s.update(tree)
			}
		} else {
			log.Debug().Err(err).Msg("webhook: dropped unparseable body")
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// accumulate reads body into buf up to MaxBodySize+1 bytes. If the body
// exceeds MaxBodySize it is still drained to completion (so the
// connection closes cleanly) and oversized is reported true.
func accumulate(buf *bytes.Buffer, body io.Reader) (oversized bool, err error) {
	limited := io.LimitReader(body, MaxBodySize+1)
	n, err := buf.ReadFrom(limited)
	if err != nil {
		return false, err
	}
	if n > MaxBodySize {
		buf.Reset()
		// drain whatever remains so the client sees a clean close
		_, _ = io.Copy(io.Discard, body)
		return true, nil
	}
	return false, nil
}

// constantTimeEqual compares a and b in time independent of where they
// first differ, inspecting max(len(a), len(b))+1 byte positions.
func constantTimeEqual(a, b string) bool {
	alen, blen := len(a), len(b)
	maxlen := alen
	if blen > maxlen {
		maxlen = blen
	}
	result := byte(alen ^ blen)
	for i := 0; i <= maxlen; i++ {
		var ca, cb byte
		if i < alen {
			ca = a[i]
		}
		if i < blen {
			cb = b[i]
		}
		result |= ca ^ cb
	}
	return result == 0
}

// bufferPool is a fixed-size pool of reusable accumulation buffers, with
// a free-index stack and heap fallback once exhausted, matching the
// ingress's own independent mutex domain (never the queue's).
type bufferPool struct {
	mu   sync.Mutex
	free []*bytes.Buffer
}

func newBufferPool(size int) *bufferPool {
	if size < minPoolSize {
		size = minPoolSize
	}
	if size > maxPoolSize {
		size = maxPoolSize
	}
	free := make([]*bytes.Buffer, size)
	for i := range free {
		free[i] = new(bytes.Buffer)
	}
	return &bufferPool{free: free}
}

func (p *bufferPool) acquire() (buf *bytes.Buffer, pooled bool) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		buf = p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		buf.Reset()
		return buf, true
	}
	p.mu.Unlock()
	return new(bytes.Buffer), false
}

func (p *bufferPool) release(buf *bytes.Buffer, pooled bool) {
	if !pooled {
		return
	}
	buf.Reset()
	p.mu.Lock()
	p.free = append(p.free, buf)
	p.mu.Unlock()
}
