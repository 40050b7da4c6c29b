package portal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/logging"
)

const (
	// DefaultQueueSize is how many requests may wait for the poll loop.
	DefaultQueueSize = 8

	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultReadTimeout bounds reading a whole request, body included.
	DefaultReadTimeout = 2 * time.Minute

	// DefaultWriteTimeout bounds the time from the end of the headers to the
	// end of the response, queue wait included.
	DefaultWriteTimeout = 3 * time.Minute

	// DefaultMaxBodySize caps request bodies. It leaves room for multipart
	// framing around an image of firmware.DefaultMaxImageSize.
	DefaultMaxBodySize = 17 << 20
)

// ErrServerClosed is returned by Listen after Close.
var ErrServerClosed = errors.New("portal: server closed")

// ServerConfig holds the web server configuration
type ServerConfig struct {
	Host              string // Interface to bind (empty = all interfaces)
	QueueSize         int
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxBodySize       int64
	SpoolDir          string // Directory for request bodies (empty = os.TempDir)
}

// Server is an HTTP server whose handlers run on the caller's poll loop.
//
// net/http accepts requests on its own goroutines and reads each body into a
// spool file before queueing it. ServeOnePending hands one queued request to
// the mounted handler with the spooled body and a buffered response, so the
// handler never touches the network; the connection goroutine writes the
// response afterwards. A full queue answers 503 immediately.
type Server struct {
	config ServerConfig
	queue  chan *pendingRequest

	mu       sync.Mutex
	handler  http.Handler
	httpSrv  *http.Server
	listener net.Listener
	closed   bool
}

type requestState int

const (
	stateQueued requestState = iota
	stateServing
	stateAbandoned
)

type pendingRequest struct {
	resp *bufferedResponse
	r    *http.Request
	done chan struct{}

	mu    sync.Mutex
	state requestState
}

// NewServer creates a server that is not yet listening.
func NewServer(config ServerConfig) *Server {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config: config,
		queue:  make(chan *pendingRequest, config.QueueSize),
	}
}

// SetHandler replaces the handler that serves queued requests.
func (s *Server) SetHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Listen binds the server to port. It is a no-op while already listening.
func (s *Server) Listen(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           http.HandlerFunc(s.enqueue),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	s.httpSrv = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Web updater stopped serving",
				zap.String("addr", ln.Addr().String()),
				zap.Error(err),
			)
		}
	}()

	logging.Info("Web updater listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ServeOnePending serves at most one queued request and returns immediately
// when none is waiting. Requests whose clients already gave up are skipped.
func (s *Server) ServeOnePending() {
	for {
		var p *pendingRequest
		select {
		case p = <-s.queue:
		default:
			return
		}

		p.mu.Lock()
		if p.state == stateAbandoned {
			p.mu.Unlock()
			continue
		}
		p.state = stateServing
		p.mu.Unlock()

		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()

		if h == nil {
			http.NotFound(p.resp, p.r)
		} else {
			h.ServeHTTP(p.resp, p.r)
		}
		close(p.done)
		return
	}
}

// Pending returns the number of queued requests.
func (s *Server) Pending() int {
	return len(s.queue)
}

// Close stops the listener and fails every queued request.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpSrv
	s.mu.Unlock()

drain:
	for {
		select {
		case p := <-s.queue:
			p.reject()
		default:
			break drain
		}
	}

	if srv == nil {
		return nil
	}
	if err := srv.Close(); err != nil {
		return fmt.Errorf("failed to close web server: %w", err)
	}
	return nil
}

// reject answers a request that will never reach the handler.
func (p *pendingRequest) reject() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateQueued {
		return
	}
	p.state = stateServing
	http.Error(p.resp, "server shutting down", http.StatusServiceUnavailable)
	close(p.done)
}

// enqueue runs on net/http's connection goroutine. It reads the body, waits
// until the poll loop has served the request or the client goes away, then
// writes the buffered response.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	body, err := s.spool(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logging.Debug("Dropped incomplete request",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	if body != nil {
		defer func() {
			_ = body.Close()
			_ = os.Remove(body.Name())
		}()
		r.Body = body
	}

	p := &pendingRequest{resp: newBufferedResponse(), r: r, done: make(chan struct{})}

	select {
	case s.queue <- p:
	default:
		http.Error(w, "updater busy, try again", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-p.done:
	case <-r.Context().Done():
		p.mu.Lock()
		if p.state == stateQueued {
			p.state = stateAbandoned
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		<-p.done
	}
	p.resp.writeTo(w)
}

// spool copies the request body into a temporary file and rewinds it. It
// returns nil for requests without a body.
func (s *Server) spool(w http.ResponseWriter, r *http.Request) (*os.File, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.ContentLength > s.config.MaxBodySize {
		return nil, &http.MaxBytesError{Limit: s.config.MaxBodySize}
	}

	f, err := os.CreateTemp(s.config.SpoolDir, "request-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	discard := func(err error) (*os.File, error) {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}

	n, err := io.Copy(f, http.MaxBytesReader(w, r.Body, s.config.MaxBodySize))
	if err != nil {
		return discard(err)
	}
	if n == 0 {
		return discard(nil)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return discard(fmt.Errorf("failed to rewind spool file: %w", err))
	}
	return f, nil
}

// bufferedResponse collects a handler's response in memory.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
