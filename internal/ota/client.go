package ota

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/firmware"
	"github.com/muurk/remoteupdate/internal/logging"
	"github.com/muurk/remoteupdate/internal/version"
)

const (
	// DefaultChunkSize is the size of binary frames sent by the client.
	DefaultChunkSize = 16 << 10

	// Time allowed for the listener to commit the image after the end message
	commitWait = 60 * time.Second
)

// Result describes a completed push.
type Result struct {
	Host     string
	ID       string
	SHA256   string
	Size     int64
	Attempts int
}

// Client pushes firmware images to a Listener.
type Client struct {
	// URL is the WebSocket endpoint, e.g. ws://device1.local:3232/ota
	URL string

	// Password answers the listener's challenge.
	Password string

	// ChunkSize is the binary frame size (default DefaultChunkSize).
	ChunkSize int

	// Dialer is used to open sessions (default websocket.DefaultDialer).
	Dialer *websocket.Dialer

	// Progress, if set, is called after each chunk.
	Progress func(sent, total int64)

	// NewBackOff returns the retry policy for one Push.
	NewBackOff func(ctx context.Context) backoff.BackOff
}

// NewClient creates a client for address (host or host:port; the port
// defaults to DefaultPort).
func NewClient(address, password string) *Client {
	return &Client{URL: URLFor(address), Password: password}
}

// URLFor returns the OTA endpoint URL for host[:port].
func URLFor(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, strconv.Itoa(int(DefaultPort))
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: Path}
	return u.String()
}

// defaultBackOff retries transient failures for a short while
func defaultBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

// Push sends image to the listener. Connection failures are retried;
// rejections by the listener are not.
func (c *Client) Push(ctx context.Context, name string, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, firmware.ErrEmptyImage
	}
	sum := md5.Sum(image)
	checksum := hex.EncodeToString(sum[:])

	newBackOff := c.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}

	var res *Result
	attempts := 0
	operation := func() error {
		attempts++
		r, err := c.push(ctx, name, image, checksum)
		if err != nil {
			return err
		}
		res = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn("OTA push failed, retrying",
			zap.String("url", c.URL),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	res.Attempts = attempts
	return res, nil
}

func (c *Client) push(ctx context.Context, name string, image []byte, checksum string) (*Result, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{"User-Agent": {version.UserAgent("updater-cli")}}
	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.URL, err)
	}
	defer func() {
		_ = conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	hello, err := expect(conn, TypeHello, readWait)
	if err != nil {
		return nil, err
	}

	begin := Message{Type: TypeBegin, Name: name, Size: int64(len(image)), MD5: checksum}
	if hello.AuthRequired {
		if c.Password == "" {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s requires a password", ErrAuthFailed, hello.Host))
		}
		cnonce, err := NewNonce()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		begin.CNonce = cnonce
		begin.Response = ChallengeResponse(c.Password, hello.Nonce, cnonce)
	}
	if err := send(conn, begin); err != nil {
		return nil, fmt.Errorf("failed to send begin: %w", err)
	}
	if _, err := expect(conn, TypeReady, readWait); err != nil {
		return nil, err
	}

	chunk := c.ChunkSize
	if chunk <= 0 || chunk > MaxChunkSize {
		chunk = DefaultChunkSize
	}
	total := int64(len(image))
	for off := 0; off < len(image); off += chunk {
		end := min(off+chunk, len(image))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, image[off:end]); err != nil {
			return nil, fmt.Errorf("failed to send image: %w", err)
		}
		if c.Progress != nil {
			c.Progress(int64(end), total)
		}
	}
	if err := send(conn, Message{Type: TypeEnd}); err != nil {
		return nil, fmt.Errorf("failed to send end: %w", err)
	}

	ok, err := expect(conn, TypeOK, commitWait)
	if err != nil {
		return nil, err
	}
	return &Result{Host: hello.Host, ID: ok.ID, SHA256: ok.SHA256, Size: total}, nil
}

// expect reads the next control message. An error message from the listener
// is permanent.
func expect(conn *websocket.Conn, want string, wait time.Duration) (*Message, error) {
	var m Message
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	if err := conn.ReadJSON(&m); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", want, err)
	}
	switch m.Type {
	case want:
		return &m, nil
	case TypeError:
		if m.Error == ErrAuthFailed.Error() {
			return nil, backoff.Permanent(ErrAuthFailed)
		}
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, m.Error))
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: expected %s, got %q", ErrProtocol, want, m.Type))
	}
}
