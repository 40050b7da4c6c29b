package ota

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// DefaultPort is used when the listener is configured with port 0.
	DefaultPort uint16 = 3232

	// Path is the WebSocket endpoint served by the listener.
	Path = "/ota"

	// SourceOTA tags images staged through the background listener.
	SourceOTA = "ota"

	// ServiceProtocol and ServiceTransport form the listener's mDNS service
	// type, _remoteupdate._tcp.
	ServiceProtocol  = "remoteupdate"
	ServiceTransport = "tcp"

	// MaxChunkSize bounds a single binary frame.
	MaxChunkSize = 64 << 10

	nonceBytes = 16
)

// Message types exchanged as JSON text frames.
const (
	TypeHello = "hello"
	TypeBegin = "begin"
	TypeReady = "ready"
	TypeEnd   = "end"
	TypeOK    = "ok"
	TypeError = "error"
)

var (
	// ErrAuthFailed is returned when the challenge response does not match.
	ErrAuthFailed = errors.New("ota authentication failed")
	// ErrRejected is returned by the client when the listener refuses an image.
	ErrRejected = errors.New("ota update rejected")
	// ErrProtocol is returned for out-of-order or malformed messages.
	ErrProtocol = errors.New("ota protocol error")
)

// Message is a control frame. Only the fields relevant to Type are set.
//
// A session runs:
//
//	listener -> hello{host, nonce, auth}
//	client   -> begin{name, size, md5, cnonce, response}
//	listener -> ready | error
//	client   -> binary chunks..., end
//	listener -> ok{id, sha256} | error
type Message struct {
	Type string `json:"type"`

	// hello
	Host         string `json:"host,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	AuthRequired bool   `json:"auth,omitempty"`

	// begin
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MD5      string `json:"md5,omitempty"`
	CNonce   string `json:"cnonce,omitempty"`
	Response string `json:"response,omitempty"`

	// ok
	ID     string `json:"id,omitempty"`
	SHA256 string `json:"sha256,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// NewNonce returns a random hex nonce.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ChallengeResponse computes the client's answer to a hello: the hex
// HMAC-SHA256 of nonce+cnonce keyed by the password.
func ChallengeResponse(password, nonce, cnonce string) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte(nonce + cnonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyResponse reports whether response answers the challenge.
func VerifyResponse(password, nonce, cnonce, response string) bool {
	want := ChallengeResponse(password, nonce, cnonce)
	return hmac.Equal([]byte(want), []byte(response))
}

func errorMessage(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}
