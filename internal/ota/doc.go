// Package ota implements the background update listener and the matching
// push client.
//
// The listener serves a WebSocket endpoint (default port 3232, path /ota).
// A session opens with a hello carrying the host identity and a nonce. When
// a password is configured the client must answer with
// HMAC-SHA256(password, nonce+cnonce) in its begin message. The image then
// follows as binary frames and an end message.
//
// Sessions receive on their own goroutines, but the image is written to the
// firmware store only from ServeOnePending, which the update controller
// calls once per poll while the link is up. A client waits for that commit
// before it gets its ok.
//
// Usage:
//
//	client := ota.NewClient("device1.local", "secret")
//	res, err := client.Push(ctx, "app.bin", image)
package ota
