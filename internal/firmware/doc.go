// Package firmware stages firmware images received over the network.
//
// Both the web update portal and the background update listener hand their
// uploads to a Store. The store writes the image to a temporary file while
// computing MD5 and SHA-256, optionally checks the MD5 announced by the
// sender, then commits it as the single pending image and records it in a
// YAML manifest (pending.yaml):
//
//	id: 6f1c...
//	name: firmware.bin
//	source: portal
//	size_bytes: 524288
//	md5: 9e107d9d372bb6826bd81d3542a419d6
//	sha256: e3b0c442...
//
// Applying the image (flashing, rebooting) is the host's job; it reads
// Pending and calls Clear when done.
package firmware
