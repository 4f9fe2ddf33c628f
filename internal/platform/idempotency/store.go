package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a cash checkout key keeps replaying its first response.
const DefaultTTL = 24 * time.Hour

// Outcome is the result of claiming a key.
type Outcome int

const (
	// Acquired means the caller owns the key and must Complete or Release it.
	Acquired Outcome = iota
	// Replay means an earlier request finished; its response is in Record.Response.
	Replay
	// InFlight means an earlier request with the same key has not finished yet.
	InFlight
)

// Reservation is what Reserve found or created for a key.
type Reservation struct {
	Outcome Outcome
	Record  Record
}

// Record is the persisted state of one key. Response is nil until the request completes.
type Record struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Response    *Response `json:"response,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Response is a captured HTTP response.
type Response struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// Store persists key reservations and their responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	return Record{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// classify decides what a second Reserve on an existing record means.
func classify(record Record, fingerprint string) (Reservation, error) {
	switch {
	case record.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case record.Response != nil:
		return Reservation{Outcome: Replay, Record: record}, nil
	default:
		return Reservation{Outcome: InFlight, Record: record}, nil
	}
}

func completed(existing Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) Record {
	record := pendingRecord(key, fingerprint, now, ttl)
	if !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	record.Response = &Response{
		Status:  resp.Status,
		Headers: replayableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}
	return record
}

// hopHeaders are recomputed by the server on replay.
var hopHeaders = map[string]struct{}{
	"Content-Length": {}, "Date": {}, "Connection": {}, "Keep-Alive": {}, "Transfer-Encoding": {}, "Upgrade": {},
}

func replayableHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, hop := hopHeaders[name]; hop {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hashKey(key string) string {
	return hexDigest([]byte(strings.TrimSpace(key)))
}

func hexDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
