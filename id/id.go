// Package id issues time-sortable identifiers for signals and journal rows.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic entropy keeps ids minted in the same millisecond ordered.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string.
func New() string {
	return At(time.Now())
}

// At returns a ULID whose timestamp component is t.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// Only possible if the clock runs backwards past the monotonic window.
		panic(err)
	}
	return id.String()
}

// Prefixed returns prefix + "_" + a new ULID, e.g. "sig_01J...".
func Prefixed(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}

// Time extracts the creation time from an id produced by New or Prefixed.
func Time(s string) (time.Time, bool) {
	if n := len(s); n > ulid.EncodedSize {
		s = s[n-ulid.EncodedSize:]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
