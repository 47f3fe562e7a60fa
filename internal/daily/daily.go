package daily

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IdiomIndex returns a deterministic catalog index for a date using
// HMAC(salt, YYYY-MM-DD) % catalogLen.
func IdiomIndex(date time.Time, salt string, catalogLen int) int {
	if catalogLen <= 0 {
		return 0
	}
	sum := digest(date, salt)
	n := binary.BigEndian.Uint64(sum[:8])
	return int(n % uint64(catalogLen))
}

// Seed returns a deterministic RNG seed for a date, derived from the same
// HMAC as IdiomIndex (second 8 bytes). Seeding the challenge generator with
// it gives every player the same blanks, distractors, and option order.
func Seed(date time.Time, salt string) int64 {
	sum := digest(date, salt)
	return int64(binary.BigEndian.Uint64(sum[8:16]))
}

func digest(date time.Time, salt string) []byte {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(DateKey(date)))
	return h.Sum(nil)
}
