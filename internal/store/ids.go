package store

import (
	"crypto/rand"
	"encoding/base32"
	"strconv"
	"strings"
	"time"
)

// NewItemID returns item-<unix millis>-<suffix>, where suffix is 6 chars of
// lowercase base32. The time prefix keeps ids roughly ordered; the suffix makes
// two ids generated in the same millisecond (or on two clients) distinct.
func NewItemID(now time.Time) (string, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return "item-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix, nil
}

func randomSuffix() (string, error) {
	var b [4]byte // 32 bits -> 7 base32 chars, trimmed to 6
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(b[:]))[:6], nil
}
