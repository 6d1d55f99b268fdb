package docstore

import (
	"crypto/rand"
	"time"
)

// Alphabet in ASCII order so generated keys sort chronologically.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// pushIDGen produces 20-char keys: 8 chars of millisecond timestamp followed
// by 12 random chars. Within one millisecond the random part is incremented
// so keys stay strictly increasing.
type pushIDGen struct {
	lastMs   int64
	lastRand [12]int
}

func (g *pushIDGen) next(now time.Time) string {
	ms := now.UnixMilli()
	dup := ms == g.lastMs
	g.lastMs = ms

	var ts [8]byte
	for i := 7; i >= 0; i-- {
		ts[i] = pushChars[ms%64]
		ms /= 64
	}

	if !dup {
		var b [12]byte
		_, _ = rand.Read(b[:])
		for i := range g.lastRand {
			g.lastRand[i] = int(b[i]) % 64
		}
	} else {
		i := 11
		for ; i >= 0 && g.lastRand[i] == 63; i-- {
			g.lastRand[i] = 0
		}
		if i >= 0 {
			g.lastRand[i]++
		}
	}

	out := make([]byte, 0, 20)
	out = append(out, ts[:]...)
	for _, r := range g.lastRand {
		out = append(out, pushChars[r])
	}
	return string(out)
}
