package idhash

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/mr-tron/base58"
)

// Signals holds the environment inputs the fingerprint derives from.
type Signals struct {
	Agent        string `json:"agent"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	Timezone     string `json:"timezone"`
	Language     string `json:"language"`
	Referrer     string `json:"referrer"`
	CapturedAt   int64  `json:"captured_at"` // unix ms
}

const msPerDay = 24 * 60 * 60 * 1000

// Fingerprint computes a stable pseudo-identity for the visitor.
// Formula: FNV-1a(agent|WxH|timezone|language|referrer_host|day)
// where day is CapturedAt truncated to the UTC day, so the identity is
// stable for identical signals within a session. Returns a base58-encoded
// digest (~11 characters).
//
// FNV-1a is deliberate: the hash only needs to spread visitors roughly
// uniformly, and collisions are acceptable. Pure function of its inputs.
func Fingerprint(s Signals) string {
	data := fmt.Sprintf("%s|%dx%d|%s|%s|%s|%d",
		s.Agent,
		s.ScreenWidth, s.ScreenHeight,
		s.Timezone,
		s.Language,
		referrerHost(s.Referrer),
		s.CapturedAt/msPerDay,
	)

	h := fnv.New64a()
	h.Write([]byte(data))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return base58.Encode(buf[:])
}

// referrerHost reduces a referrer URL to its host so query noise does not
// perturb the identity.
func referrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return strings.ToLower(referrer)
	}
	return strings.ToLower(u.Host)
}
