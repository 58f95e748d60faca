package runbook

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pelletier/go-toml/v2"
)

// Hash content-addresses a runbook by canonicalizing it: parse, then
// re-marshal with go-toml/v2's stable key ordering, then sha256 the
// result. This gives the round-trip law:
// hash(parse(serialize(parse(r)))) == hash(parse(r)).
func Hash(r *Runbook) (string, error) {
	canon, err := toml.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
