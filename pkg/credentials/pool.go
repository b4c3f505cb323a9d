package credentials

import (
	"errors"
	"strings"
)

// ErrNoCredentials is returned by Next when the pool holds no credentials.
var ErrNoCredentials = errors.New("no API credentials configured")

// Pool hands out API credentials for one provider in round-robin order.
// A Pool is owned by a single run and is not safe for concurrent use.
type Pool struct {
	keys []string
	next int
}

// NewPool builds a pool from the given keys, dropping blanks.
func NewPool(keys []string) *Pool {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return &Pool{keys: cleaned}
}

// Next returns the credential after the last one handed out, and its index.
func (p *Pool) Next() (string, int, error) {
	if len(p.keys) == 0 {
		return "", -1, ErrNoCredentials
	}
	idx := p.next % len(p.keys)
	p.next = idx + 1
	return p.keys[idx], idx, nil
}

// Reset makes the following Next call return index 0.
func (p *Pool) Reset() {
	p.next = 0
}

// Size is the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}

// Clone returns an independent pool over the same credentials with a fresh cursor.
func (p *Pool) Clone() *Pool {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return &Pool{keys: keys}
}
