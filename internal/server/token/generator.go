// Package token generates activation tokens: cryptographically unpredictable
// strings that are checked against the store for uniqueness before being
// handed out.
package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/dmitrijs2005/keyserv/internal/common"
)

const (
	// Length of a generated token. 36^25 is about 8.08e38 combinations,
	// which makes accidental collisions astronomically unlikely.
	Length = 25

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxAttempts bounds the collision-retry loop. Hitting it means the
	// keyspace is effectively exhausted or the store is lying; either way
	// the generator must not spin forever.
	maxAttempts = 100
)

// ExistsFunc reports whether a candidate token is already stored.
type ExistsFunc func(ctx context.Context, token string) (bool, error)

// Generator produces unique activation tokens. Uniqueness is verified through
// the supplied ExistsFunc; the generator never persists anything itself.
type Generator struct {
	exists ExistsFunc
}

func NewGenerator(exists ExistsFunc) *Generator {
	return &Generator{exists: exists}
}

// Generate returns a fresh token that is not currently stored. Collisions are
// retried internally; if the retry budget is exceeded the call fails with
// common.ErrKeyspaceExhausted.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := randToken(Length)
		if err != nil {
			return "", fmt.Errorf("token generation: %w", err)
		}

		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("token uniqueness check: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", common.ErrKeyspaceExhausted
}

// randToken draws length characters from the token alphabet using crypto/rand.
// Each character is drawn independently to avoid modulo bias.
func randToken(length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}
