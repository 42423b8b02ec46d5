// Package credential hashes and verifies operator passwords with argon2id.
// The encoded hash carries its own algorithm parameters and salt, so stored
// hashes stay verifiable after parameter changes.
package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/keyserv/internal/common"
)

// Hashing parameters. Deliberately expensive: the cost is the brute-force
// deterrent, do not tune it down for throughput.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	saltLen = 16
)

var errMalformed = errors.New("malformed credential hash")

// Hash derives an argon2id hash of password with a freshly drawn random salt
// and returns it in PHC string form:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func Hash(password []byte) ([]byte, error) {
	salt := common.GenerateRandByteArray(saltLen)

	hash := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	return []byte(encoded), nil
}

// Verify recomputes the hash of candidate under the parameters embedded in
// stored and compares in constant time. Any malformed input, unsupported
// version, or mismatch yields false; a wrong password and a corrupt stored
// hash are indistinguishable to the caller.
func Verify(stored, candidate []byte) bool {
	salt, hash, memory, time, threads, err := decode(stored)
	if err != nil {
		return false
	}

	recomputed := argon2.IDKey(candidate, salt, time, memory, threads, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, recomputed) == 1
}

func decode(stored []byte) (salt, hash []byte, memory, time uint32, threads uint8, err error) {
	parts := strings.Split(string(stored), "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, errMalformed
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, errMalformed
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, 0, 0, 0, errMalformed
	}
	if memory == 0 || time == 0 || threads == 0 {
		return nil, nil, 0, 0, 0, errMalformed
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, errMalformed
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, nil, 0, 0, 0, errMalformed
	}

	return salt, hash, memory, time, threads, nil
}
