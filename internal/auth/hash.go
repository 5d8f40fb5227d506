package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost for newly hashed operator API keys. Verification reads the
// cost out of the stored string, so these can be raised later without
// invalidating existing keys.
const (
	argonMemory  = 64 * 1024 // KiB
	argonPasses  = 2
	argonLanes   = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashAPIKey derives an Argon2id digest of an operator API key, encoded as
// a PHC string ($argon2id$v=..$m=..,t=..,p=..$salt$digest).
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	digest := argon2.IDKey([]byte(apiKey), salt, argonPasses, argonMemory, argonLanes, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonPasses, argonLanes,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// VerifyAPIKey checks an API key against a stored PHC hash, using the cost
// parameters embedded in the string.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, fmt.Errorf("auth: malformed key hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("auth: parse hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}

	var (
		memory, passes uint32
		lanes          uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &passes, &lanes); err != nil {
		return false, fmt.Errorf("auth: parse hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("auth: decode digest: %w", err)
	}

	got := argon2.IDKey([]byte(apiKey), salt, passes, memory, lanes, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// DummyVerify burns one Argon2id derivation at the current cost. Call it on
// auth failure paths where no stored hash was checked, so response timing
// does not reveal whether an operator_id exists.
func DummyVerify() {
	argon2.IDKey([]byte("menagerie"), make([]byte, argonSaltLen), argonPasses, argonMemory, argonLanes, argonKeyLen)
}
