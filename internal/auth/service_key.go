package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Service keys authenticate operator tooling without an identity provider.
// The wire format is "svc_<keyID>_<secret>"; only the pbkdf2 encoding of
// the secret is persisted, keyed by the public key id.
const (
	serviceKeyPrefix = "svc_"

	serviceKeyIDLength     = 8
	serviceKeySecretLength = 24

	serviceKeyIterations = 120000
	serviceKeySaltLength = 16
	serviceKeyHashLength = 32
)

// ServiceKey is a freshly generated credential. Token is shown to the
// operator once; ID and SecretHash are what gets stored.
type ServiceKey struct {
	Token      string
	ID         string
	SecretHash string
}

// GenerateServiceKey mints a new service credential.
func GenerateServiceKey() (ServiceKey, error) {
	id, err := randomHex(serviceKeyIDLength)
	if err != nil {
		return ServiceKey{}, fmt.Errorf("generate key id: %w", err)
	}
	secret, err := randomHex(serviceKeySecretLength)
	if err != nil {
		return ServiceKey{}, fmt.Errorf("generate key secret: %w", err)
	}
	hash, err := hashServiceSecret(secret)
	if err != nil {
		return ServiceKey{}, err
	}
	return ServiceKey{
		Token:      serviceKeyPrefix + id + "_" + secret,
		ID:         id,
		SecretHash: hash,
	}, nil
}

// IsServiceKey reports whether the credential uses the service key format.
func IsServiceKey(token string) bool {
	return strings.HasPrefix(token, serviceKeyPrefix)
}

// ParseServiceKey splits a service credential into its key id and secret.
func ParseServiceKey(token string) (id, secret string, ok bool) {
	if !IsServiceKey(token) {
		return "", "", false
	}
	rest := token[len(serviceKeyPrefix):]
	sep := strings.IndexByte(rest, '_')
	if sep <= 0 || sep == len(rest)-1 {
		return "", "", false
	}
	return rest[:sep], rest[sep+1:], true
}

// VerifyServiceSecret checks a presented secret against its stored pbkdf2
// encoding. A mismatch reports ErrTokenInvalid.
func VerifyServiceSecret(encodedHash, secret string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify service key: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify service key: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify service key: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify service key: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify service key: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

func hashServiceSecret(secret string) (string, error) {
	salt := make([]byte, serviceKeySaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), salt, serviceKeyIterations, serviceKeyHashLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", serviceKeyIterations, encodedSalt, encodedKey), nil
}

func randomHex(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
