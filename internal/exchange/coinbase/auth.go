package coinbase

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenTTL is the lifetime of a request JWT. Coinbase rejects tokens older
// than two minutes.
const tokenTTL = 2 * time.Minute

// Signer produces ES256 JWTs for the Advanced Trade API (CDP API keys).
type Signer struct {
	keyName string
	key     *ecdsa.PrivateKey
	now     func() time.Time
}

// NewSigner parses a PEM encoded EC private key. Escaped newlines ("\n" as
// two characters, common in env files) are accepted.
func NewSigner(keyName, privateKeyPEM string) (*Signer, error) {
	if keyName == "" {
		return nil, errors.New("api key name is empty")
	}
	raw := strings.ReplaceAll(strings.TrimSpace(privateKeyPEM), `\n`, "\n")
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("api private key: no PEM block found")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("api private key: %w", err)
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("api private key: %w", err)
		}
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("api private key: want ECDSA key, got %T", k)
		}
		key = ec
	default:
		return nil, fmt.Errorf("api private key: unsupported PEM type %q", block.Type)
	}
	if key.Curve.Params().BitSize != 256 {
		return nil, fmt.Errorf("api private key: want P-256, got %s", key.Curve.Params().Name)
	}
	return &Signer{keyName: keyName, key: key, now: time.Now}, nil
}

// cdpClaims are the claims Coinbase expects; uri binds a token to one
// request.
type cdpClaims struct {
	jwt.RegisteredClaims
	URI string `json:"uri,omitempty"`
}

// Token returns a JWT bound to one request ("GET api.coinbase.com/path").
// An empty method and host yields a token without uri, as used by the
// WebSocket feed.
func (s *Signer) Token(method, host, path string) (string, error) {
	now := s.now()
	claims := cdpClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.keyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	if method != "" {
		claims.URI = fmt.Sprintf("%s %s%s", method, host, path)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyName
	token.Header["nonce"] = strings.ReplaceAll(uuid.NewString(), "-", "")
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
