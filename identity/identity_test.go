package identity

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "account-identity.pem")

	store, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, KeyBits, store.PrivateKey().N.BitLen())
}

func TestLoadRoundTripsPEM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "account-identity.pem")

	first, err := Load(path)
	require.NoError(t, err)
	originalPEM := first.PEM()

	second, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, originalPEM, second.PEM())
	require.Equal(t, first.PrivateKey().D, second.PrivateKey().D)
}

func TestThumbprintIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(filepath.Join(dir, "k.pem"))
	require.NoError(t, err)

	t1, err := store.Thumbprint()
	require.NoError(t, err)
	t2, err := store.Thumbprint()
	require.NoError(t, err)
	require.Equal(t, t1, t2)
	require.NotEmpty(t, t1)
}

// TestThumbprintMatchesRFC7638Vector exercises spec.md §8 invariant 6
// against RFC 7638 §3.1's worked example: the given RSA public key's JWK
// thumbprint must equal "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs" bit
// for bit. The key is reconstructed from its published n/e modulus and
// exponent (no private exponent is given in the RFC, nor needed — the
// thumbprint is a function of the public key alone).
func TestThumbprintMatchesRFC7638Vector(t *testing.T) {
	const n = "0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw"
	const wantThumbprint = "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs"

	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	require.NoError(t, err)

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: 65537, // "AQAB"
	}

	jwk := jose.JSONWebKey{Key: pub, Algorithm: "RS256"}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	require.NoError(t, err)

	require.Equal(t, wantThumbprint, base64.RawURLEncoding.EncodeToString(sum))
}

func TestLoadParseErrorOnMalformedPEM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	var idErr *Error
	require.ErrorAs(t, err, &idErr)
	require.Equal(t, KindParse, idErr.Kind)
}
