package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selfSignedBundle(t *testing.T, serial int64, notAfter time.Time) ([]byte, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "example.test"},
		DNSNames:     []string{"example.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	chainPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return chainPEM, EncodeKeyPEM(key)
}

func TestReplaceThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	chainPEM, keyPEM := selfSignedBundle(t, 1, time.Now().Add(90*24*time.Hour))

	bundle, err := store.Replace(chainPEM, keyPEM)
	require.NoError(t, err)
	require.Equal(t, "1", bundle.SerialHex)

	require.NoFileExists(t, filepath.Join(dir, certFile+certOldSuffix))
	require.NoFileExists(t, filepath.Join(dir, certKeyFile+certOldSuffix))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, bundle.ChainPEM, loaded.ChainPEM)
	require.Equal(t, bundle.SerialHex, loaded.SerialHex)
}

func TestLoadReturnsNilOnColdStart(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	bundle, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, bundle)
}

func TestRecoverCase1RemovesStaleOldFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	chainPEM, keyPEM := selfSignedBundle(t, 2, time.Now().Add(90*24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile), chainPEM, chainFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certKeyFile), keyPEM, keyFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile+certOldSuffix), []byte("stale-chain"), chainFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certKeyFile+certOldSuffix), []byte("stale-key"), keyFileMode))

	require.NoError(t, store.Recover())

	require.NoFileExists(t, filepath.Join(dir, certFile+certOldSuffix))
	require.NoFileExists(t, filepath.Join(dir, certKeyFile+certOldSuffix))

	got, err := os.ReadFile(filepath.Join(dir, certFile))
	require.NoError(t, err)
	require.Equal(t, chainPEM, got)
}

func TestRecoverCase2aRestoresFromOld(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	chainPEM, keyPEM := selfSignedBundle(t, 3, time.Now().Add(90*24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile+certOldSuffix), chainPEM, chainFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certKeyFile+certOldSuffix), keyPEM, keyFileMode))

	require.NoError(t, store.Recover())

	require.NoFileExists(t, filepath.Join(dir, certFile+certOldSuffix))
	require.NoFileExists(t, filepath.Join(dir, certKeyFile+certOldSuffix))

	got, err := os.ReadFile(filepath.Join(dir, certFile))
	require.NoError(t, err)
	require.Equal(t, chainPEM, got)
}

func TestRecoverCase2bRestoresFromOld(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	chainPEM, keyPEM := selfSignedBundle(t, 4, time.Now().Add(90*24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile), []byte("partial"), chainFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certKeyFile+certOldSuffix), keyPEM, keyFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile+certOldSuffix), chainPEM, chainFileMode))

	require.NoError(t, store.Recover())

	got, err := os.ReadFile(filepath.Join(dir, certFile))
	require.NoError(t, err)
	require.Equal(t, chainPEM, got)
}

func TestRecoverCase3IsNoop(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	chainPEM, keyPEM := selfSignedBundle(t, 5, time.Now().Add(90*24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile), chainPEM, chainFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certKeyFile), keyPEM, keyFileMode))

	require.NoError(t, store.Recover())

	got, err := os.ReadFile(filepath.Join(dir, certFile))
	require.NoError(t, err)
	require.Equal(t, chainPEM, got)
}

func TestRecoverUnrecognizedStateIsCorrupted(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile), []byte("x"), chainFileMode))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFile+certOldSuffix), []byte("y"), chainFileMode))

	err = store.Recover()
	require.Error(t, err)
	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	require.Equal(t, KindCorrupted, csErr.Kind)
}

func TestRenewAtIs30DaysBeforeExpiry(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	notAfter := time.Now().Add(90 * 24 * time.Hour)
	chainPEM, keyPEM := selfSignedBundle(t, 6, notAfter)
	bundle, err := store.Replace(chainPEM, keyPEM)
	require.NoError(t, err)

	require.WithinDuration(t, notAfter.Add(-30*24*time.Hour), bundle.RenewAt(), time.Minute)
}
