// Package certstore persists the certificate chain and its RSA keypair,
// performs the atomic renewal write sequence, and recovers from a crash
// that interrupted that sequence. Adapted from the teacher's identity.Store
// load/generate/save pattern (acme/keys storage conventions), extended with
// the two-file atomic-swap-with-.old protocol this module's certificate
// lifecycle requires that a single identity file never needed.
package certstore

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	certFile    = "certificate.pem"
	certKeyFile = "certificate-identity.pem"
	certOldSuffix = ".old"

	keyFileMode  = 0o600
	chainFileMode = 0o644
)

// ErrorKind is a closed enum of certstore failure categories.
type ErrorKind int

const (
	_ ErrorKind = iota
	KindIO
	KindCorrupted
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "IOError"
	case KindCorrupted:
		return "CertificateStateCorruptedError"
	default:
		return "UnknownError"
	}
}

// Error is certstore's concrete error type.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certstore: %s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("certstore: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Bundle is the current certificate chain plus the key it was issued for.
// Consumers hold it through the facade's atomic reference swap (spec.md
// §4.J); replacement never mutates a live Bundle in place.
type Bundle struct {
	ChainPEM  []byte
	KeyPEM    []byte
	Key       *rsa.PrivateKey
	Leaf      *x509.Certificate
	NotAfter  time.Time
	SerialHex string

	// TLS is the pre-parsed tls.Certificate the facade's GetCertificate
	// hook returns directly, avoiding a re-parse on every handshake.
	TLS *tls.Certificate
}

// RenewAt is the point 30 days before NotAfter, per spec.md §4.I's renewal
// trigger.
func (b *Bundle) RenewAt() time.Time {
	return b.NotAfter.Add(-30 * 24 * time.Hour)
}

// Store owns the on-disk layout under a directory: account-identity.pem is
// not this package's concern (see the identity package); Store owns only
// certificate.pem and certificate-identity.pem and their .old counterparts.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir. dir must already exist.
func Open(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "Open", Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Kind: KindIO, Op: "Open", Err: fmt.Errorf("%q is not a directory", dir)}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Recover implements attemptToRecoverFromFailedRenewal (spec.md §4.H),
// classifying the six known disk states and repairing the four that need
// it. It must run before any read of the current files.
func (s *Store) Recover() error {
	curCert := s.exists(certFile)
	curKey := s.exists(certKeyFile)
	oldCert := s.exists(certFile + certOldSuffix)
	oldKey := s.exists(certKeyFile + certOldSuffix)

	switch {
	case curCert && curKey && (oldCert || oldKey):
		// Case 1: renewal completed but cleanup crashed, possibly after
		// removing one of the two .old files already.
		return s.removeOld()

	case !curCert && !curKey && oldCert && oldKey:
		// Case 2a: crashed between rename-to-.old and writing new files.
		return s.restoreFromOld()

	case curCert && !curKey && oldKey:
		// Case 2b: one new file landed, the other didn't. Replace only
		// removes .old files after both new ones are written, so the
		// other .old file's presence doesn't gate this — it may or may
		// not have been cleaned up yet.
		return s.restoreFromOld()

	case !curCert && curKey && oldCert:
		// Case 2c: symmetric to 2b.
		return s.restoreFromOld()

	case curCert && curKey && !oldCert && !oldKey:
		// Case 3: steady state.
		return nil

	case !curCert && !curKey && !oldCert && !oldKey:
		// Case 4: cold start.
		return nil

	default:
		return &Error{
			Kind: KindCorrupted,
			Op:   "Recover",
			Err: fmt.Errorf("unrecognized disk state: cert=%v key=%v cert.old=%v key.old=%v",
				curCert, curKey, oldCert, oldKey),
		}
	}
}

func (s *Store) removeOld() error {
	for _, name := range []string{certFile + certOldSuffix, certKeyFile + certOldSuffix} {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return &Error{Kind: KindIO, Op: "removeOld", Err: err}
		}
	}
	return nil
}

func (s *Store) restoreFromOld() error {
	if err := os.Rename(s.path(certFile+certOldSuffix), s.path(certFile)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: KindIO, Op: "restoreFromOld", Err: err}
	}
	if err := os.Rename(s.path(certKeyFile+certOldSuffix), s.path(certKeyFile)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: KindIO, Op: "restoreFromOld", Err: err}
	}
	return nil
}

// Load reads the current Bundle, or returns (nil, nil) if no current pair
// exists (cold start, case 4).
func (s *Store) Load() (*Bundle, error) {
	if !s.exists(certFile) || !s.exists(certKeyFile) {
		return nil, nil
	}

	chainPEM, err := os.ReadFile(s.path(certFile))
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "Load", Err: err}
	}
	keyPEM, err := os.ReadFile(s.path(certKeyFile))
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "Load", Err: err}
	}

	return parseBundle(chainPEM, keyPEM)
}

func parseBundle(chainPEM, keyPEM []byte) (*Bundle, error) {
	leafBlock, _ := pem.Decode(chainPEM)
	if leafBlock == nil {
		return nil, &Error{Kind: KindCorrupted, Op: "parseBundle", Err: fmt.Errorf("certificate.pem contains no PEM block")}
	}
	leaf, err := x509.ParseCertificate(leafBlock.Bytes)
	if err != nil {
		return nil, &Error{Kind: KindCorrupted, Op: "parseBundle", Err: err}
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, &Error{Kind: KindCorrupted, Op: "parseBundle", Err: fmt.Errorf("certificate-identity.pem contains no PEM block")}
	}
	key, err := parseRSAKey(keyBlock.Bytes)
	if err != nil {
		return nil, &Error{Kind: KindCorrupted, Op: "parseBundle", Err: err}
	}

	tlsCert, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return nil, &Error{Kind: KindCorrupted, Op: "parseBundle", Err: err}
	}

	return &Bundle{
		ChainPEM:  chainPEM,
		KeyPEM:    keyPEM,
		Key:       key,
		Leaf:      leaf,
		NotAfter:  leaf.NotAfter,
		SerialHex: leaf.SerialNumber.Text(16),
		TLS:       &tlsCert,
	}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certificate-identity.pem does not hold an RSA key")
	}
	return key, nil
}

// Replace performs the atomic renewal write sequence (spec.md §4.H):
// rename current to .old, write new files, fsync, remove .old. chainPEM
// and keyPEM must already be PEM-encoded.
func (s *Store) Replace(chainPEM, keyPEM []byte) (*Bundle, error) {
	bundle, err := parseBundle(chainPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	if s.exists(certFile) {
		if err := os.Rename(s.path(certFile), s.path(certFile+certOldSuffix)); err != nil {
			return nil, &Error{Kind: KindIO, Op: "Replace", Err: err}
		}
	}
	if s.exists(certKeyFile) {
		if err := os.Rename(s.path(certKeyFile), s.path(certKeyFile+certOldSuffix)); err != nil {
			return nil, &Error{Kind: KindIO, Op: "Replace", Err: err}
		}
	}

	if err := s.writeFile(certKeyFile, keyPEM, keyFileMode); err != nil {
		return nil, err
	}
	if err := s.writeFile(certFile, chainPEM, chainFileMode); err != nil {
		return nil, err
	}

	if err := s.removeOld(); err != nil {
		return nil, err
	}

	return bundle, nil
}

func (s *Store) writeFile(name string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return &Error{Kind: KindIO, Op: "writeFile", Err: err}
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return &Error{Kind: KindIO, Op: "writeFile", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &Error{Kind: KindIO, Op: "writeFile", Err: err}
	}
	return nil
}

// EncodeKeyPEM PEM-encodes an RSA private key the way this package expects
// to read it back from certificate-identity.pem.
func EncodeKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}
