package acmecert

import (
	"fmt"

	"github.com/go-acmecert/acmecert/acme"
)

// Config configures Provision (spec.md §6's configuration options table).
type Config struct {
	// Domains is the non-empty list of DNS names to include as SANs.
	Domains []string
	// Server selects the ACME directory.
	Server acme.Server
	// DirectoryURL overrides Server, for MOCK / custom test harnesses.
	DirectoryURL string
	// SettingsPath is the directory persisted state lives under. Created
	// if it does not exist.
	SettingsPath string
	// Contacts holds optional mailto contact URIs for the account.
	Contacts []string
	// CACertPath is an optional PEM CA bundle to trust in addition to the
	// system roots, for talking to a local Pebble instance.
	CACertPath string
}

// ErrorKind is a closed enum of configuration failure categories.
type ErrorKind int

const (
	_ ErrorKind = iota
	KindConfiguration
)

func (k ErrorKind) String() string {
	if k == KindConfiguration {
		return "ConfigurationError"
	}
	return "UnknownError"
}

// Error is the facade's concrete error type.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("acmecert: %s: %s", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func (c Config) validate() error {
	if len(c.Domains) == 0 {
		return &Error{Kind: KindConfiguration, Err: fmt.Errorf("Domains must be non-empty")}
	}
	if c.SettingsPath == "" {
		return &Error{Kind: KindConfiguration, Err: fmt.Errorf("SettingsPath must be set")}
	}
	return nil
}
