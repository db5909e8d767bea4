// acmecert-demo provisions a TLS certificate for one or more domains and
// serves a trivial HTTPS "hello" endpoint with it, renewing automatically
// in the background. It exists to exercise the library end to end, not as
// a CLI wrapper around it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-acmecert/acmecert"
	"github.com/go-acmecert/acmecert/acme"
	"github.com/go-acmecert/acmecert/cmd"
)

const (
	domainsDefault   = ""
	settingsDefault  = "./acmecert-settings"
	contactDefault   = ""
	httpPortDefault  = 5002
	httpsPortDefault = 5001
	pebbleDefault    = false
)

func main() {
	domains := flag.String("domains", domainsDefault, "Comma-separated list of DNS names to provision a certificate for")
	settingsPath := flag.String("settings", settingsDefault, "Directory to persist account/certificate state in")
	contact := flag.String("contact", contactDefault, "Optional mailto contact for the ACME account")
	httpPort := flag.Int("httpPort", httpPortDefault, "Port the HTTP-01 responder listens on")
	httpsPort := flag.Int("httpsPort", httpsPortDefault, "Port the demo HTTPS endpoint listens on")
	pebble := flag.Bool("pebble", pebbleDefault, "Use a local Pebble server instead of Let's Encrypt staging")
	caCert := flag.String("ca", "", "Optional CA bundle to trust in addition to the system roots")

	flag.Parse()

	if *domains == "" {
		cmd.FailOnError(fmt.Errorf("no domains given"), "-domains is required")
	}

	server := acme.Staging
	if *pebble {
		server = acme.Pebble
	}

	var contacts []string
	if *contact != "" {
		contacts = []string{"mailto:" + *contact}
	}

	cfg := acmecert.Config{
		Domains:      strings.Split(*domains, ","),
		Server:       server,
		SettingsPath: *settingsPath,
		Contacts:     contacts,
		CACertPath:   *caCert,
	}

	ctx := context.Background()
	handle, responder, err := acmecert.Provision(ctx, cfg, nil)
	cmd.FailOnError(err, "provisioning certificate")

	go func() {
		addr := fmt.Sprintf(":%d", *httpPort)
		cmd.FailOnError(http.ListenAndServe(addr, responder), "HTTP-01 responder")
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello from acmecert-demo, serving %s\n", *domains)
	})

	httpsServer := &http.Server{
		Addr:      fmt.Sprintf(":%d", *httpsPort),
		Handler:   mux,
		TLSConfig: handle.TLSConfig(),
	}

	go cmd.CatchSignals(func() {
		handle.StopAutoRenewal()
	})

	cmd.FailOnError(httpsServer.ListenAndServeTLS("", ""), "HTTPS listener")
}
