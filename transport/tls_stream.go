// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/arlofresh/dnsresolve/registry"
)

// newTLSConfigDoT returns the [*tls.Config] to use for one DoT endpoint,
// grounded on the teacher's NewTLSConfigDNSOverTLS but extended with a
// real SPKI pin check (see DESIGN.md): when ep carries pins,
// VerifyPeerCertificate rejects any chain whose leaf certificate's SPKI
// hash doesn't match the configured set, instead of trusting the system
// root store alone.
func newTLSConfigDoT(ep registry.DotEndpoint) *tls.Config {
	cfg := &tls.Config{
		NextProtos: []string{"dot"},
		ServerName: ep.Hostname(),
		MinVersion: tls.VersionTLS12,
	}
	if pins := ep.Pins(); len(pins) > 0 {
		cfg.VerifyPeerCertificate = verifySPKIPin(pins)
	}
	return cfg
}

// verifySPKIPin returns a VerifyPeerCertificate callback that accepts the
// connection if the leaf certificate's base64 SHA-256 SPKI fingerprint
// matches any entry in pins. This is deliberately the only check
// performed: it does not replace normal chain verification, which
// crypto/tls has already run by the time this callback fires.
func verifySPKIPin(pins []string) func([][]byte, [][]*x509.Certificate) error {
	want := make(map[string]struct{}, len(pins))
	for _, p := range pins {
		want[p] = struct{}{}
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("transport: no peer certificate to check against pins")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("transport: parse leaf certificate: %w", err)
		}
		sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
		if _, ok := want[base64.StdEncoding.EncodeToString(sum[:])]; ok {
			return nil
		}
		return fmt.Errorf("transport: leaf certificate does not match a configured pin")
	}
}

// tlsStreamDialer is the streamDialer used by the DoT engine.
type tlsStreamDialer struct {
	nd *net.Dialer
}

var _ streamDialer = &tlsStreamDialer{}

func newTLSStreamDialer() *tlsStreamDialer {
	return &tlsStreamDialer{nd: &net.Dialer{}}
}

// DialContext implements [streamDialer], performing the TLS handshake
// with a config built fresh per endpoint (ServerName and pin set both
// vary per endpoint).
func (d *tlsStreamDialer) DialContext(ctx context.Context, ep registry.DotEndpoint) (streamConn, error) {
	dialer := &tls.Dialer{NetDialer: d.nd, Config: newTLSConfigDoT(ep)}
	conn, err := dialer.DialContext(ctx, "tcp", ep.AddrPort().String())
	if err != nil {
		return nil, err
	}
	return &tcpStreamConn{conn}, nil
}
