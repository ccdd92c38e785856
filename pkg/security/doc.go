/*
Package security manages the controller's TLS server certificate.

This package generates, persists, and rotates the self-signed certificate
the controller serves when no operator-provided certificate is
configured. Fleets on closed lab networks rarely have a CA; a pinned or
explicitly trusted self-signed certificate is the normal deployment.

# Certificate Lifecycle

EnsureServerCert is the only call the controller makes:

	cert, err := security.EnsureServerCert(certDir, listenHost)

  - An existing, readable certificate with more than 30 days of validity
    left is reused as is
  - A missing, unreadable, or nearly expired certificate is replaced by a
    freshly generated one, written as server.crt / server.key (0600)

Generated certificates are RSA 2048, valid for two years, and carry
localhost plus the loopback addresses and the configured listen host in
their SANs. NotBefore is backdated an hour so runners with slightly
behind clocks accept a just-minted certificate.

# Fingerprint Pinning

Fingerprint returns the SHA-256 of the DER encoding, printed at startup.
Operators either install the certificate into the runner hosts' trust
store or set insecure_skip_verify in the agent config for bench work;
the fingerprint in the controller log is what they compare against.

# See Also

  - pkg/controller for where the certificate is loaded into the listener
  - pkg/config for the TLS configuration block
*/
package security
