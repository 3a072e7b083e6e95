// v0
// internal/tlsconfig/tlsconfig.go
package tlsconfig

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"
)

// Store types understood by Load.
const (
	TypePKCS12 = "PKCS12"
	TypeJKS    = "JKS"
	TypePEM    = "PEM"
)

var (
	ErrUnsupportedType = errors.New("unsupported store type")
	ErrEmptyTruststore = errors.New("truststore holds no trusted certificates")
	ErrNoPrivateKey    = errors.New("keystore holds no private key")
)

// Store points at credential material on disk.
type Store struct {
	Type     string
	Location string
	Password string
}

// Store types accepted for each role.
var (
	KeystoreTypes   = []string{TypePKCS12, TypePEM}
	TruststoreTypes = []string{TypeJKS, TypePKCS12, TypePEM}
)

// ValidateKeystore checks a keystore reference without reading it.
func ValidateKeystore(s Store) error { return s.validate(KeystoreTypes) }

// ValidateTruststore checks a truststore reference without reading it.
func ValidateTruststore(s Store) error { return s.validate(TruststoreTypes) }

// validate reports the offending field first so callers can prefix it with
// their own key, e.g. "ssl.keystore." + "type ...".
func (s Store) validate(allowed []string) error {
	if !slices.Contains(allowed, s.Type) {
		return fmt.Errorf("type %q: %w (want one of %s)", s.Type, ErrUnsupportedType, strings.Join(allowed, ", "))
	}
	if strings.TrimSpace(s.Location) == "" || s.Location == "." {
		return errors.New("location must be set")
	}
	if s.Type != TypePEM && s.Password == "" {
		return errors.New("password must be set")
	}
	return nil
}

// Material is the client identity plus the issuers it trusts.
type Material struct {
	Keystore    Store
	KeyPassword string
	Truststore  Store
}

// Load reads the keystore and truststore and returns a mutual-TLS client
// configuration. Any failure is returned; the caller must not connect.
func Load(m Material) (*tls.Config, error) {
	cert, err := loadKeyPair(m.Keystore, m.KeyPassword)
	if err != nil {
		return nil, fmt.Errorf("keystore %s: %w", m.Keystore.Location, err)
	}
	roots, err := loadTrustPool(m.Truststore)
	if err != nil {
		return nil, fmt.Errorf("truststore %s: %w", m.Truststore.Location, err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
	}, nil
}

func loadKeyPair(s Store, keyPassword string) (tls.Certificate, error) {
	data, err := os.ReadFile(s.Location)
	if err != nil {
		return tls.Certificate{}, err
	}
	switch s.Type {
	case TypePKCS12:
		return decodePKCS12KeyPair(data, s.Password, keyPassword)
	case TypePEM:
		// Certificate chain and private key share one file.
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, err
		}
		return cert, nil
	default:
		return tls.Certificate{}, fmt.Errorf("%w: %q", ErrUnsupportedType, s.Type)
	}
}

// decodePKCS12KeyPair tries the store password first; PKCS#12 files written
// with a distinct key password are retried with that one.
func decodePKCS12KeyPair(data []byte, storePassword, keyPassword string) (tls.Certificate, error) {
	key, leaf, chain, err := pkcs12.DecodeChain(data, storePassword)
	if errors.Is(err, pkcs12.ErrIncorrectPassword) && keyPassword != "" && keyPassword != storePassword {
		key, leaf, chain, err = pkcs12.DecodeChain(data, keyPassword)
	}
	if err != nil {
		return tls.Certificate{}, err
	}
	if key == nil {
		return tls.Certificate{}, ErrNoPrivateKey
	}
	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return cert, nil
}

func loadTrustPool(s Store) (*x509.CertPool, error) {
	data, err := os.ReadFile(s.Location)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	switch s.Type {
	case TypeJKS:
		certs, err := decodeJKSTrustStore(data, s.Password)
		if err != nil {
			return nil, err
		}
		for _, c := range certs {
			pool.AddCert(c)
		}
	case TypePKCS12:
		certs, err := pkcs12.DecodeTrustStore(data, s.Password)
		if err != nil {
			return nil, err
		}
		if len(certs) == 0 {
			return nil, ErrEmptyTruststore
		}
		for _, c := range certs {
			pool.AddCert(c)
		}
	case TypePEM:
		if !pool.AppendCertsFromPEM(data) {
			return nil, ErrEmptyTruststore
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, s.Type)
	}
	return pool, nil
}

func decodeJKSTrustStore(data []byte, password string) ([]*x509.Certificate, error) {
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, alias := range ks.Aliases() {
		if !ks.IsTrustedCertificateEntry(alias) {
			continue
		}
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, fmt.Errorf("alias %s: %w", alias, err)
		}
		c, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			return nil, fmt.Errorf("alias %s: %w", alias, err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, ErrEmptyTruststore
	}
	return certs, nil
}
