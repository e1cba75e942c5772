package interceptor

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"aifree-bot/platform"
	"aifree-bot/progress"
)

const (
	caCertFile = "aifree-ca.pem"
	caKeyFile  = "aifree-ca.key"
)

// certAuthority signs per-host leaf certificates so the proxy can
// terminate TLS for the target API.
type certAuthority struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// loadOrCreateCA reuses an existing CA under dir so the trust-store
// install survives restarts.
func loadOrCreateCA(dir string) (*certAuthority, error) {
	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	if ca, err := loadCA(certPath, keyPath); err == nil {
		return ca, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "aifree local proxy", Organization: []string{"aifree"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, err
	}
	return &certAuthority{cert: cert, key: key}, nil
}

func loadCA(certPath, keyPath string) (*certAuthority, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	certBlock, _ := pem.Decode(certPEM)
	keyBlock, _ := pem.Decode(keyPEM)
	if certBlock == nil || keyBlock == nil {
		return nil, fmt.Errorf("malformed CA files")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, err
	}
	return &certAuthority{cert: cert, key: key}, nil
}

// leafFor issues a short-lived certificate for one host.
func (ca *certAuthority) leafFor(host string) (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(0, 0, 7),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  key,
	}, nil
}

// InstallCertificate inserts the proxy CA into the OS trust store,
// retrying a few times before falling back to manual instructions.
func InstallCertificate(dir string, services platform.Services, stream *progress.Stream) error {
	if _, err := loadOrCreateCA(dir); err != nil {
		return fmt.Errorf("prepare certificate: %w", err)
	}
	certPath := filepath.Join(dir, caCertFile)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if stream != nil {
			stream.Emit(fmt.Sprintf("installing proxy certificate (attempt %d/3)", attempt))
		}
		if lastErr = services.InstallCert(certPath); lastErr == nil {
			if stream != nil {
				stream.Emit("proxy certificate trusted")
			}
			return nil
		}
		time.Sleep(time.Second)
	}
	if stream != nil {
		stream.Emit("automatic certificate install failed: " + lastErr.Error())
		stream.Emit("install it manually: import " + certPath + " into your system trust store as a trusted root, then restart the interceptor")
	}
	return fmt.Errorf("certificate install failed: %w", lastErr)
}
