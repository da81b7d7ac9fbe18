// Package secrets rotates the appliance security credentials. A cloned VM
// image ships with baked-in SSH host keys and a placeholder TLS certificate
// shared by every clone, so both are regenerated exactly once at first boot.
package secrets

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/step"
	"github.com/slok/firstboot/internal/systemd"
)

// RotatorConfig is the configuration for the credential rotator.
type RotatorConfig struct {
	Steps   *step.Runner
	Systemd systemd.Manager
	Logger  log.Logger

	HostKeyPath    string
	SSHUnit        string
	CertPath       string
	CertKeyPath    string
	CertCommonName string
	CertValidity   time.Duration
}

func (c *RotatorConfig) defaults() error {
	if c.Steps == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Systemd == nil {
		return fmt.Errorf("systemd manager is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "secrets.Rotator"})
	if c.HostKeyPath == "" {
		c.HostKeyPath = "/etc/ssh/ssh_host_ed25519_key"
	}
	if c.SSHUnit == "" {
		c.SSHUnit = "ssh.service"
	}
	if c.CertPath == "" || c.CertKeyPath == "" {
		return fmt.Errorf("certificate paths are required")
	}
	if c.CertCommonName == "" {
		return fmt.Errorf("certificate common name is required")
	}
	if c.CertValidity == 0 {
		c.CertValidity = 825 * 24 * time.Hour
	}
	return nil
}

// Rotator regenerates the appliance credentials.
type Rotator struct {
	steps   *step.Runner
	systemd systemd.Manager
	logger  log.Logger

	hostKeyPath    string
	sshUnit        string
	certPath       string
	certKeyPath    string
	certCommonName string
	certValidity   time.Duration
}

// NewRotator creates a new credential rotator.
func NewRotator(cfg RotatorConfig) (*Rotator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Rotator{
		steps:          cfg.Steps,
		systemd:        cfg.Systemd,
		logger:         cfg.Logger,
		hostKeyPath:    cfg.HostKeyPath,
		sshUnit:        cfg.SSHUnit,
		certPath:       cfg.CertPath,
		certKeyPath:    cfg.CertKeyPath,
		certCommonName: cfg.CertCommonName,
		certValidity:   cfg.CertValidity,
	}, nil
}

// Rotate replaces the SSH host keys, restarts the SSH daemon so the new keys
// are served, and regenerates the self-signed TLS certificate.
func (r *Rotator) Rotate(ctx context.Context) error {
	err := r.steps.Run(ctx, "Regenerating SSH host key", step.PolicyFatal, func(context.Context) error {
		return r.rotateHostKey()
	})
	if err != nil {
		return err
	}

	err = r.steps.Run(ctx, fmt.Sprintf("Restarting %s", r.sshUnit), step.PolicyFatal, func(ctx context.Context) error {
		return r.systemd.RestartUnit(ctx, r.sshUnit)
	})
	if err != nil {
		return err
	}

	return r.steps.Run(ctx, "Regenerating self-signed certificate", step.PolicyFatal, func(context.Context) error {
		return r.rotateCertificate()
	})
}

// rotateHostKey removes every baked-in host key and generates a fresh
// Ed25519 pair.
func (r *Rotator) rotateHostKey() error {
	stale, err := filepath.Glob(filepath.Join(filepath.Dir(r.hostKeyPath), "ssh_host_*"))
	if err != nil {
		return fmt.Errorf("could not list existing host keys: %w", err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("could not remove stale host key %s: %w", path, err)
		}
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("could not generate ed25519 key: %w", err)
	}

	privKeyBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return fmt.Errorf("could not marshal private key: %w", err)
	}
	if err := os.WriteFile(r.hostKeyPath, pem.EncodeToMemory(privKeyBlock), 0600); err != nil {
		return fmt.Errorf("could not write host key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("could not convert to ssh public key: %w", err)
	}
	pubPath := r.hostKeyPath + ".pub"
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(sshPubKey), 0644); err != nil {
		os.Remove(r.hostKeyPath)
		return fmt.Errorf("could not write host public key: %w", err)
	}

	r.logger.Infof("Regenerated SSH host key at %s", r.hostKeyPath)
	return nil
}

// rotateCertificate generates a fresh self-signed certificate for the
// appliance web endpoint.
func (r *Rotator) rotateCertificate() error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("could not generate certificate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("could not generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: r.certCommonName},
		DNSNames:              []string{r.certCommonName},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(r.certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("could not create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("could not marshal certificate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.certPath), 0755); err != nil {
		return fmt.Errorf("could not create certificate directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(r.certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("could not write certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(r.certKeyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("could not write certificate key: %w", err)
	}

	r.logger.Infof("Regenerated self-signed certificate at %s", r.certPath)
	return nil
}
