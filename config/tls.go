package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ClientKeepaliveInterval is the TCP keepalive period for executor and
// commander connections.
const ClientKeepaliveInterval = 60 * time.Second

// TLS points at the PEM material for mutually-authenticated transport.
type TLS struct {
	// CACert is the CA certificate path used to verify the peer.
	CACert string `yaml:"ca_cert"`
	// Key is the private key path for this process's identity.
	Key string `yaml:"key"`
	// Cert is the certificate path for this process's identity.
	Cert string `yaml:"cert"`
	// ServerDomain overrides the domain expected in the server
	// certificate; by default the server URL's host is used.
	ServerDomain string `yaml:"server_domain,omitempty"`
}

func (t *TLS) caPool() (*x509.CertPool, error) {
	pem, err := os.ReadFile(t.CACert)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificate found in %s", t.CACert)
	}
	return pool, nil
}

// ServerCredentials builds server-side transport credentials requiring a
// client certificate signed by the CA.
func (t *TLS) ServerCredentials() (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
	if err != nil {
		return nil, fmt.Errorf("loading server identity: %w", err)
	}
	pool, err := t.caPool()
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}), nil
}

// ClientCredentials builds client-side transport credentials presenting
// this process's identity and verifying the server against the CA.
func (t *TLS) ClientCredentials() (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
	if err != nil {
		return nil, fmt.Errorf("loading client identity: %w", err)
	}
	pool, err := t.caPool()
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   t.ServerDomain,
	}), nil
}

// Dial connects to a funtonic server URL with the funtonic client
// keepalive policy, using mTLS when tlsCfg is present.
func Dial(serverURL string, tlsCfg *TLS) (*grpc.ClientConn, error) {
	target := serverURL
	if i := strings.Index(target, "://"); i >= 0 {
		target = target[i+3:]
	}
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		var err error
		creds, err = tlsCfg.ClientCredentials()
		if err != nil {
			return nil, err
		}
	}
	return grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                ClientKeepaliveInterval,
			PermitWithoutStream: true,
		}))
}
