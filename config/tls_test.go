package config_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/server"
)

// testPKI is a throwaway CA with one server and one client identity, all
// written as PEM files under a temp directory.
type testPKI struct {
	caCert     string
	serverCert string
	serverKey  string
	clientCert string
	clientKey  string
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	raw := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}
}

func issueCert(t *testing.T, dir, name string, template, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey, string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signerKey := parentKey
	if signerKey == nil {
		signerKey = key
		parent = template
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	certPath := filepath.Join(dir, name+".pem")
	keyPath := filepath.Join(dir, name+".key")
	writePEM(t, certPath, "CERTIFICATE", der)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	writePEM(t, keyPath, "PRIVATE KEY", keyDER)
	return cert, key, certPath, keyPath
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()
	notAfter := time.Now().Add(time.Hour)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "funtonic test CA"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              notAfter,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caCert, caKey, caPath, _ := issueCert(t, dir, "ca", caTemplate, nil, nil)

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "server"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	_, _, serverCert, serverKey := issueCert(t, dir, "server", serverTemplate, caCert, caKey)

	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "commander"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	_, _, clientCert, clientKey := issueCert(t, dir, "client", clientTemplate, caCert, caKey)

	return &testPKI{
		caCert:     caPath,
		serverCert: serverCert,
		serverKey:  serverKey,
		clientCert: clientCert,
		clientKey:  clientKey,
	}
}

// startTLSServer runs a task server behind mTLS on a real loopback socket
// and returns its address and the admin key accepted for admin calls.
func startTLSServer(t *testing.T, pki *testPKI) (string, keys.Key) {
	t.Helper()
	adminKey, err := keys.Generate("admin")
	if err != nil {
		t.Fatal(err)
	}
	ts, err := server.New(server.Options{
		DataDir:             t.TempDir(),
		AdminAuthorizedKeys: map[string]string{adminKey.ID: adminKey.PublicKey},
	})
	if err != nil {
		t.Fatal(err)
	}
	serverTLS := &config.TLS{CACert: pki.caCert, Cert: pki.serverCert, Key: pki.serverKey}
	creds, err := serverTLS.ServerCredentials()
	if err != nil {
		t.Fatalf("ServerCredentials: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	g := ts.GRPCServer(grpc.Creds(creds))
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)
	return lis.Addr().String(), adminKey
}

func adminListTasks(t *testing.T, ctx context.Context, conn *grpc.ClientConn, adminKey keys.Key) (string, error) {
	t.Helper()
	sp, err := keys.EncodeAndSign(protocol.AdminRequest{
		ListRunningTasks: &protocol.Empty{},
	}, adminKey, keys.DefaultValidity)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := protocol.NewCommanderServiceClient(conn).Admin(ctx, sp)
	if err != nil {
		return "", err
	}
	return resp.JSON, nil
}

func TestMutualTLSEndToEnd(t *testing.T) {
	pki := newTestPKI(t)
	addr, adminKey := startTLSServer(t, pki)

	clientTLS := &config.TLS{
		CACert:       pki.caCert,
		Cert:         pki.clientCert,
		Key:          pki.clientKey,
		ServerDomain: "localhost",
	}
	conn, err := config.Dial("http://"+addr, clientTLS)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	doc, err := adminListTasks(t, ctx, conn, adminKey)
	if err != nil {
		t.Fatalf("Admin over mTLS: %v", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(doc), &ids); err != nil {
		t.Fatalf("decoding %q: %v", doc, err)
	}
	if len(ids) != 0 {
		t.Errorf("running tasks = %v, want none", ids)
	}
}

func TestPlaintextClientRejectedByTLSServer(t *testing.T) {
	pki := newTestPKI(t)
	addr, adminKey := startTLSServer(t, pki)

	conn, err := config.Dial(addr, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := adminListTasks(t, ctx, conn, adminKey); err == nil {
		t.Fatal("plaintext client should not reach a TLS server")
	}
}

func TestClientWithoutCertificateRejected(t *testing.T) {
	pki := newTestPKI(t)
	addr, adminKey := startTLSServer(t, pki)

	caPEM, err := os.ReadFile(pki.caCert)
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatal("no CA certificate")
	}
	creds := credentials.NewTLS(&tls.Config{RootCAs: pool, ServerName: "localhost"})
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := adminListTasks(t, ctx, conn, adminKey); err == nil {
		t.Fatal("client without certificate should fail the handshake")
	}
}

func TestTLSCredentialsMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.pem")
	cfg := &config.TLS{CACert: missing, Cert: missing, Key: missing}
	if _, err := cfg.ServerCredentials(); err == nil {
		t.Error("ServerCredentials should fail on missing files")
	}
	if _, err := cfg.ClientCredentials(); err == nil {
		t.Error("ClientCredentials should fail on missing files")
	}
}
