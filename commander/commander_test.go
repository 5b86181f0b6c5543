package commander_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"gopkg.in/yaml.v3"

	"github.com/siderant/funtonic/commander"
	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/executor"
	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/server"
)

type harness struct {
	conn         *grpc.ClientConn
	dial         func() (*grpc.ClientConn, error)
	commanderKey keys.Key
	adminKey     keys.Key
}

func startServer(t *testing.T) *harness {
	t.Helper()
	commanderKey, err := keys.Generate("commander")
	if err != nil {
		t.Fatal(err)
	}
	adminKey, err := keys.Generate("admin")
	if err != nil {
		t.Fatal(err)
	}

	ts, err := server.New(server.Options{
		DataDir:             t.TempDir(),
		AuthorizedKeys:      map[string]string{commanderKey.ID: commanderKey.PublicKey},
		AdminAuthorizedKeys: map[string]string{adminKey.ID: adminKey.PublicKey},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	g := ts.GRPCServer()
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	dial := func() (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := dial()
	if err != nil {
		t.Fatalf("dialing bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{conn: conn, dial: dial, commanderKey: commanderKey, adminKey: adminKey}
}

// commander builds a Commander writing into buffers, signing with key.
func (h *harness) commander(key keys.Key) (*commander.Commander, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	c := commander.New(commander.Options{
		Conn:   h.conn,
		Config: &config.Commander{Key: key},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	return c, &stdout, &stderr
}

// startAgent runs an executor agent and approves it through TOFU.
func (h *harness) startAgent(t *testing.T, ctx context.Context, clientID string) {
	t.Helper()
	execKey, err := keys.Generate(clientID)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := executor.New(executor.Options{
		Config: &config.Executor{
			ClientID:  clientID,
			ServerURL: "bufnet",
			Tags:      map[string]meta.Tag{"env": meta.Value("prod")},
			Key:       execKey,
			AuthorizedKeys: map[string]string{
				h.commanderKey.ID: h.commanderKey.PublicKey,
				h.adminKey.ID:     h.adminKey.PublicKey,
			},
		},
		Dial: h.dial,
	})
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = agent.Run(ctx) }()

	admin, _, _ := h.commander(h.adminKey)
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := admin.Admin(ctx, protocol.AdminRequest{
			ApproveExecutorKey: &protocol.ApproveExecutorKey{ClientID: "*"},
		}, commander.OutputJSON); err != nil {
			t.Fatal(err)
		}
		raw, err := admin.Admin(ctx, protocol.AdminRequest{
			ListConnectedExecutors: &protocol.AdminQuery{Query: clientID},
		}, commander.OutputJSON)
		if err != nil {
			t.Fatal(err)
		}
		var connected map[string]meta.ExecutorMeta
		if err := json.Unmarshal([]byte(raw), &connected); err != nil {
			t.Fatal(err)
		}
		if _, ok := connected[clientID]; ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("agent %s never connected", clientID)
}

func TestLaunchSummary(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-1")

	c, stdout, _ := h.commander(h.commanderKey)
	summary, err := c.Launch(ctx, "env:prod", "echo hello", commander.LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !summary.Success || summary.ExitCode() != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if ids := summary.States[commander.StateSuccess]; len(ids) != 1 || ids[0] != "web-1" {
		t.Fatalf("states = %+v", summary.States)
	}
	out := stdout.String()
	if !strings.Contains(out, "Matching executors: web-1") {
		t.Errorf("missing matching line in %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("missing command output in %q", out)
	}
	if !strings.Contains(out, "Success") {
		t.Errorf("missing final state in %q", out)
	}
}

func TestLaunchRawOutput(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-raw")

	c, stdout, stderr := h.commander(h.commanderKey)
	summary, err := c.Launch(ctx, "web-raw", "echo out; echo err >&2", commander.LaunchOptions{Raw: true})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !summary.Success {
		t.Fatalf("summary = %+v", summary)
	}
	if stdout.String() != "out\n" {
		t.Errorf("raw stdout = %q", stdout.String())
	}
	if stderr.String() != "err\n" {
		t.Errorf("raw stderr = %q", stderr.String())
	}
}

func TestLaunchGroupOutput(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-group")

	c, stdout, _ := h.commander(h.commanderKey)
	summary, err := c.Launch(ctx, "web-group", "echo one; echo two", commander.LaunchOptions{Group: true})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !summary.Success {
		t.Fatalf("summary = %+v", summary)
	}
	out := stdout.String()
	if !strings.Contains(out, "########") || !strings.Contains(out, "web-group") {
		t.Errorf("missing group header in %q", out)
	}
	if !strings.Contains(out, "one\ntwo") {
		t.Errorf("group output not contiguous in %q", out)
	}
}

func TestLaunchFailureExitCode(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-fail")

	c, _, _ := h.commander(h.commanderKey)
	summary, err := c.Launch(ctx, "web-fail", "exit 2", commander.LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if summary.Success || summary.ExitCode() != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if ids := summary.States[commander.StateError]; len(ids) != 1 {
		t.Fatalf("states = %+v", summary.States)
	}
}

func TestLaunchNoMatchFails(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, _, _ := h.commander(h.commanderKey)
	summary, err := c.Launch(ctx, "env:nowhere", "uptime", commander.LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if summary.Success {
		t.Fatal("no matching executor must not be a success")
	}
}

func TestLaunchBadPredicate(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, _ := h.commander(h.commanderKey)
	if _, err := c.Launch(ctx, "env:(prod", "uptime", commander.LaunchOptions{}); err == nil {
		t.Fatal("bad predicate should fail before launching")
	}
}

func TestKeyManagementCommands(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-keys")

	extra, err := keys.Generate("extra")
	if err != nil {
		t.Fatal(err)
	}
	admin, _, _ := h.commander(h.adminKey)
	summary, err := admin.AuthorizeKey(ctx, "web-keys", extra.ID, extra.PublicKey)
	if err != nil {
		t.Fatalf("AuthorizeKey: %v", err)
	}
	if !summary.Success {
		t.Fatalf("authorize summary = %+v", summary)
	}
	summary, err = admin.RevokeKey(ctx, "web-keys", extra.ID)
	if err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if !summary.Success {
		t.Fatalf("revoke summary = %+v", summary)
	}
}

func TestAdminOutputModes(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-admin")

	admin, _, _ := h.commander(h.adminKey)
	req := protocol.AdminRequest{ListKnownExecutors: &protocol.AdminQuery{}}

	raw, err := admin.Admin(ctx, req, commander.OutputJSON)
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	var executors map[string]meta.ExecutorMeta
	if err := json.Unmarshal([]byte(raw), &executors); err != nil {
		t.Fatalf("json mode should round-trip: %v", err)
	}
	if _, ok := executors["web-admin"]; !ok {
		t.Fatalf("known executors = %v", executors)
	}

	pretty, err := admin.Admin(ctx, req, commander.OutputPrettyJSON)
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	if !strings.Contains(pretty, "\n") {
		t.Errorf("pretty mode should be indented: %q", pretty)
	}

	human, err := admin.Admin(ctx, req, commander.OutputHumanReadable)
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	if !strings.Contains(human, "web-admin") || !strings.Contains(human, "env") {
		t.Errorf("human mode = %q", human)
	}

	keysDoc, err := admin.Admin(ctx, protocol.AdminRequest{ListExecutorKeys: &protocol.Empty{}}, commander.OutputHumanReadable)
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	if !strings.Contains(keysDoc, "trusted:") || !strings.Contains(keysDoc, "web-admin") {
		t.Errorf("executor keys = %q", keysDoc)
	}

	// admin operations are refused for plain commander identities
	plain, _, _ := h.commander(h.commanderKey)
	if _, err := plain.Admin(ctx, req, commander.OutputJSON); err == nil {
		t.Fatal("commander key must not pass admin auth")
	}
}

func TestInteractive(t *testing.T) {
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.startAgent(t, ctx, "web-int")

	c, stdout, _ := h.commander(h.commanderKey)
	input := strings.NewReader("echo hi\n\nexit\n")
	if err := c.Interactive(ctx, "web-int", input); err != nil {
		t.Fatalf("Interactive: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "hi") {
		t.Errorf("missing command output in %q", out)
	}
	if !strings.Contains(out, "web-int> ") {
		t.Errorf("missing prompt in %q", out)
	}
}

func TestParseOutputMode(t *testing.T) {
	for input, want := range map[string]commander.OutputMode{
		"json":           commander.OutputJSON,
		"js":             commander.OutputJSON,
		"pretty-json":    commander.OutputPrettyJSON,
		"human-readable": commander.OutputHumanReadable,
		"":               commander.OutputHumanReadable,
	} {
		got, err := commander.ParseOutputMode(input)
		if err != nil || got != want {
			t.Errorf("ParseOutputMode(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := commander.ParseOutputMode("xml"); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestGenerateKeyYAML(t *testing.T) {
	out, err := commander.GenerateKeyYAML("ops")
	if err != nil {
		t.Fatalf("GenerateKeyYAML: %v", err)
	}
	var doc commander.GeneratedKey
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output should be valid YAML: %v", err)
	}
	if doc.Key.ID != "ops" || doc.AuthorizedKeys["ops"] != doc.Key.PublicKey {
		t.Fatalf("doc = %+v", doc)
	}
	if _, err := doc.Key.Signer(); err != nil {
		t.Fatalf("generated key should be usable: %v", err)
	}
}
