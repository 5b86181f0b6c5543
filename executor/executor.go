// Package executor implements the long-lived agent: it keeps a registered
// task stream open against the server, re-verifies every dispatched
// payload against its own key store, runs commands and streams back
// signed execution events.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/metadata"

	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/exec"
	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
	"github.com/siderant/funtonic/protocol"
)

// Version is the executor build version reported at registration.
const Version = "0.1.0"

// Reconnect backoff bounds: linear growth from the initial delay, capped,
// reset after a session that reached the server.
const (
	initialReconnectDelay = 100 * time.Millisecond
	reconnectStep         = time.Second
	maxReconnectDelay     = 10 * time.Second
)

// Options configures an Agent.
type Options struct {
	Config *config.Executor
	Logger *zap.Logger
	// Dial overrides how the server connection is established; tests use
	// it to connect over bufconn. Defaults to dialing Config.ServerURL.
	Dial func() (*grpc.ClientConn, error)
}

// Agent is one executor process.
type Agent struct {
	cfg  *config.Executor
	log  *zap.Logger
	dial func() (*grpc.ClientConn, error)

	// localKeys holds the commander identities this executor accepts.
	// AuthorizeKey/RevokeKey tasks mutate it at runtime.
	localKeys keys.Store
}

// New builds an agent from options. The local key store is seeded from
// the configured authorized keys.
func New(opts Options) (*Agent, error) {
	cfg := opts.Config
	if cfg.Key.ID != cfg.ClientID {
		return nil, fmt.Errorf("key id %q must match client id %q", cfg.Key.ID, cfg.ClientID)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	local := keys.NewMemoryStore()
	if err := keys.RegisterBase64Keys(local, cfg.AuthorizedKeys); err != nil {
		return nil, err
	}
	dial := opts.Dial
	if dial == nil {
		dial = func() (*grpc.ClientConn, error) { return config.Dial(cfg.ServerURL, cfg.TLS) }
	}
	return &Agent{cfg: cfg, log: logger, dial: dial, localKeys: local}, nil
}

// LocalKeys exposes the agent's commander key store, mainly for tests.
func (a *Agent) LocalKeys() keys.Store { return a.localKeys }

// Meta describes this executor to the server: configured tags plus
// auto-detected os tags.
func (a *Agent) Meta() meta.ExecutorMeta {
	tags := make(map[string]meta.Tag, len(a.cfg.Tags)+1)
	for k, v := range a.cfg.Tags {
		tags[k] = v
	}
	tags["os"] = meta.Map(map[string]meta.Tag{
		"type": meta.Value(runtime.GOOS),
		"arch": meta.Value(runtime.GOARCH),
	})
	return meta.ExecutorMeta{ClientID: a.cfg.ClientID, Version: Version, Tags: tags}
}

// Run keeps a session open until ctx is done, reconnecting with linear
// backoff. The backoff resets once a session actually reaches the server.
func (a *Agent) Run(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		connected, err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectStep
		} else {
			delay += reconnectStep
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
		a.log.Warn("session ended", zap.Error(err), zap.Duration("reconnect_in", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// session dials, registers and serves tasks until the stream breaks. The
// returned flag reports whether the transport came up at all.
func (a *Agent) session(ctx context.Context) (bool, error) {
	conn, err := a.dial()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	conn.Connect()
	for state := conn.GetState(); state != connectivity.Ready; state = conn.GetState() {
		if state == connectivity.TransientFailure || state == connectivity.Shutdown {
			return false, fmt.Errorf("connection entered %s", state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return false, ctx.Err()
		}
	}
	a.log.Info("connected", zap.String("server", a.cfg.ServerURL))

	m := a.Meta()
	handshake := protocol.GetTasksRequest{
		ClientID:              m.ClientID,
		ClientVersion:         m.Version,
		ClientProtocolVersion: protocol.Version,
		Tags:                  m.Tags,
	}
	local, err := a.localKeys.ListAll()
	if err != nil {
		return true, err
	}
	for _, id := range sortedKeys(local) {
		handshake.AuthorizedKeys = append(handshake.AuthorizedKeys, protocol.PublicKey{KeyID: id, KeyBytes: local[id]})
	}
	signed, err := keys.EncodeAndSign(handshake, a.cfg.Key, keys.DefaultValidity)
	if err != nil {
		return true, err
	}
	pub, err := a.cfg.Key.Public()
	if err != nil {
		return true, err
	}

	client := protocol.NewExecutorServiceClient(conn)
	stream, err := client.GetTasks(ctx, &protocol.RegisterExecutorRequest{
		ClientID:        m.ClientID,
		PublicKey:       pub,
		GetTasksRequest: signed,
	})
	if err != nil {
		return true, err
	}

	for {
		task, err := stream.Recv()
		if err != nil {
			return true, err
		}
		a.handleTask(ctx, client, task)
	}
}

// handleTask verifies, executes and reports one task. Errors are reported
// in-band where possible; a broken result stream kills the task.
func (a *Agent) handleTask(ctx context.Context, client protocol.ExecutorServiceClient, task *protocol.GetTaskStreamReply) {
	logger := a.log.With(zap.String("task_id", task.TaskID))

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results, err := a.openResultStream(taskCtx, client, task.TaskID)
	if err != nil {
		logger.Error("cannot open result stream", zap.Error(err))
		return
	}
	report := func(result protocol.ExecutionResult) error {
		signed, err := keys.EncodeAndSign(protocol.TaskExecutionResult{
			TaskID:   task.TaskID,
			ClientID: a.cfg.ClientID,
			Result:   result,
		}, a.cfg.Key, keys.DefaultValidity)
		if err != nil {
			return err
		}
		return results.Send(signed)
	}
	finish := func() {
		if _, err := results.CloseAndRecv(); err != nil {
			logger.Warn("result stream close", zap.Error(err))
		}
	}

	// independent consent: the commander's signature must verify against
	// this executor's own key store, whatever the server accepted
	var payload protocol.TaskPayload
	if err := keys.DecodePayload(a.localKeys, task.Payload, &payload); err != nil {
		logger.Warn("rejecting task", zap.Error(err))
		_ = report(protocol.ExecutionResult{TaskRejected: &protocol.TaskRejected{Reason: err.Error()}})
		finish()
		return
	}

	switch {
	case payload.ExecuteCommand != nil:
		a.runCommand(taskCtx, cancel, logger, payload.ExecuteCommand.Command, report)
	case payload.AuthorizeKey != nil:
		pk := payload.AuthorizeKey
		if err := a.localKeys.RegisterKey(pk.KeyID, pk.KeyBytes); err != nil {
			_ = report(protocol.ExecutionResult{TaskRejected: &protocol.TaskRejected{Reason: err.Error()}})
		} else {
			logger.Info("authorized key added", zap.String("key_id", pk.KeyID))
			_ = report(protocol.ExecutionResult{TaskCompleted: &protocol.TaskCompleted{ReturnCode: 0}})
		}
	case payload.RevokeKey != nil:
		if _, err := a.localKeys.RemoveKey(payload.RevokeKey.KeyID); err != nil {
			_ = report(protocol.ExecutionResult{TaskRejected: &protocol.TaskRejected{Reason: err.Error()}})
		} else {
			logger.Info("authorized key revoked", zap.String("key_id", payload.RevokeKey.KeyID))
			_ = report(protocol.ExecutionResult{TaskCompleted: &protocol.TaskCompleted{ReturnCode: 0}})
		}
	default:
		_ = report(protocol.ExecutionResult{TaskRejected: &protocol.TaskRejected{Reason: "unsupported task payload"}})
	}
	finish()
}

func (a *Agent) openResultStream(ctx context.Context, client protocol.ExecutorServiceClient, taskID string) (protocol.ExecutorServiceTaskExecutionClient, error) {
	return client.TaskExecution(metadata.AppendToOutgoingContext(ctx, protocol.TaskIDMetadataKey, taskID))
}

// runCommand executes the shell command and maps its events onto the
// wire. A failed report means the commander is gone; the task context is
// canceled so the child process dies with it.
func (a *Agent) runCommand(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, command string, report func(protocol.ExecutionResult) error) {
	logger.Info("executing", zap.String("command", command))
	events, err := exec.Run(ctx, command)
	if err != nil {
		_ = report(protocol.ExecutionResult{TaskRejected: &protocol.TaskRejected{Reason: err.Error()}})
		return
	}
	reportFailed := false
	for ev := range events {
		if reportFailed {
			continue // drain so the process is reaped
		}
		var result protocol.ExecutionResult
		switch ev.Kind {
		case exec.Started:
			result = protocol.ExecutionResult{Ping: &protocol.Empty{}}
		case exec.Stdout:
			result = protocol.ExecutionResult{TaskOutput: &protocol.TaskOutput{Stdout: append(ev.Line, '\n')}}
		case exec.Stderr:
			result = protocol.ExecutionResult{TaskOutput: &protocol.TaskOutput{Stderr: append(ev.Line, '\n')}}
		case exec.Finished:
			result = protocol.ExecutionResult{TaskCompleted: &protocol.TaskCompleted{ReturnCode: int32(ev.ExitCode)}}
		}
		if err := report(result); err != nil {
			logger.Warn("result stream broken, killing task", zap.Error(err))
			reportFailed = true
			cancel()
		}
	}
}

func sortedKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
