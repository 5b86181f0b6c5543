package commander

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/query"
)

// Options configures a Commander.
type Options struct {
	Conn   grpc.ClientConnInterface
	Config *config.Commander
	Logger *zap.Logger
	// Stdout and Stderr receive rendered output; they default to the
	// process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Commander drives the commander service with one signing identity.
type Commander struct {
	client   protocol.CommanderServiceClient
	key      keys.Key
	validity time.Duration
	log      *zap.Logger
	stdout   io.Writer
	stderr   io.Writer
}

// New builds a Commander on an established connection.
func New(opts Options) *Commander {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Commander{
		client:   protocol.NewCommanderServiceClient(opts.Conn),
		key:      opts.Config.Key,
		validity: opts.Config.Validity(),
		log:      logger,
		stdout:   stdout,
		stderr:   stderr,
	}
}

// LaunchOptions selects the launch output mode.
type LaunchOptions struct {
	// Raw prints remote stdout/stderr verbatim as it arrives, nothing
	// else.
	Raw bool
	// Group buffers output per executor and prints each block when that
	// executor finishes, instead of a live interleaved stream.
	Group bool
}

// Summary is the synthetic outcome of a launch.
type Summary struct {
	// States groups executor ids (sorted) by their final state.
	States map[ExecutorState][]string
	// Success reports that at least one executor matched and every one
	// of them completed with exit code zero.
	Success bool
}

// ExitCode maps the summary onto a process exit status.
func (s *Summary) ExitCode() int {
	if s.Success {
		return 0
	}
	return 1
}

// Launch runs a shell command on every executor matching the predicate.
func (c *Commander) Launch(ctx context.Context, predicate, command string, opts LaunchOptions) (*Summary, error) {
	return c.run(ctx, predicate, protocol.TaskPayload{
		ExecuteCommand: &protocol.ExecuteCommand{Command: command},
	}, opts)
}

// AuthorizeKey pushes a commander public key to every matching executor's
// local authorized set. The signing identity must be an admin key.
func (c *Commander) AuthorizeKey(ctx context.Context, predicate, keyID, encoded string) (*Summary, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 public key: %w", err)
	}
	return c.run(ctx, predicate, protocol.TaskPayload{
		AuthorizeKey: &protocol.PublicKey{KeyID: keyID, KeyBytes: raw},
	}, LaunchOptions{})
}

// RevokeKey removes a commander key from every matching executor's local
// authorized set. The signing identity must be an admin key.
func (c *Commander) RevokeKey(ctx context.Context, predicate, keyID string) (*Summary, error) {
	return c.run(ctx, predicate, protocol.TaskPayload{
		RevokeKey: &protocol.RevokeKey{KeyID: keyID},
	}, LaunchOptions{})
}

func (c *Commander) run(ctx context.Context, predicate string, payload protocol.TaskPayload, opts LaunchOptions) (*Summary, error) {
	// fail on an unparseable predicate before signing anything
	if _, err := query.Parse(predicate); err != nil {
		return nil, err
	}
	signed, err := keys.EncodeAndSign(payload, c.key, c.validity)
	if err != nil {
		return nil, err
	}
	stream, err := c.client.LaunchTask(ctx, &protocol.LaunchTaskRequest{
		Payload:   signed,
		Predicate: predicate,
	})
	if err != nil {
		return nil, err
	}

	states := map[string]ExecutorState{}
	grouped := map[string][]string{}
	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case frame.MatchingExecutors != nil:
			ids := append([]string(nil), frame.MatchingExecutors.ClientIDs...)
			sort.Strings(ids)
			for _, id := range ids {
				states[id] = StateMatching
			}
			if !opts.Raw {
				fmt.Fprintf(c.stdout, "Matching executors: %s\n", strings.Join(ids, ", "))
			}
		case frame.TaskExecutionResult != nil:
			c.handleEvent(frame.TaskExecutionResult, opts, states, grouped)
		}
	}

	summary := &Summary{States: map[ExecutorState][]string{}, Success: len(states) > 0}
	for id, state := range states {
		if state != StateSuccess {
			summary.Success = false
		}
		summary.States[state] = append(summary.States[state], id)
	}
	for state, ids := range summary.States {
		sort.Strings(ids)
		summary.States[state] = ids
	}
	if !opts.Raw {
		for state := StateMatching; state <= StateSuccess; state++ {
			if ids, ok := summary.States[state]; ok {
				fmt.Fprintf(c.stdout, "%s: %s\n", state.Render(), state.style().Render(strings.Join(ids, ", ")))
			}
		}
	}
	return summary, nil
}

func (c *Commander) handleEvent(ev *protocol.TaskExecutionResult, opts LaunchOptions, states map[string]ExecutorState, grouped map[string][]string) {
	id := ev.ClientID
	switch {
	case ev.Result.TaskSubmitted != nil:
		states[id] = StateSubmitted
	case ev.Result.Ping != nil:
		states[id] = StateAlive
	case ev.Result.TaskOutput != nil:
		c.printOutput(id, ev.Result.TaskOutput, opts, grouped)
	case ev.Result.TaskRejected != nil:
		states[id] = StateError
		if !opts.Raw {
			fmt.Fprintf(c.stdout, "%s rejected the task: %s\n", errorStyle.Render(id), ev.Result.TaskRejected.Reason)
		}
	case ev.Result.TaskAborted != nil:
		states[id] = StateError
		c.flushGroup(id, opts, grouped)
	case ev.Result.TaskCompleted != nil:
		if ev.Result.TaskCompleted.ReturnCode == 0 {
			states[id] = StateSuccess
		} else {
			states[id] = StateError
		}
		c.flushGroup(id, opts, grouped)
	case ev.Result.Disconnected != nil:
		states[id] = StateDisconnected
		if !opts.Raw {
			fmt.Fprintf(c.stdout, "%s disconnected!\n", errorStyle.Render(id))
		}
	}
}

func (c *Commander) printOutput(id string, out *protocol.TaskOutput, opts LaunchOptions, grouped map[string][]string) {
	switch {
	case opts.Raw:
		if len(out.Stdout) > 0 {
			_, _ = c.stdout.Write(out.Stdout)
		}
		if len(out.Stderr) > 0 {
			_, _ = c.stderr.Write(out.Stderr)
		}
	case opts.Group:
		if len(out.Stdout) > 0 {
			grouped[id] = append(grouped[id], strings.TrimRight(string(out.Stdout), "\n"))
		}
		if len(out.Stderr) > 0 {
			grouped[id] = append(grouped[id], errorStyle.Render(strings.TrimRight(string(out.Stderr), "\n")))
		}
	default:
		if len(out.Stdout) > 0 {
			fmt.Fprintf(c.stdout, "%s: %s\n", successStyle.Render(id), strings.TrimRight(string(out.Stdout), "\n"))
		}
		if len(out.Stderr) > 0 {
			fmt.Fprintf(c.stdout, "%s: %s\n", errorStyle.Render(id), strings.TrimRight(string(out.Stderr), "\n"))
		}
	}
}

// flushGroup prints an executor's buffered output block once it reaches a
// terminal state.
func (c *Commander) flushGroup(id string, opts LaunchOptions, grouped map[string][]string) {
	if opts.Raw || !opts.Group {
		return
	}
	lines, ok := grouped[id]
	if !ok {
		return
	}
	delete(grouped, id)
	fmt.Fprintf(c.stdout, "%s %s:\n", successStyle.Render("########"), id)
	for _, line := range lines {
		fmt.Fprintln(c.stdout, line)
	}
}
