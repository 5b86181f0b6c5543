// Package protocol defines the wire messages exchanged between server,
// executors and commanders, the msgpack codec they travel with, and the
// hand-written gRPC service plumbing for the two services.
package protocol

import (
	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
)

// Version is the protocol version exchanged at registration. Exact string
// equality is required; a mismatched executor is turned away.
const Version = "1.1.0"

// TaskIDMetadataKey is the gRPC metadata key carrying the task id on
// TaskExecution streams.
const TaskIDMetadataKey = "task_id"

// Empty is the reply for RPCs with nothing to say.
type Empty struct{}

// PublicKey names an Ed25519 public key.
type PublicKey struct {
	KeyID    string `msgpack:"key_id"`
	KeyBytes []byte `msgpack:"key_bytes"`
}

// GetTasksRequest is the signed body of the executor handshake.
type GetTasksRequest struct {
	ClientID              string              `msgpack:"client_id"`
	ClientVersion         string              `msgpack:"client_version"`
	ClientProtocolVersion string              `msgpack:"client_protocol_version"`
	Tags                  map[string]meta.Tag `msgpack:"tags"`
	AuthorizedKeys        []PublicKey         `msgpack:"authorized_keys"`
}

// RegisterExecutorRequest opens the executor's task stream: the claimed
// identity, its public key for TOFU, and the signed handshake proving
// possession of the private half.
type RegisterExecutorRequest struct {
	ClientID        string              `msgpack:"client_id"`
	PublicKey       []byte              `msgpack:"public_key"`
	GetTasksRequest *keys.SignedPayload `msgpack:"get_tasks_request"`
}

// GetTaskStreamReply is one dispatched task: the commander's envelope
// forwarded verbatim so the executor can verify it independently.
type GetTaskStreamReply struct {
	TaskID  string              `msgpack:"task_id"`
	Payload *keys.SignedPayload `msgpack:"payload"`
}

// ExecuteCommand asks the executor to run a shell command.
type ExecuteCommand struct {
	Command string `msgpack:"command"`
}

// RevokeKey asks the executor to drop a key from its local authorized set.
type RevokeKey struct {
	KeyID string `msgpack:"key_id"`
}

// TaskPayload is the signed body of a launch request. Exactly one field is
// set.
type TaskPayload struct {
	ExecuteCommand *ExecuteCommand `msgpack:"execute_command,omitempty"`
	AuthorizeKey   *PublicKey      `msgpack:"authorize_key,omitempty"`
	RevokeKey      *RevokeKey      `msgpack:"revoke_key,omitempty"`
}

// IsKeyManagement reports whether the payload mutates executor key stores,
// which requires an admin signature.
func (p *TaskPayload) IsKeyManagement() bool {
	return p.AuthorizeKey != nil || p.RevokeKey != nil
}

// LaunchTaskRequest submits a task: a predicate selecting executors and the
// signed payload to forward to them.
type LaunchTaskRequest struct {
	Payload   *keys.SignedPayload `msgpack:"payload"`
	Predicate string              `msgpack:"predicate"`
}

// MatchingExecutors lists every known executor the predicate selected.
type MatchingExecutors struct {
	ClientIDs []string `msgpack:"client_id"`
}

// ExecutionResult is one event in a task's life. Exactly one field is set.
type ExecutionResult struct {
	TaskSubmitted *Empty         `msgpack:"task_submitted,omitempty"`
	Ping          *Empty         `msgpack:"ping,omitempty"`
	TaskOutput    *TaskOutput    `msgpack:"task_output,omitempty"`
	TaskRejected  *TaskRejected  `msgpack:"task_rejected,omitempty"`
	TaskAborted   *Empty         `msgpack:"task_aborted,omitempty"`
	TaskCompleted *TaskCompleted `msgpack:"task_completed,omitempty"`
	Disconnected  *Empty         `msgpack:"disconnected,omitempty"`
}

// TaskOutput carries one captured output line. Exactly one of the two
// streams is set.
type TaskOutput struct {
	Stdout []byte `msgpack:"stdout,omitempty"`
	Stderr []byte `msgpack:"stderr,omitempty"`
}

// TaskRejected reports an executor refusing a task.
type TaskRejected struct {
	Reason string `msgpack:"reason"`
}

// TaskCompleted reports the child process exit code.
type TaskCompleted struct {
	ReturnCode int32 `msgpack:"return_code"`
}

// TaskExecutionResult is the signed body streamed by an executor on its
// TaskExecution RPC, and the per-executor frame relayed to the commander.
type TaskExecutionResult struct {
	TaskID   string          `msgpack:"task_id"`
	ClientID string          `msgpack:"client_id"`
	Result   ExecutionResult `msgpack:"execution_result"`
}

// LaunchTaskResponse is one frame of the commander's launch stream.
// Exactly one field is set.
type LaunchTaskResponse struct {
	MatchingExecutors   *MatchingExecutors   `msgpack:"matching_executors,omitempty"`
	TaskExecutionResult *TaskExecutionResult `msgpack:"task_execution_result,omitempty"`
}

// AdminQuery scopes an admin operation to executors matching a predicate.
type AdminQuery struct {
	Query string `msgpack:"query"`
}

// ApproveExecutorKey moves a pending executor key to the trusted store;
// the client id "*" approves everything pending.
type ApproveExecutorKey struct {
	ClientID string `msgpack:"client_id"`
}

// AdminRequest is the signed body of an Admin call. Exactly one field is
// set.
type AdminRequest struct {
	ListConnectedExecutors  *AdminQuery         `msgpack:"list_connected_executors,omitempty"`
	ListKnownExecutors      *AdminQuery         `msgpack:"list_known_executors,omitempty"`
	ListRunningTasks        *Empty              `msgpack:"list_running_tasks,omitempty"`
	DropExecutor            *AdminQuery         `msgpack:"drop_executor,omitempty"`
	ListExecutorKeys        *Empty              `msgpack:"list_executor_keys,omitempty"`
	ApproveExecutorKey      *ApproveExecutorKey `msgpack:"approve_executor_key,omitempty"`
	ListAuthorizedKeys      *Empty              `msgpack:"list_authorized_keys,omitempty"`
	ListAdminAuthorizedKeys *Empty              `msgpack:"list_admin_authorized_keys,omitempty"`
}

// AdminRequestResponse carries the operation result as a JSON document;
// the schema is shared with the commander's admin client.
type AdminRequestResponse struct {
	JSON string `msgpack:"json"`
}
