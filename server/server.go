// Package server implements the funtonic task server: the executor
// registry, the dispatch engine bridging commander launches to executor
// sessions, trust-on-first-use key handling and the admin surface.
package server

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
	"github.com/siderant/funtonic/metrics"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/query"
)

// KeepaliveInterval is the server-side TCP keepalive period.
const KeepaliveInterval = 25 * time.Second

// Persistent state files inside the server data directory.
const (
	KnownExecutorsFile = "known_executors.yml"
	TrustedKeysFile    = "trusted_executors_keys.yml"
	UnapprovedKeysFile = "unapproved_executors_keys.yml"
)

// Options configures a TaskServer.
type Options struct {
	// DataDir holds the known-executors database and the executor key
	// stores.
	DataDir string
	// AuthorizedKeys are commander identities allowed to launch tasks,
	// key id to base64 public key.
	AuthorizedKeys map[string]string
	// AdminAuthorizedKeys are elevated identities allowed to administer
	// the server and push key-management tasks.
	AdminAuthorizedKeys map[string]string
	Logger              *zap.Logger
	// Metrics receives server counters when set.
	Metrics *metrics.Collector
}

// TaskServer brokers tasks between commanders and executors. It implements
// both gRPC services.
type TaskServer struct {
	log      *zap.Logger
	registry *Registry
	sinks    *taskSinks
	stats    *metrics.Collector

	authorizedKeys keys.Store
	adminKeys      keys.Store
	trustedKeys    keys.Store
	unapprovedKeys keys.Store
}

// New builds a TaskServer, loading persistent state from opts.DataDir.
func New(opts Options) (*TaskServer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry, err := NewRegistry(filepath.Join(opts.DataDir, KnownExecutorsFile), logger)
	if err != nil {
		return nil, err
	}
	trusted, err := keys.OpenFileStore(filepath.Join(opts.DataDir, TrustedKeysFile))
	if err != nil {
		return nil, err
	}
	unapproved, err := keys.OpenFileStore(filepath.Join(opts.DataDir, UnapprovedKeysFile))
	if err != nil {
		return nil, err
	}
	authorized := keys.NewMemoryStore()
	if err := keys.RegisterBase64Keys(authorized, opts.AuthorizedKeys); err != nil {
		return nil, err
	}
	admin := keys.NewMemoryStore()
	if err := keys.RegisterBase64Keys(admin, opts.AdminAuthorizedKeys); err != nil {
		return nil, err
	}
	return &TaskServer{
		log:            logger,
		registry:       registry,
		sinks:          newTaskSinks(),
		stats:          opts.Metrics,
		authorizedKeys: authorized,
		adminKeys:      admin,
		trustedKeys:    trusted,
		unapprovedKeys: unapproved,
	}, nil
}

// Registry exposes the executor registry, mainly for tests.
func (s *TaskServer) Registry() *Registry { return s.registry }

// GRPCServer builds a grpc.Server with both services registered and the
// funtonic keepalive policy. Extra options (TLS credentials) are appended.
func (s *TaskServer) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: KeepaliveInterval}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             KeepaliveInterval,
			PermitWithoutStream: true,
		}),
	}
	g := grpc.NewServer(append(base, opts...)...)
	protocol.RegisterExecutorServiceServer(g, s)
	protocol.RegisterCommanderServiceServer(g, s)
	return g
}

// rpcError maps the error taxonomy onto gRPC status codes: authentication
// failures are PermissionDenied, malformed input is InvalidArgument,
// everything else Internal.
func rpcError(err error) error {
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		return err
	}
	var (
		notFound  *keys.KeyNotFoundError
		wrongSig  *keys.WrongSignatureError
		expired   *keys.ExpiredSignatureError
		decodeErr *keys.PayloadDecodeError
		encErr    *keys.KeyEncodingError
		parseErr  *query.ParseError
		trailing  *query.UnrecognizedInputError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &wrongSig), errors.As(err, &expired):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &decodeErr), errors.As(err, &encErr),
		errors.As(err, &parseErr), errors.As(err, &trailing):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// admitExecutorKey runs the trust-on-first-use check. Unknown keys land in
// the unapproved store and the session is refused until an admin approves
// them; a trusted id presenting different key bytes is refused outright.
func (s *TaskServer) admitExecutorKey(clientID string, pub []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return status.Errorf(codes.InvalidArgument, "malformed public key for %s", clientID)
	}
	trusted, err := s.trustedKeys.ListAll()
	if err != nil {
		return rpcError(err)
	}
	if stored, ok := trusted[clientID]; ok {
		if bytes.Equal(stored, pub) {
			return nil
		}
		s.log.Warn("executor key mismatch", zap.String("client_id", clientID))
		return status.Errorf(codes.PermissionDenied, "public key of %s does not match its trusted key", clientID)
	}
	if err := s.unapprovedKeys.RegisterKey(clientID, pub); err != nil {
		return rpcError(err)
	}
	s.log.Warn("executor key awaiting approval", zap.String("client_id", clientID))
	return status.Errorf(codes.PermissionDenied, "key of %s is awaiting admin approval", clientID)
}

// GetTasks is the executor session: TOFU, handshake verification,
// registration, then one GetTaskStreamReply per dispatched task until the
// executor goes away.
func (s *TaskServer) GetTasks(req *protocol.RegisterExecutorRequest, stream protocol.ExecutorServiceGetTasksServer) error {
	logger := s.log.With(zap.String("client_id", req.ClientID))
	if err := s.admitExecutorKey(req.ClientID, req.PublicKey); err != nil {
		s.stats.IncExecutorRefused()
		return err
	}
	if req.GetTasksRequest == nil {
		return status.Error(codes.InvalidArgument, "missing signed handshake")
	}
	var handshake protocol.GetTasksRequest
	if err := keys.DecodePayload(s.trustedKeys, req.GetTasksRequest, &handshake); err != nil {
		s.stats.IncAuthFailure()
		return rpcError(err)
	}
	if handshake.ClientID != req.ClientID {
		s.stats.IncExecutorRefused()
		return status.Errorf(codes.PermissionDenied, "handshake signed for %s, stream opened by %s", handshake.ClientID, req.ClientID)
	}
	if handshake.ClientProtocolVersion != protocol.Version {
		logger.Warn("protocol version mismatch",
			zap.String("client", handshake.ClientProtocolVersion),
			zap.String("server", protocol.Version))
		s.stats.IncExecutorRefused()
		return status.Errorf(codes.FailedPrecondition,
			"unsupported protocol version %q, server speaks %q", handshake.ClientProtocolVersion, protocol.Version)
	}

	for _, pk := range handshake.AuthorizedKeys {
		if err := s.authorizedKeys.RegisterKey(pk.KeyID, pk.KeyBytes); err != nil {
			return rpcError(err)
		}
		logger.Info("authorized key seeded by executor", zap.String("key_id", pk.KeyID))
	}

	inbox, err := s.registry.Register(meta.ExecutorMeta{
		ClientID: handshake.ClientID,
		Version:  handshake.ClientVersion,
		Tags:     handshake.Tags,
	})
	if err != nil {
		return rpcError(err)
	}
	s.stats.IncExecutorRegistered()
	defer s.registry.Unregister(req.ClientID, inbox)

	// tasks handed to this session but not yet claimed by a
	// TaskExecution stream; cleaned up when the session ends
	var pending []string
	defer func() {
		for _, taskID := range pending {
			if sink, ok := s.sinks.take(taskID); ok {
				_ = sink.Send(protocol.TaskExecutionResult{
					TaskID:   taskID,
					ClientID: req.ClientID,
					Result:   protocol.ExecutionResult{Disconnected: &protocol.Empty{}},
				})
				sink.Close()
			}
		}
	}()

	ctx := stream.Context()
	for {
		dispatch, ok := inbox.Recv(ctx)
		if !ok {
			return nil
		}
		taskID := newTaskID()
		s.sinks.put(taskID, dispatch.Reply)
		pending = append(pending, taskID)
		logger.Debug("task dispatched", zap.String("task_id", taskID))
		if err := stream.Send(&protocol.GetTaskStreamReply{TaskID: taskID, Payload: dispatch.Payload}); err != nil {
			return err
		}
	}
}

// TaskExecution claims the task sink named by request metadata and relays
// every verified executor event to the commander.
func (s *TaskServer) TaskExecution(stream protocol.ExecutorServiceTaskExecutionServer) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	var taskID string
	if v := md.Get(protocol.TaskIDMetadataKey); len(v) > 0 {
		taskID = v[0]
	}
	if taskID == "" {
		return status.Error(codes.InvalidArgument, "missing task_id metadata")
	}
	sink, ok := s.sinks.take(taskID)
	if !ok {
		return status.Errorf(codes.NotFound, "unknown task %s", taskID)
	}
	defer sink.Close()

	for {
		sp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return stream.SendAndClose(&protocol.Empty{})
		}
		if err != nil {
			return err
		}
		var result protocol.TaskExecutionResult
		if err := keys.DecodePayload(s.trustedKeys, sp, &result); err != nil {
			s.stats.IncAuthFailure()
			return rpcError(err)
		}
		result.TaskID = taskID
		s.stats.IncEventRelayed()
		if err := sink.Send(result); err != nil {
			// commander is gone; erroring out tells the executor to
			// kill the task
			return status.Errorf(codes.NotFound, "commander for task %s disconnected", taskID)
		}
	}
}

func executionFrame(clientID string, result protocol.ExecutionResult) *protocol.LaunchTaskResponse {
	return &protocol.LaunchTaskResponse{TaskExecutionResult: &protocol.TaskExecutionResult{
		ClientID: clientID,
		Result:   result,
	}}
}

// LaunchTask authenticates the commander, fans the payload out to every
// matching live executor and relays their events until all involved tasks
// finish or the commander goes away.
func (s *TaskServer) LaunchTask(req *protocol.LaunchTaskRequest, stream protocol.CommanderServiceLaunchTaskServer) error {
	if req.Payload == nil {
		return status.Error(codes.InvalidArgument, "missing signed payload")
	}
	var payload protocol.TaskPayload
	if err := keys.DecodePayload(s.authorizedKeys, req.Payload, &payload); err != nil {
		s.stats.IncAuthFailure()
		return rpcError(err)
	}
	if payload.IsKeyManagement() {
		if err := keys.DecodePayload(s.adminKeys, req.Payload, &payload); err != nil {
			s.stats.IncAuthFailure()
			return status.Errorf(codes.PermissionDenied, "key management requires an admin key: %v", err)
		}
	}
	q, err := query.Parse(req.Predicate)
	if err != nil {
		return rpcError(err)
	}
	s.stats.IncTaskLaunched()

	matched := s.registry.Match(q)
	ids := make([]string, 0, len(matched))
	for _, m := range matched {
		ids = append(ids, m.ClientID)
	}
	s.log.Info("launching task",
		zap.String("predicate", req.Predicate),
		zap.String("key_id", req.Payload.KeyID),
		zap.Strings("matched", ids))
	if err := stream.Send(&protocol.LaunchTaskResponse{
		MatchingExecutors: &protocol.MatchingExecutors{ClientIDs: ids},
	}); err != nil {
		return err
	}

	replies, replySender := NewMailbox[protocol.TaskExecutionResult]()
	defer replies.CloseRecv()
	for _, m := range matched {
		if m.Inbox == nil {
			if err := stream.Send(executionFrame(m.ClientID, protocol.ExecutionResult{Disconnected: &protocol.Empty{}})); err != nil {
				replySender.Close()
				return err
			}
			continue
		}
		reply := replySender.Clone()
		result := protocol.ExecutionResult{TaskSubmitted: &protocol.Empty{}}
		if err := m.Inbox.Send(Dispatch{Payload: req.Payload, ClientID: m.ClientID, Reply: reply}); err != nil {
			reply.Close()
			result = protocol.ExecutionResult{Disconnected: &protocol.Empty{}}
		} else {
			s.stats.IncTaskDispatched(m.ClientID)
		}
		if err := stream.Send(executionFrame(m.ClientID, result)); err != nil {
			replySender.Close()
			return err
		}
	}
	replySender.Close()

	ctx := stream.Context()
	for {
		result, ok := replies.Recv(ctx)
		if !ok {
			return nil
		}
		if err := stream.Send(&protocol.LaunchTaskResponse{TaskExecutionResult: &result}); err != nil {
			return err
		}
	}
}
