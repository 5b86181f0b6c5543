package protocol

import (
	"context"

	"google.golang.org/grpc"

	"github.com/siderant/funtonic/keys"
)

// Fully-qualified method names for the two services.
const (
	ExecutorServiceName  = "funtonic.ExecutorService"
	CommanderServiceName = "funtonic.CommanderService"

	GetTasksMethod      = "/funtonic.ExecutorService/GetTasks"
	TaskExecutionMethod = "/funtonic.ExecutorService/TaskExecution"
	LaunchTaskMethod    = "/funtonic.CommanderService/LaunchTask"
	AdminMethod         = "/funtonic.CommanderService/Admin"
)

// callOptions are prepended to every client call so the msgpack codec is
// negotiated regardless of how the connection was dialed.
func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// ExecutorServiceClient is the executor-facing half of the protocol.
type ExecutorServiceClient interface {
	// GetTasks registers the executor and streams dispatched tasks until
	// the connection drops.
	GetTasks(ctx context.Context, in *RegisterExecutorRequest, opts ...grpc.CallOption) (ExecutorServiceGetTasksClient, error)
	// TaskExecution streams signed execution events for a single task,
	// identified by task_id request metadata.
	TaskExecution(ctx context.Context, opts ...grpc.CallOption) (ExecutorServiceTaskExecutionClient, error)
}

type ExecutorServiceGetTasksClient interface {
	Recv() (*GetTaskStreamReply, error)
	grpc.ClientStream
}

type ExecutorServiceTaskExecutionClient interface {
	Send(*keys.SignedPayload) error
	CloseAndRecv() (*Empty, error)
	grpc.ClientStream
}

type executorServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewExecutorServiceClient builds a client on an established connection.
func NewExecutorServiceClient(cc grpc.ClientConnInterface) ExecutorServiceClient {
	return &executorServiceClient{cc: cc}
}

func (c *executorServiceClient) GetTasks(ctx context.Context, in *RegisterExecutorRequest, opts ...grpc.CallOption) (ExecutorServiceGetTasksClient, error) {
	stream, err := c.cc.NewStream(ctx, &ExecutorServiceDesc.Streams[0], GetTasksMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &executorServiceGetTasksClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type executorServiceGetTasksClient struct {
	grpc.ClientStream
}

func (x *executorServiceGetTasksClient) Recv() (*GetTaskStreamReply, error) {
	m := new(GetTaskStreamReply)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *executorServiceClient) TaskExecution(ctx context.Context, opts ...grpc.CallOption) (ExecutorServiceTaskExecutionClient, error) {
	stream, err := c.cc.NewStream(ctx, &ExecutorServiceDesc.Streams[1], TaskExecutionMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &executorServiceTaskExecutionClient{stream}, nil
}

type executorServiceTaskExecutionClient struct {
	grpc.ClientStream
}

func (x *executorServiceTaskExecutionClient) Send(m *keys.SignedPayload) error {
	return x.ClientStream.SendMsg(m)
}

func (x *executorServiceTaskExecutionClient) CloseAndRecv() (*Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ExecutorServiceServer is implemented by the task server.
type ExecutorServiceServer interface {
	GetTasks(*RegisterExecutorRequest, ExecutorServiceGetTasksServer) error
	TaskExecution(ExecutorServiceTaskExecutionServer) error
}

type ExecutorServiceGetTasksServer interface {
	Send(*GetTaskStreamReply) error
	grpc.ServerStream
}

type ExecutorServiceTaskExecutionServer interface {
	SendAndClose(*Empty) error
	Recv() (*keys.SignedPayload, error)
	grpc.ServerStream
}

// RegisterExecutorServiceServer wires srv into a gRPC server.
func RegisterExecutorServiceServer(s grpc.ServiceRegistrar, srv ExecutorServiceServer) {
	s.RegisterService(&ExecutorServiceDesc, srv)
}

func executorServiceGetTasksHandler(srv any, stream grpc.ServerStream) error {
	m := new(RegisterExecutorRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ExecutorServiceServer).GetTasks(m, &executorServiceGetTasksServer{stream})
}

type executorServiceGetTasksServer struct {
	grpc.ServerStream
}

func (x *executorServiceGetTasksServer) Send(m *GetTaskStreamReply) error {
	return x.ServerStream.SendMsg(m)
}

func executorServiceTaskExecutionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ExecutorServiceServer).TaskExecution(&executorServiceTaskExecutionServer{stream})
}

type executorServiceTaskExecutionServer struct {
	grpc.ServerStream
}

func (x *executorServiceTaskExecutionServer) SendAndClose(m *Empty) error {
	return x.ServerStream.SendMsg(m)
}

func (x *executorServiceTaskExecutionServer) Recv() (*keys.SignedPayload, error) {
	m := new(keys.SignedPayload)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ExecutorServiceDesc describes the executor service for grpc registration.
var ExecutorServiceDesc = grpc.ServiceDesc{
	ServiceName: ExecutorServiceName,
	HandlerType: (*ExecutorServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetTasks",
			Handler:       executorServiceGetTasksHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "TaskExecution",
			Handler:       executorServiceTaskExecutionHandler,
			ClientStreams: true,
		},
	},
}

// CommanderServiceClient is the commander-facing half of the protocol.
type CommanderServiceClient interface {
	// LaunchTask submits a task and streams matching executors followed by
	// their execution events.
	LaunchTask(ctx context.Context, in *LaunchTaskRequest, opts ...grpc.CallOption) (CommanderServiceLaunchTaskClient, error)
	// Admin runs one signed administrative operation.
	Admin(ctx context.Context, in *keys.SignedPayload, opts ...grpc.CallOption) (*AdminRequestResponse, error)
}

type CommanderServiceLaunchTaskClient interface {
	Recv() (*LaunchTaskResponse, error)
	grpc.ClientStream
}

type commanderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCommanderServiceClient builds a client on an established connection.
func NewCommanderServiceClient(cc grpc.ClientConnInterface) CommanderServiceClient {
	return &commanderServiceClient{cc: cc}
}

func (c *commanderServiceClient) LaunchTask(ctx context.Context, in *LaunchTaskRequest, opts ...grpc.CallOption) (CommanderServiceLaunchTaskClient, error) {
	stream, err := c.cc.NewStream(ctx, &CommanderServiceDesc.Streams[0], LaunchTaskMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &commanderServiceLaunchTaskClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type commanderServiceLaunchTaskClient struct {
	grpc.ClientStream
}

func (x *commanderServiceLaunchTaskClient) Recv() (*LaunchTaskResponse, error) {
	m := new(LaunchTaskResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *commanderServiceClient) Admin(ctx context.Context, in *keys.SignedPayload, opts ...grpc.CallOption) (*AdminRequestResponse, error) {
	out := new(AdminRequestResponse)
	if err := c.cc.Invoke(ctx, AdminMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// CommanderServiceServer is implemented by the task server.
type CommanderServiceServer interface {
	LaunchTask(*LaunchTaskRequest, CommanderServiceLaunchTaskServer) error
	Admin(context.Context, *keys.SignedPayload) (*AdminRequestResponse, error)
}

type CommanderServiceLaunchTaskServer interface {
	Send(*LaunchTaskResponse) error
	grpc.ServerStream
}

// RegisterCommanderServiceServer wires srv into a gRPC server.
func RegisterCommanderServiceServer(s grpc.ServiceRegistrar, srv CommanderServiceServer) {
	s.RegisterService(&CommanderServiceDesc, srv)
}

func commanderServiceLaunchTaskHandler(srv any, stream grpc.ServerStream) error {
	m := new(LaunchTaskRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(CommanderServiceServer).LaunchTask(m, &commanderServiceLaunchTaskServer{stream})
}

type commanderServiceLaunchTaskServer struct {
	grpc.ServerStream
}

func (x *commanderServiceLaunchTaskServer) Send(m *LaunchTaskResponse) error {
	return x.ServerStream.SendMsg(m)
}

func commanderServiceAdminHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(keys.SignedPayload)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommanderServiceServer).Admin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AdminMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommanderServiceServer).Admin(ctx, req.(*keys.SignedPayload))
	}
	return interceptor(ctx, in, info, handler)
}

// CommanderServiceDesc describes the commander service for grpc
// registration.
var CommanderServiceDesc = grpc.ServiceDesc{
	ServiceName: CommanderServiceName,
	HandlerType: (*CommanderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Admin",
			Handler:    commanderServiceAdminHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "LaunchTask",
			Handler:       commanderServiceLaunchTaskHandler,
			ServerStreams: true,
		},
	},
}
