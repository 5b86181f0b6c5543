package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/query"
)

// ExecutorKeysDocument is the ListExecutorKeys response schema.
type ExecutorKeysDocument struct {
	Trusted    map[string]string `json:"trusted"`
	Unapproved map[string]string `json:"unapproved"`
}

// Admin verifies the request against the admin key store, runs the
// operation and returns its result as a JSON document.
func (s *TaskServer) Admin(ctx context.Context, sp *keys.SignedPayload) (*protocol.AdminRequestResponse, error) {
	var req protocol.AdminRequest
	if err := keys.DecodePayload(s.adminKeys, sp, &req); err != nil {
		s.stats.IncAuthFailure()
		return nil, rpcError(err)
	}
	doc, err := s.handleAdmin(&req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding admin response: %v", err)
	}
	return &protocol.AdminRequestResponse{JSON: string(raw)}, nil
}

// adminQuery parses an optional predicate, treating the empty string as
// the wildcard.
func adminQuery(input string) (query.Query, error) {
	if input == "" {
		return query.Wildcard{}, nil
	}
	q, err := query.Parse(input)
	if err != nil {
		return nil, rpcError(err)
	}
	return q, nil
}

func (s *TaskServer) handleAdmin(req *protocol.AdminRequest) (any, error) {
	switch {
	case req.ListConnectedExecutors != nil:
		q, err := adminQuery(req.ListConnectedExecutors.Query)
		if err != nil {
			return nil, err
		}
		return s.registry.Connected(q), nil

	case req.ListKnownExecutors != nil:
		q, err := adminQuery(req.ListKnownExecutors.Query)
		if err != nil {
			return nil, err
		}
		return s.registry.Known(q), nil

	case req.ListRunningTasks != nil:
		return s.sinks.running(), nil

	case req.DropExecutor != nil:
		q, err := adminQuery(req.DropExecutor.Query)
		if err != nil {
			return nil, err
		}
		dropped, err := s.registry.Drop(q)
		if err != nil {
			return nil, rpcError(err)
		}
		return dropped, nil

	case req.ListExecutorKeys != nil:
		trusted, err := keys.ListBase64(s.trustedKeys)
		if err != nil {
			return nil, rpcError(err)
		}
		unapproved, err := keys.ListBase64(s.unapprovedKeys)
		if err != nil {
			return nil, rpcError(err)
		}
		return ExecutorKeysDocument{Trusted: trusted, Unapproved: unapproved}, nil

	case req.ApproveExecutorKey != nil:
		return s.approveExecutorKey(req.ApproveExecutorKey.ClientID)

	case req.ListAuthorizedKeys != nil:
		listed, err := keys.ListBase64(s.authorizedKeys)
		if err != nil {
			return nil, rpcError(err)
		}
		return listed, nil

	case req.ListAdminAuthorizedKeys != nil:
		listed, err := keys.ListBase64(s.adminKeys)
		if err != nil {
			return nil, rpcError(err)
		}
		return listed, nil

	default:
		return nil, status.Error(codes.InvalidArgument, "empty admin request")
	}
}

// approveExecutorKey moves one pending key (or all of them, for "*") from
// the unapproved store to the trusted store and returns the approved ids.
// Approving "*" with nothing pending is a no-op.
func (s *TaskServer) approveExecutorKey(clientID string) ([]string, error) {
	ids := []string{clientID}
	if clientID == "*" {
		pending, err := s.unapprovedKeys.ListAll()
		if err != nil {
			return nil, rpcError(err)
		}
		ids = ids[:0]
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	approved := make([]string, 0, len(ids))
	for _, id := range ids {
		key, err := s.unapprovedKeys.RemoveKey(id)
		if err != nil {
			var notFound *keys.KeyNotFoundError
			if clientID != "*" && errors.As(err, &notFound) {
				return nil, status.Errorf(codes.NotFound, "no pending key for %s", id)
			}
			return nil, rpcError(err)
		}
		if err := s.trustedKeys.RegisterKey(id, key); err != nil {
			return nil, rpcError(err)
		}
		s.log.Info("executor key approved", zap.String("client_id", id))
		s.stats.IncKeyApproved()
		approved = append(approved, id)
	}
	return approved, nil
}
