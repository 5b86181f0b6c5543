package commander

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/server"
)

// OutputMode selects how admin responses are rendered.
type OutputMode int

const (
	OutputJSON OutputMode = iota
	OutputPrettyJSON
	OutputHumanReadable
)

// ParseOutputMode parses json, pretty-json or human-readable.
func ParseOutputMode(s string) (OutputMode, error) {
	switch s {
	case "json", "js":
		return OutputJSON, nil
	case "pretty-json", "pjs":
		return OutputPrettyJSON, nil
	case "human-readable", "hr", "":
		return OutputHumanReadable, nil
	default:
		return 0, fmt.Errorf("output mode must be one of json, pretty-json or human-readable, got %q", s)
	}
}

// Admin signs and runs one admin operation and renders the response in
// the requested mode.
func (c *Commander) Admin(ctx context.Context, req protocol.AdminRequest, mode OutputMode) (string, error) {
	signed, err := keys.EncodeAndSign(req, c.key, c.validity)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Admin(ctx, signed)
	if err != nil {
		return "", err
	}
	return renderAdmin(&req, resp.JSON, mode)
}

func renderAdmin(req *protocol.AdminRequest, raw string, mode OutputMode) (string, error) {
	switch mode {
	case OutputJSON:
		return raw, nil
	case OutputPrettyJSON:
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
			return "", fmt.Errorf("malformed admin response: %w", err)
		}
		return buf.String(), nil
	}

	var sb strings.Builder
	switch {
	case req.ListConnectedExecutors != nil, req.ListKnownExecutors != nil:
		var executors map[string]meta.ExecutorMeta
		if err := json.Unmarshal([]byte(raw), &executors); err != nil {
			return "", fmt.Errorf("malformed executor list: %w", err)
		}
		for _, id := range sortedIDs(executors) {
			m := executors[id]
			tags, err := json.Marshal(m.Tags)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%s: v%s %s\n", successStyle.Render(id), m.Version, tags)
		}

	case req.ListRunningTasks != nil, req.ApproveExecutorKey != nil:
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return "", fmt.Errorf("malformed id list: %w", err)
		}
		for _, id := range ids {
			fmt.Fprintln(&sb, id)
		}

	case req.DropExecutor != nil:
		var dropped map[string]server.DropOutcome
		if err := json.Unmarshal([]byte(raw), &dropped); err != nil {
			return "", fmt.Errorf("malformed drop response: %w", err)
		}
		for _, id := range sortedIDs(dropped) {
			outcome := dropped[id]
			fmt.Fprintf(&sb, "%s: removed_from_known: %s, removed_from_connected: %s\n",
				id, renderBool(outcome.RemovedFromKnown), renderBool(outcome.RemovedFromConnected))
		}

	case req.ListExecutorKeys != nil:
		var doc server.ExecutorKeysDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return "", fmt.Errorf("malformed key document: %w", err)
		}
		fmt.Fprintln(&sb, "trusted:")
		writeKeyList(&sb, doc.Trusted)
		fmt.Fprintln(&sb, "unapproved:")
		writeKeyList(&sb, doc.Unapproved)

	case req.ListAuthorizedKeys != nil, req.ListAdminAuthorizedKeys != nil:
		var listed map[string]string
		if err := json.Unmarshal([]byte(raw), &listed); err != nil {
			return "", fmt.Errorf("malformed key list: %w", err)
		}
		writeKeyList(&sb, listed)

	default:
		return raw, nil
	}
	return sb.String(), nil
}

func writeKeyList(sb *strings.Builder, m map[string]string) {
	for _, id := range sortedIDs(m) {
		fmt.Fprintf(sb, "  %s: %s\n", id, m[id])
	}
}

func renderBool(b bool) string {
	if b {
		return successStyle.Render("true")
	}
	return errorStyle.Render("false")
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
