// Package exec runs a shell command and streams its output line by line.
// It is the executor's process plumbing: one event stream per task, with
// the process killed when the task's context is canceled.
package exec

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
)

// EventKind discriminates Event.
type EventKind int

const (
	// Started is emitted once the process is running.
	Started EventKind = iota
	// Stdout carries one line of standard output.
	Stdout
	// Stderr carries one line of standard error.
	Stderr
	// Finished closes the stream; ExitCode is valid.
	Finished
)

// Event is one step of a command's life.
type Event struct {
	Kind EventKind
	// Line is set for Stdout and Stderr events, without the trailing
	// newline.
	Line []byte
	// ExitCode is set for Finished events; -1 when the process was
	// killed.
	ExitCode int
}

// maxLine bounds a single captured line.
const maxLine = 1 << 20

// Run starts command under the system shell and returns its event stream.
// The channel yields Started, then output lines in per-stream order, then
// exactly one Finished, and closes. Canceling ctx kills the process.
func Run(ctx context.Context, command string) (<-chan Event, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// buffered so Started is queued ahead of any output line
	events := make(chan Event, 1)
	events <- Event{Kind: Started}
	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(&wg, stdout, Stdout, events)
	go scanLines(&wg, stderr, Stderr, events)

	go func() {
		defer close(events)
		wg.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		events <- Event{Kind: Finished, ExitCode: code}
	}()
	return events, nil
}

func scanLines(wg *sync.WaitGroup, r io.Reader, kind EventKind, events chan<- Event) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		events <- Event{Kind: kind, Line: line}
	}
}
