package commander

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/siderant/funtonic/query"
)

// Interactive reads commands from in, one per line, and launches each on
// the executors matching the predicate. Empty lines are skipped; "exit"
// or end of input terminates the session.
func (c *Commander) Interactive(ctx context.Context, predicate string, in io.Reader) error {
	if _, err := query.Parse(predicate); err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(c.stdout, "%s> ", predicate)
		if !scanner.Scan() {
			fmt.Fprintln(c.stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if _, err := c.Launch(ctx, predicate, line, LaunchOptions{}); err != nil {
			fmt.Fprintf(c.stderr, "launch failed: %v\n", err)
		}
	}
}
