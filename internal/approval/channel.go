// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Request describes an action awaiting a human decision.
type Request struct {
	Stage   types.Stage    `json:"stage"`
	Action  string         `json:"action"`
	Context map[string]any `json:"context"`
}

// Channel delivers approval requests to a human and returns the decision.
// Request blocks until the decision is made; there is no timeout.
type Channel interface {
	Request(ctx context.Context, req Request) (bool, error)
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, req Request) (bool, error)

// Request calls f.
func (f ChannelFunc) Request(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// AutoChannel approves every request.
type AutoChannel struct{}

// Request approves.
func (AutoChannel) Request(context.Context, Request) (bool, error) { return true, nil }

// DenyChannel rejects every request.
type DenyChannel struct{}

// Request rejects.
func (DenyChannel) Request(context.Context, Request) (bool, error) { return false, nil }

// contextValueLimit truncates each context value in the console summary.
const contextValueLimit = 100

// ConsoleChannel prompts on a terminal. Concurrent requests are serialized
// so prompts from different runs do not interleave.
//
// Input is read by one background goroutine, so a request can give up on
// context cancellation while the read stays pending. A line typed after a
// request was cancelled answers the next request.
type ConsoleChannel struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer

	start sync.Once
	lines chan line
}

// line is one answer read from the input, or the error that ended it.
type line struct {
	text string
	err  error
}

// NewConsoleChannel returns a channel reading answers from in and writing
// prompts to out.
func NewConsoleChannel(in io.Reader, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{in: bufio.NewReader(in), out: out}
}

// Request prints the request and a context summary, then waits for one
// line or for ctx to be done. Only "y" (case-insensitive) approves. End of
// input rejects.
func (c *ConsoleChannel) Request(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\nHUMAN APPROVAL REQUIRED\n")
	fmt.Fprintf(c.out, "Stage: %s\nAction: %s\n", req.Stage, req.Action)
	fmt.Fprintf(c.out, "Context summary:\n")
	for _, key := range slices.Sorted(maps.Keys(req.Context)) {
		fmt.Fprintf(c.out, "- %s: %s\n", key, summarize(req.Context[key]))
	}
	fmt.Fprintf(c.out, "\nApprove this action? (y/n): ")

	c.start.Do(func() {
		c.lines = make(chan line, 1)
		go c.readLines()
	})

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case ln, ok := <-c.lines:
		if !ok {
			return false, nil
		}
		if ln.err != nil && !errors.Is(ln.err, io.EOF) {
			return false, fmt.Errorf("reading approval answer: %w", ln.err)
		}
		return strings.EqualFold(strings.TrimSpace(ln.text), "y"), nil
	}
}

// readLines feeds c.lines until the input fails or ends.
func (c *ConsoleChannel) readLines() {
	defer close(c.lines)
	for {
		text, err := c.in.ReadString('\n')
		if text != "" || err != nil {
			c.lines <- line{text: text, err: err}
		}
		if err != nil {
			return
		}
	}
}

func summarize(v any) string {
	var s string
	switch val := v.(type) {
	case []string:
		s = strings.Join(val, "; ")
	default:
		s = fmt.Sprint(val)
	}
	return truncate(s, contextValueLimit)
}

// truncate shortens s to n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
