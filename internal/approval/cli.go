package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// CLIAdapter prompts on the controlling terminal. When stdin is not a TTY
// it degrades to notify-only: the prompt is printed, responses come from
// another channel.
type CLIAdapter struct {
	in  io.Reader
	out io.Writer
	tty bool

	// One reader owns stdin for the adapter's lifetime, so input buffered
	// past a line boundary survives for the next request.
	startRead sync.Once
	lines     chan string
}

// NewCLIAdapter builds an adapter on the process's stdin/stdout.
func NewCLIAdapter() *CLIAdapter {
	return &CLIAdapter{
		in:    os.Stdin,
		out:   os.Stdout,
		tty:   isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		lines: make(chan string, 1),
	}
}

// newCLIAdapterForTest wires explicit streams and forces TTY behavior.
func newCLIAdapterForTest(in io.Reader, out io.Writer) *CLIAdapter {
	return &CLIAdapter{in: in, out: out, tty: true, lines: make(chan string, 1)}
}

// Name returns the channel name.
func (a *CLIAdapter) Name() string { return "cli" }

// SendNotification prints the question and options.
func (a *CLIAdapter) SendNotification(_ context.Context, req *Request) error {
	fmt.Fprintf(a.out, "\n[approval required] workflow %s, phase %s\n", req.WorkflowID, req.Phase)
	fmt.Fprintf(a.out, "%s\n", req.Question)
	if total, ok := req.Context["total_cost_usd"]; ok {
		fmt.Fprintf(a.out, "Running cost: $%v\n", total)
	}
	fmt.Fprintf(a.out, "Options: %s\n", strings.Join(req.Options, " / "))
	if a.tty {
		fmt.Fprintf(a.out, "> ")
	}
	return nil
}

// PollResponse reports an input line typed since the last poll, if any.
func (a *CLIAdapter) PollResponse(_ context.Context, req *Request) (*Response, error) {
	if !a.tty {
		return nil, nil
	}
	a.startRead.Do(func() { go a.readLoop() })

	select {
	case line := <-a.lines:
		decision := line
		// Accept y/n shorthand.
		switch decision {
		case "y", "yes":
			decision = DecisionApprove
		case "n", "no":
			decision = DecisionReject
		}
		return &Response{
			RequestID: req.ID,
			Decision:  decision,
			Channel:   "cli",
		}, nil
	default:
		return nil, nil
	}
}

// readLoop reads input lines until EOF and hands them to polls in order.
func (a *CLIAdapter) readLoop() {
	reader := bufio.NewReader(a.in)
	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if trimmed != "" {
			a.lines <- trimmed
		}
		if err != nil {
			return
		}
	}
}
