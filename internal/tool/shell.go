package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fractary/faber/internal/definition"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Swappable for tests.
var lookupEnv = os.LookupEnv

// executeShell runs a shell-variant tool. The command template is tokenized
// BEFORE parameter substitution, then each ${name} placeholder inside a
// token is replaced by the literal parameter value. The argv is spawned
// directly with no shell interpreter, so metacharacters in parameter values
// carry no structure.
func (e *Executor) executeShell(ctx context.Context, tool *definition.Tool, params map[string]any) (map[string]any, error) {
	sandbox := tool.Implementation.Sandbox
	if sandbox == nil {
		def := definition.DefaultSandbox()
		sandbox = &def
	}
	maxTime := sandbox.MaxExecutionTime
	if maxTime <= 0 {
		maxTime = definition.DefaultMaxExecutionTime
	}
	maxOutput := sandbox.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = definition.DefaultMaxOutputSize
	}

	tokens, err := tokenize(tool.Implementation.Command)
	if err != nil {
		return nil, fmt.Errorf("tokenize command template: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("command template is empty")
	}

	argv := make([]string, len(tokens))
	for i, tok := range tokens {
		argv[i], err = substituteToken(tok, params)
		if err != nil {
			return nil, err
		}
	}

	if sandbox.Enabled && len(sandbox.AllowedCommands) > 0 {
		base := filepath.Base(argv[0])
		if !contains(sandbox.AllowedCommands, base) {
			return nil, fmt.Errorf("command %q is not in the sandbox allowlist", base)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(maxTime)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	// Kill outright; a lingering child must be reaped before we return.
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = minimalEnv(sandbox.EnvVars)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", argv[0], err)
	}

	stdoutCh := make(chan string, 1)
	stderrCh := make(chan string, 1)
	go func() { stdoutCh <- readBounded(stdoutPipe, maxOutput) }()
	go func() { stderrCh <- readBounded(stderrPipe, maxOutput) }()

	stdout := <-stdoutCh
	stderr := <-stderrCh
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %ds", maxTime)
	}

	exitCode := 0
	status := "success"
	if waitErr != nil {
		status = "failure"
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("wait for %s: %w", argv[0], waitErr)
		}
	}

	return map[string]any{
		"status":    status,
		"exit_code": exitCode,
		"stdout":    stdout,
		"stderr":    stderr,
	}, nil
}

// substituteToken replaces every ${name} inside one already-tokenized word
// with the literal parameter value. The result is never re-tokenized.
func substituteToken(token string, params map[string]any) (string, error) {
	var substErr error
	out := placeholderPattern.ReplaceAllStringFunc(token, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok {
			substErr = fmt.Errorf("command references undeclared parameter %q", name)
			return m
		}
		return stringify(v)
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// minimalEnv builds the child environment solely from the sandbox policy's
// env-var allowlist. The inherited process environment is discarded.
func minimalEnv(names []string) []string {
	env := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := lookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// readBounded reads up to max bytes in 4 KiB chunks, then drains the rest
// so the child never blocks on a full pipe.
func readBounded(r io.Reader, max int) string {
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			remaining := max - b.Len()
			if remaining > 0 {
				if n > remaining {
					n = remaining
				}
				b.Write(buf[:n])
			}
		}
		if err != nil {
			break
		}
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// tokenize splits a command template into words with POSIX-shell-like
// quoting rules: whitespace separates words; single quotes preserve
// everything literally; double quotes preserve everything except backslash
// escapes of `"` and `\`; a bare backslash escapes the next character.
// No expansion of any kind is performed.
func tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inWord  bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				tokens = append(tokens, current.String())
				current.Reset()
				inWord = false
			}
		case c == '\'':
			inWord = true
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				current.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated single quote")
			}
			i = j
		case c == '"':
			inWord = true
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				if runes[j] == '\\' && j+1 < len(runes) && (runes[j+1] == '"' || runes[j+1] == '\\') {
					j++
				}
				current.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated double quote")
			}
			i = j
		case c == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("trailing backslash")
			}
			inWord = true
			i++
			current.WriteRune(runes[i])
		default:
			inWord = true
			current.WriteRune(c)
		}
	}
	if inWord {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}
