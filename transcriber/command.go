package transcriber

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CommandLoader runs an external recognizer once per transcription. The
// process reads raw PCM on stdin and prints JSON lines on stdout; the last
// line carrying "text" is the final result. In Args, {model} expands to the
// model directory and {rate} to the sample rate.
type CommandLoader struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// DefaultRecognizerArgs suits a vosk-style wrapper script.
var DefaultRecognizerArgs = []string{"--model", "{model}", "--rate", "{rate}"}

func (l CommandLoader) Load(dir string) (Model, error) {
	path, err := exec.LookPath(l.Path)
	if err != nil {
		return nil, fmt.Errorf("recognizer binary %q: %w", l.Path, err)
	}
	args := l.Args
	if args == nil {
		args = DefaultRecognizerArgs
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &commandModel{path: path, args: args, dir: dir, timeout: timeout}, nil
}

type commandModel struct {
	path    string
	args    []string
	dir     string
	timeout time.Duration
}

func (m *commandModel) Close() error { return nil }

// NewRecognizer starts the recognizer process. Cancelling ctx or exceeding
// the loader timeout kills its whole process group.
func (m *commandModel) NewRecognizer(ctx context.Context, sampleRate float64) (Recognizer, error) {
	rate := strconv.Itoa(int(sampleRate))
	args := make([]string, len(m.args))
	for i, a := range m.args {
		a = strings.ReplaceAll(a, "{model}", m.dir)
		args[i] = strings.ReplaceAll(a, "{rate}", rate)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	cmd := exec.CommandContext(ctx, m.path, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	r := &commandRecognizer{cmd: cmd, stdin: stdin, cancel: cancel}
	cmd.Stdout = &r.stdout
	cmd.Stderr = &r.stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recognizer: %w", err)
	}
	return r, nil
}

type commandRecognizer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	stdout bytes.Buffer
	stderr bytes.Buffer

	once    sync.Once
	waitErr error
	done    bool
}

func (r *commandRecognizer) AcceptWaveform(pcm []byte) error {
	if r.done {
		return errRecognizerClosed
	}
	if _, err := r.stdin.Write(pcm); err != nil {
		return fmt.Errorf("write to recognizer: %w", err)
	}
	return nil
}

func (r *commandRecognizer) wait() error {
	r.once.Do(func() {
		r.done = true
		r.stdin.Close()
		r.waitErr = r.cmd.Wait()
		r.cancel()
	})
	return r.waitErr
}

func (r *commandRecognizer) FinalResult() (string, error) {
	if err := r.wait(); err != nil {
		msg := strings.TrimSpace(r.stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", fmt.Errorf("recognizer failed: %w: %s", err, msg)
	}
	return lastTextLine(r.stdout.String()), nil
}

func (r *commandRecognizer) Close() error {
	if !r.done {
		r.cancel()
		r.wait()
	}
	return nil
}

// lastTextLine returns the last stdout line with a "text" key, or the last
// non-empty line when none has one.
func lastTextLine(out string) string {
	var last, lastText string
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		if strings.Contains(line, `"text"`) {
			lastText = line
		}
	}
	if lastText != "" {
		return lastText
	}
	return last
}
