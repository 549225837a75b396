// Package process runs service units as supervised child processes. The
// module reference is the command line to run, split on whitespace with no
// shell quoting. The resource scope lists directories searched for the
// executable ahead of PATH; the first existing scope directory becomes the
// working directory.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/abhisheknishant138/rotor/internal/model"
	"github.com/abhisheknishant138/rotor/internal/unit"
)

// stopGracePeriod is the time a process gets to exit after SIGTERM before
// it is killed.
const stopGracePeriod = 3 * time.Second

// scopeEnvVar carries the resource scope to the child, joined like PATH.
const scopeEnvVar = "ROTOR_RESOURCE_PATH"

// Factory builds process units.
type Factory struct {
	logger *slog.Logger
	grace  time.Duration
}

// NewFactory creates a process factory logging child output through logger.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger, grace: stopGracePeriod}
}

// Construct resolves the command line against the resource scope and builds
// a unit ready to start. An empty reference or an unresolvable executable is
// a construction fault.
func (f *Factory) Construct(moduleRef string, scope []string) (unit.Unit, error) {
	argv := strings.Fields(moduleRef)
	if len(argv) == 0 {
		return nil, errors.New("empty module reference")
	}

	path, err := resolveExecutable(argv[0], scope)
	if err != nil {
		return nil, err
	}

	return &Unit{
		logger: f.logger,
		grace:  f.grace,
		path:   path,
		args:   argv[1:],
		dir:    workDir(scope),
		scope:  scope,
		exited: make(chan struct{}),
	}, nil
}

// Info reports the factory's kind and description.
func (f *Factory) Info() unit.FactoryInfo {
	return unit.FactoryInfo{
		Kind:        model.KindProcess,
		Description: "service units run as supervised child processes",
	}
}

// resolveExecutable locates the command binary, preferring the resource
// scope directories over PATH.
func resolveExecutable(name string, scope []string) (string, error) {
	if !strings.ContainsRune(name, os.PathSeparator) {
		for _, dir := range scope {
			cand := filepath.Join(dir, name)
			if info, err := os.Stat(cand); err == nil && !info.IsDir() {
				return cand, nil
			}
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve executable %q: %w", name, err)
	}
	return path, nil
}

// workDir picks the first scope entry that is an existing directory.
func workDir(scope []string) string {
	for _, dir := range scope {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

// Unit supervises one child process.
type Unit struct {
	logger *slog.Logger
	grace  time.Duration

	path  string
	args  []string
	dir   string
	scope []string

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  bool
	stopping bool

	// exited is closed by the monitor goroutine after the process and its
	// output scanners finish; exitErr is valid once exited is closed.
	exited  chan struct{}
	exitErr error
}

// Start launches the process and begins piping its stdout and stderr line
// by line into the logger.
func (u *Unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return errors.New("process unit already started")
	}

	cmd := exec.Command(u.path, u.args...)
	cmd.Dir = u.dir
	cmd.Env = append(os.Environ(), scopeEnvVar+"="+strings.Join(u.scope, string(os.PathListSeparator)))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", u.path, err)
	}
	u.cmd = cmd
	u.started = true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		u.scanLines("stdout", stdout)
	}()
	go func() {
		defer wg.Done()
		u.scanLines("stderr", stderr)
	}()

	// The pipes must be drained before Wait. The monitor owns the exit
	// result; Stop only observes it through the exited channel.
	go func() {
		wg.Wait()
		err := cmd.Wait()
		u.exitErr = err
		close(u.exited)
		if err != nil {
			u.logger.Info("unit process exited", "path", u.path, "error", err)
		} else {
			u.logger.Info("unit process exited", "path", u.path)
		}
	}()

	return nil
}

// scanLines forwards one output stream into the logger.
func (u *Unit) scanLines(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		u.logger.Info("unit output", "stream", stream, "line", scanner.Text())
	}
}

// Stop terminates the process: SIGTERM, a grace period, then SIGKILL. A unit
// that was never started, was stopped twice, or whose process already exited
// on its own reports an error.
func (u *Unit) Stop() error {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return errors.New("process unit not started")
	}
	if u.stopping {
		u.mu.Unlock()
		return errors.New("process unit already stopped")
	}
	u.stopping = true
	cmd := u.cmd
	u.mu.Unlock()

	select {
	case <-u.exited:
		if u.exitErr != nil {
			return fmt.Errorf("process already exited: %v", u.exitErr)
		}
		return errors.New("process already exited")
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %s: %w", u.path, err)
	}

	select {
	case <-u.exited:
	case <-time.After(u.grace):
		u.logger.Warn("unit ignored SIGTERM, killing", "path", u.path)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %s: %w", u.path, err)
		}
		<-u.exited
	}
	return nil
}
