package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"gamehub/internal/config"

	"go.uber.org/zap"
)

const stopGrace = 2 * time.Second

// ProcessLauncher runs each game's engine as a child process chosen by
// game type from the worker catalog.
type ProcessLauncher struct {
	catalog map[string]config.WorkerSpec
	logger  *zap.Logger
}

func NewProcessLauncher(catalog map[string]config.WorkerSpec, logger *zap.Logger) *ProcessLauncher {
	return &ProcessLauncher{catalog: catalog, logger: logger.Named("launcher")}
}

func (l *ProcessLauncher) Launch(ctx context.Context, init Init) (Worker, json.RawMessage, error) {
	spec, ok := l.catalog[init.GameType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownGameType, init.GameType)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting worker process: %w", err)
	}

	logger := l.logger.With(zap.Int64("game_id", init.GameID), zap.Int("pid", cmd.Process.Pid))
	p := newProcess(stdin, logger, cmd.Wait, func() { _ = cmd.Process.Kill() })
	go p.run(stdout)

	snapshot, err := p.handshake(ctx, init)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("worker started", zap.String("path", spec.Path), zap.Int("snapshot_ply", init.SnapshotPly))
	return p, snapshot, nil
}

// process is the client side of the line protocol. wait reaps whatever
// is behind the pipes and kill forces it down.
type process struct {
	stdin  io.WriteCloser
	logger *zap.Logger
	wait   func() error
	kill   func()

	replies chan envelope
	done    chan struct{}

	requestMu sync.Mutex
	writeMu   sync.Mutex
	stopOnce  sync.Once
}

func newProcess(stdin io.WriteCloser, logger *zap.Logger, wait func() error, kill func()) *process {
	return &process{
		stdin:   stdin,
		logger:  logger,
		wait:    wait,
		kill:    kill,
		replies: make(chan envelope, 1),
		done:    make(chan struct{}),
	}
}

func (p *process) handshake(ctx context.Context, init Init) (json.RawMessage, error) {
	reply, err := p.roundTrip(ctx, envelope{Type: TypeInit, Init: &init})
	if err == nil && reply.Type != TypeReady {
		err = fmt.Errorf("%w: expected ready, got %q %s", ErrProtocol, reply.Type, reply.Reason)
	}
	if err != nil {
		p.kill()
		<-p.done
		return nil, fmt.Errorf("worker handshake: %w", err)
	}
	return reply.Snapshot, nil
}

// run reads replies until stdout closes, then reaps the process.
func (p *process) run(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			p.logger.Warn("discarding malformed worker line", zap.Error(err))
			continue
		}
		select {
		case p.replies <- env:
		default:
			p.logger.Warn("discarding unsolicited worker reply", zap.String("type", env.Type))
		}
	}

	waitErr := p.wait()
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	close(p.done)
	p.logger.Info("worker process exited", zap.Int("exit_code", exitCode), zap.Error(waitErr))
}

func (p *process) write(env envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.stdin.Write(append(line, '\n'))
	return err
}

func (p *process) roundTrip(ctx context.Context, env envelope) (envelope, error) {
	p.requestMu.Lock()
	defer p.requestMu.Unlock()

	select {
	case <-p.done:
		return envelope{}, ErrExited
	default:
	}
	if err := p.write(env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrExited, err)
	}
	select {
	case reply := <-p.replies:
		return reply, nil
	case <-p.done:
		select {
		case reply := <-p.replies:
			return reply, nil
		default:
			return envelope{}, ErrExited
		}
	case <-ctx.Done():
		// A late reply would be read by the next request, so the process
		// cannot be reused.
		p.kill()
		return envelope{}, ctx.Err()
	}
}

func (p *process) Submit(ctx context.Context, action Action) (Output, error) {
	seat := action.Seat
	reply, err := p.roundTrip(ctx, envelope{Type: TypeAction, Seat: &seat, Action: action.Action})
	if err != nil {
		return Output{}, err
	}
	return outputFrom(reply)
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		_ = p.write(envelope{Type: TypeStop})
		_ = p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(stopGrace):
			p.kill()
			<-p.done
		}
	})
	return nil
}
