package wireguard

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Viktorio135/vpn/pkg/logger"
)

// Executor applies peer changes to the server interface.
type Executor interface {
	AddPeer(ctx context.Context, publicKey, address string) error
	// RemovePeer succeeds when the peer does not exist.
	RemovePeer(ctx context.Context, publicKey string) error
	PublicKey(ctx context.Context) (string, error)
}

// commandTimeout bounds a single wg invocation.
const commandTimeout = 10 * time.Second

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// CommandExecutor drives the wg command line tool.
type CommandExecutor struct {
	logger *logger.Logger
	iface  string
	run    Runner

	mu        sync.Mutex
	publicKey string
}

// NewCommandExecutor returns an executor for iface. publicKey may be empty, in
// which case it is read from the interface.
func NewCommandExecutor(iface, publicKey string, logger *logger.Logger) *CommandExecutor {
	return &CommandExecutor{iface: iface, publicKey: publicKey, logger: logger, run: execRunner}
}

// WithRunner replaces the command runner.
func (e *CommandExecutor) WithRunner(run Runner) *CommandExecutor {
	e.run = run
	return e
}

func (e *CommandExecutor) AddPeer(ctx context.Context, publicKey, address string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := e.run(ctx, "wg", "set", e.iface, "peer", publicKey, "allowed-ips", address+"/32")
	if err != nil {
		return fmt.Errorf("wg set peer failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	e.logger.Debugw("Peer added", "interface", e.iface, "address", address)
	return nil
}

func (e *CommandExecutor) RemovePeer(ctx context.Context, publicKey string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := e.run(ctx, "wg", "set", e.iface, "peer", publicKey, "remove")
	if err != nil {
		if strings.Contains(string(out), "No such peer") {
			return nil
		}
		return fmt.Errorf("wg remove peer failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	e.logger.Debugw("Peer removed", "interface", e.iface)
	return nil
}

// PublicKey reads the interface key once and caches it. A failed read is
// retried on the next call.
func (e *CommandExecutor) PublicKey(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.publicKey != "" {
		return e.publicKey, nil
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := e.run(ctx, "wg", "show", e.iface, "public-key")
	if err != nil {
		return "", fmt.Errorf("wg show public-key failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	e.publicKey = strings.TrimSpace(string(out))
	return e.publicKey, nil
}
