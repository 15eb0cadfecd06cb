package reconfigure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"
	"go.uber.org/zap"
)

// ScriptExecutor применяет пару долей к сети. Команда идемпотентна:
// повторный вызов с теми же аргументами безопасен.
type ScriptExecutor interface {
	Apply(ctx context.Context, value1, value2 int) error
}

// ScriptRunner запускает внешний скрипт реконфигурации с двумя
// позиционными числовыми аргументами. Успех — код 0 в пределах таймаута.
type ScriptRunner struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

func NewScriptRunner(path string, timeout time.Duration, logger *zap.Logger) *ScriptRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScriptRunner{path: path, timeout: timeout, logger: logger.Named("script")}
}

func (r *ScriptRunner) Apply(ctx context.Context, value1, value2 int) error {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{strconv.Itoa(value1), strconv.Itoa(value2)}
	r.logger.Info("running reconfiguration script", zap.Strings("args", args))

	cmd := exec.CommandContext(cmdCtx, r.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if stdout.Len() > 0 {
		r.logger.Info("script output", zap.String("stdout", stdout.String()))
	}
	if stderr.Len() > 0 {
		r.logger.Warn("script stderr", zap.String("stderr", stderr.String()))
	}

	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: script timed out after %v (args %v)",
				domain.ErrReconfigurationFailed, r.timeout, args)
		}
		return fmt.Errorf("%w: script exited with error (args %v): %v; stderr: %s",
			domain.ErrReconfigurationFailed, args, err, stderr.String())
	}

	return nil
}
