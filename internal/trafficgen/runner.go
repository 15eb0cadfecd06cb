package trafficgen

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/infra"
	"go.uber.org/zap"
)

// SampleWriter — куда генератор пишет разобранные сэмплы.
type SampleWriter interface {
	WriteBatch(ctx context.Context, samples []domain.Sample) error
}

// Runner гоняет iperf3 по кругу для каждого настроенного UE и стримит
// интервальные строки в хранилище телеметрии. Процессы независимы:
// падение одного UE не трогает остальных.
type Runner struct {
	writer    SampleWriter
	cfg       infra.TrafficConfig
	logger    *zap.Logger
	batchSize int
}

func NewRunner(writer SampleWriter, cfg infra.TrafficConfig, logger *zap.Logger) *Runner {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	return &Runner{
		writer:    writer,
		cfg:       cfg,
		logger:    logger.Named("trafficgen"),
		batchSize: batch,
	}
}

// Run запускает по горутине на UE и ждет отмены контекста.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.cfg.UEs) == 0 {
		return fmt.Errorf("trafficgen: no UEs configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ue := range r.cfg.UEs {
		g.Go(func() error {
			return r.runUE(gctx, ue)
		})
	}
	return g.Wait()
}

// runUE — бесконечный цикл итераций iperf3 для одного UE.
func (r *Runner) runUE(ctx context.Context, ue infra.TrafficUE) error {
	logger := r.logger.With(zap.String("ue", ue.Name))
	iteration := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		iteration++

		logger.Info("starting iperf3 iteration",
			zap.Int("iteration", iteration),
			zap.String("bandwidth", ue.Bandwidth),
			zap.Int("duration", ue.Duration),
		)

		if err := r.runIteration(ctx, ue, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("iperf3 iteration failed, backing off", zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}

		logger.Info("iperf3 iteration completed", zap.Int("iteration", iteration))
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (r *Runner) runIteration(ctx context.Context, ue infra.TrafficUE, logger *zap.Logger) error {
	argv := r.command(ue)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // iperf3 пишет ошибки туда же, куда и отчет

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start iperf3: %w", err)
	}

	var rawLog *os.File
	if ue.LogFile != "" {
		rawLog, err = os.OpenFile(ue.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open raw log file", zap.Error(err))
		} else {
			defer rawLog.Close()
		}
	}

	batch := make([]domain.Sample, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.writer.WriteBatch(ctx, batch); err != nil {
			logger.Error("telemetry batch insert failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	inserted := 0
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		sample, ok := ParseIntervalLine(ue.Name, line, time.Now())
		if !ok {
			continue
		}

		batch = append(batch, sample)
		inserted++

		// Двойник пишется рядом с оригиналом, тем же батчем
		if r.cfg.TwinName != "" && ue.Name == r.cfg.TwinOf {
			batch = append(batch, PerturbSample(sample, r.cfg.TwinName))
		}

		if rawLog != nil {
			fmt.Fprintf(rawLog, "[%s] [%s] %s\n", ue.Name, time.Now().Format("2006-01-02 15:04:05"), line)
		}

		if len(batch) >= r.batchSize {
			flush()
		}
		if inserted%10 == 0 {
			logger.Debug("samples streamed", zap.Int("count", inserted))
		}
	}
	flush()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("iperf3 exited: %w", err)
	}
	return scanner.Err()
}

// command собирает командную строку: docker exec для контейнерных UE,
// локальный iperf3 — для остальных. --forceflush обязателен: без него
// интервальные строки приходят пачкой в конце, а не в реальном времени.
func (r *Runner) command(ue infra.TrafficUE) []string {
	iperf := []string{
		"iperf3", "-B", ue.BindHost, "-c", ue.ServerHost,
		"-p", strconv.Itoa(ue.Port), "-R", "-u", "-b", ue.Bandwidth,
		"-t", strconv.Itoa(ue.Duration), "--forceflush",
	}
	if ue.Container == "" {
		return iperf
	}
	return append([]string{"docker", "exec", ue.Container}, iperf...)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
