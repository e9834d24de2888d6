package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/timerhsenso/sentinela/logger"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileAuditor appends JSON lines to a rotating file. Writes are serialized;
// the sink is append-only and never read back by the process.
type FileAuditor struct {
	mu     sync.Mutex
	sink   io.WriteCloser
	hmacer *HMACer
	logger logger.Logger
}

// FileConfig holds configuration for the file auditor
type FileConfig struct {
	Path       string
	HMACKey    string
	MaxSizeMB  int
	MaxBackups int
}

func NewFileAuditor(log logger.Logger, config FileConfig) (*FileAuditor, error) {
	sink := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}

	log.Info("file audit device initialized",
		logger.String("path", config.Path))

	return &FileAuditor{
		sink:   sink,
		hmacer: NewHMACer(config.HMACKey),
		logger: log,
	}, nil
}

// Emit salts sensitive detail values and appends the event as one JSON line.
func (a *FileAuditor) Emit(ctx context.Context, event *Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	for key, value := range event.Detail {
		if sensitiveKeys[key] {
			event.Detail[key] = a.hmacer.Salt(value)
		}
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.sink.Write(line); err != nil {
		// Audit failures must not fail the guarded operation; they are
		// surfaced in the operational log instead.
		a.logger.Error("failed to write audit event", logger.Err(err))
		return err
	}
	return nil
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink.Close()
}
