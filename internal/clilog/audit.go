package clilog

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Audit is the append-only invocation log described in the external
// interfaces section's base directory layout ("cli.log"). Grounded on
// other_examples/CodeMonkeyCybersecurity-eos__simple_vm.go's zap usage for
// VM-provisioning events; the teacher itself never had a file-backed sink.
type Audit struct {
	logger *zap.Logger
}

// NewAudit returns a JSON-lines audit sink writing to path. The file is not
// touched here; each write opens it, creating it if absent.
func NewAudit(path string) (*Audit, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.AddSync(&lockedFile{path: path})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), sink, zapcore.InfoLevel)

	return &Audit{logger: zap.New(core)}, nil
}

// Record appends one structured line for a completed invocation.
func (a *Audit) Record(verb, name, outcome string, errKind string, duration time.Duration) {
	fields := []zap.Field{
		zap.String("verb", verb),
		zap.String("name", name),
		zap.String("outcome", outcome),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}
	if errKind != "" {
		fields = append(fields, zap.String("error_kind", errKind))
	}
	a.logger.Info("invocation", fields...)
}

// Sync flushes any buffered log entries.
func (a *Audit) Sync() error { return a.logger.Sync() }

// lockedFile opens path in append mode on every Write call so concurrent
// dockvirt invocations interleave whole lines rather than corrupting each
// other's output; the file is never held open across calls.
type lockedFile struct {
	path string
}

func (l *lockedFile) Write(p []byte) (int, error) {
	f, err := openAppend(l.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(p)
}

func (l *lockedFile) Sync() error { return nil }
