package capability

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// Имена встроенных capabilities.
const (
	NameEcho       = "core/echo"
	NameDelay      = "core/delay"
	NameSystemInfo = "system/info"
)

// Version — версия движка, попадает в system/info.
// Переопределяется при сборке через -ldflags.
var Version = "dev"

// NewEcho возвращает вход без изменений.
// Удобна для тестов и отладки pipeline.
func NewEcho() Capability {
	return New(Definition{
		Name:        NameEcho,
		Description: "Returns its input unchanged",
		Input:       Schema{Type: "object"},
		Output:      Schema{Type: "object"},
		Handler: func(_ context.Context, input map[string]any) (any, error) {
			return input, nil
		},
	})
}

// NewDelay приостанавливает выполнение.
//
// Вход:
//
//	{"duration_sec": 5}   // или
//	{"duration_ms": 500}
//
// Результат:
//
//	{"duration_ms": 5000}
func NewDelay() Capability {
	return New(Definition{
		Name:        NameDelay,
		Description: "Pauses execution for the given duration",
		Input: Schema{
			Type: "object",
			Properties: map[string]Property{
				"duration_sec": {Type: "integer"},
				"duration_ms":  {Type: "integer"},
			},
		},
		Output: Schema{
			Type:       "object",
			Properties: map[string]Property{"duration_ms": {Type: "integer"}},
		},
		Handler: executeDelay,
	})
}

func executeDelay(ctx context.Context, input map[string]any) (any, error) {
	var duration time.Duration
	switch {
	case engine.GetInt(input, "duration_sec") > 0:
		duration = time.Duration(engine.GetInt(input, "duration_sec")) * time.Second
	case engine.GetInt(input, "duration_ms") > 0:
		duration = time.Duration(engine.GetInt(input, "duration_ms")) * time.Millisecond
	default:
		return nil, &Failure{Code: "invalid_input", Message: "duration_sec or duration_ms required"}
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", engine.ErrCancelled, ctx.Err())
	case <-timer.C:
		return map[string]any{"duration_ms": duration.Milliseconds()}, nil
	}
}

// NewSystemInfo возвращает диагностику движка.
func NewSystemInfo(r *Registry) Capability {
	return New(Definition{
		Name:        NameSystemInfo,
		Description: "Reports engine version, Go runtime and registered capabilities",
		Permission:  "system:read",
		Output: Schema{
			Type: "object",
			Properties: map[string]Property{
				"version":      {Type: "string"},
				"go_version":   {Type: "string"},
				"goroutines":   {Type: "integer"},
				"capabilities": {Type: "array"},
			},
		},
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			names := r.Names()
			caps := make([]any, len(names))
			for i, n := range names {
				caps[i] = n
			}
			return map[string]any{
				"version":      Version,
				"go_version":   runtime.Version(),
				"os":           runtime.GOOS,
				"arch":         runtime.GOARCH,
				"goroutines":   runtime.NumGoroutine(),
				"capabilities": caps,
			}, nil
		},
	})
}
