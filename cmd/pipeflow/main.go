// Pipeflow CLI — локальное выполнение pipelines и управление
// pipelines, runs и schedules через HTTP API.
//
// Использование:
//
//	pipeflow [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	exec          Выполнить pipeline из файла локально
//	validate      Проверить pipeline без выполнения
//	capabilities  Встроенные capabilities
//	operations    Операции transform
//	pipeline      Управление pipelines
//	run           Управление runs
//	schedule      Управление schedules
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	capability.Version = version

	// Ctrl+C отменяет локальное выполнение
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
