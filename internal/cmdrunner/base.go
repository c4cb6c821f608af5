package cmdrunner

import (
	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

// CommandsRunner starts external processes. The installer hands it the
// install script through selfupdate.Launcher.
type CommandsRunner struct {
	logger *logger.Logger
}

func NewCommandsRunner() *CommandsRunner {
	return &CommandsRunner{logger: logger.NewLogger("command_runner")}
}
