package cmd

import (
	"errors"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	easy "github.com/t-tomalak/logrus-easy-formatter"
	e "github.com/vlox-lang/vlox/errors"
	"github.com/vlox-lang/vlox/vm"
)

// Exit codes follow BSD sysexits.
const (
	ExUsage    = 64
	ExDataErr  = 65
	ExSoftware = 70
	ExIOErr    = 74
)

func Main() {
	if err := App().Execute(); err != nil {
		// cobra has already printed the usage message.
		os.Exit(ExUsage)
	}
}

func App() (app *cobra.Command) {
	app = &cobra.Command{
		Use:   "vlox [FILE]",
		Args:  cobra.MaximumNArgs(1),
		Short: "vlox: A Lox bytecode interpreter in Go.",
	}
	app.Flags().SortFlags = true

	defaultVerbosityStr := "INFO"
	verbosity := app.Flags().StringP("verbosity", "v", defaultVerbosityStr, "logging verbosity")

	app.Run = func(_ *cobra.Command, args []string) {
		verbosityLvl, err := logrus.ParseLevel(*verbosity)
		if err != nil {
			verbosityLvl, _ = logrus.ParseLevel(defaultVerbosityStr)
		}
		logrus.SetLevel(verbosityLvl)
		logrus.SetFormatter(&easy.Formatter{LogFormat: "%lvl% %msg%\n"})

		if err := appMain(args); err != nil {
			logrus.Error(err)
			os.Exit(exitCode(err))
		}
	}
	return
}

func appMain(args []string) error {
	vm_ := vm.NewVM()

	switch len(args) {
	case 0:
		return vm_.REPL()
	case 1:
		src, err := ioutil.ReadFile(args[0])
		if err != nil {
			return err
		}
		_, err = vm_.Interpret(string(src), false)
		return err
	default:
		panic(e.Unreachable)
	}
}

func exitCode(err error) int {
	var cErr *e.CompilationError
	var rErr *e.RuntimeError
	switch {
	case errors.As(err, &cErr):
		return ExDataErr
	case errors.As(err, &rErr):
		return ExSoftware
	default:
		return ExIOErr
	}
}
