// Command moonblokz is a host simulator for MoonBlokz block storage. It keeps
// the simulated medium between runs, in an image file for the memory backends
// and in a badger database for the flash backend.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/i5heu/moonblokz-storage/internal/config"
	"github.com/i5heu/moonblokz-storage/pkg/logging"
)

const (
	logKeyBackend = "backend"
	logKeyDataDir = "dataDir"
	logKeyCommand = "command"
	logKeyIndex   = "index"
	logKeyPath    = "path"
	logKeyFormat  = "format"
	logKeyNodeID  = "nodeId"
	logKeyError   = "error"
)

const usage = `usage: moonblokz [flags] <command> [args]

commands:
  info                      medium geometry and control-plane state
  init                      erase the medium and write the node identity
  save <index> <payload>    store a block with the payload text
  read <index>              print the block in a slot
  scan                      list every slot
  control                   print the control-plane record
  set-config <payload>      store the chain configuration block
  demo                      initialize if needed, save and read back slot 0
  export <file> [format]    write a medium image (raw, zstd, xz)
  import <file>             restore a medium image

flags:
`

var errUsage = errors.New("usage")

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conf, err := cfg.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, err := logging.ParseLevel(conf.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, level, conf.Log.NoColor)

	if err := run(conf, cfg.args, os.Stdout, logger); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Error("command failed", logKeyCommand, cfg.command(), logKeyError, err)
		os.Exit(1)
	}
}

// cliConfig holds the parsed command line.
type cliConfig struct {
	configPath string
	backend    string
	dataDir    string
	debug      bool
	args       []string
}

// parseFlags parses the command line flags. The remaining arguments are the
// command and its operands.
func parseFlags(args []string, output io.Writer) (cliConfig, error) {
	cfg := cliConfig{}

	fs := flag.NewFlagSet("moonblokz", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.configPath, "config", "",
		"Path to a YAML configuration file")
	fs.StringVar(&cfg.backend, "backend", "",
		"Backend override: memory, flash or blocks")
	fs.StringVar(&cfg.dataDir, "data", "",
		"Data directory override")
	fs.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	cfg.args = fs.Args()
	return cfg, nil
}

// load reads the configuration file and applies the flag overrides.
func (c cliConfig) load() (config.Config, error) {
	conf, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	return conf.Override(c.backend, c.dataDir)
}

func (c cliConfig) command() string {
	if len(c.args) == 0 {
		return ""
	}
	return c.args[0]
}
