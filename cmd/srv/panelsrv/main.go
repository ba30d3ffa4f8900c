package main

import (
	"fmt"
	"os"

	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/panel"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"path to the panel YAML configuration"`
	Host        string `long:"host" description:"address to bind, overrides the configuration"`
	Port        int    `long:"port" description:"port to listen on, overrides the configuration"`
	StaticDir   string `long:"static-dir" description:"directory with the browser client"`
	LogLevel    string `long:"log-level" description:"debug, info, warn or error"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the panel (debug feature)"`
	Validate    bool   `long:"validate" description:"validate the configuration and exit"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config := panel.DefaultConfig()
	if opts.Config != "" {
		config, err = panel.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	applyOverrides(config, opts)

	if opts.Validate {
		if err := panel.ValidateConfig(config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	sugar, err := logging.NewZapLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sugar.Sync()

	logger := logging.NewLogger(logging.ModulePrefix("panel"), logging.LogFuncsFromZap(sugar))

	logger.Infof("opts: %+v", opts)

	if err := panel.RunWithConfig(opts.RunDuration, config, logger); err != nil {
		logger.Errorf("Panel failed: %v", err)
		sugar.Sync()
		os.Exit(1)
	}
}

func applyOverrides(config *panel.PanelConfig, opts flagOptions) {
	if opts.Host != "" {
		config.Panel.Host = opts.Host
	}
	if opts.Port != 0 {
		config.Panel.Port = opts.Port
	}
	if opts.StaticDir != "" {
		config.StaticDir = opts.StaticDir
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
}
