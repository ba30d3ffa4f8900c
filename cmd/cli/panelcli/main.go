package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-panel/pkg/control"
	"github.com/core-tools/hsu-panel/pkg/domain"
	"github.com/core-tools/hsu-panel/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	URL     string `long:"url" default:"http://127.0.0.1:3000" description:"base URL of the panel"`
	Timeout int    `long:"timeout" default:"900" description:"request timeout in seconds"`
	Verbose bool   `long:"verbose" short:"v" description:"log requests"`
}

var global globalOptions

func contract() domain.Contract {
	sugar, err := logging.NewZapLogger(logging.ZapConfig{
		Level:  map[bool]string{true: "debug", false: "error"}[global.Verbose],
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.ModulePrefix("panelcli"), logging.LogFuncsFromZap(sugar))
	return control.NewHTTPClientGateway(global.URL, nil, logger)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(global.Timeout)*time.Second)
}

func printJson(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

type statusCommand struct{}

func (c *statusCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	status, err := contract().Status(ctx)
	if err != nil {
		return err
	}
	return printJson(status)
}

type listCommand struct{}

func (c *listCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	instances, err := contract().ListInstances(ctx)
	if err != nil {
		return err
	}
	for _, name := range instances {
		fmt.Println(name)
	}
	return nil
}

type releasesCommand struct{}

func (c *releasesCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	releases, err := contract().ListReleases(ctx)
	if err != nil {
		return err
	}
	for _, r := range releases {
		fmt.Printf("%s\t%s\n", r.ID, r.ReleaseTime)
	}
	return nil
}

type provisionCommand struct {
	Args struct {
		Name    string `positional-arg-name:"name" required:"yes"`
		Release string `positional-arg-name:"release" required:"yes"`
	} `positional-args:"yes"`
}

func (c *provisionCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	if err := contract().Provision(ctx, c.Args.Name, c.Args.Release); err != nil {
		return err
	}
	fmt.Printf("Server '%s' created\n", c.Args.Name)
	return nil
}

type nameArgs struct {
	Name string `positional-arg-name:"name" required:"yes"`
}

type startCommand struct {
	Args nameArgs `positional-args:"yes"`
}

func (c *startCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	return contract().Start(ctx, c.Args.Name)
}

type stopCommand struct{}

func (c *stopCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	return contract().Stop(ctx)
}

type restartCommand struct{}

func (c *restartCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	return contract().Restart(ctx)
}

type sendCommand struct {
	Args struct {
		Text string `positional-arg-name:"text" required:"yes"`
	} `positional-args:"yes"`
}

func (c *sendCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	return contract().SendCommand(ctx, c.Args.Text)
}

type deleteCommand struct {
	Args nameArgs `positional-args:"yes"`
}

func (c *deleteCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	result, err := contract().Delete(ctx, c.Args.Name)
	if err != nil {
		return err
	}
	fmt.Println(result.Message)
	return nil
}

type tunnelCommand struct{}

func (c *tunnelCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	status, err := contract().TunnelEndpoint(ctx)
	if err != nil {
		return err
	}
	if !status.Available {
		return fmt.Errorf("tunnel not available: %s", status.Message)
	}
	fmt.Println(status.Address)
	return nil
}

type historyCommand struct {
	Limit int `long:"limit" default:"20" description:"number of entries"`
}

func (c *historyCommand) Execute(args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	entries, err := contract().History(ctx, c.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Instance, e.Detail)
	}
	return nil
}

func main() {
	parser := flags.NewParser(&global, flags.HelpFlag|flags.PassDoubleDash)

	parser.AddCommand("status", "Show the server process state", "", &statusCommand{})
	parser.AddCommand("list", "List provisioned servers", "", &listCommand{})
	parser.AddCommand("releases", "List installable releases", "", &releasesCommand{})
	parser.AddCommand("create", "Provision a new server", "", &provisionCommand{})
	parser.AddCommand("start", "Start a server", "", &startCommand{})
	parser.AddCommand("stop", "Stop the running server", "", &stopCommand{})
	parser.AddCommand("restart", "Restart the running server", "", &restartCommand{})
	parser.AddCommand("send", "Send a console command to the running server", "", &sendCommand{})
	parser.AddCommand("delete", "Delete a stopped server", "", &deleteCommand{})
	parser.AddCommand("tunnel", "Show the public tunnel address", "", &tunnelCommand{})
	parser.AddCommand("history", "Show recent lifecycle events", "", &historyCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
