// controlctl talks to a running controller over gRPC.
//
//	controlctl [-addr host:50051] status
//	controlctl rules
//	controlctl add-rule -id hot -condition "temperature > 90" -action close_valve [-cooldown 2m]
//	controlctl add-rule -file rule.json
//	controlctl remove-rule <id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller"
)

func main() {
	addr := flag.String("addr", envOr("CONTROL_GRPC_ADDR", "localhost:50051"), "controller gRPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cli, err := controller.DialControl(*addr)
	if err != nil {
		fail(err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cli, flag.Arg(0), flag.Args()[1:]); err != nil {
		cancel()
		fail(err)
	}
}

func run(ctx context.Context, cli *controller.ControlClient, cmd string, args []string) error {
	switch cmd {
	case "status":
		st, err := cli.GetStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)
	case "rules":
		rules, err := cli.ListRules(ctx)
		if err != nil {
			return err
		}
		return printJSON(rules)
	case "add-rule":
		cfg, err := parseRule(args)
		if err != nil {
			return err
		}
		id, err := cli.AddRule(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	case "remove-rule":
		if len(args) != 1 {
			return fmt.Errorf("remove-rule takes exactly one rule id")
		}
		return cli.RemoveRule(ctx, args[0])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseRule(args []string) (controller.RuleConfig, error) {
	fs := flag.NewFlagSet("add-rule", flag.ContinueOnError)
	id := fs.String("id", "", "rule id (generated when empty)")
	desc := fs.String("description", "", "free text")
	cond := fs.String("condition", "", "condition expression")
	action := fs.String("action", "", "open_valve or close_valve")
	cooldown := fs.Duration("cooldown", 0, "cooldown (controller default when 0)")
	file := fs.String("file", "", "JSON or YAML rule file with a single rule")
	if err := fs.Parse(args); err != nil {
		return controller.RuleConfig{}, err
	}

	if *file != "" {
		rules, err := controller.LoadRuleFile(*file)
		if err != nil {
			return controller.RuleConfig{}, err
		}
		if len(rules) != 1 {
			return controller.RuleConfig{}, fmt.Errorf("%s: want exactly one rule, got %d", *file, len(rules))
		}
		return rules[0], nil
	}

	cfg := controller.RuleConfig{
		ID:          *id,
		Description: *desc,
		Condition:   controller.ConditionConfig{Expr: *cond},
		Action:      *action,
	}
	if *cooldown > 0 {
		d := controller.Duration(*cooldown)
		cfg.Cooldown = &d
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: controlctl [-addr host:port] status|rules|add-rule|remove-rule [args]\n")
	flag.PrintDefaults()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "controlctl: %v\n", err)
	os.Exit(1)
}
