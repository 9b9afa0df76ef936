// Command boardflowctl provisions the BigQuery store and manages the source
// platform's webhook registration out of band from the running service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/boardflow/pkg/config"
	"github.com/codeready-toolchain/boardflow/pkg/source"
	"github.com/codeready-toolchain/boardflow/pkg/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "boardflowctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: boardflowctl <webhook|tables> <subcommand> [flags]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	switch args[0] {
	case "webhook":
		return runWebhook(cfg, args[1:])
	case "tables":
		return runTables(cfg, args[1:])
	default:
		return fmt.Errorf("unknown command %q (want webhook or tables)", args[0])
	}
}

func runWebhook(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: boardflowctl webhook <register|list|delete> [flags]")
	}

	client := source.NewTrelloClient(cfg.SourceAPIKey, cfg.SourceAPIToken)
	ctx := context.Background()

	switch args[0] {
	case "register":
		fs := flag.NewFlagSet("webhook register", flag.ContinueOnError)
		callbackURL := fs.String("callback-url", cfg.CallbackURL, "public URL the source platform will POST notifications to")
		modelID := fs.String("model-id", "", "board or card id to subscribe to")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *callbackURL == "" {
			return fmt.Errorf("--callback-url is required")
		}
		if *modelID == "" {
			return fmt.Errorf("--model-id is required")
		}
		id, err := client.RegisterWebhook(ctx, *modelID, *callbackURL)
		if err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		fmt.Println(id)
		return nil

	case "list":
		hooks, err := client.ListWebhooks(ctx)
		if err != nil {
			return fmt.Errorf("list webhooks: %w", err)
		}
		out, err := yaml.Marshal(hooks)
		if err != nil {
			return fmt.Errorf("marshal webhook list: %w", err)
		}
		fmt.Print(string(out))
		return nil

	case "delete":
		fs := flag.NewFlagSet("webhook delete", flag.ContinueOnError)
		id := fs.String("id", "", "webhook id to delete")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("--id is required")
		}
		if err := client.DeleteWebhook(ctx, *id); err != nil {
			return fmt.Errorf("delete webhook %s: %w", *id, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown webhook subcommand %q (want register, list, or delete)", args[0])
	}
}

func runTables(cfg *config.Config, args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return fmt.Errorf("usage: boardflowctl tables create")
	}

	ctx := context.Background()
	st, err := store.NewBigQueryAdapter(ctx, cfg.SourceProject, cfg.SourceDataset)
	if err != nil {
		return fmt.Errorf("connect to bigquery: %w", err)
	}
	defer st.Close()

	if err := st.CreateTables(ctx); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	fmt.Println("tables created")
	return nil
}
