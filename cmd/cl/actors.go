package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordline/internal/engine"
)

func aliasCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "alias",
		Short: "Request and decide alias changes",
		Long:  "An alias change renames you everywhere at once: coordinator sets, proposals and roles. A bestuur member other than you decides.",
	}
	a.AddCommand(aliasRequestCmd())
	a.AddCommand(aliasDecideCmd("accept", true))
	a.AddCommand(aliasDecideCmd("reject", false))
	a.AddCommand(aliasAckCmd())
	a.AddCommand(aliasListCmd())
	return a
}

func aliasRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <new-alias>",
		Short: "Ask for a new alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				p, err := e.RequestAliasChange(ctx, a, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func aliasDecideCmd(verb string, accept bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <alias-change-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an alias change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				p, err := e.DecideAliasChange(ctx, args[0], a, accept)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func aliasAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alias-change-id>",
		Short: "Clear a rejected alias change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				if err := e.AcknowledgeAliasChange(ctx, args[0], a); err != nil {
					return err
				}
				fmt.Println("acknowledged", args[0])
				return nil
			})
		},
	}
}

func aliasListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Alias changes that concern you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				items, err := e.ListAliasChanges(ctx, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Current", "Requested", "Status", "You decide"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.CurrentAlias, p.RequestedAlias, p.Status, p.CanDecide})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func actorCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors, roles and API keys",
	}
	a.AddCommand(actorRegisterCmd())
	a.AddCommand(actorListCmd())
	a.AddCommand(actorBootstrapCmd())
	a.AddCommand(actorGrantCmd())
	a.AddCommand(actorRevokeCmd())
	a.AddCommand(actorKeyCmd())
	return a
}

func actorRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <alias>",
		Short: "Add an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func actorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Alias", "Roles", "Since"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Alias, strings.Join(a.Roles, ", "), a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func actorBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <alias>",
		Short: "DEV ONLY: make alias the first bestuur member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.BootstrapBestuur(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("granted bestuur to", args[0])
				return nil
			})
		},
	}
}

func actorGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <alias> <role>",
		Short: "Grant a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				if err := e.GrantRole(ctx, args[0], args[1], a); err != nil {
					return err
				}
				fmt.Printf("granted %s to %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func actorRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <alias> <role>",
		Short: "Revoke a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				if err := e.RevokeRole(ctx, args[0], args[1], a); err != nil {
					return err
				}
				fmt.Printf("revoked %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func actorKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage your API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				key, secret, err := e.CreateAPIKey(ctx, a, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("key %s created for %s\nsecret: %s\n", key.ID, a, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				items, err := e.ListAPIKeys(ctx, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, key := range items {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				if err := e.DeleteAPIKey(ctx, args[0], a); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}

	k.AddCommand(create, list, del)
	return k
}
