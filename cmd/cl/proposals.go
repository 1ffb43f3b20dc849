package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordline/internal/domain"
	"coordline/internal/engine"
)

func proposalCmd() *cobra.Command {
	p := &cobra.Command{
		Use:     "proposal",
		Aliases: []string{"prop"},
		Short:   "Propose and decide coordinators",
		Long:    "Register yourself for a task, nominate someone, or open a request and fill in the nominee later. Self-registrations are decided by the task's coordinators, nominations by the nominee.",
	}
	p.AddCommand(proposalRegisterCmd())
	p.AddCommand(proposalNominateCmd())
	p.AddCommand(proposalRequestCmd())
	p.AddCommand(proposalNomineeCmd())
	p.AddCommand(proposalDecideCmd("accept", true))
	p.AddCommand(proposalDecideCmd("reject", false))
	p.AddCommand(proposalAckCmd())
	p.AddCommand(proposalWithdrawCmd())
	p.AddCommand(proposalListCmd())
	return p
}

func proposalRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <task-id>",
		Short: "Propose yourself as coordinator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				p, err := e.RegisterForTask(ctx, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func proposalNominateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nominate <task-id> <alias>",
		Short: "Nominate someone as coordinator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				p, err := e.NominateForTask(ctx, args[0], args[1], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func proposalRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <task-id>",
		Short: "Open a proposal without a nominee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				p, err := e.RequestDelegate(ctx, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func proposalNomineeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nominee <proposal-id> <alias>",
		Short: "Fill in the nominee of an open request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				p, err := e.SetProposedAlias(ctx, args[0], args[1], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func proposalDecideCmd(verb string, accept bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <proposal-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				d, err := e.DecideTaskProposal(ctx, args[0], a, accept)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func proposalAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <proposal-id>",
		Short: "Clear a rejected proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				if err := e.AcknowledgeTaskProposal(ctx, args[0], a); err != nil {
					return err
				}
				fmt.Println("acknowledged", args[0])
				return nil
			})
		},
	}
}

func proposalWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <proposal-id>",
		Short: "Withdraw your own open proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				if err := e.WithdrawProposal(ctx, args[0], a); err != nil {
					return err
				}
				fmt.Println("withdrawn", args[0])
				return nil
			})
		},
	}
}

func proposalListCmd() *cobra.Command {
	var opts engine.ProposalListOptions
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Proposals that concern you",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = domain.ProposalStatus(strings.ToUpper(status))
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				items, err := e.ListTaskProposals(ctx, a, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Proposer", "Nominee", "Status", "You decide"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.TaskID, p.ProposerAlias, deref(p.ProposedAlias), p.Status, p.CanDecide})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (OPEN or AFGEWEZEN)")
	return cmd
}
