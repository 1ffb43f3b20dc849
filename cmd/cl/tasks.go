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

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage the task tree",
		Long:  "Tasks form one tree under the root. Each task carries points carved from its parent, an optional team, and its own coordinators; without them the nearest ancestor's coordinators take over. Status goes BESCHIKBAAR -> TOEGEWEZEN -> GEREED.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskTreeCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskReclaimCmd())
	task.AddCommand(taskReleaseCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var coordType, team string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sub-task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CoordinationType = domain.CoordinationType(strings.ToUpper(coordType))
			if cmd.Flags().Changed("team") {
				opts.TeamName = &team
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				opts.ActorAlias = a
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "points carved from the parent")
	cmd.Flags().StringVar(&coordType, "type", "", "coordination type (DELEGEREN or ORGANISEREN, empty inherits)")
	cmd.Flags().StringVar(&team, "team", "", "team name (defaults to the parent's)")
	cmd.Flags().StringArrayVar(&opts.Coordinators, "coordinator", nil, "coordinator alias (repeatable)")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var opts engine.TaskListOptions
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks you can read",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = domain.TaskStatus(strings.ToUpper(status))
			if opts.Status != "" && !opts.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				tasks, err := e.ListVisibleTasks(ctx, a, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Points", "Free", "Coordinators", "Team"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Points, t.Headroom, strings.Join(t.EffectiveCoordinators, ", "), deref(t.TeamName)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.TeamName, "team", "", "team filter")
	cmd.Flags().StringVar(&opts.Coordinator, "coordinator", "", "own coordinator filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of tasks")
	return cmd
}

func taskTreeCmd() *cobra.Command {
	var rootID string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				entries, err := e.Tree(ctx, rootID, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				printTaskTree(entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rootID, "root", "", "subtree root (defaults to the tree root)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its coordinators and permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				view, err := e.GetTaskView(ctx, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, coordType, status, team string
	var points int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0]}
			flags := cmd.Flags()
			if flags.Changed("title") {
				opts.Title = &title
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("type") {
				ct := domain.CoordinationType(strings.ToUpper(coordType))
				opts.CoordinationType = &ct
			}
			if flags.Changed("points") {
				opts.Points = &points
			}
			if flags.Changed("status") {
				st := domain.TaskStatus(strings.ToUpper(status))
				opts.Status = &st
			}
			if flags.Changed("team") {
				opts.TeamName = &team
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				opts.ActorAlias = a
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&coordType, "type", "", "coordination type")
	cmd.Flags().IntVar(&points, "points", 0, "points")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&team, "team", "", "team name (empty clears)")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a task under a new parent, carrying its points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				res, err := e.MoveTask(ctx, args[0], parent, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("moved %s under %s (source parent now %d points, target parent %d)\n",
					res.Task.Title, parent, res.Transfer.SourceParentPointsAfter, res.Transfer.TargetParentPointsAfter)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent task id")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				n, err := e.DeleteTask(ctx, args[0], a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int64{"deleted": n})
				}
				fmt.Printf("deleted %d task(s)\n", n)
				return nil
			})
		},
	}
}

func taskReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim <id>",
		Short: "Clear a task's own coordinators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				t, err := e.ReclaimTask(ctx, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Step down as coordinator of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, a string) error {
				t, err := e.ReleaseTask(ctx, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

// printTaskTree draws a depth-first listing with box connectors.
func printTaskTree(entries []engine.TreeEntry) {
	// more[d] is set while the last node printed at depth d has siblings left.
	more := map[int]bool{}
	for i, entry := range entries {
		label := fmt.Sprintf("%s [%s, %d pts", entry.Title, entry.Status, entry.Points)
		if entry.PrimaryCoordinator != "" {
			label += ", " + entry.PrimaryCoordinator
		}
		label += "]"
		if entry.Depth == 0 {
			fmt.Println(label)
			continue
		}
		var prefix strings.Builder
		for d := 1; d < entry.Depth; d++ {
			if more[d] {
				prefix.WriteString("│   ")
			} else {
				prefix.WriteString("    ")
			}
		}
		last := isLastSibling(entries, i)
		connector := "├── "
		if last {
			connector = "└── "
		}
		more[entry.Depth] = !last
		fmt.Printf("%s%s%s\n", prefix.String(), connector, label)
	}
}

func isLastSibling(entries []engine.TreeEntry, i int) bool {
	depth := entries[i].Depth
	for _, next := range entries[i+1:] {
		if next.Depth < depth {
			return true
		}
		if next.Depth == depth {
			return false
		}
	}
	return true
}
