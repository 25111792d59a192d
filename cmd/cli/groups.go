package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"multiraft/pkg/raft"
)

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Group placement operations",
	}

	cmd.AddCommand(groupsCreateCmd())
	cmd.AddCommand(groupsDeleteCmd())
	cmd.AddCommand(groupsMoveCmd())
	cmd.AddCommand(groupsListCmd())

	return cmd
}

func parseGroupID(s string) (raft.GroupID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid group id %q", s)
	}
	return raft.GroupID(id), nil
}

func parseNodeID(s string) (raft.NodeID, error) {
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return raft.NodeID(id), nil
}

func groupsCreateCmd() *cobra.Command {
	var replicas []string
	var leader int32

	cmd := &cobra.Command{
		Use:   "create <group-id>",
		Short: "Create a group",
		Long:  "Create a group on the given replicas, or let the controller place it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			nodes := make([]raft.NodeID, 0, len(replicas))
			for _, r := range replicas {
				n, err := parseNodeID(r)
				if err != nil {
					return err
				}
				nodes = append(nodes, n)
			}

			c, ctx, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			rev, err := c.CreateGroup(ctx, id, nodes, raft.NodeID(leader))
			if err != nil {
				return err
			}
			fmt.Printf("Created group %s at revision %d\n", id, rev)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&replicas, "replicas", nil, "Replica node ids (comma separated)")
	cmd.Flags().Int32Var(&leader, "leader", 0, "Initial leader (defaults to the first replica)")
	return cmd
}

func groupsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}

			c, ctx, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			if err := c.DeleteGroup(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Deleted group %s\n", id)
			return nil
		},
	}
}

func groupsMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <group-id> <node-id>",
		Short: "Move group leadership to another replica",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			leader, err := parseNodeID(args[1])
			if err != nil {
				return err
			}

			c, ctx, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			if err := c.MoveLeader(ctx, id, leader); err != nil {
				return err
			}
			fmt.Printf("Group %s now led by node %s\n", id, leader)
			return nil
		},
	}
}

func groupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			groups, err := c.ListGroups(ctx)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No groups")
				return nil
			}
			for _, g := range groups {
				replicas := make([]string, 0, len(g.Replicas))
				for _, r := range g.Replicas {
					replicas = append(replicas, r.String())
				}
				fmt.Printf("%s) leader=%s replicas=[%s] revision=%d\n",
					g.ID, g.Leader, strings.Join(replicas, ","), g.Revision)
			}
			return nil
		},
	}
}
