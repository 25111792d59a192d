package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"multiraft/pkg/rpc"
)

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster operations",
		Long:  "Perform cluster management operations",
	}

	cmd.AddCommand(clusterJoinCmd())
	cmd.AddCommand(clusterStatusCmd())

	return cmd
}

func clusterJoinCmd() *cobra.Command {
	var raftAddr, rpcAddr string

	cmd := &cobra.Command{
		Use:   "join <node-id>",
		Short: "Add a node to the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}

			c, ctx, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			if err := c.Join(ctx, rpc.NodeInfo{ID: id, RaftAddr: raftAddr, RPCAddr: rpcAddr}); err != nil {
				return err
			}
			fmt.Printf("Node %s joined\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&raftAddr, "raft-addr", "", "Controller raft address of the node")
	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", "", "gRPC address of the node")
	_ = cmd.MarkFlagRequired("raft-addr")
	return cmd
}

func clusterStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get cluster status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Node: %s\n", st.NodeID)
			fmt.Printf("Controller Leader: %s\n", st.ControllerLeader)
			fmt.Printf("Is Controller: %t\n", st.IsController)
			if st.LastDispatch > 0 {
				fmt.Printf("Last Heartbeat Round: %s\n", time.UnixMilli(st.LastDispatch).Format(time.RFC3339Nano))
			}
			fmt.Println("Nodes:")
			for _, n := range st.Nodes {
				fmt.Printf("  %s) raft=%s rpc=%s\n", n.ID, n.RaftAddr, n.RPCAddr)
			}
			fmt.Println("Groups:")
			for _, g := range st.Groups {
				role := "follower"
				if g.Leader {
					role = "leader"
				}
				fmt.Printf("  %s) %s term=%d commit=%d\n", g.ID, role, g.Term, g.CommitIndex)
			}
			return nil
		},
	}
}
