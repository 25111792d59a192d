package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	client "multiraft/clients/go"
)

var (
	serverAddr string
	timeout    int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "raftctl",
		Short: "raftctl - multi-group raft admin CLI",
		Long:  `raftctl manages group placement and membership of a raftd cluster`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:9000", "Server address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")

	rootCmd.AddCommand(groupsCmd())
	rootCmd.AddCommand(clusterCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the server and returns a context bounded by --timeout.
func connect() (*client.Client, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	c, err := client.New(ctx, serverAddr, nil)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return c, ctx, func() {
		_ = c.Close()
		cancel()
	}, nil
}
