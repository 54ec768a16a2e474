package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MarkoPoloResearchLab/intake/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	flagServerAddr     = "server-addr"
	flagDialTimeout    = "dial-timeout"
	defaultServerAddr  = "localhost:7000"
	defaultDialTimeout = 5 * time.Second
)

func newReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <profile.json>",
		Short: "Reconcile a user-info document against a running intake gRPC server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverAddr, err := cmd.Flags().GetString(flagServerAddr)
			if err != nil {
				return err
			}
			dialTimeout, err := cmd.Flags().GetDuration(flagDialTimeout)
			if err != nil {
				return err
			}
			document, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read profile: %w", err)
			}
			request, err := reconcileRequest(document)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
			defer cancel()
			client, conn, err := grpcserver.DialProfileService(ctx, serverAddr)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			response, err := client.Reconcile(ctx, request)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			rendered, err := protojson.MarshalOptions{Multiline: true}.Marshal(response)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(rendered))
			return err
		},
	}
	cmd.Flags().String(flagServerAddr, defaultServerAddr, "intake gRPC server address")
	cmd.Flags().Duration(flagDialTimeout, defaultDialTimeout, "connect and call timeout")
	return cmd
}

func reconcileRequest(document []byte) (*structpb.Struct, error) {
	raw, err := intake.ParseProfileJSON(document)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"profile": map[string]any(raw)})
}
