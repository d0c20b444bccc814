// Command eliza-client is a small demo CLI built on top of the eliza
// package, showing unary, server-streaming and half-duplex bidirectional
// calls against a live Connect-protocol server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentio/connectcore/internal/eliza"
)

func main() {
	var (
		baseURL string
		timeout time.Duration
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := &cobra.Command{
		Use:   "eliza-client",
		Short: "Talk to a Connect-protocol Eliza server",
	}
	root.PersistentFlags().StringVar(&baseURL, "url", "https://demo.connectrpc.com", "base URL of the Eliza server")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-call timeout")

	newClient := func() *eliza.ElizaServiceClient {
		return eliza.NewElizaServiceClient(http.DefaultClient, baseURL)
	}

	sayCmd := &cobra.Command{
		Use:   "say <sentence>",
		Short: "Send one sentence and print Eliza's reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := newClient().Say(ctx, &eliza.SayRequest{Sentence: args[0]})
			if err != nil {
				return fmt.Errorf("say: %w", err)
			}
			fmt.Println(resp.Sentence)
			return nil
		},
	}

	introduceCmd := &cobra.Command{
		Use:   "introduce <name>",
		Short: "Stream Eliza's introduction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			stream := newClient().Introduce(ctx, &eliza.IntroduceRequest{Name: args[0]})
			defer stream.Close()
			for stream.Receive() {
				fmt.Println(stream.Msg().Sentence)
			}
			if err := stream.Err(); err != nil {
				return fmt.Errorf("introduce: %w", err)
			}
			return nil
		},
	}

	converseCmd := &cobra.Command{
		Use:   "converse <sentence>...",
		Short: "Send several sentences, then print every reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			stream := newClient().Converse(ctx)
			for _, sentence := range args {
				if err := stream.Send(&eliza.ConverseRequest{Sentence: sentence}); err != nil {
					return fmt.Errorf("send: %w", err)
				}
			}
			if err := stream.CloseRequest(); err != nil {
				return fmt.Errorf("close request: %w", err)
			}
			defer stream.CloseResponse()
			for {
				resp, err := stream.Receive()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("converse: %w", err)
				}
				fmt.Println(resp.Sentence)
			}
			return nil
		},
	}

	root.AddCommand(sayCmd, introduceCmd, converseCmd)

	if err := root.Execute(); err != nil {
		logger.Error("eliza-client failed", "error", err)
		os.Exit(1)
	}
}
