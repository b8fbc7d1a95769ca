package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"options_ledger/internal/api"
	"options_ledger/internal/events"
	grpcclient "options_ledger/internal/infrastructure/grpc/client"
	"options_ledger/pkg/cli"
	"options_ledger/pkg/logging"
	"options_ledger/pkg/websocket"

	"github.com/spf13/cobra"
)

func newWriteCmd(use, path string, c *ledgerClient) *cobra.Command {
	var amount, strike, premium, collateral string
	var days int

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Write a new option (POST %s)", path),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAccount(c); err != nil {
				return err
			}
			body := api.WriteBody{DaysToExpiry: days}
			var err error
			if body.Amount, err = cli.ParseAmount(amount, false); err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			if body.Strike, err = cli.ParseAmount(strike, false); err != nil {
				return fmt.Errorf("--strike: %w", err)
			}
			if body.PremiumDue, err = cli.ParseAmount(premium, false); err != nil {
				return fmt.Errorf("--premium: %w", err)
			}
			body.Collateral = body.Strike
			if collateral != "" {
				if body.Collateral, err = cli.ParseAmount(collateral, false); err != nil {
					return fmt.Errorf("--collateral: %w", err)
				}
			}
			return c.post(cmd.Context(), path, body)
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Underlying amount")
	cmd.Flags().StringVar(&strike, "strike", "", "Strike in settlement units")
	cmd.Flags().StringVar(&premium, "premium", "", "Premium due from the buyer")
	cmd.Flags().IntVar(&days, "days", 0, "Days until expiration")
	cmd.Flags().StringVar(&collateral, "collateral", "", "Native collateral to deposit (defaults to the strike)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("strike")
	_ = cmd.MarkFlagRequired("premium")
	return cmd
}

func newTransitionCmd(use, short, pathFmt string, c *ledgerClient) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAccount(c); err != nil {
				return err
			}
			id, err := cli.ParseID(args[0])
			if err != nil {
				return err
			}
			return c.post(cmd.Context(), fmt.Sprintf(pathFmt, id), nil)
		},
	}
}

func newGetCmd(c *ledgerClient) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show an option record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0])
			if err != nil {
				return err
			}
			return c.get(cmd.Context(), fmt.Sprintf("/v1/options/%d", id))
		},
	}
}

// newAccountReadCmd reads a per-account resource; the account defaults to --account
func newAccountReadCmd(use, short, prefix string, c *ledgerClient) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [ACCOUNT]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := c.account
			if len(args) == 1 {
				account = args[0]
			}
			if err := cli.ValidateAccount(account); err != nil {
				return err
			}
			return c.get(cmd.Context(), prefix+account)
		},
	}
}

func newPriceCmd(c *ledgerClient) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Show the latest oracle round and normalized price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.get(cmd.Context(), "/v1/price")
		},
	}
}

func newApproveCmd(c *ledgerClient) *cobra.Command {
	var spender, amount string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Allow a spender to pull settlement funds from --account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAccount(c); err != nil {
				return err
			}
			if err := cli.ValidateAccount(spender); err != nil {
				return fmt.Errorf("--spender: %w", err)
			}
			value, err := cli.ParseAmount(amount, true)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			return c.post(cmd.Context(), "/v1/approvals", api.ApproveBody{Spender: spender, Amount: value})
		},
	}
	cmd.Flags().StringVar(&spender, "spender", "escrow", "Spender account, normally the settlement escrow")
	cmd.Flags().StringVar(&amount, "amount", "", "Allowance to set")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newWithdrawCmd(use, path string, c *ledgerClient) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Sweep excess balance to an account (POST %s)", path),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAccount(c); err != nil {
				return err
			}
			if err := cli.ValidateAccount(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return c.post(cmd.Context(), path, api.WithdrawBody{To: to})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Destination account")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newGRPCHealthCmd(out io.Writer) *cobra.Command {
	var target, service string
	cmd := &cobra.Command{
		Use:   "grpc-health",
		Short: "Query the gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey, _ := cmd.Flags().GetString("api-key")
			hc, err := grpcclient.NewHealthClient(target, apiKey, logging.NewNop())
			if err != nil {
				return err
			}
			defer hc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			status, err := hc.Check(ctx, service)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s: %s\n", displayService(service), status)
			return err
		},
	}
	cmd.Flags().StringVar(&target, "target", "localhost:9090", "gRPC host:port")
	cmd.Flags().StringVar(&service, "service", "", "Service or component name; empty is the aggregate")
	return cmd
}

// streamURL maps the API base URL onto the websocket endpoint
func streamURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	}
	return server + "/ws"
}

func newWatchCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var types []string
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lifecycle events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			wanted := make(map[string]bool, len(types))
			for _, t := range types {
				wanted[t] = true
			}

			var mu sync.Mutex
			seen := 0
			handler := func(raw []byte) {
				var msg events.Message
				if err := json.Unmarshal(raw, &msg); err != nil {
					return
				}
				if len(wanted) > 0 && !wanted[msg.Type] {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if count > 0 && seen >= count {
					return
				}
				seen++
				fmt.Fprintln(out, string(raw))
				if count > 0 && seen >= count {
					cancel()
				}
			}

			cfg := websocket.DefaultConfig(streamURL(flags.server))
			cfg.Header = http.Header{}
			if flags.account != "" {
				cfg.Header.Set(api.HeaderAccount, flags.account)
			}
			return websocket.NewClient(cfg, handler, logging.NewNop()).Run(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only print these event types, e.g. option.exercised")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events; 0 streams until interrupted")
	return cmd
}

func displayService(s string) string {
	if s == "" {
		return "overall"
	}
	return s
}
