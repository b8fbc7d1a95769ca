package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"options_ledger/internal/api"
	"options_ledger/internal/auth"
	"options_ledger/pkg/cli"
	apihttp "options_ledger/pkg/http"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	server  string
	account string
	apiKey  string
	timeout time.Duration
}

// ledgerClient binds the resilient HTTP client to the caller identity
type ledgerClient struct {
	http    *apihttp.Client
	account string
	out     io.Writer
}

func (c *ledgerClient) get(ctx context.Context, path string) error {
	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return describe(err)
	}
	return c.print(body)
}

func (c *ledgerClient) post(ctx context.Context, path string, payload interface{}) error {
	body, err := c.http.Post(ctx, path, payload)
	if err != nil {
		return describe(err)
	}
	return c.print(body)
}

func (c *ledgerClient) print(body []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		_, err = c.out.Write(append(body, '\n'))
		return err
	}
	pretty.WriteByte('\n')
	_, err := c.out.Write(pretty.Bytes())
	return err
}

// describe turns an API error body into a readable message
func describe(err error) error {
	var apiErr *apihttp.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	var resp api.ErrorResponse
	if json.Unmarshal(apiErr.Body, &resp) == nil && resp.Error != "" {
		return fmt.Errorf("%s (HTTP %d): %s", resp.Error, apiErr.StatusCode, resp.Message)
	}
	return err
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}
	client := &ledgerClient{out: out}

	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operate an options ledger server",
		Long:         `ledgerctl writes, buys, exercises and settles options through a ledger_server HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.account != "" {
				if err := cli.ValidateAccount(flags.account); err != nil {
					return err
				}
			}
			client.account = flags.account
			client.http = apihttp.NewClient(flags.server, flags.timeout, apihttp.HeaderSigner{
				api.HeaderAccount: flags.account,
				auth.HeaderAPIKey: flags.apiKey,
			})
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&flags.server, "server", "http://localhost:8080", "Base URL of the ledger server")
	root.PersistentFlags().StringVarP(&flags.account, "account", "a", "", "Account to act as (sent as X-Account)")
	root.PersistentFlags().StringVar(&flags.apiKey, "api-key", "", "API key for admin routes")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "Request timeout")

	root.AddCommand(
		newWriteCmd("write-call", "/v1/calls", client),
		newWriteCmd("write-put", "/v1/puts", client),
		newTransitionCmd("buy-call", "Buy an open call", "/v1/calls/%d/buy", client),
		newTransitionCmd("buy-put", "Buy an open put", "/v1/puts/%d/buy", client),
		newTransitionCmd("exercise-call", "Exercise a bought call", "/v1/calls/%d/exercise", client),
		newTransitionCmd("exercise-put", "Exercise a bought put", "/v1/puts/%d/exercise", client),
		newTransitionCmd("expire-worthless", "Declare a bought option worthless", "/v1/options/%d/expire-worthless", client),
		newTransitionCmd("reclaim", "Reclaim collateral of a cancelled option", "/v1/options/%d/reclaim", client),
		newGetCmd(client),
		newAccountReadCmd("positions", "List option ids written or bought by an account", "/v1/positions/", client),
		newAccountReadCmd("balances", "Show native and settlement balances of an account", "/v1/balances/", client),
		newPriceCmd(client),
		newApproveCmd(client),
		newWithdrawCmd("withdraw-native", "/v1/admin/withdraw-native", client),
		newWithdrawCmd("withdraw-settlement", "/v1/admin/withdraw-settlement", client),
		newGRPCHealthCmd(out),
		newWatchCmd(flags, out),
	)
	return root
}

func requireAccount(c *ledgerClient) error {
	if c.account == "" {
		return errors.New("--account is required")
	}
	return nil
}
