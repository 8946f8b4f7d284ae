package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
	"solana-token-sale/internal/tokensale"
)

// InspectResult is a sale read from a cluster over JSON-RPC.
type InspectResult struct {
	*tokensale.SaleView
	Buyer       *solana.Address `json:"buyer,omitempty"`
	Whitelisted *bool           `json:"whitelisted,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		pf      programFlag
		rpcURL  string
		buyer   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "inspect <seller>",
		Short: "Read a sale from a cluster",
		Long: `Fetch the sale record of a seller and its escrow over JSON-RPC and print
the sale terms, remaining tokens and status. With --buyer, also report whether
the buyer is whitelisted.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := pf.program()
			if err != nil {
				return err
			}
			seller, err := solana.ParseAddress(args[0])
			if err != nil {
				return fmt.Errorf("invalid seller: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := solana.NewHTTPClient(rpcURL)
			res, err := inspect(ctx, tokensale.NewReader(rpcAccounts{client: client}, program), seller, buyer)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, res, res.writeText)
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&rpcURL, "rpc", "http://127.0.0.1:8899", "JSON-RPC endpoint")
	cmd.Flags().StringVar(&buyer, "buyer", "", "also check the whitelist entry of this buyer")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func inspect(ctx context.Context, reader *tokensale.Reader, seller solana.Address, buyer string) (*InspectResult, error) {
	view, err := reader.Sale(ctx, seller)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no sale found for seller %s", seller)
	}
	if err != nil {
		return nil, err
	}
	res := &InspectResult{SaleView: view}

	if buyer != "" {
		addr, err := solana.ParseAddress(buyer)
		if err != nil {
			return nil, fmt.Errorf("invalid buyer: %w", err)
		}
		ok, err := reader.IsWhitelisted(ctx, seller, addr)
		if err != nil {
			return nil, err
		}
		res.Buyer, res.Whitelisted = &addr, &ok
	}
	return res, nil
}

func (r *InspectResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"sale:           %s\nseller:         %s\nescrow:         %s\nmint:           %s\nunit price:     %d lamports\npurchase limit: %d\nremaining:      %d\nstatus:         %s\n",
		r.Address, r.Seller, r.Escrow, r.Mint, r.UnitPrice, r.PurchaseLimit, r.Remaining, r.Status)
	if err != nil {
		return err
	}
	if r.Whitelisted != nil {
		_, err = fmt.Fprintf(w, "whitelisted:    %t (%s)\n", *r.Whitelisted, *r.Buyer)
	}
	return err
}

// rpcAccounts reads accounts from a cluster for tokensale.Reader.
type rpcAccounts struct {
	client solana.RPCClient
}

func (a rpcAccounts) Get(ctx context.Context, address solana.Address) (*domain.Account, error) {
	info, err := a.client.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, errors.Wrapf(err, "get account %s", address)
	}
	if info == nil {
		return nil, storage.ErrNotFound
	}
	return &domain.Account{
		Address:    address,
		Lamports:   info.Lamports,
		Owner:      info.Owner,
		Executable: info.Executable,
		Data:       info.Data,
	}, nil
}

func (rpcAccounts) ListByOwner(context.Context, solana.Address) ([]*domain.Account, error) {
	return nil, errors.New("listing program accounts is not supported over JSON-RPC")
}
