package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/tokensale"
)

// DeriveResult holds the program derived addresses of a sale.
type DeriveResult struct {
	Program       solana.Address  `json:"program"`
	Seller        solana.Address  `json:"seller"`
	Sale          solana.Address  `json:"sale"`
	SaleBump      uint8           `json:"sale_bump"`
	Authority     solana.Address  `json:"authority"`
	AuthorityBump uint8           `json:"authority_bump"`
	Buyer         *solana.Address `json:"buyer,omitempty"`
	Whitelist     *solana.Address `json:"whitelist,omitempty"`
	WhitelistBump uint8           `json:"whitelist_bump,omitempty"`
}

type programFlag struct {
	id string
}

func (f *programFlag) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "program", tokensale.DefaultProgramID.String(), "token sale program id")
}

func (f *programFlag) program() (*tokensale.Program, error) {
	id, err := solana.ParseAddress(f.id)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	return tokensale.New(id), nil
}

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	var pf programFlag
	cmd := &cobra.Command{
		Use:   "derive <seller> [buyer]",
		Short: "Print the derived addresses of a sale",
		Long: `Derive the sale record and escrow authority addresses of a seller, and the
whitelist entry address when a buyer is given.`,
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := pf.program()
			if err != nil {
				return err
			}
			res, err := derive(program, args)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, res, res.writeText)
		},
	}
	pf.register(cmd)
	return cmd
}

func derive(program *tokensale.Program, args []string) (*DeriveResult, error) {
	seller, err := solana.ParseAddress(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid seller: %w", err)
	}
	res := &DeriveResult{Program: program.ID(), Seller: seller}

	res.Sale, res.SaleBump, err = program.SaleAddress(seller)
	if err != nil {
		return nil, err
	}
	res.Authority, res.AuthorityBump, err = program.AuthorityAddress(res.Sale)
	if err != nil {
		return nil, err
	}

	if len(args) == 2 {
		buyer, err := solana.ParseAddress(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid buyer: %w", err)
		}
		entry, bump, err := program.WhitelistAddress(res.Sale, buyer)
		if err != nil {
			return nil, err
		}
		res.Buyer, res.Whitelist, res.WhitelistBump = &buyer, &entry, bump
	}
	return res, nil
}

func (r *DeriveResult) writeText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "sale:      %s (bump %d)\nauthority: %s (bump %d)\n",
		r.Sale, r.SaleBump, r.Authority, r.AuthorityBump); err != nil {
		return err
	}
	if r.Whitelist != nil {
		_, err := fmt.Fprintf(w, "whitelist: %s (bump %d)\n", *r.Whitelist, r.WhitelistBump)
		return err
	}
	return nil
}
