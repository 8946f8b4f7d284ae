package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/tokensale"
)

func TestDerive_JSON(t *testing.T) {
	seller := solana.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	buyer := solana.MustParseAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")

	out, err := execute(t, nil, "--format", "json", "derive", seller.String(), buyer.String())
	require.NoError(t, err)

	var res DeriveResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	program := tokensale.New(tokensale.DefaultProgramID)
	sale, saleBump, err := program.SaleAddress(seller)
	require.NoError(t, err)
	authority, _, err := program.AuthorityAddress(sale)
	require.NoError(t, err)
	entry, _, err := program.WhitelistAddress(sale, buyer)
	require.NoError(t, err)

	assert.Equal(t, tokensale.DefaultProgramID, res.Program)
	assert.Equal(t, sale, res.Sale)
	assert.Equal(t, saleBump, res.SaleBump)
	assert.Equal(t, authority, res.Authority)
	require.NotNil(t, res.Whitelist)
	assert.Equal(t, entry, *res.Whitelist)
	assert.Equal(t, buyer, *res.Buyer)
}

func TestDerive_Text(t *testing.T) {
	seller := solana.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	out, err := execute(t, nil, "derive", seller.String())
	require.NoError(t, err)

	sale, _, err := tokensale.New(tokensale.DefaultProgramID).SaleAddress(seller)
	require.NoError(t, err)
	assert.Contains(t, out, "sale:      "+sale.String())
	assert.Contains(t, out, "authority: ")
	assert.NotContains(t, out, "whitelist:")
}

func TestDerive_CustomProgram(t *testing.T) {
	seller := solana.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	other := solana.TokenProgramID

	out, err := execute(t, nil, "--format", "json", "derive", "--program", other.String(), seller.String())
	require.NoError(t, err)
	var res DeriveResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	want, _, err := tokensale.New(other).SaleAddress(seller)
	require.NoError(t, err)
	assert.Equal(t, want, res.Sale)
}

func TestDerive_InvalidInput(t *testing.T) {
	_, err := execute(t, nil, "derive", "not-base58!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid seller")

	_, err = execute(t, nil, "derive", "--program", "bogus", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid program id")

	_, err = execute(t, nil, "derive")
	require.Error(t, err)
}
