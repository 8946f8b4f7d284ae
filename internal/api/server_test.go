package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/ledger/ledgertest"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/tokensale"
)

const sol = 1_000_000_000

type apiFixture struct {
	t       *testing.T
	env     *ledgertest.Env
	program *tokensale.Program
	hub     *Hub
	server  *httptest.Server
	seller  *solana.Keypair
	mint    solana.Address
	escrow  solana.Address
}

func newAPIFixture(t *testing.T) *apiFixture {
	program := tokensale.New(tokensale.DefaultProgramID)
	hub := NewHub(zaptest.NewLogger(t))
	env := ledgertest.New(t, ledger.WithPrograms(program), ledger.WithEventSinks(hub))

	srv := NewServer(Config{
		Runtime: env.Runtime,
		Program: program,
		Events:  env.Events,
		Hub:     hub,
		Logger:  zaptest.NewLogger(t),
		Metrics: true,
	})
	server := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	f := &apiFixture{t: t, env: env, program: program, hub: hub, server: server}
	f.seller = env.Funded(10 * sol)
	f.mint = env.CreateMint(f.seller, 0)
	f.escrow = env.CreateTokenAccount(f.seller, f.mint, f.seller.Address())
	env.MintTo(f.mint, f.escrow, f.seller, 1000)
	return f
}

// submit posts instructions signed by signers as a JSON SubmitRequest.
func (f *apiFixture) submit(instructions []ledger.Instruction, signers ...*solana.Keypair) (int, ReceiptResponse) {
	f.t.Helper()
	raw, err := f.env.Tx(instructions, signers...).MarshalBinary()
	require.NoError(f.t, err)
	body, err := json.Marshal(SubmitRequest{Transaction: raw})
	require.NoError(f.t, err)

	resp, err := http.Post(f.server.URL+"/v1/transactions", "application/json", bytes.NewReader(body))
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var out ReceiptResponse
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *apiFixture) get(path string, out interface{}) int {
	f.t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_HealthAndStatus(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.Equal(t, http.StatusOK, f.get("/status", &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, tokensale.DefaultProgramID, status.ProgramID)
	assert.Equal(t, f.env.Runtime.Slot(), status.Slot)

	resp, err = http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_SaleFlow(t *testing.T) {
	f := newAPIFixture(t)
	seller := f.seller.Address()

	initIx, err := f.program.NewInitializeInstruction(seller, f.escrow, 5, 100)
	require.NoError(t, err)
	code, receipt := f.submit([]ledger.Instruction{initIx}, f.seller)
	require.Equal(t, http.StatusOK, code, "%+v", receipt.Error)
	assert.True(t, receipt.Committed)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, domain.SaleEventInitialized, receipt.Events[0].Kind)

	buyer := f.env.Funded(sol)
	buyerToken := f.env.CreateTokenAccount(buyer, f.mint, buyer.Address())

	var listed WhitelistResponse
	require.Equal(t, http.StatusOK, f.get("/v1/sales/"+seller.String()+"/whitelist/"+buyer.Address().String(), &listed))
	assert.False(t, listed.Whitelisted)

	wl, err := f.program.NewWhitelistInstruction(seller, buyer.Address())
	require.NoError(t, err)
	code, _ = f.submit([]ledger.Instruction{wl}, f.seller)
	require.Equal(t, http.StatusOK, code)

	require.Equal(t, http.StatusOK, f.get("/v1/sales/"+seller.String()+"/whitelist/"+buyer.Address().String(), &listed))
	assert.True(t, listed.Whitelisted)

	buy, err := f.program.NewBuyTokenInstruction(buyer.Address(), seller, f.escrow, buyerToken, 150)
	require.NoError(t, err)
	code, receipt = f.submit([]ledger.Instruction{buy}, buyer)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, receipt.Committed)
	require.NotNil(t, receipt.Error)
	assert.Equal(t, tokensale.ClassPolicy, receipt.Error.Class)
	assert.Equal(t, tokensale.ProgramName, receipt.Error.Program)
	require.NotNil(t, receipt.Error.Code)
	assert.Equal(t, uint32(6001), *receipt.Error.Code)
	require.NotNil(t, receipt.Error.Instruction)
	assert.Equal(t, 0, *receipt.Error.Instruction)

	buy, err = f.program.NewBuyTokenInstruction(buyer.Address(), seller, f.escrow, buyerToken, 50)
	require.NoError(t, err)
	code, _ = f.submit([]ledger.Instruction{buy}, buyer)
	require.Equal(t, http.StatusOK, code)

	var view tokensale.SaleView
	require.Equal(t, http.StatusOK, f.get("/v1/sales/"+seller.String(), &view))
	assert.Equal(t, tokensale.SaleActive, view.Status)
	assert.Equal(t, uint64(950), view.Remaining)

	var sales []tokensale.SaleView
	require.Equal(t, http.StatusOK, f.get("/v1/sales", &sales))
	assert.Len(t, sales, 1)

	var events []domain.SaleEvent
	require.Equal(t, http.StatusOK, f.get("/v1/sales/"+seller.String()+"/events", &events))
	require.Len(t, events, 3)
	assert.Equal(t, domain.SaleEventTokensPurchased, events[2].Kind)
	assert.Equal(t, uint64(250), events[2].Lamports)

	var ranged []domain.SaleEvent
	require.Equal(t, http.StatusOK, f.get("/v1/events?from=0", &ranged))
	assert.Len(t, ranged, 3)

	var acc domain.Account
	require.Equal(t, http.StatusOK, f.get("/v1/accounts/"+view.Address.String(), &acc))
	assert.Equal(t, f.program.ID(), acc.Owner)
	assert.Len(t, acc.Data, tokensale.TokenSaleSize)
}

func TestServer_SubmitRejections(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.server.URL+"/v1/transactions", "application/json", strings.NewReader(`{"transaction":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	other := f.env.Funded(sol)
	tx := f.env.Tx([]ledger.Instruction{ledger.NewTransferInstruction(f.seller.Address(), other.Address(), 1)}, f.seller)
	tx.Signatures[0] = other.Sign([]byte("not the message"))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	resp, err = http.Post(f.server.URL+"/v1/transactions", "application/octet-stream", bytes.NewReader(raw))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	transfer := []ledger.Instruction{ledger.NewTransferInstruction(f.seller.Address(), other.Address(), 1)}
	tx = f.env.Tx(transfer, f.seller)
	raw, err = tx.MarshalBinary()
	require.NoError(t, err)
	for _, want := range []int{http.StatusOK, http.StatusConflict} {
		resp, err = http.Post(f.server.URL+"/v1/transactions", "application/octet-stream", bytes.NewReader(raw))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode)
	}
}

func TestServer_LookupErrors(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.get("/v1/accounts/not-an-address", nil))
	assert.Equal(t, http.StatusNotFound, f.get("/v1/accounts/"+f.env.Keypair().Address().String(), nil))
	assert.Equal(t, http.StatusNotFound, f.get("/v1/sales/"+f.seller.Address().String(), nil))
	assert.Equal(t, http.StatusBadRequest, f.get("/v1/events?from=abc", nil))
	assert.Equal(t, http.StatusBadRequest, f.get("/v1/events?from=10&to=5", nil))
}

func TestServer_Airdrop(t *testing.T) {
	f := newAPIFixture(t)
	to := f.env.Keypair().Address()

	post := func(lamports uint64) int {
		body, err := json.Marshal(AirdropRequest{Address: to, Lamports: lamports})
		require.NoError(t, err)
		resp, err := http.Post(f.server.URL+"/v1/airdrop", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post(sol))
	assert.Equal(t, uint64(sol), f.env.Balance(to))
	assert.Equal(t, http.StatusBadRequest, post(ledgertest.FaucetLimit+1))
	assert.Equal(t, http.StatusBadRequest, post(0))
}

func TestHub_StreamsCommittedEvents(t *testing.T) {
	f := newAPIFixture(t)
	seller := f.seller.Address()
	sale, _, err := f.program.SaleAddress(seller)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws?sale=" + sale.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	initIx, err := f.program.NewInitializeInstruction(seller, f.escrow, 5, 100)
	require.NoError(t, err)
	f.env.MustSend([]ledger.Instruction{initIx}, f.seller)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.SaleEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.SaleEventInitialized, ev.Kind)
	assert.Equal(t, sale, ev.Sale)
	assert.Equal(t, uint64(1000), ev.Tokens)
	assert.NotEmpty(t, ev.ID)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_InvalidFilter(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.get("/v1/ws?sale=bogus", nil))
}
