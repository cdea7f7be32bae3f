package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"escrow-backend/core/escrow"
	"escrow-backend/core/identity"
	store "escrow-backend/storage/escrow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func newTestServer(t *testing.T) (*MCPServer, *identity.Keypair, *escrow.Program) {
	t.Helper()
	wallet, err := identity.Generate()
	require.NoError(t, err)
	feeOwner, err := identity.Generate()
	require.NoError(t, err)
	program, err := escrow.NewProgram(store.NewMemoryStore(nil), escrow.Config{
		FeeOwner:      feeOwner.Pubkey(),
		MintAuthority: wallet.Pubkey(),
	})
	require.NoError(t, err)
	return NewMCPServer(program, wallet, "test"), wallet, program
}

var nextID = 0

func callTool(t *testing.T, s *MCPServer, name string, args map[string]any) toolResult {
	t.Helper()
	nextID++
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      nextID,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	resp := s.GetMCPServer().HandleMessage(context.Background(), req)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var envelope struct {
		Result *toolResult     `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.NotNil(t, envelope.Result, "tool call failed at protocol level: %s", raw)
	require.NotEmpty(t, envelope.Result.Content)
	return *envelope.Result
}

func decodeText(t *testing.T, r toolResult, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(r.Content[0].Text), v), r.Content[0].Text)
}

func TestToolLifecycle(t *testing.T) {
	s, wallet, program := newTestServer(t)
	_, err := program.MintTo(context.Background(), wallet.Signer(), wallet.Pubkey(), 2000)
	require.NoError(t, err)
	id := strings.Repeat("0a", 32)

	res := callTool(t, s, "create_task", map[string]any{
		"task_id":       id,
		"bounty_amount": "1000",
		"task_hash":     strings.Repeat("11", 32),
	})
	require.False(t, res.IsError, res.Content[0].Text)
	var rec escrow.EscrowRecord
	decodeText(t, res, &rec)
	assert.Equal(t, escrow.StatusOpen, rec.Status)

	res = callTool(t, s, "list_tasks", map[string]any{"status": "open"})
	require.False(t, res.IsError)
	var list struct {
		Count int `json:"count"`
	}
	decodeText(t, res, &list)
	assert.Equal(t, 1, list.Count)

	res = callTool(t, s, "claim_task", map[string]any{"task_id": id})
	require.False(t, res.IsError, res.Content[0].Text)
	res = callTool(t, s, "submit_work", map[string]any{"task_id": id, "work_hash": strings.Repeat("22", 32)})
	require.False(t, res.IsError, res.Content[0].Text)

	res = callTool(t, s, "approve_task", map[string]any{"task_id": id})
	require.False(t, res.IsError, res.Content[0].Text)
	var settlement escrow.Settlement
	decodeText(t, res, &settlement)
	assert.Equal(t, uint64(970), settlement.AgentPayment)
	assert.Equal(t, uint64(30), settlement.PlatformFee)

	res = callTool(t, s, "get_account", nil)
	require.False(t, res.IsError)
	var acct escrow.TokenAccount
	decodeText(t, res, &acct)
	assert.Equal(t, uint64(1970), acct.Amount)

	res = callTool(t, s, "list_events", map[string]any{"task_id": id})
	var events struct {
		Count int `json:"count"`
	}
	decodeText(t, res, &events)
	assert.Equal(t, 4, events.Count)
}

func TestToolErrorsCarryCodes(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := strings.Repeat("0b", 32)

	res := callTool(t, s, "get_task", map[string]any{"task_id": id})
	require.True(t, res.IsError)
	var toolErr ToolError
	decodeText(t, res, &toolErr)
	assert.Equal(t, "TaskNotFound", toolErr.Code)
	assert.Equal(t, "get_task", toolErr.Tool)
	assert.NotEmpty(t, toolErr.Hint)

	res = callTool(t, s, "create_task", map[string]any{
		"task_id":       id,
		"bounty_amount": "5",
		"task_hash":     strings.Repeat("11", 32),
	})
	require.True(t, res.IsError)
	decodeText(t, res, &toolErr)
	assert.Equal(t, "AccountNotFound", toolErr.Code)

	res = callTool(t, s, "create_task", map[string]any{
		"task_id":       id,
		"bounty_amount": "-5",
		"task_hash":     strings.Repeat("11", 32),
	})
	require.True(t, res.IsError)
	decodeText(t, res, &toolErr)
	assert.Equal(t, "InvalidArgument", toolErr.Code)
	assert.Equal(t, "bounty_amount", toolErr.Field)

	res = callTool(t, s, "claim_task", map[string]any{"task_id": "xyz"})
	require.True(t, res.IsError)
	decodeText(t, res, &toolErr)
	assert.Equal(t, "task_id", toolErr.Field)
}

func TestMintTokensFundsWallet(t *testing.T) {
	s, wallet, _ := newTestServer(t)

	res := callTool(t, s, "mint_tokens", map[string]any{"amount": "1500"})
	require.False(t, res.IsError, res.Content[0].Text)
	var acct escrow.TokenAccount
	decodeText(t, res, &acct)
	assert.Equal(t, wallet.Pubkey(), acct.Owner)
	assert.Equal(t, uint64(1500), acct.Amount)

	res = callTool(t, s, "create_task", map[string]any{
		"task_id":       strings.Repeat("0d", 32),
		"bounty_amount": "1500",
		"task_hash":     strings.Repeat("11", 32),
	})
	require.False(t, res.IsError, res.Content[0].Text)

	// a server whose wallet is not the mint authority cannot mint
	other, err := identity.Generate()
	require.NoError(t, err)
	s.wallet = other
	res = callTool(t, s, "mint_tokens", map[string]any{"amount": "1"})
	require.True(t, res.IsError)
	var toolErr ToolError
	decodeText(t, res, &toolErr)
	assert.Equal(t, "Unauthorized", toolErr.Code)
}

func TestDeriveAddressesTool(t *testing.T) {
	s, _, program := newTestServer(t)
	id := strings.Repeat("0c", 32)
	res := callTool(t, s, "derive_addresses", map[string]any{"task_id": id})
	require.False(t, res.IsError)

	var got escrow.TaskAddresses
	decodeText(t, res, &got)
	want, err := program.Addresses(got.TaskID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, id, got.TaskID.String())
}

func TestToUint64(t *testing.T) {
	v, err := toUint64("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), v)

	v, err = toUint64(float64(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = toUint64(1.5)
	assert.Error(t, err)
	_, err = toUint64(nil)
	assert.Error(t, err)
}
