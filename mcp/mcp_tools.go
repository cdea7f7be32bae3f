package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"escrow-backend/core/escrow"

	"github.com/mark3labs/mcp-go/mcp"
)

func toString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

// toUint64 accepts a decimal string or a JSON number. Strings keep full u64
// precision.
func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseUint(strings.TrimSpace(n), 10, 64)
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, fmt.Errorf("%v is not a non-negative integer", n)
		}
		return uint64(n), nil
	case nil:
		return 0, fmt.Errorf("missing amount")
	}
	return 0, fmt.Errorf("unsupported amount type %T", v)
}

func requireTaskID(request mcp.CallToolRequest) (escrow.TaskID, error) {
	raw, err := request.RequireString("task_id")
	if err != nil {
		return escrow.TaskID{}, err
	}
	return escrow.TaskIDFromHex(strings.TrimSpace(raw))
}

func optionalPubkey(args map[string]any, key string) (*escrow.Pubkey, error) {
	raw := toString(args[key])
	if raw == "" {
		return nil, nil
	}
	pk, err := escrow.PubkeyFromBase58(raw)
	if err != nil {
		return nil, err
	}
	return &pk, nil
}

func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List live escrow tasks (open, claimed or submitted) with optional filtering"),
		mcp.WithString("status", mcp.Description("Filter by status: open, claimed, submitted")),
		mcp.WithString("authority", mcp.Description("Filter by poster pubkey (base58)")),
		mcp.WithString("agent", mcp.Description("Filter by assigned agent pubkey (base58)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
		mcp.WithNumber("offset", mcp.Description("Number of tasks to skip")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		filter := escrow.EscrowFilter{Limit: toInt(args["limit"]), Offset: toInt(args["offset"])}
		if raw := toString(args["status"]); raw != "" {
			st, err := escrow.ParseStatus(raw)
			if err != nil {
				return invalidArg("list_tasks", "status", err), nil
			}
			filter.Status = &st
		}
		var err error
		if filter.Authority, err = optionalPubkey(args, "authority"); err != nil {
			return invalidArg("list_tasks", "authority", err), nil
		}
		if filter.Agent, err = optionalPubkey(args, "agent"); err != nil {
			return invalidArg("list_tasks", "agent", err), nil
		}

		tasks, err := s.program.ListTasks(ctx, filter)
		if err != nil {
			return escrowError("list_tasks", err), nil
		}
		return jsonResult(map[string]any{"tasks": tasks, "count": len(tasks)})
	})
}

func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get the escrow record of a live task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("get_task", "task_id", err), nil
		}
		rec, err := s.program.GetTask(ctx, id)
		if err != nil {
			return escrowError("get_task", err), nil
		}
		return jsonResult(rec)
	})
}

func (s *MCPServer) registerGetVaultTool() {
	tool := mcp.NewTool("get_vault",
		mcp.WithDescription("Show the custody vault holding a task's bounty"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("get_vault", "task_id", err), nil
		}
		vault, err := s.program.Vault(ctx, id)
		if err != nil {
			return escrowError("get_vault", err), nil
		}
		return jsonResult(vault)
	})
}

func (s *MCPServer) registerDeriveAddressesTool() {
	tool := mcp.NewTool("derive_addresses",
		mcp.WithDescription("Derive the record and vault addresses of a task id without touching storage"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("derive_addresses", "task_id", err), nil
		}
		addrs, err := s.program.Addresses(id)
		if err != nil {
			return escrowError("derive_addresses", err), nil
		}
		return jsonResult(addrs)
	})
}

func (s *MCPServer) registerListEventsTool() {
	tool := mcp.NewTool("list_events",
		mcp.WithDescription("List committed escrow events in order"),
		mcp.WithString("task_id", mcp.Description("Only events of this task")),
		mcp.WithNumber("after", mcp.Description("Only events with a sequence number greater than this")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events to return")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		filter := escrow.EventFilter{Limit: toInt(args["limit"])}
		if after := toInt(args["after"]); after > 0 {
			filter.After = uint64(after)
		}
		if raw := toString(args["task_id"]); raw != "" {
			id, err := escrow.TaskIDFromHex(raw)
			if err != nil {
				return invalidArg("list_events", "task_id", err), nil
			}
			filter.TaskID = &id
		}
		events, err := s.program.Events(ctx, filter)
		if err != nil {
			return escrowError("list_events", err), nil
		}
		return jsonResult(map[string]any{"events": events, "count": len(events)})
	})
}

func (s *MCPServer) registerGetAccountTool() {
	tool := mcp.NewTool("get_account",
		mcp.WithDescription("Show the token account of an owner; defaults to this server's wallet"),
		mcp.WithString("owner", mcp.Description("Owner pubkey (base58)")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := optionalPubkey(request.GetArguments(), "owner")
		if err != nil {
			return invalidArg("get_account", "owner", err), nil
		}
		if owner == nil {
			pk := s.wallet.Pubkey()
			owner = &pk
		}
		acct, err := s.program.Account(ctx, *owner)
		if err != nil {
			return escrowError("get_account", err), nil
		}
		return jsonResult(acct)
	})
}

func (s *MCPServer) registerCreateTaskTool() {
	tool := mcp.NewTool("create_task",
		mcp.WithDescription("Post a task and lock its bounty in escrow, paid from this server's wallet"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Unique task id, 64 hex characters")),
		mcp.WithString("bounty_amount", mcp.Required(), mcp.Description("Bounty in token base units (decimal string)")),
		mcp.WithString("task_hash", mcp.Required(), mcp.Description("sha256 of the task description, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("create_task", "task_id", err), nil
		}
		args := request.GetArguments()
		bounty, err := toUint64(args["bounty_amount"])
		if err != nil {
			return invalidArg("create_task", "bounty_amount", err), nil
		}
		taskHash, err := escrow.HashFromHex(toString(args["task_hash"]))
		if err != nil {
			return invalidArg("create_task", "task_hash", err), nil
		}
		rec, err := s.program.CreateTask(ctx, s.wallet.Signer(), escrow.CreateTaskArgs{
			TaskID:       id,
			BountyAmount: bounty,
			TaskHash:     taskHash,
		})
		if err != nil {
			return escrowError("create_task", err), nil
		}
		return jsonResult(rec)
	})
}

func (s *MCPServer) registerClaimTaskTool() {
	tool := mcp.NewTool("claim_task",
		mcp.WithDescription("Claim an open task as this server's agent wallet"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("claim_task", "task_id", err), nil
		}
		rec, err := s.program.ClaimTask(ctx, s.wallet.Signer(), id)
		if err != nil {
			return escrowError("claim_task", err), nil
		}
		return jsonResult(rec)
	})
}

func (s *MCPServer) registerSubmitWorkTool() {
	tool := mcp.NewTool("submit_work",
		mcp.WithDescription("Submit the content hash of the deliverable for a claimed task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
		mcp.WithString("work_hash", mcp.Required(), mcp.Description("sha256 of the deliverable, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("submit_work", "task_id", err), nil
		}
		raw, err := request.RequireString("work_hash")
		if err != nil {
			return invalidArg("submit_work", "work_hash", err), nil
		}
		workHash, err := escrow.HashFromHex(strings.TrimSpace(raw))
		if err != nil {
			return invalidArg("submit_work", "work_hash", err), nil
		}
		rec, err := s.program.SubmitWork(ctx, s.wallet.Signer(), id, workHash)
		if err != nil {
			return escrowError("submit_work", err), nil
		}
		return jsonResult(rec)
	})
}

func (s *MCPServer) registerApproveTaskTool() {
	tool := mcp.NewTool("approve_task",
		mcp.WithDescription("Approve submitted work and release the bounty minus the 3% platform fee"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("approve_task", "task_id", err), nil
		}
		out, err := s.program.ApproveAndRelease(ctx, s.wallet.Signer(), id)
		if err != nil {
			return escrowError("approve_task", err), nil
		}
		return jsonResult(out)
	})
}

func (s *MCPServer) registerCancelTaskTool() {
	tool := mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel an unclaimed task and refund the full bounty"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, 64 hex characters")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireTaskID(request)
		if err != nil {
			return invalidArg("cancel_task", "task_id", err), nil
		}
		out, err := s.program.CancelTask(ctx, s.wallet.Signer(), id)
		if err != nil {
			return escrowError("cancel_task", err), nil
		}
		return jsonResult(out)
	})
}

func (s *MCPServer) registerOpenAccountTool() {
	tool := mcp.NewTool("open_account",
		mcp.WithDescription("Open this server wallet's token account if it does not exist"),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acct, err := s.program.OpenAccount(ctx, s.wallet.Signer())
		if err != nil {
			return escrowError("open_account", err), nil
		}
		return jsonResult(acct)
	})
}

func (s *MCPServer) registerMintTokensTool() {
	tool := mcp.NewTool("mint_tokens",
		mcp.WithDescription("Issue development tokens into an owner's account. Only works when this server's wallet is the mint authority"),
		mcp.WithString("amount", mcp.Required(), mcp.Description("Amount in token base units (decimal string)")),
		mcp.WithString("owner", mcp.Description("Owner pubkey (base58); defaults to this server's wallet")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		amount, err := toUint64(args["amount"])
		if err != nil {
			return invalidArg("mint_tokens", "amount", err), nil
		}
		owner, err := optionalPubkey(args, "owner")
		if err != nil {
			return invalidArg("mint_tokens", "owner", err), nil
		}
		if owner == nil {
			pk := s.wallet.Pubkey()
			owner = &pk
		}
		acct, err := s.program.MintTo(ctx, s.wallet.Signer(), *owner, amount)
		if err != nil {
			return escrowError("mint_tokens", err), nil
		}
		return jsonResult(acct)
	})
}
