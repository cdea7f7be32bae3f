package mcp

import (
	"encoding/json"
	"fmt"

	"escrow-backend/core/escrow"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolError represents a structured error from tool execution
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Tool    string `json:"tool,omitempty"`
	Field   string `json:"field,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var hints = map[string]string{
	"TaskNotOpen":       "the task was already claimed or closed; pick another from list_tasks",
	"TaskNotClaimed":    "claim the task with claim_task before submitting work",
	"NotAssignedAgent":  "only the agent that claimed the task can submit work",
	"WorkNotSubmitted":  "the agent has not submitted work yet",
	"CannotCancel":      "only open, unclaimed tasks can be cancelled",
	"Unauthorized":      "only the task poster can approve or cancel; minting needs the mint authority wallet",
	"TaskNotFound":      "check the task id; completed and cancelled tasks are closed",
	"AccountNotFound":   "open a token account with open_account and fund it first",
	"InsufficientFunds": "the poster account cannot cover the bounty",
	"InvalidSeeds":      "the task id does not derive a valid escrow address",
}

func invalidArg(tool, field string, err error) *mcp.CallToolResult {
	return toolError(&ToolError{Code: "InvalidArgument", Message: err.Error(), Tool: tool, Field: field})
}

func escrowError(tool string, err error) *mcp.CallToolResult {
	code := escrow.ErrorCode(err)
	return toolError(&ToolError{Code: code, Message: err.Error(), Tool: tool, Hint: hints[code]})
}

func toolError(e *ToolError) *mcp.CallToolResult {
	b, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(e.Error())
	}
	return mcp.NewToolResultError(string(b))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
