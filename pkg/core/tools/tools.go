// Package tools routes model-requested function calls to the internal
// calendar API or to local call-control actions. Every execution path
// returns a sentence that can be spoken to the caller; failures degrade
// to fixed fallback messages and never surface raw errors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxline-ai/voxline/pkg/core/llm"
)

// Function names the dispatcher understands.
const (
	FuncGetCurrentDatetime = "get_current_datetime"
	FuncCheckAvailability  = "check_availability"
	FuncBookAppointment    = "book_appointment"
	FuncCancelAppointment  = "cancel_appointment"
	FuncTransferCall       = "transfer_call"
)

// Action is a side effect the orchestrator must carry out after
// speaking the result message.
type Action int

const (
	ActionNone Action = iota
	ActionTransfer
)

// Result is the outcome of one function execution. Message is always
// safe to speak to the caller.
type Result struct {
	Message  string
	Action   Action
	Transfer *TransferTarget
}

// CallContext carries the call identity a function executes under.
type CallContext struct {
	CallID         string
	OrganizationID string
	AssistantID    string
	TransferRules  []TransferRule
	// TestCall simulates write operations instead of mutating real
	// calendar state. Reads still hit the real service.
	TestCall bool
}

// Fallback sentences spoken when a function cannot complete.
const (
	fallbackCalendar = "I'm sorry, I'm having trouble reaching our booking system right now. Can I take your name and number so someone can call you back?"
	fallbackTransfer = "I'm sorry, I can't transfer you right now. Can I take your name and number so the right person can call you back?"
)

// Dispatcher executes model-requested function calls.
type Dispatcher struct {
	calendar    *CalendarClient
	callControl CallControl
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher creates a dispatcher. callControl may be nil when no
// transfer capability exists; transfer requests then degrade to the
// callback fallback.
func NewDispatcher(calendar *CalendarClient, callControl CallControl, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		calendar:    calendar,
		callControl: callControl,
		logger:      logger,
		now:         time.Now,
	}
}

// Definitions returns the function declarations offered to the model.
func Definitions() []llm.Tool {
	return []llm.Tool{
		{
			Name:        FuncGetCurrentDatetime,
			Description: "Get the current date and time.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        FuncCheckAvailability,
			Description: "Check appointment availability for a requested date or time.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": map[string]any{"type": "string", "description": "Requested date, e.g. 2026-09-01 or 'tomorrow'"},
					"time": map[string]any{"type": "string", "description": "Requested time of day, if the caller gave one"},
				},
				"required": []string{"date"},
			},
		},
		{
			Name:        FuncBookAppointment,
			Description: "Book an appointment once the caller has confirmed a slot and provided their details.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date":  map[string]any{"type": "string"},
					"time":  map[string]any{"type": "string"},
					"name":  map[string]any{"type": "string"},
					"phone": map[string]any{"type": "string"},
				},
				"required": []string{"date", "time", "name"},
			},
		},
		{
			Name:        FuncCancelAppointment,
			Description: "Cancel an existing appointment.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": map[string]any{"type": "string"},
					"name": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        FuncTransferCall,
			Description: "Transfer the caller to a human. Provide the caller's reason so the right destination is chosen.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "Why the caller wants a transfer"},
				},
			},
		},
	}
}

// Execute runs one function call. The returned Result always carries a
// speakable message, whatever went wrong underneath.
func (d *Dispatcher) Execute(ctx context.Context, call *CallContext, name string, args json.RawMessage) Result {
	switch name {
	case FuncGetCurrentDatetime:
		return Result{Message: d.now().Format("It is Monday, January 2, 2006 at 3:04 PM.")}

	case FuncCheckAvailability:
		return d.callCalendar(ctx, call, name, args)

	case FuncBookAppointment, FuncCancelAppointment:
		if call.TestCall {
			return d.simulateWrite(name, args)
		}
		return d.callCalendar(ctx, call, name, args)

	case FuncTransferCall:
		return d.transferCall(ctx, call, args)

	default:
		d.logger.Warn("unknown function requested", "function", name, "call_id", call.CallID)
		return Result{Message: fallbackCalendar}
	}
}

func (d *Dispatcher) callCalendar(ctx context.Context, call *CallContext, name string, args json.RawMessage) Result {
	msg, err := d.calendar.Call(ctx, call, name, args)
	if err != nil {
		d.logger.Error("calendar function failed", "function", name, "call_id", call.CallID, "error", err)
		return Result{Message: fallbackCalendar}
	}
	return Result{Message: msg}
}

// simulateWrite acknowledges a write without touching real state.
func (d *Dispatcher) simulateWrite(name string, args json.RawMessage) Result {
	var parsed struct {
		Date string `json:"date"`
		Time string `json:"time"`
		Name string `json:"name"`
	}
	_ = json.Unmarshal(args, &parsed)

	switch name {
	case FuncBookAppointment:
		if parsed.Date != "" && parsed.Time != "" {
			return Result{Message: fmt.Sprintf("You're all booked for %s at %s.", parsed.Date, parsed.Time)}
		}
		return Result{Message: "You're all booked. We'll see you then."}
	default:
		return Result{Message: "Your appointment has been cancelled."}
	}
}

func (d *Dispatcher) transferCall(ctx context.Context, call *CallContext, args json.RawMessage) Result {
	var parsed struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(args, &parsed)

	rule, ok := matchTransferRule(call.TransferRules, parsed.Reason)
	if !ok || d.callControl == nil {
		d.logger.Warn("transfer requested with no usable rule", "call_id", call.CallID, "reason", parsed.Reason)
		return Result{Message: fallbackTransfer}
	}

	target := TransferTarget{
		Destination:  rule.Destination,
		DisplayName:  rule.DisplayName,
		Announcement: rule.Announcement,
	}
	if target.Announcement == "" {
		target.Announcement = fmt.Sprintf("One moment, transferring you to %s.", rule.DisplayName)
	}

	if err := d.callControl.Transfer(ctx, call.CallID, target); err != nil {
		d.logger.Error("transfer instruction failed", "call_id", call.CallID, "destination", rule.Destination, "error", err)
		return Result{Message: fallbackTransfer}
	}
	return Result{
		Message:  target.Announcement,
		Action:   ActionTransfer,
		Transfer: &target,
	}
}
