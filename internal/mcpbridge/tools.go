package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/anungis437/nzila-automation-sub010/pkg/client"
)

// LifecycleAPI is the subset of the lifecycled client the tools call.
type LifecycleAPI interface {
	ListMachines(ctx context.Context) ([]string, error)
	DescribeMachine(ctx context.Context, entityType string) (json.RawMessage, error)
	GetResource(ctx context.Context, entityType, id string) (*client.Resource, error)
	AvailableTransitions(ctx context.Context, entityType, id string) (*client.Available, error)
	ApplyTransition(ctx context.Context, entityType, id string, req client.TransitionRequest) (*client.ApplyResult, error)
	History(ctx context.Context, entityType, id string) ([]client.AuditRecord, error)
	VerifyAudit(ctx context.Context) (bool, string, error)
	GetEvidence(ctx context.Context, packID string) (pack, seal json.RawMessage, res *client.VerifyResult, err error)
}

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// ErrUnknownTool is returned by Call for a name no tool answers to.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports tool arguments that are missing or malformed.
type ArgumentError struct {
	Tool   string `json:"tool"`
	Reason string `json:"reason"`
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Reason)
}

// Rejection is lifecycled's machine-readable refusal of a call.
type Rejection struct {
	Code      string `json:"code,omitempty"`
	Status    int    `json:"status"`
	Committed bool   `json:"committed,omitempty"`
}

// ToolResult is the outcome of a tool call that reached lifecycled.
type ToolResult struct {
	Text      string
	IsError   bool
	Rejection *Rejection // nil unless lifecycled answered with an API error
}

func textResult(text string) ToolResult {
	return ToolResult{Text: text}
}

func jsonResult(v any) ToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ToolResult{Text: fmt.Sprintf("encode result: %v", err), IsError: true}
	}
	return ToolResult{Text: string(out)}
}

// failure turns a client error into an error result, keeping the rejection
// code and status when lifecycled supplied them.
func failure(op string, err error) ToolResult {
	res := ToolResult{Text: fmt.Sprintf("%s failed: %v", op, err), IsError: true}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		res.Rejection = &Rejection{Code: apiErr.Code, Status: apiErr.Status, Committed: apiErr.Committed}
	}
	return res
}

// Tool arguments. Fields without omitempty are required in the schema.
type (
	noArgs struct{}

	machineArgs struct {
		EntityType string `json:"entity_type" jsonschema:"description=Entity type governed by the machine such as payout"`
	}

	resourceArgs struct {
		EntityType string `json:"entity_type" jsonschema:"description=Entity type of the resource"`
		ID         string `json:"id" jsonschema:"description=Resource id"`
	}

	transitionArgs struct {
		EntityType string            `json:"entity_type" jsonschema:"description=Entity type of the resource"`
		ID         string            `json:"id" jsonschema:"description=Resource id"`
		Target     string            `json:"target" jsonschema:"description=Target state"`
		Payload    map[string]any    `json:"payload,omitempty" jsonschema:"description=Domain payload evaluated by guards"`
		Artifacts  []client.Artifact `json:"artifacts,omitempty" jsonschema:"description=Evidence artifacts sealed when the edge requires evidence"`
	}

	evidenceArgs struct {
		PackID string `json:"pack_id" jsonschema:"description=Evidence pack id"`
	}
)

func schemaFor(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true, AllowAdditionalProperties: false}
	s := r.Reflect(v)
	s.Version = ""
	return s
}

// ToolRegistry holds the lifecycled client and the definitions and handlers
// for all tools.
type ToolRegistry struct {
	c    LifecycleAPI
	defs []ToolDefinition
}

// NewToolRegistry creates a ToolRegistry backed by c.
func NewToolRegistry(c LifecycleAPI) *ToolRegistry {
	r := &ToolRegistry{c: c}
	r.defs = []ToolDefinition{
		{
			Name:        "list_machines",
			Description: "List the entity types that have a lifecycle state machine.",
			InputSchema: schemaFor(&noArgs{}),
		},
		{
			Name: "describe_machine",
			Description: "Describe a state machine: its states, initial and terminal states, and every " +
				"transition with its allowed roles, guards and whether evidence is required.",
			InputSchema: schemaFor(&machineArgs{}),
		},
		{
			Name:        "get_resource",
			Description: "Fetch a resource's current state and version.",
			InputSchema: schemaFor(&resourceArgs{}),
		},
		{
			Name: "available_transitions",
			Description: "List the transitions the bridge's actor may attempt on a resource from its " +
				"current state. Use this before attempt_transition.",
			InputSchema: schemaFor(&resourceArgs{}),
		},
		{
			Name: "attempt_transition",
			Description: "Move a resource to a target state. Rejections report a code such as " +
				"ROLE_DENIED or GUARD_FAILURE. Evidence-gated edges return the sealed pack.",
			InputSchema: schemaFor(&transitionArgs{}),
		},
		{
			Name:        "resource_history",
			Description: "List the audit records of a resource, oldest first.",
			InputSchema: schemaFor(&resourceArgs{}),
		},
		{
			Name:        "verify_audit_chain",
			Description: "Verify the integrity of the hash-chained audit ledger.",
			InputSchema: schemaFor(&noArgs{}),
		},
		{
			Name:        "verify_evidence",
			Description: "Load a stored evidence pack and its seal and re-verify them.",
			InputSchema: schemaFor(&evidenceArgs{}),
		},
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Call dispatches a tool call by name. A returned error is a caller mistake
// (unknown tool or bad arguments); failures reported by lifecycled come back
// as a ToolResult with IsError set.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	switch name {
	case "list_machines":
		return r.listMachines(ctx)
	case "describe_machine":
		return r.describeMachine(ctx, args)
	case "get_resource":
		return r.getResource(ctx, args)
	case "available_transitions":
		return r.availableTransitions(ctx, args)
	case "attempt_transition":
		return r.attemptTransition(ctx, args)
	case "resource_history":
		return r.history(ctx, args)
	case "verify_audit_chain":
		return r.verifyAudit(ctx)
	case "verify_evidence":
		return r.verifyEvidence(ctx, args)
	default:
		return ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// ── tool handlers ────────────────────────────────────────────────────────────

func decodeResource(tool string, args json.RawMessage) (resourceArgs, error) {
	var in resourceArgs
	if err := json.Unmarshal(args, &in); err != nil || in.EntityType == "" || in.ID == "" {
		return in, &ArgumentError{Tool: tool, Reason: "entity_type and id are required"}
	}
	return in, nil
}

func (r *ToolRegistry) listMachines(ctx context.Context) (ToolResult, error) {
	names, err := r.c.ListMachines(ctx)
	if err != nil {
		return failure("list machines", err), nil
	}
	if len(names) == 0 {
		return textResult("No machines are loaded."), nil
	}
	return jsonResult(names), nil
}

func (r *ToolRegistry) describeMachine(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var in machineArgs
	if err := json.Unmarshal(args, &in); err != nil || in.EntityType == "" {
		return ToolResult{}, &ArgumentError{Tool: "describe_machine", Reason: "entity_type is required"}
	}
	raw, err := r.c.DescribeMachine(ctx, in.EntityType)
	if err != nil {
		return failure("describe machine", err), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return textResult(string(raw)), nil
	}
	return jsonResult(v), nil
}

func (r *ToolRegistry) getResource(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	in, err := decodeResource("get_resource", args)
	if err != nil {
		return ToolResult{}, err
	}
	res, err := r.c.GetResource(ctx, in.EntityType, in.ID)
	if err != nil {
		return failure("get resource", err), nil
	}
	return jsonResult(res), nil
}

func (r *ToolRegistry) availableTransitions(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	in, err := decodeResource("available_transitions", args)
	if err != nil {
		return ToolResult{}, err
	}
	av, err := r.c.AvailableTransitions(ctx, in.EntityType, in.ID)
	if err != nil {
		return failure("available transitions", err), nil
	}
	return jsonResult(av), nil
}

func (r *ToolRegistry) attemptTransition(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var in transitionArgs
	if err := json.Unmarshal(args, &in); err != nil || in.EntityType == "" || in.ID == "" || in.Target == "" {
		return ToolResult{}, &ArgumentError{Tool: "attempt_transition", Reason: "entity_type, id and target are required"}
	}
	res, err := r.c.ApplyTransition(ctx, in.EntityType, in.ID, client.TransitionRequest{
		Target:    in.Target,
		Payload:   in.Payload,
		Artifacts: in.Artifacts,
	})
	if err != nil {
		out := failure("transition", err)
		if res != nil {
			partial, _ := json.MarshalIndent(res, "", "  ")
			out.Text = fmt.Sprintf("transition committed but a follow-up step failed: %v\n%s", err, partial)
		}
		return out, nil
	}
	return jsonResult(res), nil
}

func (r *ToolRegistry) history(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	in, err := decodeResource("resource_history", args)
	if err != nil {
		return ToolResult{}, err
	}
	records, err := r.c.History(ctx, in.EntityType, in.ID)
	if err != nil {
		return failure("history", err), nil
	}
	if len(records) == 0 {
		return textResult("No audit records for this resource."), nil
	}
	return jsonResult(records), nil
}

func (r *ToolRegistry) verifyAudit(ctx context.Context) (ToolResult, error) {
	valid, reason, err := r.c.VerifyAudit(ctx)
	if err != nil {
		return failure("verify audit", err), nil
	}
	if !valid {
		return ToolResult{Text: "audit chain is broken: " + reason, IsError: true}, nil
	}
	return textResult("Audit chain is intact."), nil
}

func (r *ToolRegistry) verifyEvidence(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var in evidenceArgs
	if err := json.Unmarshal(args, &in); err != nil || in.PackID == "" {
		return ToolResult{}, &ArgumentError{Tool: "verify_evidence", Reason: "pack_id is required"}
	}
	_, _, res, err := r.c.GetEvidence(ctx, in.PackID)
	if err != nil {
		return failure("load evidence", err), nil
	}
	out := jsonResult(res)
	out.IsError = out.IsError || !res.Valid
	return out, nil
}
