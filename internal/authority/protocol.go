// Package authority defines the message contract with the external remediation
// authority and provides clients that speak it.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steveyegge/selfheal/internal/types"
)

// ErrUnsupportedRequest is returned by an authority that cannot serve a request kind.
var ErrUnsupportedRequest = errors.New("unsupported authority request")

// Kind is the discriminator of an authority request
type Kind string

const (
	KindBuildDiff          Kind = "build_diff"
	KindLPQALogs           Kind = "lpqa_logs"
	KindIndexJSStatus      Kind = "index_js_status"
	KindDeployStatus       Kind = "deploy_status"
	KindRepairGuidance     Kind = "repair_guidance"
	KindOptimizationAdvice Kind = "optimization_advice"
)

// Request is one of the typed request payloads below.
type Request interface {
	Kind() Kind
}

// BuildDiffRequest asks for the current and deployed build identifiers.
type BuildDiffRequest struct{}

// LPQALogsRequest asks for the most recent quality-assurance log lines.
type LPQALogsRequest struct {
	Limit int `json:"limit"`
}

// IndexJSStatusRequest asks whether the served entry bundle is current.
type IndexJSStatusRequest struct{}

// DeployStatusRequest asks for the status of the latest deployment.
type DeployStatusRequest struct{}

// RepairGuidanceRequest carries a repair request and expects guidance, possibly with a patch.
type RepairGuidanceRequest struct {
	Request types.RepairRequest `json:"request"`
}

// OptimizationAdviceRequest asks for advice on the given suggestions.
type OptimizationAdviceRequest struct {
	Report      types.DiagnosticReport         `json:"report"`
	Suggestions []types.OptimizationSuggestion `json:"suggestions"`
}

func (BuildDiffRequest) Kind() Kind          { return KindBuildDiff }
func (LPQALogsRequest) Kind() Kind           { return KindLPQALogs }
func (IndexJSStatusRequest) Kind() Kind      { return KindIndexJSStatus }
func (DeployStatusRequest) Kind() Kind       { return KindDeployStatus }
func (RepairGuidanceRequest) Kind() Kind     { return KindRepairGuidance }
func (OptimizationAdviceRequest) Kind() Kind { return KindOptimizationAdvice }

// Envelope is the wire form of every request.
type Envelope struct {
	Type    Kind    `json:"type"`
	Payload Request `json:"payload"`
}

// NewEnvelope wraps a request for the wire.
func NewEnvelope(req Request) Envelope {
	return Envelope{Type: req.Kind(), Payload: req}
}

// Response is an authority reply. Body is kept opaque; use the Decode helpers
// for kinds with a known shape.
type Response struct {
	Kind       Kind            `json:"kind"`
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// BuildDiffResponse is the typed reply to a build_diff request.
type BuildDiffResponse struct {
	CurrentHash  string `json:"currentHash"`
	DeployedHash string `json:"deployedHash"`
	Diff         string `json:"diff,omitempty"`
}

// RepairGuidanceResponse is the typed reply to a repair_guidance request.
type RepairGuidanceResponse struct {
	Accepted bool                 `json:"accepted"`
	Message  string               `json:"message"`
	Patch    *types.PatchProposal `json:"patch,omitempty"`
}

// OptimizationAdviceResponse is the typed reply to an optimization_advice request.
type OptimizationAdviceResponse struct {
	Advice []string `json:"advice"`
}

// DecodeBuildDiff decodes a build_diff response body.
func DecodeBuildDiff(resp *Response) (*BuildDiffResponse, error) {
	var out BuildDiffResponse
	if err := decode(resp, KindBuildDiff, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeRepairGuidance decodes a repair_guidance response body.
func DecodeRepairGuidance(resp *Response) (*RepairGuidanceResponse, error) {
	var out RepairGuidanceResponse
	if err := decode(resp, KindRepairGuidance, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeOptimizationAdvice decodes an optimization_advice response body.
func DecodeOptimizationAdvice(resp *Response) (*OptimizationAdviceResponse, error) {
	var out OptimizationAdviceResponse
	if err := decode(resp, KindOptimizationAdvice, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decode(resp *Response, want Kind, dest interface{}) error {
	if resp == nil {
		return fmt.Errorf("decode %s: nil response", want)
	}
	if resp.Kind != want {
		return fmt.Errorf("decode %s: response is for %s", want, resp.Kind)
	}
	if len(resp.Body) == 0 {
		return fmt.Errorf("decode %s: empty body", want)
	}
	if err := json.Unmarshal(resp.Body, dest); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	return nil
}

// StatusError reports a non-2xx reply from the authority.
type StatusError struct {
	Kind       Kind
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("authority %s: status %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("authority %s: status %d: %s", e.Kind, e.StatusCode, e.Body)
}

// Temporary reports whether the status indicates a transient failure worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Authority is anything that can answer remediation authority requests.
type Authority interface {
	Send(ctx context.Context, req Request) (*Response, error)
}
