// Package policy evaluates the optional admission policy written in Rego
package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the rule set evaluated for every classified media item
const Query = "data.admission"

// Input is passed to the policy as `input`
type Input struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Locator    string  `json:"locator,omitempty"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Scored     bool    `json:"scored"`
	Explicit   bool    `json:"explicit"`
	Format     string  `json:"format"`
	Size       int     `json:"size"`
}

// Decision is the outcome of the policy
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a classified item may be admitted
type Evaluator interface {
	Evaluate(ctx context.Context, input *Input) (*Decision, error)
}

// Policy is a prepared Rego query. A nil *Policy allows everything.
type Policy struct {
	query *rego.PreparedEvalQuery
}

var _ Evaluator = (*Policy)(nil)

type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Load reads every .rego file in dir. It returns nil when the directory has no policy.
func Load(ctx context.Context, dir string) (*Policy, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, nil
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}

	return New(ctx, modules)
}

// New prepares the admission query from module name to Rego source
func New(ctx context.Context, modules map[string]string) (*Policy, error) {
	options := []func(*rego.Rego){
		rego.Query(Query),
		rego.EnablePrintStatements(true),
	}
	for name, src := range modules {
		options = append(options, rego.Module(name, src))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare admission policy", goerr.V("query", Query))
	}
	return &Policy{query: &prepared}, nil
}

// Evaluate runs the policy. An undefined or non-object result, or a missing allow
// rule, denies admission.
func (p *Policy) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	if p == nil || p.query == nil {
		return &Decision{Allow: true}, nil
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate admission policy", goerr.V("id", input.ID))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Decision{Reason: "admission policy is undefined"}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid admission result: not an object", goerr.V("id", input.ID))
	}

	decision := &Decision{}
	if allow, ok := data["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reason, ok := data["reason"].(string); ok {
		decision.Reason = reason
	}
	return decision, nil
}

// NewInput builds the policy input of a classified request
func NewInput(req *model.IngestionRequest, category model.Category, result *model.ClassificationResult, explicit bool, format model.Format, size int) *Input {
	in := &Input{
		ID:       string(req.ID),
		Source:   req.Source,
		Locator:  req.Locator,
		Category: string(category),
		Explicit: explicit,
		Format:   string(format),
		Size:     size,
	}
	if result != nil {
		in.Confidence = result.Confidence
		in.Scored = result.Scored
	}
	return in
}
