package registry

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Validator implements a named validation extension (§4.2's
// validation_extensions): given the arguments a caller supplied for a tool
// call, it returns nil if they pass, or an error describing why not.
type Validator interface {
	Validate(args map[string]any, expression string) error
}

// RegisterValidator adds or replaces a named validator. It takes the
// registry's write lock, so it is safe to call at any time.
func (r *Registry) RegisterValidator(name string, v Validator) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.validators[name] = v
}

// Validator looks up a named validator.
func (r *Registry) Validator(name string) (Validator, bool) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	v, ok := r.validators[name]
	return v, ok
}

// ValidateArgs runs every validation_extensions entry configured for tool
// against args, short-circuiting on the first failure.
func (r *Registry) ValidateArgs(tool ToolDefinition, args map[string]any) error {
	for name, expr := range tool.ValidationExtensions {
		v, ok := r.Validator(name)
		if !ok {
			return fmt.Errorf("tool %q: unknown validation extension %q", tool.Name, name)
		}
		if err := v.Validate(args, expr); err != nil {
			return fmt.Errorf("tool %q: validation %q failed: %w", tool.Name, name, err)
		}
	}
	return nil
}

// CELValidator evaluates a CEL boolean expression against the call
// arguments, exposed to capability authors under the "cel" name. A worked
// example expression for a numeric optimal_range check:
//
//	args.temperature >= 0.0 && args.temperature <= 100.0
type CELValidator struct {
	env *cel.Env
}

// NewCELValidator builds a CEL validator with a single "args" variable of
// dynamic type, bound to a tool call's arguments map.
func NewCELValidator() (*CELValidator, error) {
	env, err := cel.NewEnv(cel.Variable("args", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("building cel environment: %w", err)
	}
	return &CELValidator{env: env}, nil
}

// Validate compiles and evaluates expression against args, failing unless it
// evaluates to the boolean true.
func (c *CELValidator) Validate(args map[string]any, expression string) error {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compiling expression %q: %w", expression, issues.Err())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return fmt.Errorf("building program for %q: %w", expression, err)
	}

	out, _, err := prg.Eval(map[string]any{"args": args})
	if err != nil {
		return fmt.Errorf("evaluating %q: %w", expression, err)
	}

	pass, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("expression %q did not evaluate to a boolean", expression)
	}
	if !pass {
		return fmt.Errorf("expression %q evaluated to false", expression)
	}
	return nil
}

// ToolAccessibleValidator is the worked example of a validator consulting
// state outside the arguments: it looks up another tool through Lookup and
// checks that tool's own enabled/hidden flags, acting as a dependency gate.
// Configured as validation_extensions: {tool_accessible: "<other tool name>"};
// an empty expression passes.
type ToolAccessibleValidator struct {
	Lookup func(name string) (ToolDefinition, bool)
}

// Validate treats expression as the name of another tool that must be
// enabled and non-hidden for this call to proceed — a dependency gate.
func (v *ToolAccessibleValidator) Validate(args map[string]any, expression string) error {
	name := strings.TrimSpace(expression)
	if name == "" {
		return nil
	}
	t, ok := v.Lookup(name)
	if !ok {
		return fmt.Errorf("referenced tool %q not found", name)
	}
	if !t.Enabled || t.Hidden {
		return fmt.Errorf("referenced tool %q is not accessible", name)
	}
	return nil
}

// PrivacyScanValidator is the worked example of a string-content validator:
// expression is a comma-separated list of substrings that must not appear in
// any string-typed argument value, rejecting calls that look like they carry
// secrets into a tool with an external side effect.
type PrivacyScanValidator struct{}

// Validate scans every string argument for any of the comma-separated
// forbidden substrings named in expression.
func (PrivacyScanValidator) Validate(args map[string]any, expression string) error {
	var forbidden []string
	for _, s := range strings.Split(expression, ",") {
		if s = strings.TrimSpace(s); s != "" {
			forbidden = append(forbidden, strings.ToLower(s))
		}
	}
	if len(forbidden) == 0 {
		return nil
	}

	for key, val := range args {
		s, ok := val.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, bad := range forbidden {
			if strings.Contains(lower, bad) {
				return fmt.Errorf("argument %q appears to contain disallowed content %q", key, bad)
			}
		}
	}
	return nil
}
