package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// Sandbox runs one opaque decision program invocation and returns its raw
// stdout. The input payload is never piped over stdin — the convention
// carries it through environment variables — to avoid half-closed-stdin
// issues across VM-backed container engines.
type Sandbox interface {
	Run(ctx context.Context, cfg EvaluatorConfig, env map[string]string) ([]byte, error)
}

// ExecSandbox runs the configured image/command as a local subprocess via
// os/exec, the default Sandbox implementation. A production deployment
// would typically swap this for a container-runtime-backed Sandbox; the
// interface is the seam.
type ExecSandbox struct {
	// Command is the local executable invoked in place of EvaluatorConfig.Image
	// when set; otherwise Image is treated as the executable path.
	Command string
	Args    []string
}

// Run launches the subprocess with env merged onto the current process
// environment and captures stdout. Stderr is discarded; callers inspecting
// failures get the exec error and exit status only.
func (s ExecSandbox) Run(ctx context.Context, cfg EvaluatorConfig, env map[string]string) ([]byte, error) {
	command := s.Command
	if command == "" {
		command = cfg.Image
	}
	if command == "" {
		return nil, fmt.Errorf("policy: sandbox has no command or image configured")
	}

	cmd := exec.CommandContext(ctx, command, s.Args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("policy: sandbox run failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// evaluatorInput is the POLICY_INPUT payload: {name, arguments}.
type evaluatorInput struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// evaluatorOutput is the decision program's {decision, rationale?} reply.
type evaluatorOutput struct {
	Decision  DecisionKind `json:"decision"`
	Rationale string       `json:"rationale,omitempty"`
}

func (o evaluatorOutput) validate() error {
	switch o.Decision {
	case Allow, DenyContinue, DenyAbort, Ask:
		return nil
	default:
		return fmt.Errorf("policy: evaluator returned unknown decision %q", o.Decision)
	}
}

func marshalInput(toolKey string, arguments map[string]any) (string, error) {
	b, err := json.Marshal(evaluatorInput{Name: toolKey, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("policy: marshaling evaluator input: %w", err)
	}
	return string(b), nil
}
