package injectors

import (
	"context"
	"os"
	"strings"

	"github.com/loopwork/beacon/pkg/models"
)

// PulseToken is the marker a pulse session replies with when nothing
// needs attention; the daemon suppresses deliveries consisting of it.
const PulseToken = "PULSE_OK"

const responseModeBlock = "This is a scheduled pulse, not a user message. " +
	"Review your standing instructions and act on anything that needs attention. " +
	"Reply with what you did, or with " + PulseToken + " if nothing needed doing."

const silentModeBlock = "This is a scheduled pulse, not a user message. " +
	"Review your standing instructions and act on anything that needs attention. " +
	"Do not produce a user-visible reply: respond with exactly " + PulseToken + "."

// Pulse contributes the pulse briefing to sessions spawned by the
// scheduler. It activates only when the session metadata carries
// isPulse; everything else gets an empty contribution.
type Pulse struct {
	// PromptPath is the optional briefing file prepended to the mode
	// block. A missing or unreadable file contributes nothing.
	PromptPath string

	// Silent selects the silent-mode instruction block.
	Silent bool
}

// Name implements Injector.
func (Pulse) Name() string { return "pulse" }

// InjectSystemContext implements Injector.
func (p Pulse) InjectSystemContext(_ context.Context, in Context) (string, error) {
	if !isPulse(in.Metadata) {
		return "", nil
	}

	var parts []string
	if p.PromptPath != "" {
		if data, err := os.ReadFile(p.PromptPath); err == nil {
			if body := strings.TrimSpace(string(data)); body != "" {
				parts = append(parts, body)
			}
		}
	}
	if p.Silent {
		parts = append(parts, silentModeBlock)
	} else {
		parts = append(parts, responseModeBlock)
	}
	return strings.Join(parts, "\n\n"), nil
}

// InjectResumeContext implements Injector.
func (Pulse) InjectResumeContext(context.Context, Context) ([]models.CheckpointMessage, error) {
	return nil, nil
}

// IsQuietReply reports whether a reply is only the pulse token,
// tolerating surrounding markdown or HTML emphasis.
func IsQuietReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.Trim(trimmed, "*_`")
	trimmed = strings.TrimPrefix(trimmed, "<b>")
	trimmed = strings.TrimSuffix(trimmed, "</b>")
	return strings.TrimSpace(trimmed) == PulseToken
}

func isPulse(metadata map[string]any) bool {
	switch v := metadata["isPulse"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
