// Package toolexec bridges the Tool Bus (internal/infrastructure/toolbus)
// to the Agent Runtime's narrower ToolInvoker dependency, so the runtime
// depends only on the replay_id/ok/output shape it actually needs.
package toolexec

import (
	"context"
	"fmt"

	"github.com/ngoclaw/ai-gateway/internal/application/agentloop"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/toolbus"
)

// Bridge adapts a *toolbus.Bus to agentloop.ToolInvoker.
type Bridge struct {
	bus *toolbus.Bus
}

// New wraps bus for use by the agent runtime.
func New(bus *toolbus.Bus) *Bridge {
	return &Bridge{bus: bus}
}

// Invoke implements agentloop.ToolInvoker.
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]interface{}) (agentloop.ToolInvocation, error) {
	rec, err := b.bus.Invoke(ctx, name, args)
	if rec == nil {
		return agentloop.ToolInvocation{}, err
	}

	inv := agentloop.ToolInvocation{ReplayID: rec.ReplayID, OK: rec.OK}
	if rec.Result != nil {
		inv.Output = rec.Result.DisplayOrOutput()
	}
	if rec.Error != "" {
		inv.Error = rec.Error
	} else if err != nil {
		inv.Error = err.Error()
	}
	if err != nil && rec.Error == "" {
		inv.Error = fmt.Sprintf("%v", err)
	}
	return inv, nil
}
