package tools

import (
	"context"

	"go.uber.org/zap"
)

// RemoteCaller calls a tool on a remote server. *mcp.Client implements it.
type RemoteCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// RemoteTool exposes a remote tool under a logical name.
type RemoteTool struct {
	name   string
	remote string
	caller RemoteCaller
}

// NewRemoteTool binds logical name to the remote tool on caller.
func NewRemoteTool(name, remote string, caller RemoteCaller) *RemoteTool {
	return &RemoteTool{name: name, remote: remote, caller: caller}
}

func (t *RemoteTool) Name() string { return t.name }

func (t *RemoteTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	return t.caller.CallTool(ctx, t.remote, params)
}

// BindRemote registers a RemoteTool for every logical tool whose qualified
// alias names a server in callers. It returns the bound logical names.
func (r *Registry) BindRemote(callers map[string]RemoteCaller) []string {
	r.mu.RLock()
	aliases := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		aliases[k] = v
	}
	r.mu.RUnlock()

	var bound []string
	for name, qualified := range aliases {
		server, remote, ok := SplitQualified(qualified)
		if !ok {
			continue
		}
		caller, ok := callers[server]
		if !ok {
			continue
		}
		r.Register(NewRemoteTool(name, remote, caller))
		r.logger.Info("bound remote tool",
			zap.String("tool", name),
			zap.String("server", server),
			zap.String("remote", remote))
		bound = append(bound, name)
	}
	return bound
}
