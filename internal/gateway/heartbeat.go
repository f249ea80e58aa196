package gateway

import (
	"context"

	"github.com/IIAteeneaaII/ontester/internal/login"
	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

// StartHeartbeat keeps the gateway's own device session alive and pushes
// every answer to /ws/session subscribers.
func (s *Server) StartHeartbeat(ctx context.Context, p *xhr.Poller, interval int) {
	p.Poll(ctx, interval, "get_heartbeat", nil, func(_ xhr.Response, err error) {
		ev := Event{Type: EventHeartbeat, Operator: s.client.Operator(), OK: err == nil}
		if err != nil {
			if xhr.IsSessionExpired(err) {
				// the client hook already announced it
				return
			}
			s.logger.Debug("heartbeat failed", "error", err)
			ev.Detail = map[string]any{"error": err.Error()}
		}
		s.hub.Broadcast(ev)
	})
}

// StartHook runs the device start-up probe in the background. It asks
// whether the console log is enabled and only logs the answer.
func (s *Server) StartHook(ctx context.Context) {
	go func() {
		r, err := s.client.Get(ctx, "get_console_log_enable", nil)
		if err != nil {
			s.logger.Debug("start hook failed", "error", err)
			return
		}
		s.logger.Info("device console log", "enabled", r.String("enable"), "raw", map[string]any(r))
	}()
}

// ResolveContext fills the operator, area and model from the device when
// the configured context leaves them empty.
func ResolveContext(ctx context.Context, g xhr.Getter, base operator.Context) (operator.Context, error) {
	if base.Operator != "" && base.Model != "" {
		return base, nil
	}
	id, err := login.FetchIdentity(ctx, g)
	if err != nil {
		return base, err
	}
	if base.Operator == "" {
		base.Operator = id.Operator
		base.AreaCode = id.AreaCode
	}
	if base.Model == "" {
		base.Model = id.Model
	}
	return base, nil
}
