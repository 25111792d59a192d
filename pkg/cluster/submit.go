package cluster

import (
	"context"
	"errors"
	"time"

	hraft "github.com/hashicorp/raft"
	"go.uber.org/zap"
)

// submit encodes and applies a command through the controller log and waits
// for the FSM result. An error returned by the FSM is returned as is.
func (c *Controller) submit(ctx context.Context, t CommandType, payload any) (any, error) {
	if !c.IsLeader() {
		return nil, ErrNotLeader
	}

	cmd, err := NewCommand(t, payload)
	if err != nil {
		return nil, err
	}
	data, err := cmd.Marshal()
	if err != nil {
		return nil, err
	}

	timeout := c.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	c.log.Debug("Submitting command",
		zap.String("id", cmd.ID),
		zap.String("type", string(cmd.Type)))

	f := c.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, hraft.ErrNotLeader) || errors.Is(err, hraft.ErrLeadershipLost) {
			return nil, ErrNotLeader
		}
		return nil, err
	}
	if err, ok := f.Response().(error); ok {
		return nil, err
	}
	return f.Response(), nil
}
