package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msageha/herald/internal/loop"
	"github.com/msageha/herald/internal/messages"
	"github.com/msageha/herald/internal/model"
	"github.com/msageha/herald/internal/uds"
)

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(_ context.Context, req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle(uds.CmdShutdown, func(_ context.Context, req *uds.Request) *uds.Response {
		d.log(model.LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle(uds.CmdEnqueue, d.handleEnqueue)
	d.server.Handle(uds.CmdDismiss, d.handleDismiss)
	d.server.Handle(uds.CmdDismissAll, d.handleDismissAll)
	d.server.Handle(uds.CmdSuspend, d.handleSuspend)
	d.server.Handle(uds.CmdResume, d.handleResume)
	d.server.Handle(uds.CmdScope, d.handleScope)
	d.server.Handle(uds.CmdStatus, d.handleStatus)
}

// loopError maps a failed hop onto the main loop to a response.
func loopError(err error) *uds.Response {
	if errors.Is(err, loop.ErrClosed) {
		return uds.ErrorResponse(uds.ErrCodeShuttingDown, "daemon is shutting down")
	}
	return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
}

func (d *Daemon) handleEnqueue(ctx context.Context, req *uds.Request) *uds.Response {
	var params uds.EnqueueParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	msg, err := inboxFromParams(params)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	res, err := d.enqueue(ctx, msg)
	if err != nil {
		var verr *validationError
		if errors.As(err, &verr) {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		return loopError(err)
	}
	return uds.SuccessResponse(res)
}

func inboxFromParams(p uds.EnqueueParams) (model.InboxMessage, error) {
	scope, err := model.ParseScope(p.Scope)
	if err != nil {
		return model.InboxMessage{}, err
	}
	prio, err := model.ParsePriority(p.Priority)
	if err != nil {
		return model.InboxMessage{}, err
	}
	return model.InboxMessage{
		Identifier: model.Identifier(p.Identifier),
		Scope:      scope,
		Priority:   prio,
		Properties: p.Properties,
		DurationMs: p.DurationMs,
	}, nil
}

type validationError struct{ err error }

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

// enqueue is shared by the socket handler and the inbox.
func (d *Daemon) enqueue(ctx context.Context, m model.InboxMessage) (uds.EnqueueResult, error) {
	if err := m.Validate(); err != nil {
		return uds.EnqueueResult{}, &validationError{err}
	}
	var res uds.EnqueueResult
	var enqErr error
	err := d.onLoop(ctx, func() {
		rec, err := d.dispatcher.EnqueueMessage(messages.Message{
			Identifier: m.Identifier,
			Scope:      m.Scope,
			Priority:   m.Priority,
			Properties: m.Properties,
			Duration:   m.Duration(0),
		})
		if err != nil {
			enqErr = &validationError{err}
			return
		}
		if rec != nil {
			res = uds.EnqueueResult{Enqueued: true, RecordID: rec.ID, State: string(rec.State())}
		}
	})
	if err != nil {
		return res, err
	}
	return res, enqErr
}

func (d *Daemon) handleDismiss(ctx context.Context, req *uds.Request) *uds.Response {
	var params uds.DismissParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	scope, err := model.ParseScope(params.Scope)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	key := model.MessageKey{Identifier: model.Identifier(params.Identifier), Scope: scope}
	reason := model.ParseDismissReason(params.Reason)

	var ok bool
	if err := d.onLoop(ctx, func() { ok = d.dispatcher.DismissMessage(key, reason) }); err != nil {
		return loopError(err)
	}
	return uds.SuccessResponse(uds.DismissResult{Dismissed: ok})
}

func (d *Daemon) handleDismissAll(ctx context.Context, req *uds.Request) *uds.Response {
	var params uds.DismissAllParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	reason := model.ParseDismissReason(params.Reason)
	if err := d.onLoop(ctx, func() { d.dispatcher.DismissAllMessages(reason) }); err != nil {
		return loopError(err)
	}
	return uds.SuccessResponse(uds.DismissResult{Dismissed: true})
}

func (d *Daemon) handleSuspend(ctx context.Context, req *uds.Request) *uds.Response {
	var res uds.SuspendResult
	err := d.onLoop(ctx, func() {
		res.Token = string(d.dispatcher.Suspend())
		res.Tokens = d.dispatcher.Queue().Snapshot().SuspendTokens
	})
	if err != nil {
		return loopError(err)
	}
	d.log(model.LogLevelInfo, "suspended tokens=%d", res.Tokens)
	return uds.SuccessResponse(res)
}

func (d *Daemon) handleResume(ctx context.Context, req *uds.Request) *uds.Response {
	var params uds.ResumeParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if params.Token == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "token is required")
	}
	var res uds.ResumeResult
	err := d.onLoop(ctx, func() {
		res.Resumed = d.dispatcher.Resume(messages.Token(params.Token))
		res.Tokens = d.dispatcher.Queue().Snapshot().SuspendTokens
	})
	if err != nil {
		return loopError(err)
	}
	if !res.Resumed {
		d.log(model.LogLevelDebug, "resume with unknown token ignored")
	}
	return uds.SuccessResponse(res)
}

func (d *Daemon) handleScope(ctx context.Context, req *uds.Request) *uds.Response {
	var params uds.ScopeParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	scope, err := model.ParseScope(params.Scope)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	var apply func() bool
	switch params.Action {
	case uds.ScopeActivate:
		apply = func() bool { return d.dispatcher.SetScopeActive(scope, true) }
	case uds.ScopeDeactivate:
		apply = func() bool { return d.dispatcher.SetScopeActive(scope, false) }
	case uds.ScopeDestroy:
		apply = func() bool {
			if d.dispatcher.Queue().IsScopeDestroyed(scope) {
				return false
			}
			d.dispatcher.DestroyScope(scope, model.DismissScopeDestroyed)
			return true
		}
	default:
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("unknown scope action %q", params.Action))
	}

	var res uds.ScopeResult
	if err := d.onLoop(ctx, func() { res.Applied = apply() }); err != nil {
		return loopError(err)
	}
	return uds.SuccessResponse(res)
}

func (d *Daemon) handleStatus(ctx context.Context, req *uds.Request) *uds.Response {
	var snap model.QueueSnapshot
	if err := d.onLoop(ctx, func() { snap = d.dispatcher.Queue().Snapshot() }); err != nil {
		return loopError(err)
	}
	return uds.SuccessResponse(uds.StatusResult{
		PID:       os.Getpid(),
		StartedAt: d.startedAt.Format(time.RFC3339),
		Snapshot:  snap,
		Metrics:   d.metrics.build(snap),
	})
}
