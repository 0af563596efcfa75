package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/ctxutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
)

/*
Notifier receives lifecycle events for a job run. Implementations publish them
to subscribers (redis pub/sub) or just log them. Calls must not block for long;
they happen on the worker goroutine.
*/
type Notifier interface {
	JobProgress(job *types.JobRun, stage string, pct int, msg string)
	JobYielded(job *types.JobRun, stage string, msg string)
	JobFailed(job *types.JobRun, stage string, msg string)
	JobDone(job *types.JobRun)
}

/*
Context is the execution handle for a single tick of a job run.
It wraps:
	- The mutable job_run row,
	- The decoded payload,
	- The notification side-effects,
	- And the only sanctioned ways to report progress, requeue, or terminate
*Pipelines never touch job_run directly. They must go through this object.*
*/
type Context struct {
	Ctx    context.Context
	Job    *types.JobRun
	Repo   repos.JobRunRepo
	Notify Notifier
	// RequeueDelay is the available_at offset applied by Yield.
	RequeueDelay time.Duration
	payload      map[string]any
}

/*
NewContext constructs a runtime.Context for a claimed job.
The payload is decoded eagerly; a malformed payload leaves an empty map so the
handler's own validation reports it.
*/
func NewContext(ctx context.Context, job *types.JobRun, repo repos.JobRunRepo, notify Notifier) *Context {
	c := &Context{
		Ctx:    ctx,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil || m == nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c.Ctx == nil || c.Job == nil {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{
		JobID:     c.Job.ID.String(),
		BookID:    c.PayloadString("book_id"),
		VersionID: c.PayloadString("book_version_id"),
	})
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

/*
PayloadInt reads a numeric field. JSON numbers decode as float64; numeric
strings are accepted too. ok is false when the key is missing or unparseable.
*/
func (c *Context) PayloadInt(key string) (int, bool) {
	switch v := c.Payload()[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	default:
		return 0, false
	}
}

func (c *Context) PayloadBool(key string) bool {
	switch v := c.Payload()[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

// PayloadStrings reads a list of strings, dropping blanks and non-strings.
func (c *Context) PayloadStrings(key string) []string {
	raw, ok := c.Payload()[key].([]any)
	if !ok {
		if ss, ok := c.Payload()[key].([]string); ok {
			raw = make([]any, 0, len(ss))
			for _, s := range ss {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s := c.PayloadString(key)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) dbc() dbctx.Context {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return dbctx.Context{Ctx: ctx}
}

func (c *Context) hasRow() bool {
	return c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil
}

var guarded = []string{types.StatusCanceled}

/*
Update applies arbitrary field updates to the job_run row, guarded so a
canceled job is never overwritten. Prefer Progress/Yield/Fail/Succeed for
lifecycle transitions.
*/
func (c *Context) Update(updates map[string]any) error {
	if !c.hasRow() {
		return nil
	}
	_, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, guarded, toIfaceMap(updates))
	return err
}

/*
Progress persists stage/progress/message plus a heartbeat and notifies.
The status stays whatever the claim set ("running").
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	if c.hasRow() {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, guarded, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job, stage, pct, msg)
	}
}

/*
Yield ends this tick without ending the job. The patch is merged into the
payload (the next tick reads it back), the row goes back to queued with
available_at pushed out by RequeueDelay, and the lock is released.
*/
func (c *Context) Yield(stage string, msg string, patch map[string]any) error {
	if c == nil {
		return nil
	}
	p := c.Payload()
	for k, v := range patch {
		p[k] = v
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now().UTC()
	availableAt := now.Add(c.RequeueDelay)

	if c.hasRow() {
		ok, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, guarded, map[string]interface{}{
			"status":       types.StatusQueued,
			"stage":        stage,
			"message":      msg,
			"payload":      datatypes.JSON(raw),
			"available_at": availableAt,
			"locked_at":    nil,
			"yields":       c.Job.Yields + 1,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	if c.Job != nil {
		c.Job.Status = types.StatusQueued
		c.Job.Stage = stage
		c.Job.Message = msg
		c.Job.Payload = datatypes.JSON(raw)
		c.Job.AvailableAt = &availableAt
		c.Job.LockedAt = nil
		c.Job.Yields++
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobYielded(c.Job, stage, msg)
	}
	return nil
}

/*
Fail marks the run terminally failed: status=failed, error recorded, lock
cleared. A canceled job is left alone and nothing is emitted.
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if c.hasRow() {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, guarded, map[string]interface{}{
			"status":        types.StatusFailed,
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Status = types.StatusFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job, stage, msg)
	}
}

/*
Succeed marks the run terminally succeeded and stores result as JSON.
The human-readable msg is kept on the row.
*/
func (c *Context) Succeed(finalStage string, msg string, result any) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	if c.hasRow() {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, guarded, map[string]interface{}{
			"status":       types.StatusSucceeded,
			"stage":        finalStage,
			"progress":     100,
			"message":      msg,
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Status = types.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Message = msg
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobDone(c.Job)
	}
}

func toIfaceMap(in map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
