// Package mutation executes create, update, and delete calls and
// reconciles the list afterwards by re-reading it from the backend.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/clock"
	"github.com/tkingovr/adminsync/internal/fetcher"
	"github.com/tkingovr/adminsync/internal/metrics"
	"github.com/tkingovr/adminsync/internal/policy"
	"github.com/tkingovr/adminsync/internal/query"
)

// ErrNotConfirmed is returned by Remove when the user rejected or never
// answered the confirmation.
var ErrNotConfirmed = errors.New("deletion not confirmed")

// Backend performs writes and uploads.
type Backend interface {
	Create(ctx context.Context, resourcePath string, payload map[string]any) (*backend.MutationResult, error)
	Update(ctx context.Context, resourcePath, id string, payload map[string]any) (*backend.MutationResult, error)
	Delete(ctx context.Context, resourcePath, id string) (*backend.MutationResult, error)
	Upload(ctx context.Context, files []backend.UploadFile) ([]string, error)
}

// Refresher re-reads the current page.
type Refresher interface {
	Fetch(ctx context.Context) fetcher.Outcome
}

// Invalidator resets the list after a create. When unset the store is
// reset directly.
type Invalidator interface {
	Invalidate() bool
}

// Confirmer asks the user to confirm a deletion.
type Confirmer interface {
	Confirm(ctx context.Context, resource, targetID, message string) (bool, error)
}

// Recorder persists mutation outcomes.
type Recorder interface {
	Write(ctx context.Context, record *api.MutationRecord) error
}

// Options configures a Coordinator.
type Options struct {
	Resource string
	// Title is used in success notices; defaults to Resource.
	Title     string
	Path      string
	Backend   Backend
	Store     *query.Store
	Refresher Refresher
	// Invalidator replaces Store.Invalidate after a create when set.
	Invalidator Invalidator
	Validator   policy.Engine
	// Confirmer is consulted before every Remove when set.
	Confirmer Confirmer
	Reporter  fetcher.Reporter
	History   Recorder
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Result describes a completed mutation.
type Result struct {
	Outcome api.Outcome
	Message string
	Item    *api.Resource
	// Refresh is the outcome of the re-fetch issued after success.
	Refresh fetcher.Outcome
}

// Coordinator runs pessimistic writes for one resource kind. The list
// only reflects a write after a fresh read confirms it.
type Coordinator struct {
	resource    string
	title       string
	path        string
	backend     Backend
	store       *query.Store
	refresher   Refresher
	invalidator Invalidator
	validator   policy.Engine
	confirmer   Confirmer
	reporter    fetcher.Reporter
	history     Recorder
	clock       clock.Clock
	logger      *slog.Logger

	mu    sync.Mutex
	draft Draft
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	title := opts.Title
	if title == "" {
		title = opts.Resource
	}
	return &Coordinator{
		resource:    opts.Resource,
		title:       title,
		path:        opts.Path,
		backend:     opts.Backend,
		store:       opts.Store,
		refresher:   opts.Refresher,
		invalidator: opts.Invalidator,
		validator:   opts.Validator,
		confirmer:   opts.Confirmer,
		reporter:    opts.Reporter,
		history:     opts.History,
		clock:       c,
		logger:      logger.With("resource", opts.Resource),
		draft:       emptyDraft(),
	}
}

// Draft returns a copy of the pending form state.
func (c *Coordinator) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.clone()
}

// Set stores one form value.
func (c *Coordinator) Set(field string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Values[field] = value
}

// Edit starts an update of an existing item with its current values.
func (c *Coordinator) Edit(id string, values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = Draft{TargetID: id, Values: make(map[string]any, len(values))}
	for k, v := range values {
		c.draft.Values[k] = v
	}
}

// Reset discards the pending form state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = emptyDraft()
}

// Attach uploads files for field and stores the returned paths in the
// draft. On failure the field is left unset and the rest of the draft
// is untouched.
func (c *Coordinator) Attach(ctx context.Context, field string, files []backend.UploadFile) ([]string, error) {
	paths, err := c.backend.Upload(ctx, files)

	c.mu.Lock()
	if err != nil {
		delete(c.draft.Values, field)
		delete(c.draft.Attachments, field)
		if c.draft.Errors == nil {
			c.draft.Errors = make(map[string]string)
		}
		c.draft.Errors[field] = api.UserMessage(err)
		c.mu.Unlock()

		c.logger.Warn("upload failed", "field", field, "error", err)
		c.report(api.NoticeError, api.UserMessage(err))
		return nil, err
	}
	if c.draft.Attachments == nil {
		c.draft.Attachments = make(map[string][]string)
	}
	c.draft.Attachments[field] = paths
	c.draft.Values[field] = attachmentValue(paths)
	delete(c.draft.Errors, field)
	c.mu.Unlock()

	c.logger.Debug("upload stored", "field", field, "paths", len(paths))
	return paths, nil
}

// Submit sends the draft: an update when it targets an item, else a create.
func (c *Coordinator) Submit(ctx context.Context) (*Result, error) {
	d := c.Draft()
	if d.TargetID != "" {
		return c.Update(ctx, d.TargetID, d.Values)
	}
	return c.Create(ctx, d.Values)
}

// Create validates payload and posts it. On success the store goes back
// to page 1, the list is re-read, and the draft is reset. On failure the
// draft holds payload so it can be corrected.
func (c *Coordinator) Create(ctx context.Context, payload map[string]any) (*Result, error) {
	return c.run(ctx, api.MutationRequest{Resource: c.resource, Kind: api.MutationCreate, Payload: payload})
}

// Update validates payload and puts it to id. On success the current
// page is re-read.
func (c *Coordinator) Update(ctx context.Context, id string, payload map[string]any) (*Result, error) {
	return c.run(ctx, api.MutationRequest{Resource: c.resource, Kind: api.MutationUpdate, TargetID: id, Payload: payload})
}

// Remove deletes id, asking the Confirmer first when one is set. On
// success the current page is re-read and clamped if it vanished.
func (c *Coordinator) Remove(ctx context.Context, id string) (*Result, error) {
	return c.run(ctx, api.MutationRequest{Resource: c.resource, Kind: api.MutationDelete, TargetID: id})
}

// Apply executes a request consumed from the UI.
func (c *Coordinator) Apply(ctx context.Context, req api.MutationRequest) (*Result, error) {
	if req.Resource != "" && req.Resource != c.resource {
		return nil, fmt.Errorf("mutation for %q sent to %q coordinator", req.Resource, c.resource)
	}
	switch req.Kind {
	case api.MutationCreate:
		return c.Create(ctx, req.Payload)
	case api.MutationUpdate:
		return c.Update(ctx, req.TargetID, req.Payload)
	case api.MutationDelete:
		return c.Remove(ctx, req.TargetID)
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", req.Kind)
	}
}

func (c *Coordinator) run(ctx context.Context, req api.MutationRequest) (*Result, error) {
	start := c.clock.Now()
	op := string(req.Kind)
	rec := &api.MutationRecord{
		Timestamp: start,
		Resource:  c.resource,
		Kind:      req.Kind,
		TargetID:  req.TargetID,
		Payload:   req.Payload,
	}

	if req.Kind != api.MutationCreate && req.TargetID == "" {
		err := api.Validation(op, "missing item id")
		return nil, c.fail(ctx, rec, req, api.OutcomeInvalid, err)
	}

	if verr := c.validate(ctx, req, rec); verr != nil {
		return nil, c.fail(ctx, rec, req, api.OutcomeInvalid, verr)
	}

	if req.Kind == api.MutationDelete && c.confirmer != nil {
		msg := fmt.Sprintf("Delete %s %s?", c.title, req.TargetID)
		ok, err := c.confirmer.Confirm(ctx, c.resource, req.TargetID, msg)
		if err != nil || !ok {
			if err == nil {
				err = ErrNotConfirmed
			}
			rec.Outcome = api.OutcomeCancelled
			rec.Message = err.Error()
			c.finish(ctx, rec, start)
			return nil, err
		}
	}

	var (
		res *backend.MutationResult
		err error
	)
	switch req.Kind {
	case api.MutationCreate:
		res, err = c.backend.Create(ctx, c.path, req.Payload)
	case api.MutationUpdate:
		res, err = c.backend.Update(ctx, c.path, req.TargetID, req.Payload)
	case api.MutationDelete:
		res, err = c.backend.Delete(ctx, c.path, req.TargetID)
	}
	if err != nil {
		outcome := api.OutcomeFailure
		switch {
		case api.IsUnauthenticated(err):
			outcome = api.OutcomeUnauthenticated
		case api.IsCanceled(err):
			outcome = api.OutcomeCancelled
		}
		return nil, c.fail(ctx, rec, req, outcome, err)
	}

	result := &Result{Outcome: api.OutcomeSuccess, Message: res.Message, Item: res.Item}
	if result.Message == "" {
		result.Message = c.successMessage(req.Kind)
	}

	c.Reset()
	if req.Kind == api.MutationCreate {
		switch {
		case c.invalidator != nil:
			c.invalidator.Invalidate()
		case c.store != nil:
			c.store.Invalidate()
		}
	}
	if c.refresher != nil {
		result.Refresh = c.refresher.Fetch(ctx)
	}

	c.report(api.NoticeSuccess, result.Message)
	rec.Outcome = api.OutcomeSuccess
	rec.Message = result.Message
	if res.Item != nil && rec.TargetID == "" {
		rec.TargetID = res.Item.ID
	}
	c.finish(ctx, rec, start)
	c.logger.Info("mutation applied", "kind", op, "target_id", rec.TargetID)
	return result, nil
}

// validate returns a validation error when the rules deny req.
func (c *Coordinator) validate(ctx context.Context, req api.MutationRequest, rec *api.MutationRecord) error {
	if c.validator == nil {
		return nil
	}
	verdict, err := c.validator.Evaluate(ctx, &policy.EvalInput{
		Resource:  req.Resource,
		Operation: string(req.Kind),
		TargetID:  req.TargetID,
		Payload:   req.Payload,
	})
	if err != nil {
		return &api.Error{Kind: api.KindValidation, Op: string(req.Kind), Message: "validation failed", Err: err}
	}
	if !verdict.Denied() {
		return nil
	}
	rec.Rule = verdict.Rule
	msg := verdict.Message
	if msg == "" {
		msg = fmt.Sprintf("rejected by rule %s", verdict.Rule)
	}
	return api.Validation(string(req.Kind), msg)
}

// fail reports err once, keeps the submitted values in the draft, and
// records the outcome.
func (c *Coordinator) fail(ctx context.Context, rec *api.MutationRecord, req api.MutationRequest, outcome api.Outcome, err error) error {
	if req.Kind != api.MutationDelete {
		c.mu.Lock()
		if req.Payload != nil {
			attachments := c.draft.Attachments
			c.draft = Draft{TargetID: req.TargetID, Values: make(map[string]any, len(req.Payload)), Attachments: attachments}
			for k, v := range req.Payload {
				c.draft.Values[k] = v
			}
		}
		c.mu.Unlock()
	}

	if outcome != api.OutcomeCancelled {
		c.report(api.NoticeError, api.UserMessage(err))
	}
	c.logger.Warn("mutation failed", "kind", string(req.Kind), "outcome", string(outcome), "error", err)

	rec.Outcome = outcome
	rec.Message = err.Error()
	c.finish(ctx, rec, rec.Timestamp)
	return err
}

func (c *Coordinator) finish(ctx context.Context, rec *api.MutationRecord, start time.Time) {
	rec.Duration = c.clock.Now().Sub(start)
	metrics.IncMutation(c.resource, string(rec.Kind), string(rec.Outcome))
	if c.history == nil {
		return
	}
	// History must survive a cancelled request context.
	if err := c.history.Write(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("writing mutation history", "error", err)
	}
}

func (c *Coordinator) successMessage(kind api.MutationKind) string {
	switch kind {
	case api.MutationCreate:
		return c.title + " created"
	case api.MutationUpdate:
		return c.title + " updated"
	default:
		return c.title + " deleted"
	}
}

func (c *Coordinator) report(level api.NoticeLevel, message string) {
	if c.reporter != nil {
		c.reporter.Report(c.resource, level, message)
	}
}
