// Package service is the orchestration layer over the flow repository,
// rehydration engine, work queue, and gates. It owns operational
// logging; the layers below stay silent so embedders can use them as
// plain libraries.
package service

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/engine"
	"github.com/cadmalab/flowstore/internal/flow"
	"github.com/cadmalab/flowstore/internal/work"
)

// Service wires the record store, engine, queue, and gates into one
// front door. All methods are safe for concurrent use.
type Service struct {
	repo   flow.Repository
	engine *engine.Engine
	queue  *work.Queue
	gates  *work.Gates
	log    *logrus.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger replaces the default logger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithQueue replaces the default empty work queue.
func WithQueue(q *work.Queue) Option {
	return func(s *Service) { s.queue = q }
}

// WithGates replaces the default gate service.
func WithGates(g *work.Gates) Option {
	return func(s *Service) { s.gates = g }
}

// New creates a Service over the repository and engine. The default
// logger discards output; pass WithLogger to see anything.
func New(repo flow.Repository, eng *engine.Engine, opts ...Option) *Service {
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := &Service{
		repo:   repo,
		engine: eng,
		queue:  work.NewQueue(),
		gates:  work.NewGates(),
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartFlow creates a new flow and returns its id.
func (s *Service) StartFlow(ctx context.Context, name, status string, metadata docval.Object) (string, error) {
	id, err := s.repo.CreateFlow(ctx, name, status, metadata)
	if err != nil {
		s.log.WithError(err).Error("start flow failed")
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"flow":   id,
		"name":   name,
		"status": status,
	}).Info("flow started")
	return id, nil
}

// Meta returns a flow's bookkeeping row.
func (s *Service) Meta(ctx context.Context, flowID string) (flow.Meta, error) {
	return s.repo.GetFlowMeta(ctx, flowID)
}

// Append appends one record at the flow's tip via the engine, which
// retries lost version races and applies the snapshot policy.
func (s *Service) Append(ctx context.Context, flowID string, in engine.RecordInput) (flow.PersistResult, error) {
	res, err := s.engine.Append(ctx, flowID, in)
	if err != nil {
		s.log.WithError(err).WithField("flow", flowID).Error("append failed")
		return res, err
	}
	if res.Conflict {
		s.log.WithFields(logrus.Fields{
			"flow": flowID,
			"key":  in.Key,
		}).Warn("append conflicted after retries")
		return res, nil
	}
	s.log.WithFields(logrus.Fields{
		"flow":    flowID,
		"key":     in.Key,
		"version": res.NewVersion,
	}).Debug("record appended")
	return res, nil
}

// Persist appends one record at an explicit cursor and version. Unlike
// Append it never retries; a version mismatch surfaces as a conflicted
// result. For callers that manage optimistic concurrency themselves.
func (s *Service) Persist(ctx context.Context, rec flow.Record, expectedVersion int64) (flow.PersistResult, error) {
	return s.repo.PersistData(ctx, rec, expectedVersion)
}

// Read returns records with cursor strictly greater than fromCursor.
// Pass -1 to read the full history.
func (s *Service) Read(ctx context.Context, flowID string, fromCursor int64) ([]flow.Record, error) {
	return s.repo.ReadData(ctx, flowID, fromCursor)
}

// Branch forks a new flow from the parent's prefix up to and including
// parentCursor.
func (s *Service) Branch(ctx context.Context, parentID, name, status string, parentCursor int64, metadata docval.Object) (string, error) {
	id, err := s.repo.CreateBranch(ctx, parentID, name, status, parentCursor, metadata)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"parent": parentID,
			"cursor": parentCursor,
		}).Error("branch failed")
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"parent": parentID,
		"branch": id,
		"cursor": parentCursor,
	}).Info("branch created")
	return id, nil
}

// Rehydrate reconstructs the flow's state and the cursor it
// corresponds to.
func (s *Service) Rehydrate(ctx context.Context, flowID string) (docval.Object, int64, error) {
	return s.engine.Rehydrate(ctx, flowID)
}

// Snapshot captures the flow's current state and returns the snapshot
// id.
func (s *Service) Snapshot(ctx context.Context, flowID string) (string, error) {
	id, err := s.engine.Snapshot(ctx, flowID)
	if err != nil {
		s.log.WithError(err).WithField("flow", flowID).Error("snapshot failed")
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"flow":     flowID,
		"snapshot": id,
	}).Info("snapshot saved")
	return id, nil
}

// SetStatus updates the flow's status label.
func (s *Service) SetStatus(ctx context.Context, flowID, status string) (flow.Meta, error) {
	meta, err := s.repo.SetStatus(ctx, flowID, status)
	if err != nil {
		return flow.Meta{}, err
	}
	s.log.WithFields(logrus.Fields{
		"flow":   flowID,
		"status": status,
	}).Info("status updated")
	return meta, nil
}

// GetStatus returns the flow's current status label.
func (s *Service) GetStatus(ctx context.Context, flowID string) (string, error) {
	meta, err := s.repo.GetFlowMeta(ctx, flowID)
	if err != nil {
		return "", err
	}
	return meta.Status, nil
}

// FlowExists reports whether the flow exists.
func (s *Service) FlowExists(ctx context.Context, flowID string) (bool, error) {
	return s.repo.FlowExists(ctx, flowID)
}

// CountRecords returns the number of records, or -1 for a missing
// flow.
func (s *Service) CountRecords(ctx context.Context, flowID string) (int64, error) {
	return s.repo.CountRecords(ctx, flowID)
}

// DeleteFlow removes the flow, orphaning its children.
func (s *Service) DeleteFlow(ctx context.Context, flowID string) error {
	if err := s.repo.DeleteFlow(ctx, flowID); err != nil {
		return err
	}
	s.log.WithField("flow", flowID).Info("flow deleted")
	return nil
}

// Prune truncates the flow's history at fromCursor, deleting branches
// forked at a pruned position.
func (s *Service) Prune(ctx context.Context, flowID string, fromCursor int64) error {
	if err := s.repo.PruneFromCursor(ctx, flowID, fromCursor); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"flow":   flowID,
		"cursor": fromCursor,
	}).Info("flow pruned")
	return nil
}

// EnqueueStep queues a step for a worker to claim.
func (s *Service) EnqueueStep(flowID, stepID string, payload docval.Object) {
	s.queue.Enqueue(flow.WorkItem{FlowID: flowID, StepID: stepID, Payload: payload})
	s.log.WithFields(logrus.Fields{
		"flow": flowID,
		"step": stepID,
	}).Debug("step enqueued")
}

// ClaimWork hands the oldest queued step to a worker. ok is false when
// no work is pending.
func (s *Service) ClaimWork(workerID string) (flow.WorkItem, bool) {
	item, ok := s.queue.Claim(workerID)
	if ok {
		s.log.WithFields(logrus.Fields{
			"flow":   item.FlowID,
			"step":   item.StepID,
			"worker": workerID,
		}).Debug("work claimed")
	}
	return item, ok
}

// OpenGate opens the gate for a step, recording the external input
// that unblocked it.
func (s *Service) OpenGate(flowID, stepID string, input docval.Object) {
	s.gates.Open(flowID, stepID, input)
	s.log.WithFields(logrus.Fields{
		"flow": flowID,
		"step": stepID,
	}).Info("gate opened")
}

// CloseGate closes the gate for a step.
func (s *Service) CloseGate(flowID, stepID string) {
	s.gates.Close(flowID, stepID)
	s.log.WithFields(logrus.Fields{
		"flow": flowID,
		"step": stepID,
	}).Info("gate closed")
}

// GateOpen reports whether the gate for a step is open.
func (s *Service) GateOpen(flowID, stepID string) bool {
	return s.gates.IsOpen(flowID, stepID)
}

// GateInput returns the input recorded when the gate was opened.
func (s *Service) GateInput(flowID, stepID string) (docval.Object, bool) {
	return s.gates.Input(flowID, stepID)
}
