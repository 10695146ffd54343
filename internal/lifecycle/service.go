package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/audit"
	"github.com/anungis437/nzila-automation-sub010/internal/events"
	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

// DefaultMaxAttempts bounds how often Apply re-reads after a version conflict.
const DefaultMaxAttempts = 3

// Artifact names added to every sealed transition pack.
const (
	AuditArtifactName   = "audit-entry.json"
	PayloadArtifactName = "transition-payload.json"
)

// ErrPostCommit is returned when the state change was committed but a
// required follow-up (audit append or evidence sealing) failed. The result
// returned alongside it describes the committed state.
var ErrPostCommit = errors.New("transition committed but follow-up failed")

var tracer = otel.Tracer("github.com/anungis437/nzila-automation-sub010/internal/lifecycle")

// Hooks are optional callbacks for recording outcomes. Nil fields are skipped.
type Hooks struct {
	// OnTransition receives "ok", a rejection code, "conflict" or "error".
	OnTransition func(entityType, outcome string)
	OnAudit      func()
	OnSeal       func()
	OnPublish    func(success bool)
}

// CreateRequest creates a resource in its machine's initial state.
type CreateRequest struct {
	EntityType       string         `json:"entityType" binding:"required"`
	ID               string         `json:"id"`
	ResourceEntityID string         `json:"resourceEntityId"`
	Attributes       map[string]any `json:"attributes"`
}

// ApplyRequest proposes moving a resource to Target.
type ApplyRequest struct {
	EntityType string
	ID         string
	Target     fsm.State
	Context    fsm.Context
	Payload    fsm.Payload
	// Artifacts are added to the evidence pack of edges that require one.
	Artifacts []evidence.ArtifactDescriptor
}

// ApplyResult is the outcome of an accepted transition.
type ApplyResult struct {
	Resource *Resource                  `json:"resource"`
	Result   fsm.Result                 `json:"result"`
	Audit    *audit.Record              `json:"audit,omitempty"`
	Records  []events.Record            `json:"records,omitempty"`
	Pack     *evidence.Pack             `json:"pack,omitempty"`
	Seal     *evidence.Seal             `json:"seal,omitempty"`
	Skipped  []evidence.SkippedArtifact `json:"skipped,omitempty"`
	Attempts int                        `json:"attempts"`
}

// Service applies transitions to stored resources.
type Service struct {
	catalog       *fsm.Catalog
	store         Store
	ledger        audit.Ledger
	publisher     events.Publisher  // nil = no publishing
	builder       *evidence.Builder // never nil
	evidenceStore evidence.Store    // nil = sealed packs are returned but not persisted
	keyring       *evidence.Keyring // nil = unsigned seals
	hooks         Hooks
	maxAttempts   int
	now           func() time.Time
	logger        *zap.Logger
}

// NewService creates a Service.
func NewService(catalog *fsm.Catalog, store Store, ledger audit.Ledger, logger *zap.Logger) *Service {
	return &Service{
		catalog:     catalog,
		store:       store,
		ledger:      ledger,
		builder:     evidence.NewBuilder(logger),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// SetPublisher configures where rendered events and actions go.
func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// SetEvidence configures pack building, persistence and signing.
// A nil builder keeps the default one.
func (s *Service) SetEvidence(b *evidence.Builder, store evidence.Store, kr *evidence.Keyring) {
	if b != nil {
		s.builder = b
	}
	s.evidenceStore = store
	s.keyring = kr
}

// SetHooks configures outcome callbacks.
func (s *Service) SetHooks(h Hooks) {
	s.hooks = h
}

// SetMaxAttempts bounds conflict retries. Values below 1 are ignored.
func (s *Service) SetMaxAttempts(n int) {
	if n >= 1 {
		s.maxAttempts = n
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Catalog returns the machines the service governs.
func (s *Service) Catalog() *fsm.Catalog {
	return s.catalog
}

// Create stores a new resource in its machine's initial state. A random id
// is assigned when none is given.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Resource, error) {
	m, err := s.catalog.Get(req.EntityType)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := s.now().UTC()
	r := &Resource{
		EntityType:       req.EntityType,
		ID:               id,
		ResourceEntityID: req.ResourceEntityID,
		State:            m.Initial,
		Attributes:       req.Attributes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("resource created",
		zap.String("entity_type", r.EntityType),
		zap.String("id", r.ID),
		zap.String("state", string(r.State)),
	)
	return r, nil
}

// Get returns a resource.
func (s *Service) Get(ctx context.Context, entityType, id string) (*Resource, error) {
	if _, err := s.catalog.Get(entityType); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, entityType, id)
}

// Available lists the transitions the caller could take right now.
func (s *Service) Available(ctx context.Context, entityType, id string, tc fsm.Context, payload fsm.Payload) (*Resource, []fsm.Result, error) {
	m, err := s.catalog.Get(entityType)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.store.Get(ctx, entityType, id)
	if err != nil {
		return nil, nil, err
	}
	tc, err = bindEntity(r, tc)
	if err != nil {
		return nil, nil, err
	}
	return r, fsm.Available(m, r.State, tc, r.ID, mergePayload(payload, r.Attributes)), nil
}

// History returns the audit records of a resource, oldest first.
func (s *Service) History(ctx context.Context, entityType, id string) ([]*audit.Record, error) {
	return s.ledger.ListByTarget(ctx, entityType, id)
}

// Apply performs a transition. A rejected transition is returned as a
// *fsm.Rejection error and nothing is written.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Apply", trace.WithAttributes(
		attribute.String("entity_type", req.EntityType),
		attribute.String("resource_id", req.ID),
		attribute.String("target", string(req.Target)),
	))
	defer span.End()

	out, err := s.apply(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (s *Service) apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	m, err := s.catalog.Get(req.EntityType)
	if err != nil {
		return nil, err
	}

	var (
		tc      fsm.Context
		payload fsm.Payload
		result  fsm.Result
		updated *Resource
	)
	attempt := 0
	for {
		attempt++
		current, err := s.store.Get(ctx, req.EntityType, req.ID)
		if err != nil {
			return nil, err
		}
		tc, err = bindEntity(current, req.Context)
		if err != nil {
			return nil, err
		}
		payload = mergePayload(req.Payload, current.Attributes)

		result = fsm.Attempt(m, current.State, req.Target, tc, current.ID, payload)
		if !result.OK() {
			s.observeTransition(req.EntityType, string(result.Rejection.Code))
			s.logger.Info("transition rejected",
				zap.String("entity_type", req.EntityType),
				zap.String("id", req.ID),
				zap.String("from", string(current.State)),
				zap.String("to", string(req.Target)),
				zap.String("code", string(result.Rejection.Code)),
				zap.String("actor_id", tc.ActorID),
			)
			return nil, result.Rejection
		}

		updated, err = s.store.CompareAndSwap(ctx, req.EntityType, req.ID, current.Version, result.To, s.now())
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) {
			s.observeTransition(req.EntityType, "error")
			return nil, err
		}
		if attempt >= s.maxAttempts {
			s.observeTransition(req.EntityType, "conflict")
			return nil, fmt.Errorf("apply %s/%s: gave up after %d attempts: %w", req.EntityType, req.ID, attempt, err)
		}
		s.logger.Debug("version conflict, retrying",
			zap.String("entity_type", req.EntityType),
			zap.String("id", req.ID),
			zap.Int("attempt", attempt),
		)
	}
	s.observeTransition(req.EntityType, "ok")

	out := &ApplyResult{Resource: updated, Result: result, Attempts: attempt}
	s.logger.Info("transition applied",
		zap.String("entity_type", req.EntityType),
		zap.String("id", req.ID),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
		zap.String("label", result.Label),
		zap.String("actor_id", tc.ActorID),
	)

	entry, err := audit.BuildTransitionAuditEntry(result, tc, req.EntityType, req.ID, audit.WithClock(s.now))
	if err != nil {
		return out, fmt.Errorf("%w: build audit entry: %w", ErrPostCommit, err)
	}
	record, err := s.ledger.Append(ctx, entry)
	if err != nil {
		s.logger.Error("audit append failed after commit",
			zap.String("entity_type", req.EntityType),
			zap.String("id", req.ID),
			zap.String("audit_id", entry.ID),
			zap.Error(err),
		)
		return out, fmt.Errorf("%w: append audit entry: %w", ErrPostCommit, err)
	}
	out.Audit = record
	if s.hooks.OnAudit != nil {
		s.hooks.OnAudit()
	}

	out.Records = s.records(req, result, entry)
	s.publish(ctx, out.Records)

	if result.EvidenceRequired {
		if err := s.seal(ctx, req, entry, payload, out); err != nil {
			s.logger.Error("evidence sealing failed after commit",
				zap.String("entity_type", req.EntityType),
				zap.String("id", req.ID),
				zap.String("audit_id", entry.ID),
				zap.Error(err),
			)
			return out, fmt.Errorf("%w: seal evidence: %w", ErrPostCommit, err)
		}
	}
	return out, nil
}

// records turns rendered events and actions into publishable records.
func (s *Service) records(req ApplyRequest, res fsm.Result, entry audit.Entry) []events.Record {
	now := s.now().UTC()
	out := make([]events.Record, 0, len(res.Events)+len(res.Actions))
	base := events.Record{
		EntityType: req.EntityType,
		ResourceID: req.ID,
		AuditID:    entry.ID,
		OccurredAt: now,
	}
	for _, e := range res.Events {
		r := base
		r.ID = uuid.New().String()
		r.Kind = events.KindEvent
		r.Type = e.Type
		r.Data = e.Data
		out = append(out, r)
	}
	for _, a := range res.Actions {
		r := base
		r.ID = uuid.New().String()
		r.Kind = events.KindAction
		r.Type = a.Type
		r.Data = a.Params
		if a.Timeout > 0 {
			r.Timeout = a.Timeout.String()
			r.DueAt = now.Add(a.Timeout)
		}
		out = append(out, r)
	}
	return out
}

// publish is best effort: the transition already happened.
func (s *Service) publish(ctx context.Context, records []events.Record) {
	if s.publisher == nil || len(records) == 0 {
		return
	}
	err := s.publisher.Publish(ctx, records)
	if s.hooks.OnPublish != nil {
		s.hooks.OnPublish(err == nil)
	}
	if err != nil {
		s.logger.Error("event publish failed (non-fatal)",
			zap.Int("count", len(records)),
			zap.String("audit_id", records[0].AuditID),
			zap.Error(err),
		)
	}
}

// seal builds the transition's evidence pack. The run id is the audit entry
// id, so the pack id can be derived from the audit trail.
func (s *Service) seal(ctx context.Context, req ApplyRequest, entry audit.Entry, payload fsm.Payload, out *ApplyResult) error {
	entryJSON, err := evidence.CanonicalJSON(entry)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = fsm.Payload{}
	}
	payloadJSON, err := evidence.CanonicalJSON(payload)
	if err != nil {
		return err
	}

	descriptors := make([]evidence.ArtifactDescriptor, 0, len(req.Artifacts)+2)
	descriptors = append(descriptors, req.Artifacts...)
	descriptors = append(descriptors,
		evidence.ArtifactDescriptor{Name: AuditArtifactName, Category: "audit", Content: entryJSON},
		evidence.ArtifactDescriptor{Name: PayloadArtifactName, Category: "payload", Content: payloadJSON},
	)

	built, seal, err := s.builder.BuildAndSeal(ctx, evidence.BuildInput{
		RunID:       entry.ID,
		Descriptors: descriptors,
	}, s.keyring.SealOptions())
	if err != nil {
		return err
	}
	if s.evidenceStore != nil {
		if err := s.evidenceStore.Save(ctx, built.Pack, seal); err != nil {
			return fmt.Errorf("save pack %s: %w", built.Pack.PackID, err)
		}
	}
	if s.hooks.OnSeal != nil {
		s.hooks.OnSeal()
	}

	out.Pack = &built.Pack
	out.Seal = &seal
	out.Skipped = built.Skipped
	s.logger.Info("transition evidence sealed",
		zap.String("pack_id", built.Pack.PackID),
		zap.String("merkle_root", seal.ArtifactsMerkleRoot),
		zap.Int("artifacts", seal.ArtifactCount),
		zap.Bool("signed", seal.Signed()),
	)
	return nil
}

func (s *Service) observeTransition(entityType, outcome string) {
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(entityType, strings.ToLower(outcome))
	}
}

// bindEntity fills the owning entity from the resource and refuses callers
// acting for a different one.
func bindEntity(r *Resource, tc fsm.Context) (fsm.Context, error) {
	if r.ResourceEntityID == "" {
		return tc, nil
	}
	if tc.ResourceEntityID == "" {
		tc.ResourceEntityID = r.ResourceEntityID
		return tc, nil
	}
	if tc.ResourceEntityID != r.ResourceEntityID {
		return tc, ErrEntityMismatch
	}
	return tc, nil
}

// mergePayload overlays stored attributes on the request payload. Stored
// attributes win so a caller cannot restate facts recorded at creation.
func mergePayload(payload fsm.Payload, attrs map[string]any) fsm.Payload {
	if len(attrs) == 0 {
		return payload
	}
	out := make(fsm.Payload, len(payload)+len(attrs))
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
