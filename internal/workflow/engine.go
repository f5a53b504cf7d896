package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"shipflow/api/internal/rbac"
	"shipflow/api/internal/util"
)

type Option func(*Engine)

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

type Engine struct {
	repo      Repository
	roles     *rbac.Registry
	observers []Observer
	now       func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewEngine(repo Repository, roles *rbac.Registry, opts ...Option) *Engine {
	engine := &Engine{
		repo:  repo,
		roles: roles,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

func (e *Engine) Roles() *rbac.Registry {
	return e.roles
}

// CreateShipment registers a shipment with custom stage templates and grants
// the global signer and info-provider roles to every actor they name.
func (e *Engine) CreateShipment(ctx context.Context, caller, id string, stages []StageTemplate) (Shipment, error) {
	return e.create(ctx, caller, id, LifecycleCustom, stages)
}

// CreateStandardShipment registers a shipment on the fixed
// CREATED/LOADED/IN_TRANSIT/DELIVERED lifecycle.
func (e *Engine) CreateStandardShipment(ctx context.Context, caller, id string, signers, infoProviders []string) (Shipment, error) {
	return e.create(ctx, caller, id, LifecycleStandard, StandardLifecycle(signers, infoProviders))
}

// CreateFromTemplate registers the shipment a decoded template file
// describes.
func (e *Engine) CreateFromTemplate(ctx context.Context, caller string, file TemplateFile) (Shipment, error) {
	if err := e.requireAdministrator(ctx, caller); err != nil {
		return Shipment{}, err
	}
	stages, err := file.StageTemplates()
	if err != nil {
		return Shipment{}, err
	}
	lifecycle := file.Lifecycle
	if lifecycle == "" {
		lifecycle = LifecycleCustom
	}
	return e.create(ctx, caller, file.ID, lifecycle, stages)
}

func (e *Engine) create(ctx context.Context, caller, id string, lifecycle Lifecycle, stages []StageTemplate) (Shipment, error) {
	id = strings.TrimSpace(id)
	if err := e.requireAdministrator(ctx, caller); err != nil {
		return Shipment{}, err
	}
	if id == "" {
		return Shipment{}, invalidConfiguration("shipment id is required")
	}
	normalized, err := normalizeTemplates(stages)
	if err != nil {
		return Shipment{}, err
	}

	lock := e.shipmentLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.repo.Get(ctx, id); err == nil {
		return Shipment{}, ShipmentExists(id)
	} else if !errors.Is(err, ErrNotFound) {
		return Shipment{}, fmt.Errorf("lookup shipment %s: %w", id, err)
	}

	granted, err := e.grantStageRoles(ctx, caller, normalized)
	if err != nil {
		e.revokeGrants(ctx, caller, granted)
		return Shipment{}, err
	}

	now := e.now().UTC()
	shipment := Shipment{
		ID:           id,
		Lifecycle:    lifecycle,
		Stages:       normalized,
		Runtime:      make([]StageRuntime, len(normalized)),
		CurrentStage: 0,
		Finalized:    false,
		CreatedBy:    caller,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i := range shipment.Runtime {
		shipment.Runtime[i] = StageRuntime{Uploaded: []string{}, Approvals: []string{}}
	}
	if err := e.repo.Create(ctx, shipment); err != nil {
		e.revokeGrants(ctx, caller, granted)
		return Shipment{}, err
	}
	created, err := e.repo.Get(ctx, id)
	if err != nil {
		return Shipment{}, fmt.Errorf("reload shipment %s: %w", id, err)
	}

	e.publish(ctx, e.event(EventShipmentCreated, caller, created, 0, ""))
	return created, nil
}

type roleGrant struct {
	role  rbac.Role
	actor string
}

// grantStageRoles grants every stage participant its role and returns the
// grants that did not exist before, so a failed create can take them back.
func (e *Engine) grantStageRoles(ctx context.Context, caller string, stages []StageTemplate) ([]roleGrant, error) {
	var granted []roleGrant
	grant := func(role rbac.Role, actor string) error {
		held, err := e.roles.HasRole(ctx, actor, role)
		if err != nil {
			return fmt.Errorf("check %s role of %s: %w", role, actor, err)
		}
		if held {
			return nil
		}
		if err := e.roles.Grant(ctx, caller, role, actor); err != nil {
			return fmt.Errorf("grant %s role to %s: %w", role, actor, err)
		}
		granted = append(granted, roleGrant{role: role, actor: actor})
		return nil
	}
	for _, stage := range stages {
		for _, signer := range stage.Signers {
			if err := grant(rbac.RoleSigner, signer); err != nil {
				return granted, err
			}
		}
		for _, provider := range stage.InfoProviders {
			if err := grant(rbac.RoleInfoProvider, provider); err != nil {
				return granted, err
			}
		}
	}
	return granted, nil
}

func (e *Engine) revokeGrants(ctx context.Context, caller string, grants []roleGrant) {
	for _, g := range grants {
		if err := e.roles.Revoke(context.WithoutCancel(ctx), caller, g.role, g.actor); err != nil {
			log.Printf("workflow: revoke %s role of %s after failed create: %v", g.role, g.actor, err)
		}
	}
}

// UploadDocument records name as uploaded for the stage. Any existing stage
// may receive uploads, not only the current one. Uploading the same name
// twice is a no-op.
func (e *Engine) UploadDocument(ctx context.Context, caller, id string, stageIndex int, name string) (Shipment, error) {
	name = strings.TrimSpace(name)
	lock := e.shipmentLock(id)
	lock.Lock()
	defer lock.Unlock()

	added := false
	updated, err := e.repo.Update(ctx, id, func(s *Shipment) error {
		if err := e.checkUpload(ctx, s, caller, stageIndex, name); err != nil {
			return err
		}
		runtime := &s.Runtime[stageIndex]
		if runtime.HasUpload(name) {
			return nil
		}
		runtime.Uploaded = append(runtime.Uploaded, name)
		s.UpdatedAt = e.now().UTC()
		added = true
		return nil
	})
	if err != nil {
		return Shipment{}, err
	}
	if added {
		e.publish(ctx, e.event(EventDocumentUploaded, caller, updated, stageIndex, name))
	}
	return updated, nil
}

// AuthorizeUpload runs the upload checks without recording anything.
func (e *Engine) AuthorizeUpload(ctx context.Context, caller, id string, stageIndex int, name string) error {
	shipment, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.checkUpload(ctx, &shipment, caller, stageIndex, strings.TrimSpace(name))
}

func (e *Engine) checkUpload(ctx context.Context, s *Shipment, caller string, stageIndex int, name string) error {
	if s.Finalized {
		return finalizedError(s)
	}
	if !s.HasStage(stageIndex) {
		return stageOutOfRange(stageIndex, s.StageCount())
	}
	stage := s.Stages[stageIndex]
	if !stage.HasInfoProvider(caller) {
		return unauthorized(MsgNotInfoProvider)
	}
	if err := e.requireRole(ctx, caller, rbac.RoleInfoProvider, MsgNotInfoProvider); err != nil {
		return err
	}
	if !stage.RequiresDocument(name) {
		return NewError(ErrNotFound, ErrUnknownDocument, "Document %q is not required for stage %q", name, stage.Name)
	}
	return nil
}

// ApproveStage records caller's approval of the current stage. When every
// assigned signer has approved, the shipment advances to the next stage or,
// on the last stage, becomes finalized.
func (e *Engine) ApproveStage(ctx context.Context, caller, id string, stageIndex int) (Shipment, error) {
	lock := e.shipmentLock(id)
	lock.Lock()
	defer lock.Unlock()

	var (
		advanced  bool
		finalized bool
	)
	updated, err := e.repo.Update(ctx, id, func(s *Shipment) error {
		if err := e.checkApproval(ctx, s, caller, stageIndex); err != nil {
			return err
		}
		runtime := &s.Runtime[stageIndex]
		runtime.Approvals = append(runtime.Approvals, caller)
		s.UpdatedAt = e.now().UTC()

		if len(s.PendingSigners(stageIndex)) > 0 {
			return nil
		}
		if stageIndex == s.StageCount()-1 {
			s.Finalized = true
			finalized = true
			return nil
		}
		s.CurrentStage = stageIndex + 1
		advanced = true
		return nil
	})
	if err != nil {
		return Shipment{}, err
	}

	e.publish(ctx, e.event(EventStageApproved, caller, updated, stageIndex, ""))
	switch {
	case finalized:
		e.publish(ctx, e.event(EventShipmentFinalized, caller, updated, stageIndex, ""))
	case advanced:
		e.publish(ctx, e.event(EventStageAdvanced, caller, updated, updated.CurrentStage, ""))
	}
	return updated, nil
}

func (e *Engine) checkApproval(ctx context.Context, s *Shipment, caller string, stageIndex int) error {
	if s.Finalized {
		return finalizedError(s)
	}
	if !s.HasStage(stageIndex) {
		return stageOutOfRange(stageIndex, s.StageCount())
	}
	if stageIndex != s.CurrentStage {
		return NewError(ErrStateConflict, ErrStageNotActive, "%s: stage %d is not active (current stage is %d)", MsgStageNotActive, stageIndex, s.CurrentStage)
	}
	stage := s.Stages[stageIndex]
	if !stage.HasSigner(caller) {
		return unauthorized(MsgNotSigner)
	}
	if err := e.requireRole(ctx, caller, rbac.RoleSigner, MsgNotSigner); err != nil {
		return err
	}
	if !s.DocumentsComplete(stageIndex) {
		return NewError(ErrStateConflict, ErrDocumentsIncomplete, "%s", MsgDocumentsIncomplete)
	}
	if s.Runtime[stageIndex].HasApproval(caller) {
		return NewError(ErrStateConflict, ErrAlreadyApproved, "%s", MsgAlreadyApproved)
	}
	return nil
}

func finalizedError(s *Shipment) *Error {
	if s.Lifecycle == LifecycleStandard {
		return NewError(ErrStateConflict, ErrShipmentFinalized, "%s", MsgShipmentDelivered)
	}
	return NewError(ErrStateConflict, ErrShipmentFinalized, "%s", MsgShipmentFinalized)
}

func (e *Engine) requireAdministrator(ctx context.Context, caller string) error {
	if err := e.roles.RequireAdministrator(ctx, caller); err != nil {
		if errors.Is(err, rbac.ErrUnauthorized) {
			return unauthorized(MsgNotAdministrator)
		}
		return err
	}
	return nil
}

func (e *Engine) requireRole(ctx context.Context, caller string, role rbac.Role, message string) error {
	ok, err := e.roles.HasRole(ctx, caller, role)
	if err != nil {
		return fmt.Errorf("check %s role: %w", role, err)
	}
	if !ok {
		return unauthorized(message)
	}
	return nil
}

func (e *Engine) event(kind EventType, actor string, shipment Shipment, stage int, document string) Event {
	return Event{
		ID:         util.NewID("evt"),
		Type:       kind,
		ShipmentID: shipment.ID,
		Actor:      actor,
		Stage:      stage,
		Document:   document,
		At:         e.now().UTC(),
		Shipment:   shipment,
	}
}

func (e *Engine) publish(ctx context.Context, event Event) {
	for _, observer := range e.observers {
		if err := observer.HandleEvent(ctx, event); err != nil {
			log.Printf("workflow: observer %T failed on %s for %s: %v", observer, event.Type, event.ShipmentID, err)
		}
	}
}

func (e *Engine) shipmentLock(id string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[id]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	e.locks[id] = lock
	return lock
}
