package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shipflow/api/internal/auth"
	"shipflow/api/internal/blobstore"
	"shipflow/api/internal/config"
	"shipflow/api/internal/events"
	"shipflow/api/internal/export"
	"shipflow/api/internal/ledger"
	"shipflow/api/internal/rbac"
	"shipflow/api/internal/search"
	"shipflow/api/internal/store"
	"shipflow/api/internal/workflow"
)

type Session struct {
	Token     string
	Actor     string
	Roles     []rbac.Role
	JTI       string
	ExpiresAt time.Time
}

type pinger interface {
	Ping(ctx context.Context) error
}

type historySource interface {
	History(shipmentID string, limit int) ([]ledger.Entry, error)
	StateAt(shipmentID, hash string) (workflow.Shipment, error)
}

type activityFeed interface {
	Recent(ctx context.Context, shipmentID string, limit int) ([]events.Message, error)
}

type eventLog interface {
	ListEvents(ctx context.Context, shipmentID string, limit int) ([]store.EventRecord, error)
}

type searcher interface {
	Search(q search.Query) search.Response
}

type revocationList interface {
	Revoke(ctx context.Context, jti, actor string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// ReadinessCheck is an extra dependency reported by /api/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the optional adapters behind the API. Nil fields turn
// the matching endpoints into 503 responses or empty payloads.
type Dependencies struct {
	Database pinger
	Blobs    blobstore.Store
	Ledger   historySource
	Feed     activityFeed
	Events   eventLog
	Search   searcher
	Export   exporter
	Revoked  revocationList
	Checks   []ReadinessCheck
}

type Service struct {
	cfg    config.Config
	engine *workflow.Engine
	deps   Dependencies
}

func New(cfg config.Config, engine *workflow.Engine, deps Dependencies) *Service {
	return &Service{cfg: cfg, engine: engine, deps: deps}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.deps.Database == nil {
		return nil
	}
	return s.deps.Database.Ping(ctx)
}

// CheckDependencies runs every configured readiness check.
func (s *Service) CheckDependencies(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.deps.Checks))
	for _, check := range s.deps.Checks {
		results[check.Name] = check.Check(ctx)
	}
	return results
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.deps.Revoked != nil {
		revoked, err := s.deps.Revoked.IsRevoked(ctx, claims.JTI)
		if err != nil {
			return Session{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Session{}, auth.ErrRevokedToken
		}
	}
	roles, err := s.engine.Roles().Roles(ctx, claims.Sub)
	if err != nil {
		return Session{}, fmt.Errorf("load roles for %s: %w", claims.Sub, err)
	}
	return Session{
		Token:     token,
		Actor:     claims.Sub,
		Roles:     roles,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the token behind session until it would have expired.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.deps.Revoked == nil {
		return domainError(http.StatusServiceUnavailable, "SESSION_STORE_UNAVAILABLE", "Token revocation not configured", nil)
	}
	return s.deps.Revoked.Revoke(ctx, session.JTI, session.Actor, session.ExpiresAt)
}

func (s *Service) GrantRole(ctx context.Context, session Session, roleName, actor string) (map[string]any, error) {
	if err := s.engine.Roles().RequireAdministrator(ctx, session.Actor); err != nil {
		return nil, err
	}
	role, ok := rbac.Parse(roleName)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown role", map[string]any{"role": roleName})
	}
	if err := s.engine.Roles().Grant(ctx, session.Actor, role, actor); err != nil {
		return nil, err
	}
	return s.Roles(ctx, actor)
}

func (s *Service) RevokeRole(ctx context.Context, session Session, roleName, actor string) (map[string]any, error) {
	if err := s.engine.Roles().RequireAdministrator(ctx, session.Actor); err != nil {
		return nil, err
	}
	role, ok := rbac.Parse(roleName)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown role", map[string]any{"role": roleName})
	}
	if err := s.engine.Roles().Revoke(ctx, session.Actor, role, actor); err != nil {
		return nil, err
	}
	return s.Roles(ctx, actor)
}

func (s *Service) Roles(ctx context.Context, actor string) (map[string]any, error) {
	roles, err := s.engine.Roles().Roles(ctx, actor)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	return map[string]any{"actor": actor, "roles": roles}, nil
}

func (s *Service) ListShipments(ctx context.Context) ([]workflow.Summary, error) {
	items, err := s.engine.ListShipments(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []workflow.Summary{}
	}
	return items, nil
}

func (s *Service) GetShipment(ctx context.Context, id string) (ShipmentView, error) {
	shipment, err := s.engine.Shipment(ctx, id)
	if err != nil {
		return ShipmentView{}, err
	}
	return newShipmentView(shipment), nil
}

func (s *Service) GetStage(ctx context.Context, id string, stageIndex int) (StageView, error) {
	shipment, err := s.engine.Shipment(ctx, id)
	if err != nil {
		return StageView{}, err
	}
	if !shipment.HasStage(stageIndex) {
		return StageView{}, workflow.NewError(workflow.ErrNotFound, workflow.ErrStageOutOfRange, "stage %d does not exist (shipment has %d stages)", stageIndex, shipment.StageCount())
	}
	return newStageView(shipment, stageIndex), nil
}

// CreateShipment accepts either a custom stage list or the standard
// lifecycle with shared signers and info providers.
func (s *Service) CreateShipment(ctx context.Context, session Session, file workflow.TemplateFile) (ShipmentView, error) {
	shipment, err := s.engine.CreateFromTemplate(ctx, session.Actor, file)
	if err != nil {
		return ShipmentView{}, err
	}
	return newShipmentView(shipment), nil
}

func (s *Service) UploadDocument(ctx context.Context, session Session, id string, stageIndex int, name string) (ShipmentView, error) {
	shipment, err := s.engine.UploadDocument(ctx, session.Actor, id, stageIndex, name)
	if err != nil {
		return ShipmentView{}, err
	}
	return newShipmentView(shipment), nil
}

// StoreDocument keeps the content first and only then records the upload,
// so a recorded document always has bytes behind it.
func (s *Service) StoreDocument(ctx context.Context, session Session, id string, stageIndex int, name, contentType string, body io.Reader) (map[string]any, error) {
	if s.deps.Blobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage not configured", nil)
	}
	name = strings.TrimSpace(name)
	if err := s.engine.AuthorizeUpload(ctx, session.Actor, id, stageIndex, name); err != nil {
		return nil, err
	}
	object, err := s.deps.Blobs.Put(ctx, blobstore.Object{
		ShipmentID:  id,
		Stage:       stageIndex,
		Name:        name,
		ContentType: contentType,
		UploadedBy:  session.Actor,
		UploadedAt:  time.Now().UTC(),
	}, body)
	if err != nil {
		return nil, err
	}
	shipment, err := s.engine.UploadDocument(ctx, session.Actor, id, stageIndex, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"object": object, "shipment": newShipmentView(shipment)}, nil
}

func (s *Service) OpenDocument(ctx context.Context, id string, stageIndex int, name string) (blobstore.Object, io.ReadCloser, error) {
	if s.deps.Blobs == nil {
		return blobstore.Object{}, nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage not configured", nil)
	}
	if _, err := s.GetStage(ctx, id, stageIndex); err != nil {
		return blobstore.Object{}, nil, err
	}
	return s.deps.Blobs.Get(ctx, id, stageIndex, name)
}

func (s *Service) ApproveStage(ctx context.Context, session Session, id string, stageIndex int) (ShipmentView, error) {
	shipment, err := s.engine.ApproveStage(ctx, session.Actor, id, stageIndex)
	if err != nil {
		return ShipmentView{}, err
	}
	return newShipmentView(shipment), nil
}

// History merges the three audit views of a shipment. Each source is
// optional; a failing source is reported instead of failing the request.
func (s *Service) History(ctx context.Context, id string, limit int) (map[string]any, error) {
	if _, err := s.engine.Shipment(ctx, id); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"shipmentId": id,
		"ledger":     []ledger.Entry{},
		"events":     []store.EventRecord{},
		"recent":     []events.Message{},
	}
	unavailable := []string{}

	if s.deps.Ledger != nil {
		entries, err := s.deps.Ledger.History(id, limit)
		switch {
		case err == nil:
			payload["ledger"] = entries
		case errors.Is(err, ledger.ErrNoHistory):
		default:
			unavailable = append(unavailable, "ledger")
		}
	}
	if s.deps.Events != nil {
		records, err := s.deps.Events.ListEvents(ctx, id, limit)
		if err != nil {
			unavailable = append(unavailable, "events")
		} else {
			payload["events"] = records
		}
	}
	if s.deps.Feed != nil {
		recent, err := s.deps.Feed.Recent(ctx, id, limit)
		if err != nil {
			unavailable = append(unavailable, "recent")
		} else {
			payload["recent"] = recent
		}
	}
	if len(unavailable) > 0 {
		payload["unavailable"] = unavailable
	}
	return payload, nil
}

// ShipmentAt returns the shipment as recorded by one ledger commit.
func (s *Service) ShipmentAt(ctx context.Context, id, hash string) (ShipmentView, error) {
	if s.deps.Ledger == nil {
		return ShipmentView{}, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Ledger not configured", nil)
	}
	if _, err := s.engine.Shipment(ctx, id); err != nil {
		return ShipmentView{}, err
	}
	shipment, err := s.deps.Ledger.StateAt(id, hash)
	if err != nil {
		return ShipmentView{}, err
	}
	return newShipmentView(shipment), nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.deps.Search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.deps.Search.Search(q)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.deps.Export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	return s.deps.Export.Export(ctx, req)
}

func (s *Service) MaxUploadBytes() int64 {
	if s.cfg.MaxUploadMB <= 0 {
		return 25 << 20
	}
	return s.cfg.MaxUploadBytes()
}
