package workflow

import (
	"slices"
	"time"
)

type Lifecycle string

const (
	LifecycleCustom   Lifecycle = "custom"
	LifecycleStandard Lifecycle = "standard"
)

// Stage names of the standard lifecycle.
const (
	StageCreated   = "CREATED"
	StageLoaded    = "LOADED"
	StageInTransit = "IN_TRANSIT"
	StageDelivered = "DELIVERED"
)

// StageTemplate is the immutable configuration of one stage.
type StageTemplate struct {
	Name              string   `json:"name" toml:"name"`
	RequiredDocuments []string `json:"requiredDocuments" toml:"documents"`
	Signers           []string `json:"signers" toml:"signers"`
	InfoProviders     []string `json:"infoProviders" toml:"info_providers"`
}

// StageRuntime is the mutable progress of one stage. Both lists are sets
// kept in insertion order.
type StageRuntime struct {
	Uploaded  []string `json:"uploaded"`
	Approvals []string `json:"approvals"`
}

type Shipment struct {
	ID           string          `json:"id"`
	Lifecycle    Lifecycle       `json:"lifecycle"`
	Stages       []StageTemplate `json:"stages"`
	Runtime      []StageRuntime  `json:"runtime"`
	CurrentStage int             `json:"currentStage"`
	Finalized    bool            `json:"finalized"`
	CreatedBy    string          `json:"createdBy"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Version      int64           `json:"version"`
}

// Summary is the list view of a shipment.
type Summary struct {
	ID               string    `json:"id"`
	Lifecycle        Lifecycle `json:"lifecycle"`
	StageCount       int       `json:"stageCount"`
	CurrentStage     int       `json:"currentStage"`
	CurrentStageName string    `json:"currentStageName"`
	Finalized        bool      `json:"finalized"`
	CreatedBy        string    `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// StandardLifecycle returns the fixed four-stage template used by the
// registry-style variant: no required documents and the same actors on
// every stage.
func StandardLifecycle(signers, infoProviders []string) []StageTemplate {
	names := []string{StageCreated, StageLoaded, StageInTransit, StageDelivered}
	stages := make([]StageTemplate, 0, len(names))
	for _, name := range names {
		stages = append(stages, StageTemplate{
			Name:              name,
			RequiredDocuments: []string{},
			Signers:           slices.Clone(signers),
			InfoProviders:     slices.Clone(infoProviders),
		})
	}
	return stages
}

func (t StageTemplate) Clone() StageTemplate {
	return StageTemplate{
		Name:              t.Name,
		RequiredDocuments: cloneStrings(t.RequiredDocuments),
		Signers:           cloneStrings(t.Signers),
		InfoProviders:     cloneStrings(t.InfoProviders),
	}
}

func (t StageTemplate) RequiresDocument(name string) bool {
	return slices.Contains(t.RequiredDocuments, name)
}

func (t StageTemplate) HasSigner(actor string) bool {
	return slices.Contains(t.Signers, actor)
}

func (t StageTemplate) HasInfoProvider(actor string) bool {
	return slices.Contains(t.InfoProviders, actor)
}

func (r StageRuntime) Clone() StageRuntime {
	return StageRuntime{
		Uploaded:  cloneStrings(r.Uploaded),
		Approvals: cloneStrings(r.Approvals),
	}
}

func (r StageRuntime) HasUpload(name string) bool {
	return slices.Contains(r.Uploaded, name)
}

func (r StageRuntime) HasApproval(actor string) bool {
	return slices.Contains(r.Approvals, actor)
}

// Clone returns a deep copy.
func (s Shipment) Clone() Shipment {
	out := s
	out.Stages = make([]StageTemplate, len(s.Stages))
	for i, stage := range s.Stages {
		out.Stages[i] = stage.Clone()
	}
	out.Runtime = make([]StageRuntime, len(s.Runtime))
	for i, runtime := range s.Runtime {
		out.Runtime[i] = runtime.Clone()
	}
	return out
}

func (s Shipment) StageCount() int {
	return len(s.Stages)
}

func (s Shipment) HasStage(index int) bool {
	return index >= 0 && index < len(s.Stages)
}

func (s Shipment) ActiveStage() StageTemplate {
	return s.Stages[s.CurrentStage]
}

func (s Shipment) Status() string {
	if s.Finalized {
		return "finalized"
	}
	return "active"
}

// PendingDocuments lists required documents of stage index not yet uploaded.
func (s Shipment) PendingDocuments(index int) []string {
	pending := make([]string, 0)
	for _, name := range s.Stages[index].RequiredDocuments {
		if !s.Runtime[index].HasUpload(name) {
			pending = append(pending, name)
		}
	}
	return pending
}

// DocumentsComplete reports whether every required document of stage index
// is uploaded. A stage without required documents is always complete.
func (s Shipment) DocumentsComplete(index int) bool {
	return len(s.PendingDocuments(index)) == 0
}

// PendingSigners lists assigned signers of stage index who have not approved.
func (s Shipment) PendingSigners(index int) []string {
	pending := make([]string, 0)
	for _, signer := range s.Stages[index].Signers {
		if !s.Runtime[index].HasApproval(signer) {
			pending = append(pending, signer)
		}
	}
	return pending
}

func (s Shipment) Summary() Summary {
	name := ""
	if s.HasStage(s.CurrentStage) {
		name = s.Stages[s.CurrentStage].Name
	}
	return Summary{
		ID:               s.ID,
		Lifecycle:        s.Lifecycle,
		StageCount:       len(s.Stages),
		CurrentStage:     s.CurrentStage,
		CurrentStageName: name,
		Finalized:        s.Finalized,
		CreatedBy:        s.CreatedBy,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func cloneStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}
