package app

import (
	"time"

	"shipflow/api/internal/workflow"
)

// StageView is one stage as the dashboard renders it.
type StageView struct {
	Index             int      `json:"index"`
	Name              string   `json:"name"`
	Status            string   `json:"status"`
	RequiredDocuments []string `json:"requiredDocuments"`
	Signers           []string `json:"signers"`
	InfoProviders     []string `json:"infoProviders"`
	Uploaded          []string `json:"uploaded"`
	Approvals         []string `json:"approvals"`
	PendingDocuments  []string `json:"pendingDocuments"`
	PendingSigners    []string `json:"pendingSigners"`
}

type ShipmentView struct {
	ID           string             `json:"id"`
	Lifecycle    workflow.Lifecycle `json:"lifecycle"`
	CurrentStage int                `json:"currentStage"`
	Finalized    bool               `json:"finalized"`
	Status       string             `json:"status"`
	CreatedBy    string             `json:"createdBy"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	Version      int64              `json:"version"`
	Stages       []StageView        `json:"stages"`
}

func newShipmentView(shipment workflow.Shipment) ShipmentView {
	view := ShipmentView{
		ID:           shipment.ID,
		Lifecycle:    shipment.Lifecycle,
		CurrentStage: shipment.CurrentStage,
		Finalized:    shipment.Finalized,
		Status:       shipment.Status(),
		CreatedBy:    shipment.CreatedBy,
		CreatedAt:    shipment.CreatedAt,
		UpdatedAt:    shipment.UpdatedAt,
		Version:      shipment.Version,
		Stages:       make([]StageView, 0, shipment.StageCount()),
	}
	for i := range shipment.Stages {
		view.Stages = append(view.Stages, newStageView(shipment, i))
	}
	return view
}

func newStageView(shipment workflow.Shipment, index int) StageView {
	template := shipment.Stages[index].Clone()
	runtime := shipment.Runtime[index].Clone()
	return StageView{
		Index:             index,
		Name:              template.Name,
		Status:            stageStatus(shipment, index),
		RequiredDocuments: template.RequiredDocuments,
		Signers:           template.Signers,
		InfoProviders:     template.InfoProviders,
		Uploaded:          runtime.Uploaded,
		Approvals:         runtime.Approvals,
		PendingDocuments:  shipment.PendingDocuments(index),
		PendingSigners:    shipment.PendingSigners(index),
	}
}

func stageStatus(shipment workflow.Shipment, index int) string {
	switch {
	case shipment.Finalized || index < shipment.CurrentStage:
		return "approved"
	case index == shipment.CurrentStage:
		return "active"
	default:
		return "pending"
	}
}
