package workflow

import "context"

func (e *Engine) Shipment(ctx context.Context, id string) (Shipment, error) {
	return e.repo.Get(ctx, id)
}

func (e *Engine) ListShipments(ctx context.Context) ([]Summary, error) {
	return e.repo.List(ctx)
}

func (e *Engine) CurrentStage(ctx context.Context, id string) (int, error) {
	shipment, err := e.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return shipment.CurrentStage, nil
}

func (e *Engine) IsFinalized(ctx context.Context, id string) (bool, error) {
	shipment, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return shipment.Finalized, nil
}

func (e *Engine) UploadedDocuments(ctx context.Context, id string, stageIndex int) ([]string, error) {
	shipment, err := e.stageSnapshot(ctx, id, stageIndex)
	if err != nil {
		return nil, err
	}
	return shipment.Runtime[stageIndex].Uploaded, nil
}

func (e *Engine) StageApprovals(ctx context.Context, id string, stageIndex int) ([]string, error) {
	shipment, err := e.stageSnapshot(ctx, id, stageIndex)
	if err != nil {
		return nil, err
	}
	return shipment.Runtime[stageIndex].Approvals, nil
}

func (e *Engine) StageSigners(ctx context.Context, id string, stageIndex int) ([]string, error) {
	shipment, err := e.stageSnapshot(ctx, id, stageIndex)
	if err != nil {
		return nil, err
	}
	return shipment.Stages[stageIndex].Signers, nil
}

func (e *Engine) StageInfoProviders(ctx context.Context, id string, stageIndex int) ([]string, error) {
	shipment, err := e.stageSnapshot(ctx, id, stageIndex)
	if err != nil {
		return nil, err
	}
	return shipment.Stages[stageIndex].InfoProviders, nil
}

func (e *Engine) stageSnapshot(ctx context.Context, id string, stageIndex int) (Shipment, error) {
	shipment, err := e.repo.Get(ctx, id)
	if err != nil {
		return Shipment{}, err
	}
	if !shipment.HasStage(stageIndex) {
		return Shipment{}, stageOutOfRange(stageIndex, shipment.StageCount())
	}
	return shipment, nil
}
