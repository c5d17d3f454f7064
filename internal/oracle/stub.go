package oracle

import (
	"context"
	"sync"
)

// Stub is a deterministic Oracle for tests and offline use. Each call site
// delegates to its function field; a nil field returns an empty answer
// ("none" for metric selection). Calls are counted per call site.
type Stub struct {
	SelectMetricFunc   func(ctx context.Context, req SelectMetricRequest) (*MetricChoice, error)
	GenerateSQLFunc    func(ctx context.Context, req GenerateSQLRequest) (*SQLGeneration, error)
	RepairSQLFunc      func(ctx context.Context, req RepairSQLRequest) (*SQLRepair, error)
	RespondFunc        func(ctx context.Context, req RespondRequest) (*Answer, error)
	ProposeMetricsFunc func(ctx context.Context, req ProposeRequest) (*MetricSet, error)
	RefineMetricsFunc  func(ctx context.Context, req RefineRequest) (*RefinedMetrics, error)
	FabricateRowsFunc  func(ctx context.Context, req FabricateRowsRequest) (*FabricatedRows, error)
	UpdateLayerFunc    func(ctx context.Context, req UpdateLayerRequest) (*LayerUpdate, error)

	mu    sync.Mutex
	calls map[string]int
}

func (s *Stub) record(callSite string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[callSite]++
}

// Calls returns how many times a call site was invoked.
func (s *Stub) Calls(callSite string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callSite]
}

// SelectMetric implements Oracle.
func (s *Stub) SelectMetric(ctx context.Context, req SelectMetricRequest) (*MetricChoice, error) {
	s.record(CallSelectMetric)
	if s.SelectMetricFunc == nil {
		return &MetricChoice{Metric: NoMetric}, nil
	}
	return s.SelectMetricFunc(ctx, req)
}

// GenerateSQL implements Oracle.
func (s *Stub) GenerateSQL(ctx context.Context, req GenerateSQLRequest) (*SQLGeneration, error) {
	s.record(CallGenerateSQL)
	if s.GenerateSQLFunc == nil {
		return &SQLGeneration{}, nil
	}
	return s.GenerateSQLFunc(ctx, req)
}

// RepairSQL implements Oracle.
func (s *Stub) RepairSQL(ctx context.Context, req RepairSQLRequest) (*SQLRepair, error) {
	s.record(CallRepairSQL)
	if s.RepairSQLFunc == nil {
		return &SQLRepair{SQL: NoMetric}, nil
	}
	return s.RepairSQLFunc(ctx, req)
}

// Respond implements Oracle.
func (s *Stub) Respond(ctx context.Context, req RespondRequest) (*Answer, error) {
	s.record(CallRespond)
	if s.RespondFunc == nil {
		return &Answer{}, nil
	}
	return s.RespondFunc(ctx, req)
}

// ProposeMetrics implements Oracle.
func (s *Stub) ProposeMetrics(ctx context.Context, req ProposeRequest) (*MetricSet, error) {
	s.record(CallProposeMetrics)
	if s.ProposeMetricsFunc == nil {
		return &MetricSet{}, nil
	}
	return s.ProposeMetricsFunc(ctx, req)
}

// RefineMetrics implements Oracle.
func (s *Stub) RefineMetrics(ctx context.Context, req RefineRequest) (*RefinedMetrics, error) {
	s.record(CallRefineMetrics)
	if s.RefineMetricsFunc == nil {
		return &RefinedMetrics{}, nil
	}
	return s.RefineMetricsFunc(ctx, req)
}

// FabricateRows implements Oracle.
func (s *Stub) FabricateRows(ctx context.Context, req FabricateRowsRequest) (*FabricatedRows, error) {
	s.record(CallFabricateRows)
	if s.FabricateRowsFunc == nil {
		return &FabricatedRows{}, nil
	}
	return s.FabricateRowsFunc(ctx, req)
}

// UpdateLayer implements Oracle.
func (s *Stub) UpdateLayer(ctx context.Context, req UpdateLayerRequest) (*LayerUpdate, error) {
	s.record(CallUpdateLayer)
	if s.UpdateLayerFunc == nil {
		return &LayerUpdate{}, nil
	}
	return s.UpdateLayerFunc(ctx, req)
}

var _ Oracle = (*Stub)(nil)
