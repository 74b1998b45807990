package core

import (
	"context"
	"fmt"

	"ndxchannels/pkg/domain"
)

// Built-in rule names.
const (
	RuleUnknownProbeModel   = "unknown_probe_model"
	RulePlanarContour       = "planar_contour"
	RuleProbeModelIntegrity = "probe_model_integrity"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(UnknownProbeModelRule())
	engine.Register(PlanarContourRule())
	engine.Register(ProbeModelIntegrityRule())
	return engine
}

// UnknownProbeModelRule warns when a transaction stores a model whose model
// name is the "unknown" placeholder.
func UnknownProbeModelRule() domain.Rule { return unknownProbeModelRule{} }

type unknownProbeModelRule struct{}

func (unknownProbeModelRule) Name() string { return RuleUnknownProbeModel }

func (unknownProbeModelRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, model := range createdModels(changes) {
		if model.Model() != domain.UnknownModelName {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleUnknownProbeModel,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("probe model %s has no known model name; probes sharing it may be unrelated designs", model.Name()),
			Entity:   domain.EntityProbeModel,
			Name:     model.Name(),
		})
	}
	return res, nil
}

// PlanarContourRule warns when a stored model has a contour too short to
// enclose an area.
func PlanarContourRule() domain.Rule { return planarContourRule{} }

type planarContourRule struct{}

func (planarContourRule) Name() string { return RulePlanarContour }

func (planarContourRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, model := range createdModels(changes) {
		contour := model.PlanarContour()
		if contour == nil || len(contour) >= 3 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RulePlanarContour,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("probe model %s planar contour has %d vertices; a polygon needs at least 3", model.Name(), len(contour)),
			Entity:   domain.EntityProbeModel,
			Name:     model.Name(),
		})
	}
	return res, nil
}

// ProbeModelIntegrityRule blocks a commit that leaves a probe pointing at a
// model that is missing from the catalog or differs from the stored one.
func ProbeModelIntegrityRule() domain.Rule { return probeModelIntegrityRule{} }

type probeModelIntegrityRule struct{}

func (probeModelIntegrityRule) Name() string { return RuleProbeModelIntegrity }

func (probeModelIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, probe := range view.ListProbes() {
		linked := probe.ProbeModel()
		var stored *domain.ProbeModel
		ok := linked != nil
		if ok {
			stored, ok = view.FindProbeModel(linked.Name())
		}
		if ok && stored.Equal(linked) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleProbeModelIntegrity,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("probe %s is not linked to a stored probe model", probe.Name()),
			Entity:   domain.EntityProbe,
			Name:     probe.Name(),
		})
	}
	return res, nil
}

func createdModels(changes []domain.Change) []*domain.ProbeModel {
	var out []*domain.ProbeModel
	for _, change := range changes {
		if change.Entity != domain.EntityProbeModel || change.Action != domain.ActionCreate {
			continue
		}
		if model, ok := change.After.(*domain.ProbeModel); ok && model != nil {
			out = append(out, model)
		}
	}
	return out
}
