package catalog

import "github.com/plenariolabs/plenario/pkg/duck"

// DimConfig derives the load configuration for a documented dimension.
// Callers set SnapshotTS, RunID, and MissingMeansDeleted per run.
func (t *Table) DimConfig() duck.DimConfig {
	return duck.DimConfig{
		Table:          t.Name,
		SurrogateKey:   t.SurrogateKey,
		NaturalKey:     t.NaturalKey,
		PayloadColumns: t.PayloadColumns(),
	}
}

// FactConfig derives the load configuration for a documented fact.
// Callers set SnapshotTS and RunID per run.
func (t *Table) FactConfig() duck.FactConfig {
	return duck.FactConfig{
		Table:        t.Name,
		SurrogateKey: t.SurrogateKey,
		NaturalKey:   t.NaturalKey,
		Columns:      t.LoadColumns(),
	}
}
