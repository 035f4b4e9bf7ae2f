// Package catalog defines the documented star schema of the plenario
// warehouse: dimension and fact tables, their columns, and the
// relationships between them. The catalog is data, not behavior; the
// schema shipped with the binaries lives in the almg subpackage.
//
// Everything downstream derives from the catalog: warehouse migrations,
// the published data dictionary, SQL guard-rail validation, and the
// schema summaries injected into LLM prompts.
package catalog

// Kind distinguishes dimension tables from fact tables.
type Kind string

const (
	KindDimension Kind = "dimension"
	KindFact      Kind = "fact"
)

// Schema is a documented warehouse schema. Table order is meaningful:
// Dictionary and Summary render tables in declaration order so their
// output stays stable across runs.
type Schema struct {
	Name        string
	Description string
	Tables      []Table
}

// Table documents one dimension or fact table.
//
// Role-playing variants set IdenticalTo to their base table and carry
// the base's column list; the warehouse materializes them as views.
type Table struct {
	Name         string
	Kind         Kind
	Description  string
	SurrogateKey string // sk_* primary key column
	NaturalKey   string // business key column; facts carry a degenerate natural id
	IdenticalTo  string // base table for role-playing variants, empty otherwise
	Columns      []Column
	References   []Reference
}

// Column documents one column of a table.
type Column struct {
	Name        string
	Type        string // DuckDB type, e.g. BIGINT, VARCHAR, DATE
	Description string
}

// Reference documents a foreign-key relationship to another table. The
// referencing column is named by role (sk_data_votacao), the target
// column is the referenced table's surrogate key (sk_data).
type Reference struct {
	Column       string
	Table        string
	TargetColumn string
	Cardinality  string // "N:1", "1:N" or "1:1", seen from this table
}

// Lookup returns the table with the given name.
func (s *Schema) Lookup(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Dimensions returns the dimension tables in declaration order.
func (s *Schema) Dimensions() []Table {
	return s.tablesOfKind(KindDimension)
}

// Facts returns the fact tables in declaration order.
func (s *Schema) Facts() []Table {
	return s.tablesOfKind(KindFact)
}

func (s *Schema) tablesOfKind(kind Kind) []Table {
	var tables []Table
	for _, t := range s.Tables {
		if t.Kind == kind {
			tables = append(tables, t)
		}
	}
	return tables
}

// IsVariant reports whether the table is a role-playing variant of
// another table.
func (t *Table) IsVariant() bool {
	return t.IdenticalTo != ""
}

// HasColumn reports whether the table documents a column with the
// given name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in documented order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnDefs returns the columns as "name:type" pairs in documented
// order, the shape the warehouse DDL helpers take.
func (t *Table) ColumnDefs() []string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = c.Name + ":" + c.Type
	}
	return defs
}

// PayloadColumns returns the column names that carry data: everything
// except the surrogate and natural keys. Dimension loaders stage the
// natural key plus these.
func (t *Table) PayloadColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Name == t.SurrogateKey || c.Name == t.NaturalKey {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

// LoadColumns returns the column names a fact loader stages: everything
// except the surrogate key, which the warehouse assigns on insert.
func (t *Table) LoadColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Name == t.SurrogateKey {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}
