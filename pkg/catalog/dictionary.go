package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

//go:embed templates/dictionary.md.tmpl
var dictionaryTemplate string

// dictionaryTable is the per-table view rendered by the dictionary
// template. Relationships are pre-rendered lines so the template stays
// free of logic.
type dictionaryTable struct {
	Name          string
	Description   string
	SurrogateKey  string
	NaturalKey    string
	IdenticalTo   string
	Columns       []Column
	Relationships []string
}

// dictionaryData holds everything the dictionary template renders.
type dictionaryData struct {
	Name        string
	Description string
	Dimensions  []dictionaryTable
	Facts       []dictionaryTable
}

// Dictionary renders the schema as the published markdown data
// dictionary: grouped "Dimensões" and "Fatos" sections, key callouts,
// column bullet lists, relationship lines with cardinality, and
// "Colunas idênticas a X" lines on role-playing variants. Output is
// deterministic: tables render in declaration order, relationships in
// reference order.
func Dictionary(s *Schema) (string, error) {
	tmpl, err := template.New("dictionary").Parse(dictionaryTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse dictionary template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, buildDictionaryData(s)); err != nil {
		return "", fmt.Errorf("failed to render dictionary: %w", err)
	}
	return buf.String(), nil
}

func buildDictionaryData(s *Schema) dictionaryData {
	data := dictionaryData{
		Name:        s.Name,
		Description: s.Description,
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		dt := dictionaryTable{
			Name:          t.Name,
			Description:   t.Description,
			SurrogateKey:  t.SurrogateKey,
			NaturalKey:    t.NaturalKey,
			IdenticalTo:   t.IdenticalTo,
			Columns:       t.Columns,
			Relationships: relationshipLines(s, t),
		}
		switch t.Kind {
		case KindDimension:
			data.Dimensions = append(data.Dimensions, dt)
		case KindFact:
			data.Facts = append(data.Facts, dt)
		}
	}
	return data
}

// relationshipLines renders the table's declared references plus the
// inverse of every reference pointing at it, in schema declaration
// order so repeated runs produce identical output.
func relationshipLines(s *Schema, t *Table) []string {
	var lines []string
	for _, ref := range t.References {
		lines = append(lines, fmt.Sprintf("%s com `%s` (coluna `%s`)", ref.Cardinality, ref.Table, ref.Column))
	}
	for i := range s.Tables {
		other := &s.Tables[i]
		if other.Name == t.Name {
			continue
		}
		for _, ref := range other.References {
			if ref.Table != t.Name {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s com `%s` (coluna `%s`)", invertCardinality(ref.Cardinality), other.Name, ref.Column))
		}
	}
	return lines
}

func invertCardinality(c string) string {
	switch c {
	case "N:1":
		return "1:N"
	case "1:N":
		return "N:1"
	default:
		return c
	}
}
