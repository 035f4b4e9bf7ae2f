// Package calendar generates the warehouse's date dimension: one row
// per day with Brazilian Portuguese names and legislature attribution.
// Legislature terms ship embedded, so adding the next legislature is a
// YAML edit, not a code change.
package calendar

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed legislaturas.yaml
var legislaturasYAML []byte

// legislatureConfig represents the YAML structure for legislature terms.
type legislatureConfig struct {
	Legislaturas []legislatureEntry `yaml:"legislaturas"`
}

type legislatureEntry struct {
	Numero int    `yaml:"numero"`
	Inicio string `yaml:"inicio"`
	Fim    string `yaml:"fim"`
}

// Legislature is one four-year term of the assembly.
type Legislature struct {
	Numero int
	Inicio time.Time
	Fim    time.Time
}

// Day is one row of the date dimension. Legislatura and
// SessaoLegislativa are zero for days outside the known legislatures;
// loaders write those as NULL.
type Day struct {
	ID                int // date as AAAAMMDD, the dimension's natural key
	Data              time.Time
	Dia               int
	Mes               int
	NomeMes           string
	Ano               int
	Trimestre         int
	Semestre          int
	DiaSemana         int // 1 = domingo .. 7 = sábado
	NomeDiaSemana     string
	FimDeSemana       bool
	Legislatura       int
	SessaoLegislativa int
}

// DayID returns the date dimension's natural key for a date.
func DayID(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

var monthNames = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

var weekdayNames = [...]string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

// Calendar attributes days to legislatures and legislative sessions.
type Calendar struct {
	legislatures []Legislature
}

var (
	defaultCalendar     *Calendar
	defaultCalendarOnce sync.Once
	defaultCalendarErr  error
)

// New creates a Calendar from the embedded legislature terms.
func New() (*Calendar, error) {
	return newFromYAML(legislaturasYAML)
}

// Default returns a singleton Calendar instance.
// It's safe to call concurrently.
func Default() (*Calendar, error) {
	defaultCalendarOnce.Do(func() {
		defaultCalendar, defaultCalendarErr = New()
	})
	return defaultCalendar, defaultCalendarErr
}

func newFromYAML(data []byte) (*Calendar, error) {
	var config legislatureConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	legislatures := make([]Legislature, 0, len(config.Legislaturas))
	for _, e := range config.Legislaturas {
		inicio, err := time.Parse("2006-01-02", e.Inicio)
		if err != nil {
			return nil, fmt.Errorf("legislatura %d: invalid inicio: %w", e.Numero, err)
		}
		fim, err := time.Parse("2006-01-02", e.Fim)
		if err != nil {
			return nil, fmt.Errorf("legislatura %d: invalid fim: %w", e.Numero, err)
		}
		if !fim.After(inicio) {
			return nil, fmt.Errorf("legislatura %d: fim %s precedes inicio %s", e.Numero, e.Fim, e.Inicio)
		}
		legislatures = append(legislatures, Legislature{Numero: e.Numero, Inicio: inicio, Fim: fim})
	}

	return &Calendar{legislatures: legislatures}, nil
}

// Legislatures returns the known legislatures in declaration order.
func (c *Calendar) Legislatures() []Legislature {
	return c.legislatures
}

// LegislatureAt returns the legislature in force on the given date.
func (c *Calendar) LegislatureAt(t time.Time) (Legislature, bool) {
	for _, leg := range c.legislatures {
		if !t.Before(leg.Inicio) && !t.After(leg.Fim) {
			return leg, true
		}
	}
	return Legislature{}, false
}

// Span returns the first and last days covered by known legislatures.
func (c *Calendar) Span() (time.Time, time.Time, bool) {
	if len(c.legislatures) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first := c.legislatures[0].Inicio
	last := c.legislatures[0].Fim
	for _, leg := range c.legislatures[1:] {
		if leg.Inicio.Before(first) {
			first = leg.Inicio
		}
		if leg.Fim.After(last) {
			last = leg.Fim
		}
	}
	return first, last, true
}

// Day builds the dimension row for one date.
func (c *Calendar) Day(t time.Time) Day {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	weekday := int(t.Weekday()) // 0 = Sunday
	d := Day{
		ID:            DayID(t),
		Data:          t,
		Dia:           t.Day(),
		Mes:           int(t.Month()),
		NomeMes:       monthNames[t.Month()-1],
		Ano:           t.Year(),
		Trimestre:     (int(t.Month())-1)/3 + 1,
		Semestre:      (int(t.Month())-1)/6 + 1,
		DiaSemana:     weekday + 1,
		NomeDiaSemana: weekdayNames[weekday],
		FimDeSemana:   weekday == 0 || weekday == 6,
	}

	if leg, ok := c.LegislatureAt(t); ok {
		d.Legislatura = leg.Numero
		// The legislative session year runs February through January,
		// so January still belongs to the previous session.
		year := t.Year()
		if t.Month() == time.January {
			year--
		}
		d.SessaoLegislativa = year - leg.Inicio.Year() + 1
	}

	return d
}

// Days generates the dimension rows for every day between from and to,
// inclusive.
func (c *Calendar) Days(from, to time.Time) []Day {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	var days []Day
	for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
		days = append(days, c.Day(t))
	}
	return days
}
