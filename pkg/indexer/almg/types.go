package almg

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date handles the portal's AAAA-MM-DD date fields. The zero value
// marshals as an empty string and unmarshals from one.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// Deputado is a deputy holding a seat in a legislature.
type Deputado struct {
	ID       int64  `json:"id"`
	Nome     string `json:"nome"`
	Partido  string `json:"partido"`
	UF       string `json:"uf"`
	Situacao string `json:"situacao"`
}

// Comissao is a standing or temporary committee.
type Comissao struct {
	ID    int64  `json:"id"`
	Nome  string `json:"nome"`
	Sigla string `json:"sigla"`
	Tipo  string `json:"tipo"`
}

// Municipio is a municipality of Minas Gerais, keyed by IBGE code.
type Municipio struct {
	ID           int64  `json:"id"`
	Nome         string `json:"nome"`
	Microrregiao string `json:"microrregiao"`
	Mesorregiao  string `json:"mesorregiao"`
}

// Instituicao is an external institution that corresponds with the
// assembly.
type Instituicao struct {
	ID          int64  `json:"id"`
	Nome        string `json:"nome"`
	Tipo        string `json:"tipo"`
	IDMunicipio int64  `json:"idMunicipio"`
}

// TermoTesauro is a legislative thesaurus term. IDTermoPai is nil for
// top-level terms.
type TermoTesauro struct {
	ID         int64  `json:"id"`
	Termo      string `json:"termo"`
	IDTermoPai *int64 `json:"idTermoPai"`
}

// Autor is anyone who signed a proposition, norm, or official request:
// deputies, committees, caucuses, the governor.
type Autor struct {
	ID        int64  `json:"id"`
	Nome      string `json:"nome"`
	TipoAutor string `json:"tipoAutor"`
	Partido   string `json:"partido"`
	Cargo     string `json:"cargo"`
}

// Proposicao is a legislative proposition.
type Proposicao struct {
	ID       int64  `json:"id"`
	Tipo     string `json:"tipo"`
	Numero   int    `json:"numero"`
	Ano      int    `json:"ano"`
	Ementa   string `json:"ementa"`
	Regime   string `json:"regimeTramitacao"`
	Situacao string `json:"situacao"`
}

// Autoria links an author to a proposition they signed.
type Autoria struct {
	ID               int64 `json:"id"`
	IDAutor          int64 `json:"idAutor"`
	IDProposicao     int64 `json:"idProposicao"`
	DataApresentacao Date  `json:"dataApresentacao"`
	OrdemAssinatura  int   `json:"ordemAssinatura"`
	EmCoautoria      bool  `json:"emCoautoria"`
}

// Voto is one deputy's vote in a plenary roll call.
type Voto struct {
	ID           int64  `json:"id"`
	IDDeputado   int64  `json:"idDeputado"`
	IDProposicao int64  `json:"idProposicao"`
	DataVotacao  Date   `json:"dataVotacao"`
	Voto         string `json:"voto"`
	Turno        int    `json:"turno"`
}

// Presenca is one deputy's attendance record at a committee meeting.
type Presenca struct {
	ID          int64  `json:"id"`
	IDDeputado  int64  `json:"idDeputado"`
	IDComissao  int64  `json:"idComissao"`
	DataReuniao Date   `json:"dataReuniao"`
	TipoReuniao string `json:"tipoReuniao"`
	Presente    bool   `json:"presente"`
}

// Tramitacao is one committee action on a proposition.
type Tramitacao struct {
	ID             int64  `json:"id"`
	IDProposicao   int64  `json:"idProposicao"`
	IDComissao     int64  `json:"idComissao"`
	DataTramitacao Date   `json:"dataTramitacao"`
	Acao           string `json:"acao"`
	Resultado      string `json:"resultado"`
}

// Norma is an enacted legal norm.
type Norma struct {
	ID     int64  `json:"id"`
	Tipo   string `json:"tipo"`
	Numero int    `json:"numero"`
	Ano    int    `json:"ano"`
	Ementa string `json:"ementa"`
}

// AutoriaNorma links an author to a norm they signed.
type AutoriaNorma struct {
	ID              int64 `json:"id"`
	IDAutor         int64 `json:"idAutor"`
	IDNorma         int64 `json:"idNorma"`
	OrdemAssinatura int   `json:"ordemAssinatura"`
}

// Indexacao links a norm to a thesaurus term that indexes it.
type Indexacao struct {
	ID             int64 `json:"id"`
	IDNorma        int64 `json:"idNorma"`
	IDTermo        int64 `json:"idTermo"`
	OrdemIndexacao int   `json:"ordemIndexacao"`
}

// RespostaCorrespondencia is an institution's answer to an official
// correspondence sent by the assembly.
type RespostaCorrespondencia struct {
	ID               int64 `json:"id"`
	IDInstituicao    int64 `json:"idInstituicao"`
	IDAutor          int64 `json:"idAutor"`
	DataResposta     Date  `json:"dataResposta"`
	DiasParaResposta int   `json:"diasParaResposta"`
}
