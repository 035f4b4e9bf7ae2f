package almg

import (
	"context"
	"net/url"
	"strconv"
)

func yearQuery(ano int) url.Values {
	q := url.Values{}
	q.Set("ano", strconv.Itoa(ano))
	return q
}

// Deputies lists the deputies of a legislature.
func (c *Client) Deputies(ctx context.Context, legislatura int) ([]Deputado, error) {
	q := url.Values{}
	q.Set("legislatura", strconv.Itoa(legislatura))
	return fetchAll[Deputado](ctx, c, "/deputados", q)
}

// Committees lists the assembly's committees.
func (c *Client) Committees(ctx context.Context) ([]Comissao, error) {
	return fetchAll[Comissao](ctx, c, "/comissoes", nil)
}

// Municipalities lists the municipalities of Minas Gerais.
func (c *Client) Municipalities(ctx context.Context) ([]Municipio, error) {
	return fetchAll[Municipio](ctx, c, "/municipios", nil)
}

// Institutions lists the institutions that correspond with the assembly.
func (c *Client) Institutions(ctx context.Context) ([]Instituicao, error) {
	return fetchAll[Instituicao](ctx, c, "/instituicoes", nil)
}

// ThesaurusTerms lists the legislative thesaurus.
func (c *Client) ThesaurusTerms(ctx context.Context) ([]TermoTesauro, error) {
	return fetchAll[TermoTesauro](ctx, c, "/tesauro/termos", nil)
}

// Authors lists everyone who signed a proposition, norm, or official
// request in the given year.
func (c *Client) Authors(ctx context.Context, ano int) ([]Autor, error) {
	return fetchAll[Autor](ctx, c, "/autores", yearQuery(ano))
}

// Propositions lists the propositions presented in the given year.
func (c *Client) Propositions(ctx context.Context, ano int) ([]Proposicao, error) {
	return fetchAll[Proposicao](ctx, c, "/proposicoes", yearQuery(ano))
}

// Authorships lists the author-proposition links for the given year.
func (c *Client) Authorships(ctx context.Context, ano int) ([]Autoria, error) {
	return fetchAll[Autoria](ctx, c, "/proposicoes/autorias", yearQuery(ano))
}

// Votes lists the plenary roll-call votes of the given year.
func (c *Client) Votes(ctx context.Context, ano int) ([]Voto, error) {
	return fetchAll[Voto](ctx, c, "/votacoes/votos", yearQuery(ano))
}

// Attendances lists committee meeting attendance for the given year.
func (c *Client) Attendances(ctx context.Context, ano int) ([]Presenca, error) {
	return fetchAll[Presenca](ctx, c, "/comissoes/presencas", yearQuery(ano))
}

// CommitteeActions lists committee actions on propositions for the
// given year.
func (c *Client) CommitteeActions(ctx context.Context, ano int) ([]Tramitacao, error) {
	return fetchAll[Tramitacao](ctx, c, "/comissoes/tramitacoes", yearQuery(ano))
}

// Norms lists the legal norms enacted in the given year.
func (c *Client) Norms(ctx context.Context, ano int) ([]Norma, error) {
	return fetchAll[Norma](ctx, c, "/normas", yearQuery(ano))
}

// NormAuthorships lists the author-norm links for the given year.
func (c *Client) NormAuthorships(ctx context.Context, ano int) ([]AutoriaNorma, error) {
	return fetchAll[AutoriaNorma](ctx, c, "/normas/autorias", yearQuery(ano))
}

// Indexings lists the norm-thesaurus indexing links for the given year.
func (c *Client) Indexings(ctx context.Context, ano int) ([]Indexacao, error) {
	return fetchAll[Indexacao](ctx, c, "/normas/indexacoes", yearQuery(ano))
}

// CorrespondenceResponses lists institution responses to official
// correspondence for the given year.
func (c *Client) CorrespondenceResponses(ctx context.Context, ano int) ([]RespostaCorrespondencia, error) {
	return fetchAll[RespostaCorrespondencia](ctx, c, "/correspondencias/respostas", yearQuery(ano))
}
