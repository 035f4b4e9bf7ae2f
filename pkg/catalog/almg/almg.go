// Package almg ships the documented star schema of the ALMG warehouse.
//
// The tables mirror the data dictionary published for BI developers:
// seven standalone dimensions, two role-playing groups (authors and
// dates) materialized as views, and seven facts. Migrations, loaders,
// the SQL guard and the LLM prompts all read this value; changing a
// column here changes all of them.
package almg

import "github.com/plenariolabs/plenario/pkg/catalog"

// MustTable returns the named table from Schema. The schema is a
// compile-time value, so a missing name is a defect in the caller;
// MustTable panics instead of making every loader thread a lookup error.
func MustTable(name string) *catalog.Table {
	t, ok := Schema.Lookup(name)
	if !ok {
		panic("almg: unknown table " + name)
	}
	return t
}

func col(name, typ, desc string) catalog.Column {
	return catalog.Column{Name: name, Type: typ, Description: desc}
}

// roleVariant declares a role-playing view over base: same columns and
// keys, own name and description.
func roleVariant(name, description string, base catalog.Table) catalog.Table {
	return catalog.Table{
		Name:         name,
		Kind:         base.Kind,
		Description:  description,
		SurrogateKey: base.SurrogateKey,
		NaturalKey:   base.NaturalKey,
		IdenticalTo:  base.Name,
		Columns:      base.Columns,
	}
}

var dimAutorProposicao = catalog.Table{
	Name:         "dim_autor_proposicao",
	Kind:         catalog.KindDimension,
	Description:  "Autores de proposições legislativas.",
	SurrogateKey: "sk_autor",
	NaturalKey:   "id",
	Columns: []catalog.Column{
		col("sk_autor", "BIGINT", "Chave substituta do autor."),
		col("id", "VARCHAR", "Identificador do autor no sistema de origem da ALMG."),
		col("nome", "VARCHAR", "Nome do autor."),
		col("tipo_autor", "VARCHAR", "Tipo do autor (deputado, comissão, bancada, Governador)."),
		col("partido", "VARCHAR", "Sigla do partido do autor, quando parlamentar."),
		col("cargo", "VARCHAR", "Cargo do autor à época da autoria."),
	},
}

var dimDataApresentacao = catalog.Table{
	Name:         "dim_data_apresentacao",
	Kind:         catalog.KindDimension,
	Description:  "Dimensão de calendário com a data de apresentação de proposições.",
	SurrogateKey: "sk_data",
	NaturalKey:   "id",
	Columns: []catalog.Column{
		col("sk_data", "BIGINT", "Chave substituta da data."),
		col("id", "INTEGER", "Data no formato AAAAMMDD."),
		col("data", "DATE", "Data no tipo nativo."),
		col("dia", "INTEGER", "Dia do mês (1 a 31)."),
		col("mes", "INTEGER", "Número do mês (1 a 12)."),
		col("nome_mes", "VARCHAR", "Nome do mês em português."),
		col("ano", "INTEGER", "Ano civil."),
		col("trimestre", "INTEGER", "Trimestre do ano (1 a 4)."),
		col("semestre", "INTEGER", "Semestre do ano (1 ou 2)."),
		col("dia_semana", "INTEGER", "Dia da semana (1 = domingo a 7 = sábado)."),
		col("nome_dia_semana", "VARCHAR", "Nome do dia da semana em português."),
		col("fim_de_semana", "BOOLEAN", "Verdadeiro para sábados e domingos."),
		col("legislatura", "INTEGER", "Número da legislatura vigente na data; nulo fora das legislaturas conhecidas."),
		col("sessao_legislativa", "INTEGER", "Sessão legislativa ordinária (1 a 4) dentro da legislatura; nula fora das legislaturas conhecidas."),
	},
}

// Schema is the documented ALMG warehouse schema.
var Schema = catalog.Schema{
	Name: "almg",
	Description: "Data warehouse dimensional da atividade legislativa da Assembleia " +
		"Legislativa do Estado de Minas Gerais (ALMG): proposições, normas jurídicas, " +
		"votações, presenças em reuniões, tramitações em comissões e correspondências " +
		"oficiais, organizados em esquema estrela.",
	Tables: []catalog.Table{
		{
			Name:         "dim_parlamentar",
			Kind:         catalog.KindDimension,
			Description:  "Deputados estaduais com assento na Assembleia Legislativa de Minas Gerais.",
			SurrogateKey: "sk_parlamentar",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_parlamentar", "BIGINT", "Chave substituta do deputado."),
				col("id", "VARCHAR", "Identificador do deputado no sistema de origem da ALMG."),
				col("nome", "VARCHAR", "Nome parlamentar do deputado."),
				col("partido", "VARCHAR", "Sigla do partido pelo qual o deputado exerce o mandato."),
				col("uf", "VARCHAR", "Unidade federativa do deputado."),
				col("legislatura", "INTEGER", "Número da legislatura do mandato."),
				col("situacao", "VARCHAR", "Situação do mandato (em exercício, afastado, renunciou)."),
			},
		},
		{
			Name:         "dim_comissao",
			Kind:         catalog.KindDimension,
			Description:  "Comissões permanentes e temporárias da Assembleia.",
			SurrogateKey: "sk_comissao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_comissao", "BIGINT", "Chave substituta da comissão."),
				col("id", "VARCHAR", "Identificador da comissão no sistema de origem."),
				col("nome", "VARCHAR", "Nome completo da comissão."),
				col("sigla", "VARCHAR", "Sigla da comissão."),
				col("tipo", "VARCHAR", "Tipo da comissão (permanente, especial, CPI)."),
			},
		},
		{
			Name:         "dim_proposicao",
			Kind:         catalog.KindDimension,
			Description:  "Proposições legislativas apresentadas na Assembleia (projetos de lei, emendas à Constituição, requerimentos).",
			SurrogateKey: "sk_proposicao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_proposicao", "BIGINT", "Chave substituta da proposição."),
				col("id", "VARCHAR", "Identificador da proposição no sistema de origem."),
				col("tipo", "VARCHAR", "Tipo da proposição (PL, PEC, requerimento, projeto de resolução)."),
				col("numero", "INTEGER", "Número da proposição dentro do ano."),
				col("ano", "INTEGER", "Ano de apresentação da proposição."),
				col("ementa", "VARCHAR", "Ementa resumindo o objeto da proposição."),
				col("regime", "VARCHAR", "Regime de tramitação (ordinário, urgência, prioridade)."),
				col("situacao", "VARCHAR", "Situação atual da tramitação."),
			},
		},
		{
			Name:         "dim_norma_juridica",
			Kind:         catalog.KindDimension,
			Description:  "Normas jurídicas promulgadas pelo Estado de Minas Gerais.",
			SurrogateKey: "sk_norma_juridica",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_norma_juridica", "BIGINT", "Chave substituta da norma."),
				col("id", "VARCHAR", "Identificador da norma no sistema de origem."),
				col("tipo", "VARCHAR", "Tipo da norma (lei ordinária, lei complementar, resolução, emenda à Constituição)."),
				col("numero", "INTEGER", "Número da norma dentro do ano."),
				col("ano", "INTEGER", "Ano de promulgação da norma."),
				col("ementa", "VARCHAR", "Ementa resumindo o objeto da norma."),
			},
		},
		{
			Name:         "dim_municipio",
			Kind:         catalog.KindDimension,
			Description:  "Municípios do Estado de Minas Gerais.",
			SurrogateKey: "sk_municipio",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_municipio", "BIGINT", "Chave substituta do município."),
				col("id", "VARCHAR", "Código IBGE do município."),
				col("nome", "VARCHAR", "Nome do município."),
				col("microrregiao", "VARCHAR", "Microrregião do IBGE à qual o município pertence."),
				col("mesorregiao", "VARCHAR", "Mesorregião do IBGE à qual o município pertence."),
			},
		},
		{
			Name:         "dim_instituicao",
			Kind:         catalog.KindDimension,
			Description:  "Instituições externas que se correspondem com a Assembleia.",
			SurrogateKey: "sk_instituicao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_instituicao", "BIGINT", "Chave substituta da instituição."),
				col("id", "VARCHAR", "Identificador da instituição no sistema de origem."),
				col("nome", "VARCHAR", "Nome da instituição."),
				col("tipo", "VARCHAR", "Tipo da instituição (prefeitura, câmara municipal, órgão estadual, entidade civil)."),
				col("sk_municipio", "BIGINT", "Chave do município onde a instituição se localiza."),
			},
			References: []catalog.Reference{
				{Column: "sk_municipio", Table: "dim_municipio", TargetColumn: "sk_municipio", Cardinality: "N:1"},
			},
		},
		{
			Name:         "dim_termo_tesauro",
			Kind:         catalog.KindDimension,
			Description:  "Termos do tesauro legislativo usados na indexação de documentos, organizados em hierarquia.",
			SurrogateKey: "sk_termo_tesauro",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_termo_tesauro", "BIGINT", "Chave substituta do termo."),
				col("id", "VARCHAR", "Identificador do termo no sistema de origem."),
				col("termo", "VARCHAR", "Termo do tesauro legislativo."),
				col("sk_termo_pai", "BIGINT", "Chave do termo pai na hierarquia; nula para termos de topo."),
			},
			References: []catalog.Reference{
				{Column: "sk_termo_pai", Table: "dim_termo_tesauro", TargetColumn: "sk_termo_tesauro", Cardinality: "N:1"},
			},
		},
		dimAutorProposicao,
		roleVariant("dim_autor_norma", "Autores de normas jurídicas.", dimAutorProposicao),
		roleVariant("dim_autor_requerimento", "Autores de requerimentos de correspondência oficial.", dimAutorProposicao),
		dimDataApresentacao,
		roleVariant("dim_data_votacao", "Datas em que ocorreram votações em plenário.", dimDataApresentacao),
		roleVariant("dim_data_reuniao", "Datas de reuniões de comissões.", dimDataApresentacao),
		roleVariant("dim_data_tramitacao", "Datas de ações de tramitação em comissões.", dimDataApresentacao),
		roleVariant("dim_data_resposta", "Datas de resposta de correspondências oficiais.", dimDataApresentacao),
		{
			Name:         "fat_autoria_proposicao",
			Kind:         catalog.KindFact,
			Description:  "Vínculos de autoria entre autores e proposições, com a data de apresentação.",
			SurrogateKey: "sk_autoria_proposicao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_autoria_proposicao", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado do vínculo de autoria no sistema de origem."),
				col("sk_autor_proposicao", "BIGINT", "Chave do autor da proposição."),
				col("sk_proposicao", "BIGINT", "Chave da proposição."),
				col("sk_data_apresentacao", "BIGINT", "Chave da data de apresentação."),
				col("ordem_assinatura", "INTEGER", "Posição da assinatura do autor (1 = primeiro signatário)."),
				col("in_coautoria", "BOOLEAN", "Verdadeiro quando a proposição tem mais de um autor."),
			},
			References: []catalog.Reference{
				{Column: "sk_autor_proposicao", Table: "dim_autor_proposicao", TargetColumn: "sk_autor", Cardinality: "N:1"},
				{Column: "sk_proposicao", Table: "dim_proposicao", TargetColumn: "sk_proposicao", Cardinality: "N:1"},
				{Column: "sk_data_apresentacao", Table: "dim_data_apresentacao", TargetColumn: "sk_data", Cardinality: "N:1"},
			},
		},
		{
			Name:         "fat_autoria_norma",
			Kind:         catalog.KindFact,
			Description:  "Vínculos de autoria entre autores e normas jurídicas.",
			SurrogateKey: "sk_autoria_norma",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_autoria_norma", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado do vínculo de autoria no sistema de origem."),
				col("sk_autor_norma", "BIGINT", "Chave do autor da norma."),
				col("sk_norma_juridica", "BIGINT", "Chave da norma jurídica."),
				col("ordem_assinatura", "INTEGER", "Posição da assinatura do autor (1 = primeiro signatário)."),
			},
			References: []catalog.Reference{
				{Column: "sk_autor_norma", Table: "dim_autor_norma", TargetColumn: "sk_autor", Cardinality: "N:1"},
				{Column: "sk_norma_juridica", Table: "dim_norma_juridica", TargetColumn: "sk_norma_juridica", Cardinality: "N:1"},
			},
		},
		{
			Name:         "fat_votacao",
			Kind:         catalog.KindFact,
			Description:  "Votos nominais de deputados em votações de plenário.",
			SurrogateKey: "sk_votacao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_votacao", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado do voto no sistema de origem."),
				col("sk_parlamentar", "BIGINT", "Chave do deputado que votou."),
				col("sk_proposicao", "BIGINT", "Chave da proposição votada."),
				col("sk_data_votacao", "BIGINT", "Chave da data da votação."),
				col("voto", "VARCHAR", "Voto registrado (Sim, Não, Abstenção, Branco)."),
				col("turno", "INTEGER", "Turno da votação (1 ou 2)."),
			},
			References: []catalog.Reference{
				{Column: "sk_parlamentar", Table: "dim_parlamentar", TargetColumn: "sk_parlamentar", Cardinality: "N:1"},
				{Column: "sk_proposicao", Table: "dim_proposicao", TargetColumn: "sk_proposicao", Cardinality: "N:1"},
				{Column: "sk_data_votacao", Table: "dim_data_votacao", TargetColumn: "sk_data", Cardinality: "N:1"},
			},
		},
		{
			Name:         "fat_presenca_reuniao",
			Kind:         catalog.KindFact,
			Description:  "Presenças de deputados em reuniões de comissões.",
			SurrogateKey: "sk_presenca_reuniao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_presenca_reuniao", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado da presença no sistema de origem."),
				col("sk_parlamentar", "BIGINT", "Chave do deputado."),
				col("sk_comissao", "BIGINT", "Chave da comissão que se reuniu."),
				col("sk_data_reuniao", "BIGINT", "Chave da data da reunião."),
				col("tipo_reuniao", "VARCHAR", "Tipo da reunião (ordinária, extraordinária, audiência pública)."),
				col("in_presente", "BOOLEAN", "Verdadeiro quando o deputado esteve presente."),
			},
			References: []catalog.Reference{
				{Column: "sk_parlamentar", Table: "dim_parlamentar", TargetColumn: "sk_parlamentar", Cardinality: "N:1"},
				{Column: "sk_comissao", Table: "dim_comissao", TargetColumn: "sk_comissao", Cardinality: "N:1"},
				{Column: "sk_data_reuniao", Table: "dim_data_reuniao", TargetColumn: "sk_data", Cardinality: "N:1"},
			},
		},
		{
			Name:         "fat_tramitacao_comissao",
			Kind:         catalog.KindFact,
			Description:  "Ações de tramitação de proposições em comissões.",
			SurrogateKey: "sk_tramitacao_comissao",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_tramitacao_comissao", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado da tramitação no sistema de origem."),
				col("sk_proposicao", "BIGINT", "Chave da proposição em tramitação."),
				col("sk_comissao", "BIGINT", "Chave da comissão onde a ação ocorreu."),
				col("sk_data_tramitacao", "BIGINT", "Chave da data da ação."),
				col("acao", "VARCHAR", "Ação de tramitação (distribuição, parecer, votação interna)."),
				col("resultado", "VARCHAR", "Resultado da ação (aprovado, rejeitado, retirado de pauta)."),
			},
			References: []catalog.Reference{
				{Column: "sk_proposicao", Table: "dim_proposicao", TargetColumn: "sk_proposicao", Cardinality: "N:1"},
				{Column: "sk_comissao", Table: "dim_comissao", TargetColumn: "sk_comissao", Cardinality: "N:1"},
				{Column: "sk_data_tramitacao", Table: "dim_data_tramitacao", TargetColumn: "sk_data", Cardinality: "N:1"},
			},
		},
		{
			Name:         "fat_indexacao_documento",
			Kind:         catalog.KindFact,
			Description:  "Indexações de normas jurídicas por termos do tesauro.",
			SurrogateKey: "sk_indexacao_documento",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_indexacao_documento", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado da indexação no sistema de origem."),
				col("sk_norma_juridica", "BIGINT", "Chave da norma indexada."),
				col("sk_termo_tesauro", "BIGINT", "Chave do termo do tesauro."),
				col("ordem_indexacao", "INTEGER", "Posição do termo na lista de indexação do documento."),
			},
			References: []catalog.Reference{
				{Column: "sk_norma_juridica", Table: "dim_norma_juridica", TargetColumn: "sk_norma_juridica", Cardinality: "N:1"},
				{Column: "sk_termo_tesauro", Table: "dim_termo_tesauro", TargetColumn: "sk_termo_tesauro", Cardinality: "N:1"},
			},
		},
		{
			Name:         "fat_resposta_correspondencia",
			Kind:         catalog.KindFact,
			Description:  "Respostas de instituições a correspondências oficiais da Assembleia.",
			SurrogateKey: "sk_resposta_correspondencia",
			NaturalKey:   "id",
			Columns: []catalog.Column{
				col("sk_resposta_correspondencia", "BIGINT", "Chave substituta do fato."),
				col("id", "VARCHAR", "Identificador degenerado da correspondência no sistema de origem."),
				col("sk_instituicao", "BIGINT", "Chave da instituição que respondeu."),
				col("sk_autor_requerimento", "BIGINT", "Chave do autor do requerimento original."),
				col("sk_data_resposta", "BIGINT", "Chave da data da resposta."),
				col("dias_para_resposta", "INTEGER", "Dias corridos entre o envio da correspondência e a resposta."),
			},
			References: []catalog.Reference{
				{Column: "sk_instituicao", Table: "dim_instituicao", TargetColumn: "sk_instituicao", Cardinality: "N:1"},
				{Column: "sk_autor_requerimento", Table: "dim_autor_requerimento", TargetColumn: "sk_autor", Cardinality: "N:1"},
				{Column: "sk_data_resposta", Table: "dim_data_resposta", TargetColumn: "sk_data", Cardinality: "N:1"},
			},
		},
	},
}
