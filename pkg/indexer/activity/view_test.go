package activity

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

type mockPortal struct {
	propositionsFunc     func(context.Context, int) ([]almg.Proposicao, error)
	authorshipsFunc      func(context.Context, int) ([]almg.Autoria, error)
	votesFunc            func(context.Context, int) ([]almg.Voto, error)
	attendancesFunc      func(context.Context, int) ([]almg.Presenca, error)
	committeeActionsFunc func(context.Context, int) ([]almg.Tramitacao, error)
}

func (m *mockPortal) Propositions(ctx context.Context, ano int) ([]almg.Proposicao, error) {
	if m.propositionsFunc != nil {
		return m.propositionsFunc(ctx, ano)
	}
	return []almg.Proposicao{}, nil
}

func (m *mockPortal) Authorships(ctx context.Context, ano int) ([]almg.Autoria, error) {
	if m.authorshipsFunc != nil {
		return m.authorshipsFunc(ctx, ano)
	}
	return []almg.Autoria{}, nil
}

func (m *mockPortal) Votes(ctx context.Context, ano int) ([]almg.Voto, error) {
	if m.votesFunc != nil {
		return m.votesFunc(ctx, ano)
	}
	return []almg.Voto{}, nil
}

func (m *mockPortal) Attendances(ctx context.Context, ano int) ([]almg.Presenca, error) {
	if m.attendancesFunc != nil {
		return m.attendancesFunc(ctx, ano)
	}
	return []almg.Presenca{}, nil
}

func (m *mockPortal) CommitteeActions(ctx context.Context, ano int) ([]almg.Tramitacao, error) {
	if m.committeeActionsFunc != nil {
		return m.committeeActionsFunc(ctx, ano)
	}
	return []almg.Tramitacao{}, nil
}

func testView(t *testing.T, ctx context.Context, portal Portal) (*View, duck.DB) {
	t.Helper()
	db := testDB(t, ctx)

	sk, err := skcache.NewResolver(testLogger())
	require.NoError(t, err)

	view, err := NewView(ViewConfig{
		Logger:          testLogger(),
		Clock:           clockwork.NewFakeClock(),
		Portal:          portal,
		DB:              db,
		SK:              sk,
		RefreshInterval: time.Second,
		Years:           []int{2024},
	})
	require.NoError(t, err)
	return view, db
}

func TestViewReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	view, _ := testView(t, ctx, &mockPortal{})
	require.False(t, view.Ready(), "view should not be ready before first refresh")

	require.NoError(t, view.Refresh(ctx))
	require.True(t, view.Ready(), "view should be ready after successful refresh")
	require.NoError(t, view.WaitReady(ctx))
}

func TestViewRefresh(t *testing.T) {
	t.Parallel()

	t.Run("stores the dimension and all facts", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		portal := &mockPortal{
			propositionsFunc: func(_ context.Context, ano int) ([]almg.Proposicao, error) {
				return []almg.Proposicao{
					{ID: 900, Tipo: "PL", Numero: 1234, Ano: ano, Ementa: "Institui o programa estadual de merenda.", Regime: "ordinário", Situacao: "em tramitação"},
				}, nil
			},
			authorshipsFunc: func(context.Context, int) ([]almg.Autoria, error) {
				return []almg.Autoria{
					{ID: 50001, IDAutor: 100, IDProposicao: 900, DataApresentacao: testDate(t, "2024-03-15"), OrdemAssinatura: 1},
				}, nil
			},
			votesFunc: func(context.Context, int) ([]almg.Voto, error) {
				return []almg.Voto{
					{ID: 70001, IDDeputado: 100, IDProposicao: 900, DataVotacao: testDate(t, "2024-03-15"), Voto: "Sim", Turno: 1},
				}, nil
			},
			attendancesFunc: func(context.Context, int) ([]almg.Presenca, error) {
				return []almg.Presenca{
					{ID: 60001, IDDeputado: 100, IDComissao: 10, DataReuniao: testDate(t, "2024-03-15"), TipoReuniao: "ordinária", Presente: true},
				}, nil
			},
			committeeActionsFunc: func(context.Context, int) ([]almg.Tramitacao, error) {
				return []almg.Tramitacao{
					{ID: 80001, IDProposicao: 900, IDComissao: 10, DataTramitacao: testDate(t, "2024-03-15"), Acao: "distribuição", Resultado: ""},
				}, nil
			},
		}

		view, db := testView(t, ctx, portal)
		seedDimensions(t, ctx, db)
		require.NoError(t, view.Refresh(ctx))

		require.Equal(t, 1, rowCount(t, ctx, db, "dim_proposicao"))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_autoria_proposicao"))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_votacao"))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_presenca_reuniao"))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_tramitacao_comissao"))

		// A second pass over the same portal data inserts no duplicate events.
		require.NoError(t, view.Refresh(ctx))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_votacao"))
	})

	t.Run("returns error when the portal fails", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		portal := &mockPortal{
			propositionsFunc: func(context.Context, int) ([]almg.Proposicao, error) {
				return nil, context.DeadlineExceeded
			},
		}

		view, _ := testView(t, ctx, portal)
		err := view.Refresh(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to fetch propositions for 2024")
		require.False(t, view.Ready())
	})
}
