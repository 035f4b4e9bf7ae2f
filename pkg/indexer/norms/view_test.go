package norms

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
	normsFunc           func(context.Context, int) ([]almg.Norma, error)
	normAuthorshipsFunc func(context.Context, int) ([]almg.AutoriaNorma, error)
	indexingsFunc       func(context.Context, int) ([]almg.Indexacao, error)
}

func (m *mockPortal) Norms(ctx context.Context, ano int) ([]almg.Norma, error) {
	if m.normsFunc != nil {
		return m.normsFunc(ctx, ano)
	}
	return []almg.Norma{}, nil
}

func (m *mockPortal) NormAuthorships(ctx context.Context, ano int) ([]almg.AutoriaNorma, error) {
	if m.normAuthorshipsFunc != nil {
		return m.normAuthorshipsFunc(ctx, ano)
	}
	return []almg.AutoriaNorma{}, nil
}

func (m *mockPortal) Indexings(ctx context.Context, ano int) ([]almg.Indexacao, error) {
	if m.indexingsFunc != nil {
		return m.indexingsFunc(ctx, ano)
	}
	return []almg.Indexacao{}, nil
}

func testView(t *testing.T, ctx context.Context, portal Portal, years []int) (*View, duck.DB) {
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
		Years:           years,
	})
	require.NoError(t, err)
	return view, db
}

func TestViewReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	view, _ := testView(t, ctx, &mockPortal{}, []int{2024})
	require.False(t, view.Ready(), "view should not be ready before first refresh")

	require.NoError(t, view.Refresh(ctx))
	require.True(t, view.Ready(), "view should be ready after successful refresh")
	require.NoError(t, view.WaitReady(ctx))
}

func TestViewRefresh(t *testing.T) {
	t.Parallel()

	t.Run("stores norms and the facts hanging off them", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		portal := &mockPortal{
			normsFunc: func(_ context.Context, ano int) ([]almg.Norma, error) {
				return []almg.Norma{
					{ID: 300, Tipo: "LEI", Numero: 24000, Ano: ano, Ementa: "Institui a política estadual de saúde digital."},
				}, nil
			},
			normAuthorshipsFunc: func(context.Context, int) ([]almg.AutoriaNorma, error) {
				return []almg.AutoriaNorma{
					{ID: 90001, IDAutor: 100, IDNorma: 300, OrdemAssinatura: 1},
				}, nil
			},
			indexingsFunc: func(context.Context, int) ([]almg.Indexacao, error) {
				return []almg.Indexacao{
					{ID: 95001, IDNorma: 300, IDTermo: 70, OrdemIndexacao: 1},
				}, nil
			},
		}

		view, db := testView(t, ctx, portal, []int{2024})
		seedDimensions(t, ctx, db)
		require.NoError(t, view.Refresh(ctx))

		require.Equal(t, 1, rowCount(t, ctx, db, "dim_norma_juridica"))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_autoria_norma"))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_indexacao_documento"))

		// A second pass over the same portal data inserts no duplicate events.
		require.NoError(t, view.Refresh(ctx))
		require.Equal(t, 1, rowCount(t, ctx, db, "fat_autoria_norma"))
	})

	t.Run("keeps the latest payload when a norm appears in two years", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		portal := &mockPortal{
			normsFunc: func(_ context.Context, ano int) ([]almg.Norma, error) {
				if ano == 2023 {
					return []almg.Norma{{ID: 300, Tipo: "LEI", Numero: 24000, Ano: 2023, Ementa: "Redação original."}}, nil
				}
				return []almg.Norma{{ID: 300, Tipo: "LEI", Numero: 24000, Ano: 2024, Ementa: "Redação consolidada."}}, nil
			},
		}

		view, db := testView(t, ctx, portal, []int{2024, 2023})
		require.NoError(t, view.Refresh(ctx))

		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()

		var ementa string
		require.NoError(t, conn.QueryRowContext(ctx,
			"SELECT ementa FROM dim_norma_juridica WHERE id = '300'").Scan(&ementa))
		require.Equal(t, "Redação consolidada.", ementa)
		require.Equal(t, 1, rowCount(t, ctx, db, "dim_norma_juridica"))
	})

	t.Run("returns error when the portal fails", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		portal := &mockPortal{
			normsFunc: func(context.Context, int) ([]almg.Norma, error) {
				return nil, context.DeadlineExceeded
			},
		}

		view, _ := testView(t, ctx, portal, []int{2024})
		err := view.Refresh(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to fetch norms for 2024")
		require.False(t, view.Ready())
	})
}
