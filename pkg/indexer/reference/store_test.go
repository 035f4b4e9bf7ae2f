package reference

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/almg"
	"github.com/plenariolabs/plenario/pkg/indexer/calendar"
	"github.com/plenariolabs/plenario/pkg/indexer/skcache"
)

func testStore(t *testing.T, ctx context.Context) (*Store, duck.DB) {
	t.Helper()
	db := testDB(t, ctx)

	sk, err := skcache.NewResolver(testLogger())
	require.NoError(t, err)

	store, err := NewStore(StoreConfig{
		Logger: testLogger(),
		DB:     db,
		SK:     sk,
	})
	require.NoError(t, err)
	return store, db
}

func TestStoreReplaceCalendar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)

	cal, err := calendar.Default()
	require.NoError(t, err)

	// A span that starts before the first known legislature.
	days := cal.Days(
		time.Date(2003, 1, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2003, 2, 2, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, store.ReplaceCalendar(ctx, days, time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var legislatura sql.NullInt64
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT legislatura FROM dim_data_apresentacao WHERE id = 20030130").Scan(&legislatura))
	require.False(t, legislatura.Valid, "days before the first legislature carry NULL")

	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT legislatura FROM dim_data_apresentacao WHERE id = 20030201").Scan(&legislatura))
	require.True(t, legislatura.Valid)
	require.EqualValues(t, 15, legislatura.Int64)
}

func TestStoreReplaceMunicipalities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)

	first := []almg.Municipio{
		{ID: 3106200, Nome: "Belo Horizonte", Microrregiao: "Belo Horizonte", Mesorregiao: "Metropolitana de Belo Horizonte"},
		{ID: 3170206, Nome: "Uberlândia", Microrregiao: "Uberlândia", Mesorregiao: "Triângulo Mineiro e Alto Paranaíba"},
	}
	require.NoError(t, store.ReplaceMunicipalities(ctx, first, time.Now().UTC()))

	// A municipality absent from a later snapshot stays in the dimension;
	// facts and institutions may still reference it.
	require.NoError(t, store.ReplaceMunicipalities(ctx, first[:1], time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dim_municipio").Scan(&count))
	require.Equal(t, 2, count)

	var tombstones int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dim_municipio_historico WHERE op = 'D'").Scan(&tombstones))
	require.Equal(t, 0, tombstones)
}

func TestStoreReplaceInstitutions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, db := testStore(t, ctx)

	require.NoError(t, store.ReplaceMunicipalities(ctx, []almg.Municipio{
		{ID: 3106200, Nome: "Belo Horizonte", Microrregiao: "Belo Horizonte", Mesorregiao: "Metropolitana de Belo Horizonte"},
	}, time.Now().UTC()))

	require.NoError(t, store.ReplaceInstitutions(ctx, []almg.Instituicao{
		{ID: 500, Nome: "Câmara Municipal de Belo Horizonte", Tipo: "câmara municipal", IDMunicipio: 3106200},
		{ID: 502, Nome: "Prefeitura de Lugar Nenhum", Tipo: "prefeitura", IDMunicipio: 9999999},
	}, time.Now().UTC()))

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var sk sql.NullInt64
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT sk_municipio FROM dim_instituicao WHERE id = '500'").Scan(&sk))
	require.True(t, sk.Valid)

	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT sk_municipio FROM dim_instituicao WHERE id = '502'").Scan(&sk))
	require.False(t, sk.Valid, "unknown municipality resolves to NULL")
}
