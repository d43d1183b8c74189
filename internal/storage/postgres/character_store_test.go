package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
)

func strPtr(s string) *string { return &s }

func sampleCharacter() crawler.Character {
	return crawler.Character{
		Name:               "Nami",
		Episode:            "Episode 1",
		Chapter:            "Chapter 8",
		Year:               1997,
		Note:               strPtr("Navigator"),
		Appearance:         strPtr("Orange hair."),
		Personality:        strPtr("Greedy but loyal."),
		AbilitiesAndPowers: nil,
	}
}

func upsertArgs(c crawler.Character) []any {
	return []any{
		c.Name, c.Episode, c.Chapter, c.Year,
		c.Note, c.Appearance, c.Personality, c.AbilitiesAndPowers,
	}
}

func TestUpsertCreatesSchemaOnceAndCommits(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCharacterStoreWithPool(mock, "")
	require.NoError(t, err)

	c := sampleCharacter()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characters").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO characters").
			WithArgs(upsertArgs(c)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	require.NoError(t, store.Upsert(context.Background(), c))
	require.NoError(t, store.Upsert(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCharacterStoreWithPool(mock, "wiki_characters")
	require.NoError(t, err)

	c := sampleCharacter()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS wiki_characters").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wiki_characters").
		WithArgs(upsertArgs(c)...).
		WillReturnError(errors.New("value too long for type character varying(15)"))
	mock.ExpectRollback()

	err = store.Upsert(context.Background(), c)
	require.ErrorContains(t, err, `upsert character "Nami"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRetriesSchemaAfterFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCharacterStoreWithPool(mock, "characters")
	require.NoError(t, err)

	c := sampleCharacter()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characters").
		WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characters").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO characters").
		WithArgs(upsertArgs(c)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.ErrorContains(t, store.Upsert(context.Background(), c), "create table characters")
	require.NoError(t, store.Upsert(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCommitAndBeginErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCharacterStoreWithPool(mock, "characters")
	require.NoError(t, err)

	c := sampleCharacter()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characters").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO characters").
		WithArgs(upsertArgs(c)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	require.ErrorContains(t, store.Upsert(context.Background(), c), "begin upsert")
	require.ErrorContains(t, store.Upsert(context.Background(), c), "commit character")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsEmptyName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCharacterStoreWithPool(mock, "characters")
	require.NoError(t, err)
	require.Error(t, store.Upsert(context.Background(), crawler.Character{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCharacterStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCharacterStoreWithPool(nil, "characters")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewCharacterStoreWithPool(mock, "characters; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewCharacterStore(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn is required")
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCharacterStoreWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
