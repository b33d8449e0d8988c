package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/schema"
)

const phonesQuery = `
result: tuple
from: Customer
joins:
  - association: phones
    type: left
select: [name, phones.number as phone]
where:
  - {expr: name, op: like, param: pattern}
order_by:
  - {expr: name}
  - {expr: phones.number, desc: true}
`

func TestQueryRendersSQL(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	queryPath := writeFile(t, filepath.Dir(configPath), "phones.yml", phonesQuery)

	stdout, _, err := runCLI(t, "--config", configPath, "query", queryPath)
	require.NoError(t, err)

	for _, want := range []string{
		"SELECT t0.NAME, (t3.NUMBER) AS phone FROM CUST t0",
		"INNER JOIN PARTY t1 ON t0.CUST_ID = t1.ID",
		"LEFT JOIN CUST_PHONE t2 ON t2.CUST_ID = t0.CUST_ID",
		"LEFT JOIN PHONE t3 ON t3.ID = t2.ID",
		"WHERE t0.NAME LIKE ?",
		"ORDER BY t0.NAME ASC, t3.NUMBER DESC",
		":pattern (string)",
		"Shape:",
		"tuple",
		"sqlite",
	} {
		assert.Contains(t, stdout, want)
	}
}

func TestQueryExecute(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	seedDatabase(t, configPath)
	queryPath := writeFile(t, filepath.Dir(configPath), "phones.yml", phonesQuery)

	stdout, _, err := runCLI(t, "--config", configPath, "query", queryPath, "--execute", "--param", "pattern=A%")
	require.NoError(t, err)

	assert.Contains(t, stdout, "name")
	assert.Contains(t, stdout, "phone")
	assert.Contains(t, stdout, "555-0111")
	assert.Contains(t, stdout, "555-0100")
	assert.NotContains(t, stdout, "Bo")
	assert.Contains(t, stdout, "(2 rows)")
}

func TestQueryExecuteJTA(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	seedDatabase(t, configPath)
	doc := `
from: Customer
select: [name]
where:
  - {expr: age, op: is_null}
`
	queryPath := writeFile(t, filepath.Dir(configPath), "ageless.yml", doc)

	// The unit's transaction_type is set through the environment
	t.Setenv("PERSIST_UNIT_TRANSACTION_TYPE", "JTA")

	stdout, _, err := runCLI(t, "--config", configPath, "query", queryPath, "-x")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Bo")
	assert.Contains(t, stdout, "(1 rows)")
}

func TestQueryExecuteEntity(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	seedDatabase(t, configPath)
	doc := `
from: Customer
where:
  - {expr: name, op: eq, value: Ann}
`
	queryPath := writeFile(t, filepath.Dir(configPath), "ann.yml", doc)

	stdout, _, err := runCLI(t, "--config", configPath, "query", queryPath, "-x")
	require.NoError(t, err)
	assert.Contains(t, stdout, "age=30")
	assert.Contains(t, stdout, "name=Ann")
	assert.Contains(t, stdout, "notes=NULL")
	assert.Contains(t, stdout, "(1 rows)")
}

func TestQueryExecuteMissingBinding(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	seedDatabase(t, configPath)
	queryPath := writeFile(t, filepath.Dir(configPath), "phones.yml", phonesQuery)

	_, stderr, err := runCLI(t, "--config", configPath, "query", queryPath, "-x")
	require.Error(t, err)
	assert.Contains(t, stderr, "QUERY FAILED")
	assert.Contains(t, stderr, "pattern")
}

func TestQueryInvalidDocument(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	doc := `
from: Customer
select: [nickname]
`
	queryPath := writeFile(t, filepath.Dir(configPath), "bad.yml", doc)

	_, stderr, err := runCLI(t, "--config", configPath, "query", queryPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")
	assert.Contains(t, stderr, "QUERY FAILED")
	assert.Contains(t, stderr, "nickname")
}

func TestQueryUnknownParameter(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	queryPath := writeFile(t, filepath.Dir(configPath), "phones.yml", phonesQuery)

	_, _, err := runCLI(t, "--config", configPath, "query", queryPath, "--param", "name=Ann")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query declares no parameter name")
}

func TestParseBindings(t *testing.T) {
	params := []*expr.Parameter{
		expr.Param("age", expr.Scalar(schema.TypeInt)),
		expr.Param("vip", expr.Scalar(schema.TypeBool)),
		expr.Param("name", expr.Scalar(schema.TypeString)),
	}

	bindings, err := parseBindings(params, []string{"age=42", "vip=true", "name=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": 42, "vip": true, "name": "a=b"}, bindings)

	_, err = parseBindings(params, []string{"age"})
	assert.ErrorContains(t, err, "must be name=value")

	_, err = parseBindings(params, []string{"age=old"})
	assert.ErrorContains(t, err, "parameter age")
}

func TestFormatCell(t *testing.T) {
	assert.Equal(t, "NULL", formatCell(nil))
	assert.Equal(t, "raw", formatCell([]byte("raw")))
	assert.Equal(t, "42", formatCell(42))
	assert.Equal(t, "{a=1 b=NULL}", formatCell(map[string]any{"b": nil, "a": 1}))
}
