package commands

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMapping = `
entities:
  - name: Party
    table: PARTY
    primary_key: [ID]
    columns:
      - {attribute: id, name: ID, type: bigint}
      - {attribute: createdAt, name: CREATED_AT, type: timestamp}
  - name: Customer
    table: CUST
    superclass: Party
    inheritance_join_columns:
      - name: CUST_ID
    secondary_tables:
      - name: CUST_DETAIL
    columns:
      - {attribute: name, name: NAME}
      - {attribute: age, name: AGE, type: int, nullable: true}
      - {attribute: notes, name: NOTES, type: text, table: CUST_DETAIL}
    associations:
      - {name: phones, kind: many_to_many, target: Phone}
  - name: Phone
    table: PHONE
    primary_key: [ID]
    columns:
      - {attribute: id, name: ID, type: bigint}
      - {attribute: number, name: NUMBER}
    associations:
      - {name: owners, kind: many_to_many, target: Customer, mapped_by: phones}
`

const testSchema = `
CREATE TABLE PARTY (ID INTEGER PRIMARY KEY, CREATED_AT TIMESTAMP);
CREATE TABLE CUST (CUST_ID INTEGER PRIMARY KEY, NAME TEXT NOT NULL, AGE INTEGER);
CREATE TABLE CUST_DETAIL (CUST_ID INTEGER PRIMARY KEY, NOTES TEXT);
CREATE TABLE PHONE (ID INTEGER PRIMARY KEY, NUMBER TEXT NOT NULL);
CREATE TABLE CUST_PHONE (CUST_ID INTEGER NOT NULL, ID INTEGER NOT NULL);
INSERT INTO PARTY (ID) VALUES (1), (2);
INSERT INTO CUST (CUST_ID, NAME, AGE) VALUES (1, 'Ann', 30), (2, 'Bo', NULL);
INSERT INTO PHONE (ID, NUMBER) VALUES (10, '555-0100'), (11, '555-0111');
INSERT INTO CUST_PHONE (CUST_ID, ID) VALUES (1, 10), (1, 11);
`

// testProject writes a persistence unit into a temp directory and returns
// the path of its configuration file
func testProject(t *testing.T, mapping string, extraConfig string) string {
	t.Helper()
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "test.db")
	cfg := `unit:
  name: test
database:
  driver: sqlite3
  url: ` + dbPath + `
  max_open_conns: 1
mapping:
  file: mapping.yml
` + extraConfig

	require.NoError(t, os.WriteFile(filepath.Join(dir, "persistence.yml"), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mapping.yml"), []byte(mapping), 0o644))
	return filepath.Join(dir, "persistence.yml")
}

// seedDatabase creates and fills the tables of testMapping
func seedDatabase(t *testing.T, configPath string) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(filepath.Dir(configPath), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
