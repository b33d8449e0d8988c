package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/cli/ui"
	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/exec"
	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/transaction"
	"github.com/conduit-lang/persistence/internal/orm/unit"
)

var (
	queryExecute bool
	queryParams  []string
)

// NewQueryCommand creates the query command
func NewQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <criteria.yml>",
		Short: "Render or run a criteria query",
		Long: `Build a criteria query from a YAML document and print the SQL it renders to.

With --execute the query runs against the configured database and the
result rows are printed. Named parameters are bound with --param name=value.

Example document:
  result: tuple
  from: Customer
  joins:
    - association: phones
      type: left
  select: [name, phones.number as phone]
  where:
    - {expr: name, op: like, param: pattern}
  order_by:
    - {expr: name}`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}

	cmd.Flags().BoolVarP(&queryExecute, "execute", "x", false, "Run the query and print the results")
	cmd.Flags().StringArrayVarP(&queryParams, "param", "p", nil, "Bind a named parameter (name=value), repeatable")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	doc, err := loadQueryFile(args[0])
	if err != nil {
		return err
	}
	builder, err := criteria.NewBuilder(env.registry,
		criteria.WithFlushMode(env.config.FlushMode()),
		criteria.WithLogger(env.logger),
	)
	if err != nil {
		return err
	}
	q, err := buildQuery(builder, doc)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.QueryError(err.Error(), "The query document does not match the mapping.", noColor))
		return fmt.Errorf("invalid query %s", args[0])
	}

	bindings, err := parseBindings(q.Parameters(), queryParams)
	if err != nil {
		return err
	}

	if !queryExecute {
		return printStatement(cmd, env, q)
	}

	db, dialect, manager, err := env.openDatabase(transaction.WithReadOnly(true))
	if err != nil {
		return err
	}
	defer db.Close()

	executor := exec.NewExecutor(db, dialect, exec.WithManager(manager), exec.WithLogger(env.logger))

	d, stmt, err := executor.Prepare(q)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	var rows []any
	run := func(ctx context.Context) error {
		rows, err = executor.ExecutePrepared(ctx, d, stmt, bindings)
		return err
	}
	if manager.TransactionType() == unit.JTA {
		// A JTA unit only joins transactions; the command acts as the
		// container and begins the one it joins.
		err = manager.WithTransaction(ctx, func(ctx context.Context, _ *transaction.Transaction) error {
			return run(ctx)
		})
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.QueryError(err.Error(), "", noColor))
		return fmt.Errorf("query %s failed", args[0])
	}
	env.logger.Debug("query finished", zap.Int("rows", len(rows)), zap.Duration("duration", time.Since(start)))

	printRows(cmd, d, rows)
	return nil
}

// parseBindings converts name=value flags to the declared parameter types
func parseBindings(params []*expr.Parameter, flags []string) (map[string]any, error) {
	types := make(map[string]expr.Type, len(params))
	for _, p := range params {
		types[p.Key()] = p.Type()
	}

	bindings := make(map[string]any, len(flags))
	for _, flag := range flags {
		key, raw, ok := strings.Cut(flag, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q must be name=value", flag)
		}
		t, known := types[key]
		if !known {
			return nil, fmt.Errorf("query declares no parameter %s", key)
		}
		value, err := exec.Convert(raw, t)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		bindings[key] = value
	}
	return bindings, nil
}

func printStatement(cmd *cobra.Command, env *environment, q *criteria.Query) error {
	out := cmd.OutOrStdout()

	d, err := criteria.Freeze(q)
	if err != nil {
		return err
	}
	renderer := query.NewRenderer(env.registry, env.config.Dialect(), query.WithLogger(env.logger))
	stmt, err := renderer.Render(d)
	if err != nil {
		return err
	}

	ui.Header(out, "SQL", noColor)
	fmt.Fprintln(out, stmt.SQL)

	if len(stmt.Args) > 0 {
		fmt.Fprintln(out)
		args := ui.NewTable(out, []string{"#", "ARGUMENT"}, &ui.TableOptions{NoColor: noColor})
		for i, arg := range stmt.Args {
			if ref, ok := arg.(query.ParamRef); ok {
				args.AddRow(fmt.Sprint(i+1), ":"+ref.Key+" ("+ref.Type.String()+")")
				continue
			}
			args.AddRow(fmt.Sprint(i+1), formatCell(arg))
		}
		args.Render()
	}

	fmt.Fprintln(out)
	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("Query", d.ID.String())
	kv.AddRow("Result", d.ResultType.String())
	kv.AddRow("Shape", d.Shape.String())
	kv.AddRow("Dialect", env.config.Dialect().String())
	kv.AddRow("Flush mode", d.FlushMode.String())
	kv.Render()
	return nil
}

func printRows(cmd *cobra.Command, d *criteria.Descriptor, rows []any) {
	out := cmd.OutOrStdout()

	headers := make([]string, len(d.Items))
	for i, item := range d.Items {
		headers[i] = itemHeader(item, i)
	}
	if d.Shape == criteria.ShapeConstruct {
		headers = []string{d.ResultType.String()}
	}

	table := ui.NewTable(out, headers, &ui.TableOptions{NoColor: noColor, RowCount: true})
	for _, row := range rows {
		table.AddRow(rowCells(d.Shape, row)...)
	}
	table.Render()
}

func itemHeader(item expr.Selection, i int) string {
	if alias := item.Alias(); alias != "" {
		return alias
	}
	switch s := item.(type) {
	case *expr.Path:
		return s.String()
	case *expr.Root:
		return s.Entity().Name
	case *expr.Join:
		return s.Entity().Name
	case *expr.Aggregate:
		return strings.ToLower(s.Func.String())
	}
	return fmt.Sprintf("col%d", i+1)
}

func rowCells(shape criteria.Shape, row any) []string {
	var values []any
	switch shape {
	case criteria.ShapeTuple:
		values = row.(*exec.Tuple).Values()
	case criteria.ShapeArray:
		values = row.([]any)
	default:
		values = []any{row}
	}
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = formatCell(v)
	}
	return cells
}

func formatCell(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(value)
	case time.Time:
		return value.Format(time.RFC3339)
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + formatCell(value[k])
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprint(value)
	}
}
