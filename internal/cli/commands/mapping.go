package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/cli/ui"
	"github.com/conduit-lang/persistence/internal/orm/codegen"
	"github.com/conduit-lang/persistence/internal/orm/schema"
	"github.com/conduit-lang/persistence/internal/orm/transaction"
)

var (
	ddlDrop  bool
	ddlApply bool
)

// NewMappingCommand creates the mapping command
func NewMappingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect the entity mapping",
		Long: `Inspect the entity mapping of the persistence unit.

The mapping file is taken from mapping.file in persistence.yml.

Available subcommands:
  validate     - Load and resolve the whole mapping
  show         - Show how one entity maps onto tables
  join-tables  - List every resolved join table
  ddl          - Generate the tables the mapping reads`,
	}

	cmd.AddCommand(newMappingValidateCommand())
	cmd.AddCommand(newMappingShowCommand())
	cmd.AddCommand(newMappingJoinTablesCommand())
	cmd.AddCommand(newMappingDDLCommand())

	return cmd
}

func newMappingValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the mapping",
		Long:  "Load the mapping file, resolve every default and report each inconsistency found",
		Args:  cobra.NoArgs,
		RunE:  runMappingValidate,
	}
}

func runMappingValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := schema.LoadRegistry(cfg.Mapping.File, schema.WithLogger(logger))
	if err != nil {
		violations := mappingViolations(err)
		if len(violations) == 0 {
			return err
		}
		for _, v := range violations {
			fmt.Fprint(cmd.ErrOrStderr(), ui.MappingError(mappingLocation(v), v.Hint, noColor))
		}
		return fmt.Errorf("%s: %d mapping errors", cfg.Mapping.File, len(violations))
	}

	ui.WriteSuccess(cmd.OutOrStdout(),
		fmt.Sprintf("%s: %d entities mapped", cfg.Mapping.File, registry.Count()), noColor)
	return nil
}

func mappingViolations(err error) []*schema.MappingError {
	var list schema.MappingErrors
	if errors.As(err, &list) {
		return list
	}
	var single *schema.MappingError
	if errors.As(err, &single) {
		return []*schema.MappingError{single}
	}
	return nil
}

func mappingLocation(e *schema.MappingError) string {
	owner := e.Entity
	if owner == "" {
		owner = e.Table
	}
	switch {
	case owner != "" && e.Column != "":
		return fmt.Sprintf("%s.%s: %s", owner, e.Column, e.Message)
	case owner != "":
		return fmt.Sprintf("%s: %s", owner, e.Message)
	default:
		return e.Message
	}
}

func newMappingShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity>",
		Short: "Show how an entity maps onto tables",
		Long:  "Show the tables, attributes and resolved associations of one entity, inherited ones included",
		Args:  cobra.ExactArgs(1),
		RunE:  runMappingShow,
	}
}

func runMappingShow(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	name := args[0]
	entity, ok := env.registry.Entity(name)
	if !ok {
		suggestions := ui.FindSimilar(name, env.registry.List(), nil)
		fmt.Fprint(cmd.ErrOrStderr(), ui.EntityNotFoundError(name, suggestions, noColor))
		return fmt.Errorf("unknown entity %s", name)
	}

	pk, err := env.registry.PrimaryKey(name)
	if err != nil {
		return err
	}

	ui.Header(out, entity.Name, noColor)
	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("Table", entity.QualifiedTable())
	kv.AddRow("Primary key", strings.Join(pk, ", "))
	if entity.Superclass != "" {
		chain := []string{}
		for _, ancestor := range env.registry.Ancestors(name) {
			chain = append(chain, ancestor.Name)
		}
		joins, err := env.registry.InheritanceJoin(name)
		if err != nil {
			return err
		}
		kv.AddRow("Extends", strings.Join(chain, " -> "))
		kv.AddRow("Inheritance join", formatRefs(joins))
	}
	for _, st := range entity.SecondaryTables {
		joins, err := env.registry.SecondaryJoin(name, st.Name)
		if err != nil {
			return err
		}
		kv.AddRow("Secondary table", fmt.Sprintf("%s (%s)", st.Name, formatRefs(joins)))
	}
	kv.Render()
	fmt.Fprintln(out)

	attrs := ui.NewTable(out, []string{"ATTRIBUTE", "COLUMN", "TYPE", "NULL", "DECLARED BY"}, &ui.TableOptions{NoColor: noColor})
	for _, ref := range env.registry.Attributes(name) {
		column := ref.Column.Name
		if ref.Column.Table != "" {
			column = ref.Column.Table + "." + column
		}
		nullable := "no"
		if ref.Column.Nullable {
			nullable = "yes"
		}
		attrs.AddRow(ref.Column.Attribute, column, ref.Column.Type.String(), nullable, ref.Owner.Name)
	}
	attrs.Render()

	if len(entity.Associations) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	assocs := ui.NewTable(out, []string{"ASSOCIATION", "KIND", "TARGET", "SIDE", "NAVIGATION"}, &ui.TableOptions{NoColor: noColor})
	for _, assoc := range entity.Associations {
		resolved, err := env.registry.ResolveAssociation(name, assoc.Name)
		if err != nil {
			return err
		}
		side := "owning"
		if !assoc.Owning {
			side = "inverse of " + assoc.MappedBy
		}
		assocs.AddRow(assoc.Name, assoc.Kind.String(), assoc.Target, side, navigation(resolved))
	}
	assocs.Render()
	return nil
}

// navigation describes how an association reaches its target table
func navigation(r *schema.ResolvedAssociation) string {
	switch {
	case r.JoinTable != nil:
		return fmt.Sprintf("join table %s (%s | %s)", r.JoinTable.QualifiedName(), formatRefs(r.SourceColumns), formatRefs(r.TargetColumns))
	case len(r.SharedKey) > 0:
		return "shared key " + formatRefs(r.SharedKey)
	case r.ForeignKeyOnSource:
		return fmt.Sprintf("foreign key %s on %s", formatRefs(r.ForeignKey), r.Source.Table)
	default:
		return fmt.Sprintf("foreign key %s on %s", formatRefs(r.ForeignKey), r.Target.Table)
	}
}

func formatRefs(refs []schema.ColumnRef) string {
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = ref.Name + " -> " + ref.ReferencedColumnName
	}
	return strings.Join(parts, ", ")
}

func newMappingJoinTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "join-tables",
		Short: "List every resolved join table",
		Long:  "List the join table of every owning association stored in one, with defaults resolved",
		Args:  cobra.NoArgs,
		RunE:  runMappingJoinTables,
	}
}

func runMappingJoinTables(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	table := ui.NewTable(out, []string{"ENTITY", "ASSOCIATION", "JOIN TABLE", "JOIN COLUMNS", "INVERSE COLUMNS"}, &ui.TableOptions{NoColor: noColor})
	for _, name := range env.registry.List() {
		entity, _ := env.registry.Entity(name)
		for _, assoc := range entity.Associations {
			if !assoc.Owning || !assoc.UsesJoinTable() {
				continue
			}
			jt, err := env.registry.JoinTable(name, assoc.Name)
			if err != nil {
				return err
			}
			table.AddRow(name, assoc.Name, jt.QualifiedName(), columnNames(jt.JoinColumns), columnNames(jt.InverseJoinColumns))
		}
	}

	if table.Len() == 0 {
		fmt.Fprint(out, ui.Warning("No join tables in the mapping", nil, noColor))
		return nil
	}
	table.Render()
	return nil
}

func columnNames(refs []schema.ColumnRef) string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return strings.Join(names, ", ")
}

func newMappingDDLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Generate the tables the mapping reads",
		Long: `Generate CREATE TABLE statements for every primary, secondary and join
table of the mapping, in the dialect of the configured driver.

With --drop the matching DROP TABLE statements are generated instead.
With --apply the statements run against the configured database in a
single transaction.`,
		Args: cobra.NoArgs,
		RunE: runMappingDDL,
	}

	cmd.Flags().BoolVar(&ddlDrop, "drop", false, "Generate DROP TABLE statements")
	cmd.Flags().BoolVar(&ddlApply, "apply", false, "Run the statements against the configured database")

	return cmd
}

func runMappingDDL(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	generator := codegen.NewDDLGenerator(env.registry, env.config.Dialect(), codegen.WithLogger(env.logger))
	var stmts []string
	if ddlDrop {
		stmts, err = generator.GenerateDropSchema()
	} else {
		stmts, err = generator.GenerateSchema()
	}
	if err != nil {
		for _, v := range mappingViolations(err) {
			fmt.Fprint(cmd.ErrOrStderr(), ui.MappingError(mappingLocation(v), v.Hint, noColor))
		}
		return fmt.Errorf("%s: cannot generate ddl: %w", env.config.Mapping.File, err)
	}

	if !ddlApply {
		fmt.Fprintln(out, strings.Join(stmts, "\n\n"))
		return nil
	}

	db, _, manager, err := env.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err = manager.WithTransaction(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("%w\n%s", err, stmt)
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.QueryError(err.Error(), "No statement was applied.", noColor))
		return errors.New("applying ddl failed")
	}
	env.logger.Debug("applied ddl", zap.Int("statements", len(stmts)), zap.Bool("drop", ddlDrop))

	ui.WriteSuccess(out, fmt.Sprintf("Applied %d statements to %s", len(stmts), env.config.Database.Driver), noColor)
	return nil
}
