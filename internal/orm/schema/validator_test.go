package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestMappingErrorFormat(t *testing.T) {
	err := &MappingError{Entity: "Customer", Column: "NAME", Message: "duplicate column name", Hint: "rename one"}
	want := "mapping: Customer.NAME: duplicate column name\n  hint: rename one"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	tableErr := &MappingError{Table: "CUST_PHONE", Column: "ID", Message: "duplicate column in join table"}
	if tableErr.Error() != "mapping: CUST_PHONE.ID: duplicate column in join table" {
		t.Errorf("unexpected message %q", tableErr.Error())
	}

	if !errors.Is(err, ErrMapping) {
		t.Error("MappingError should match ErrMapping")
	}

	list := MappingErrors{err, tableErr}
	if !errors.Is(list, ErrMapping) {
		t.Error("MappingErrors should match ErrMapping")
	}
	if !strings.Contains(list.Error(), "2 errors") {
		t.Errorf("unexpected message %q", list.Error())
	}
	var me *MappingError
	if !errors.As(error(list), &me) {
		t.Error("errors.As should reach individual errors")
	}
}

func TestValidateStructural(t *testing.T) {
	validator := NewMappingValidator()

	tests := []struct {
		name    string
		entity  *Entity
		wantErr string
	}{
		{
			name:   "valid entity",
			entity: Define("Customer").Table("CUST").ID("id", "ID", TypeBigInt).Column("name", "NAME", TypeString).Build(),
		},
		{
			name:    "missing name",
			entity:  &Entity{Table: "X"},
			wantErr: "entity name is required",
		},
		{
			name:    "missing primary key",
			entity:  Define("Customer").Column("name", "NAME", TypeString).Build(),
			wantErr: "no primary key",
		},
		{
			name:   "subclass inherits primary key",
			entity: Define("Customer").Extends("Party").Column("name", "NAME", TypeString).Build(),
		},
		{
			name: "duplicate attribute",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).
				Column("name", "NAME", TypeString).Column("name", "NAME2", TypeString).Build(),
			wantErr: "duplicate attribute",
		},
		{
			name: "duplicate column",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).
				Column("first", "NAME", TypeString).Column("last", "name", TypeString).Build(),
			wantErr: "duplicate column name",
		},
		{
			name: "primary key column not mapped",
			entity: &Entity{Name: "Customer", Table: "CUST", PrimaryKey: []string{"ID"},
				Columns: []*Column{{Attribute: "name", Name: "NAME"}}},
			wantErr: "primary-key column is not mapped",
		},
		{
			name:    "undeclared secondary table",
			entity:  Define("Customer").ID("id", "ID", TypeBigInt).SecondaryColumn("DETAIL", "notes", "NOTES", TypeText).Build(),
			wantErr: "undeclared secondary table",
		},
		{
			name: "duplicate secondary table",
			entity: Define("Customer").Table("CUST").ID("id", "ID", TypeBigInt).
				Secondary("CUST").Build(),
			wantErr: "duplicate table",
		},
		{
			name: "inverse association without mapped_by",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).
				Association(&Association{Name: "orders", Kind: OneToMany, Target: "Order"}).Build(),
			wantErr: "must name the owning side",
		},
		{
			name: "join table on inverse side",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).
				Association(&Association{Name: "phones", Kind: ManyToMany, Target: "Phone", MappedBy: "owners", JoinTable: &JoinTableSpec{}}).Build(),
			wantErr: "only the owning side",
		},
		{
			name: "duplicate join table column",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).
				ManyToMany("phones", "Phone", &JoinTableSpec{
					Name:               "CP",
					JoinColumns:        []ColumnRef{{Name: "X"}},
					InverseJoinColumns: []ColumnRef{{Name: "X"}},
				}).Build(),
			wantErr: "duplicate column in join table",
		},
		{
			name: "primary-key join columns on many_to_one",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).
				Association(&Association{Name: "p", Kind: ManyToOne, Target: "P", Owning: true,
					PrimaryKeyJoinColumns: []PrimaryKeyJoinColumnSpec{{}}}).Build(),
			wantErr: "require a one_to_one",
		},
		{
			name: "association collides with attribute",
			entity: Define("Customer").ID("id", "ID", TypeBigInt).Column("phones", "PHONES", TypeString).
				ManyToMany("phones", "Phone", nil).Build(),
			wantErr: "collides with an attribute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateStructural(tt.entity)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrMapping) {
				t.Errorf("expected ErrMapping, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateUniqueConstraints(t *testing.T) {
	cols := []string{"CUST_ID", "PHONE_ID"}

	if err := ValidateUniqueConstraints("CP", cols, []UniqueConstraint{{Columns: []string{"cust_id"}}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateUniqueConstraints("CP", cols, []UniqueConstraint{{Name: "uq", Columns: []string{"NAME"}}}); err == nil {
		t.Error("expected error for column outside the table")
	}
	if err := ValidateUniqueConstraints("CP", cols, []UniqueConstraint{{Name: "empty"}}); err == nil {
		t.Error("expected error for empty constraint")
	}
}
