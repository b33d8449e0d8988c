// Package schematest provides mapping fixtures shared by package tests
package schematest

import (
	"testing"

	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// CustomerMapping declares a small persistence unit: Customer extends Party
// through joined inheritance and keeps notes in a secondary table, customers
// and phones meet through a defaulted join table, and orders reference their
// customer and share identity with their invoice.
func CustomerMapping() []*schema.Entity {
	return []*schema.Entity{
		schema.Define("Party").
			Table("PARTY").
			ID("id", "ID", schema.TypeBigInt).
			Column("createdAt", "CREATED_AT", schema.TypeTimestamp).
			Build(),
		schema.Define("Customer").
			Table("CUST").
			Extends("Party", schema.PrimaryKeyJoinColumnSpec{Name: "CUST_ID"}).
			Column("name", "NAME", schema.TypeString).
			Nullable("age", "AGE", schema.TypeInt).
			Nullable("vip", "VIP", schema.TypeBool).
			Secondary("CUST_DETAIL").
			SecondaryColumn("CUST_DETAIL", "notes", "NOTES", schema.TypeText).
			ManyToMany("phones", "Phone", nil).
			OneToMany("orders", "Order", "customer").
			Build(),
		schema.Define("Phone").
			Table("PHONE").
			ID("id", "ID", schema.TypeBigInt).
			Column("number", "NUMBER", schema.TypeString).
			InverseManyToMany("owners", "Customer", "phones").
			Build(),
		schema.Define("Order").
			Table("ORDERS").
			ID("id", "ID", schema.TypeBigInt).
			Column("total", "TOTAL", schema.TypeDecimal).
			ManyToOne("customer", "Customer").
			SharedIdentity("invoice", "Invoice").
			Build(),
		schema.Define("Invoice").
			Table("INVOICE").
			ID("id", "ID", schema.TypeBigInt).
			Column("issuedAt", "ISSUED_AT", schema.TypeDate).
			Build(),
	}
}

// CustomerRegistry returns a sealed registry over CustomerMapping
func CustomerRegistry(t testing.TB, opts ...schema.RegistryOption) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry(opts...)
	if err := registry.RegisterAll(CustomerMapping()...); err != nil {
		t.Fatalf("register customer mapping: %v", err)
	}
	if err := registry.Seal(); err != nil {
		t.Fatalf("seal customer mapping: %v", err)
	}
	return registry
}
