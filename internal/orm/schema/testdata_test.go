package schema

// customerMapping returns a small mapping exercising every structure:
// joined inheritance, a secondary table, a many_to_many join table, a
// many_to_one foreign key with its inverse and a shared-identity one_to_one.
func customerMapping() []*Entity {
	party := Define("Party").
		Table("PARTY").
		ID("id", "ID", TypeBigInt).
		Column("createdAt", "CREATED_AT", TypeTimestamp).
		Build()

	customer := Define("Customer").
		Table("CUST").
		Extends("Party", PrimaryKeyJoinColumnSpec{Name: "CUST_ID"}).
		Column("name", "NAME", TypeString).
		Nullable("age", "AGE", TypeInt).
		Secondary("CUST_DETAIL").
		SecondaryColumn("CUST_DETAIL", "notes", "NOTES", TypeText).
		ManyToMany("phones", "Phone", nil).
		OneToMany("orders", "Order", "customer").
		Build()

	phone := Define("Phone").
		Table("PHONE").
		ID("id", "ID", TypeBigInt).
		Column("number", "NUMBER", TypeString).
		InverseManyToMany("owners", "Customer", "phones").
		Build()

	order := Define("Order").
		Table("ORDERS").
		ID("id", "ID", TypeBigInt).
		Column("total", "TOTAL", TypeDecimal).
		ManyToOne("customer", "Customer").
		SharedIdentity("invoice", "Invoice").
		Build()

	invoice := Define("Invoice").
		Table("INVOICE").
		ID("id", "ID", TypeBigInt).
		Column("issuedAt", "ISSUED_AT", TypeDate).
		Build()

	return []*Entity{party, customer, phone, order, invoice}
}

func sealedRegistry(t interface {
	Helper()
	Fatalf(string, ...interface{})
}) *Registry {
	t.Helper()
	registry := NewRegistry()
	if err := registry.RegisterAll(customerMapping()...); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return registry
}
