package shared

// Permissions consumed by the business modules gating their own CRUD.
const (
	PermCatalogView   = "catalog.view"
	PermCatalogCreate = "catalog.create"
	PermCatalogEdit   = "catalog.edit"
	PermCatalogDelete = "catalog.delete"

	PermFinanceReportsView   = "finance.reports.view"
	PermFinanceReportsExport = "finance.reports.export"

	PermCRMCustomersView = "crm.customers.view"
	PermCRMCustomersEdit = "crm.customers.edit"

	PermHRMRecordsView = "hrm.records.view"
	PermHRMRecordsEdit = "hrm.records.edit"
)

// ModuleScopes lists the permissions declared by the business modules.
func ModuleScopes() []ScopeDefinition {
	return []ScopeDefinition{
		{Slug: PermCatalogView, Name: "View catalog", Group: "Catalog"},
		{Slug: PermCatalogCreate, Name: "Create catalog items", Group: "Catalog"},
		{Slug: PermCatalogEdit, Name: "Edit catalog items", Group: "Catalog"},
		{Slug: PermCatalogDelete, Name: "Delete catalog items", Group: "Catalog"},
		{Slug: PermFinanceReportsView, Name: "View finance reports", Group: "Finance"},
		{Slug: PermFinanceReportsExport, Name: "Export finance reports", Group: "Finance"},
		{Slug: PermCRMCustomersView, Name: "View customers", Group: "CRM"},
		{Slug: PermCRMCustomersEdit, Name: "Manage customers", Group: "CRM"},
		{Slug: PermHRMRecordsView, Name: "View HR records", Group: "HRM"},
		{Slug: PermHRMRecordsEdit, Name: "Manage HR records", Group: "HRM"},
	}
}

// AllScopes lists every permission the platform declares.
func AllScopes() []ScopeDefinition {
	return append(CoreScopes(), ModuleScopes()...)
}
