package auth

const (
	PermAll            = "*"
	PermCustomerLookup = "clientes.consulta"

	AdminRoleName = "Admin"
)
