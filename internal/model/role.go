package model

// Role values carried in the access token's "role" claim.
const (
	RoleAdmin    = "admin"
	RoleCompany  = "company"
	RoleProvider = "provider"
)
