package identity

const (
	PermManageIdentities  = "idp.identity.manage"
	PermManageRoles       = "idp.role.manage"
	PermManagePermissions = "idp.permission.manage"
)

var BuiltinPermissions = []Permission{
	{Code: PermManageIdentities, Name: "Manage identities", Description: "Create, disable and delete identities and credentials"},
	{Code: PermManageRoles, Name: "Manage roles", Description: "Create roles and assign them to identities"},
	{Code: PermManagePermissions, Name: "Manage permissions", Description: "Maintain the permission catalog and role bindings"},
}
