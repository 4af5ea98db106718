package rbac

import "strings"

// Clinic permission keys.
const (
	PermViewLocations   Key = "view_locations"
	PermManageLocations Key = "manage_locations"

	PermViewRooms   Key = "view_rooms"
	PermManageRooms Key = "manage_rooms"

	PermViewStaff   Key = "view_staff"
	PermManageStaff Key = "manage_staff"
	PermInviteStaff Key = "invite_staff"

	PermViewSchedules   Key = "view_schedules"
	PermManageSchedules Key = "manage_schedules"

	PermViewServices   Key = "view_services"
	PermManageServices Key = "manage_services"

	PermViewAppointments   Key = "view_appointments"
	PermManageAppointments Key = "manage_appointments"

	PermViewPatients   Key = "view_patients"
	PermManagePatients Key = "manage_patients"

	PermViewReports   Key = "view_reports"
	PermExportReports Key = "export_reports"

	PermViewBilling   Key = "view_billing"
	PermManageBilling Key = "manage_billing"

	PermViewAccountSettings   Key = "view_account_settings"
	PermManageAccountSettings Key = "manage_account_settings"
	PermManagePermissions     Key = "manage_permissions"
)

// BuiltinCategories labels the builtin catalog categories.
func BuiltinCategories() map[string]string {
	return map[string]string{
		"locations":    "Locations",
		"rooms":        "Rooms",
		"staff":        "Staff",
		"schedules":    "Schedules",
		"services":     "Services",
		"appointments": "Appointments",
		"patients":     "Patients",
		"reports":      "Reports",
		"billing":      "Billing",
		"settings":     "Account settings",
	}
}

// BuiltinEntries lists the clinic catalog in display order.
func BuiltinEntries() []Entry {
	return []Entry{
		{Key: PermViewLocations, Category: "locations"},
		{Key: PermManageLocations, Category: "locations"},
		{Key: PermViewRooms, Category: "rooms"},
		{Key: PermManageRooms, Category: "rooms"},
		{Key: PermViewStaff, Category: "staff"},
		{Key: PermManageStaff, Category: "staff"},
		{Key: PermInviteStaff, Category: "staff"},
		{Key: PermViewSchedules, Category: "schedules"},
		{Key: PermManageSchedules, Category: "schedules"},
		{Key: PermViewServices, Category: "services"},
		{Key: PermManageServices, Category: "services"},
		{Key: PermViewAppointments, Category: "appointments"},
		{Key: PermManageAppointments, Category: "appointments"},
		{Key: PermViewPatients, Category: "patients"},
		{Key: PermManagePatients, Category: "patients"},
		{Key: PermViewReports, Category: "reports"},
		{Key: PermExportReports, Category: "reports"},
		{Key: PermViewBilling, Category: "billing"},
		{Key: PermManageBilling, Category: "billing"},
		{Key: PermViewAccountSettings, Category: "settings"},
		{Key: PermManageAccountSettings, Category: "settings"},
		{Key: PermManagePermissions, Category: "settings"},
	}
}

// BuiltinCatalog returns the clinic catalog.
func BuiltinCatalog() *Catalog {
	return MustCatalog(BuiltinEntries(), BuiltinCategories())
}

var roleDefaults = map[Role][]Key{
	RoleAdmin: {
		PermViewLocations, PermManageLocations,
		PermViewRooms, PermManageRooms,
		PermViewStaff, PermManageStaff, PermInviteStaff,
		PermViewSchedules, PermManageSchedules,
		PermViewServices, PermManageServices,
		PermViewAppointments, PermManageAppointments,
		PermViewPatients, PermManagePatients,
		PermViewReports, PermExportReports,
		PermViewBilling, PermManageBilling,
		PermViewAccountSettings, PermManageAccountSettings,
		PermManagePermissions,
	},
	RoleDoctor: {
		PermViewLocations,
		PermViewRooms,
		PermViewStaff,
		PermViewSchedules,
		PermViewServices,
		PermViewAppointments, PermManageAppointments,
		PermViewPatients, PermManagePatients,
	},
	RoleAssistant: {
		PermViewLocations,
		PermViewRooms,
		PermViewSchedules,
		PermViewServices,
		PermViewAppointments, PermManageAppointments,
		PermViewPatients,
	},
	RoleReceptionist: {
		PermViewLocations,
		PermViewRooms,
		PermViewStaff,
		PermViewSchedules, PermManageSchedules,
		PermViewServices,
		PermViewAppointments, PermManageAppointments,
		PermViewPatients,
		PermViewBilling,
	},
	RoleCustom: nil,
}

// RoleDefaults returns a copy of the default keys implied by role. Custom and
// unknown roles have none.
func RoleDefaults(role Role) []Key {
	defaults := roleDefaults[role]
	out := make([]Key, len(defaults))
	copy(out, defaults)
	return out
}

// IsRoleDefault reports whether key is implied by role.
func IsRoleDefault(role Role, key Key) bool {
	for _, k := range roleDefaults[role] {
		if k == key {
			return true
		}
	}
	return false
}

var viewOnlyPrefixes = []string{"view_", "list_", "read_"}

// IsViewOnly reports whether the key name signals read-only intent.
func IsViewOnly(key Key) bool {
	for _, p := range viewOnlyPrefixes {
		if strings.HasPrefix(string(key), p) {
			return true
		}
	}
	return false
}
