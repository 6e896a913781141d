package actorrole

type Role struct {
	Name string
}

func (r Role) Code() string {
	return r.Name
}

type Enum struct {
	Restaurant Role
	Courier    Role
	Customer   Role
	Admin      Role
}

var Roles = Enum{
	Restaurant: Role{Name: "restaurant"},
	Courier:    Role{Name: "courier"},
	Customer:   Role{Name: "customer"},
	Admin:      Role{Name: "admin"},
}

var All = []Role{
	Roles.Restaurant,
	Roles.Courier,
	Roles.Customer,
	Roles.Admin,
}

// ByName returns the role for a given name, or nil if not found
func ByName(name string) *Role {
	for _, r := range All {
		if r.Name == name {
			return &r
		}
	}
	return nil
}

func Valid(name string) bool {
	return ByName(name) != nil
}
