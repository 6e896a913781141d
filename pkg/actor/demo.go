package actor

import (
	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
)

// Fixed actors owning the demo data set.
var (
	DemoRestaurant = Actor{ID: uuid.MustParse("7a1f0c52-3b0e-4c57-9a55-0d2f4f6e1a01"), Role: actorrole.Roles.Restaurant.Code()}
	DemoCourier    = Actor{ID: uuid.MustParse("7a1f0c52-3b0e-4c57-9a55-0d2f4f6e1a02"), Role: actorrole.Roles.Courier.Code()}
	DemoCustomer   = Actor{ID: uuid.MustParse("7a1f0c52-3b0e-4c57-9a55-0d2f4f6e1a03"), Role: actorrole.Roles.Customer.Code()}
	DemoAdmin      = Actor{ID: uuid.MustParse("7a1f0c52-3b0e-4c57-9a55-0d2f4f6e1a04"), Role: actorrole.Roles.Admin.Code()}
)

// DemoFor returns the demo actor holding role.
func DemoFor(role string) (Actor, bool) {
	for _, a := range []Actor{DemoRestaurant, DemoCourier, DemoCustomer, DemoAdmin} {
		if a.Role == role {
			return a, true
		}
	}
	return Actor{}, false
}
