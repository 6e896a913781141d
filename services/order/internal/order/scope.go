package order

import (
	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

// Visible reports whether a participates in o. Admins see every order.
func Visible(a actor.Actor, o *lifecycle.Order) bool {
	if o == nil {
		return false
	}
	switch a.Role {
	case actorrole.Roles.Admin.Code():
		return true
	case actorrole.Roles.Restaurant.Code():
		return o.RestaurantID == a.ID
	case actorrole.Roles.Courier.Code():
		return o.HasCourier(a.ID)
	case actorrole.Roles.Customer.Code():
		return o.CustomerID == a.ID
	default:
		return false
	}
}

// Scope pins f to the orders a participates in, whatever the caller asked.
func Scope(a actor.Actor, f OrderFilter) OrderFilter {
	id := a.ID
	switch a.Role {
	case actorrole.Roles.Restaurant.Code():
		f.RestaurantID = &id
	case actorrole.Roles.Courier.Code():
		f.CourierID = &id
	case actorrole.Roles.Customer.Code():
		f.CustomerID = &id
	}
	return f
}
