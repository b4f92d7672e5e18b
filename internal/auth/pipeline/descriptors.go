package pipeline

import "meshgate/pkg/domain"

// RouteDescriptor is the metadata of the route that matched a call.
type RouteDescriptor struct {
	Name  string
	Roles domain.RoleSet
	// Anonymous lets calls without a credential through authentication;
	// authorization still decides per action.
	Anonymous bool
}

// ActionDescriptor is the metadata attached to an action at registration.
type ActionDescriptor struct {
	Name  string
	Roles domain.RoleSet
	// Public is the explicit "no auth required" marker. It is distinct from
	// an empty Roles set, which still requires an authenticated caller.
	Public bool
}

// Call is one inbound call as handed over by the transport.
type Call struct {
	Credential string // raw Authorization header value
	Route      RouteDescriptor
	Action     ActionDescriptor
}

// CallContext describes a call for the rejection side channel.
type CallContext struct {
	Route     string
	Action    string
	RequestID string
	ClientIP  string
	UserAgent string
}
